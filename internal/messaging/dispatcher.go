// Package messaging provides the per-sender dispatcher for stateful turns.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/angelia-ai/curumim/internal/flow"
	"github.com/angelia-ai/curumim/internal/media"
	"github.com/angelia-ai/curumim/internal/models"
	"github.com/google/uuid"
)

// Dispatcher constants.
const (
	// DefaultMailboxSize bounds how many pending events a single sender may queue.
	DefaultMailboxSize = 16
	// dedupWindow is how many recent message ids are remembered per sender
	// to absorb webhook redeliveries.
	dedupWindow = 8
)

// Dispatcher routes inbound responses into per-sender mailboxes, each drained
// by a single goroutine. This serializes turns for one sender (no lost
// updates to the session) while keeping different senders fully independent,
// and guarantees replies leave in the order events were accepted.
type Dispatcher struct {
	svc     Service
	engine  *flow.Engine
	gateway media.Gateway

	mu        sync.Mutex
	mailboxes map[string]chan models.Response
	stopped   bool
	done      chan struct{}
	wg        sync.WaitGroup
}

// NewDispatcher creates a dispatcher wiring the messaging service to the
// conversation engine. The gateway is used for voice-mode reply synthesis.
func NewDispatcher(svc Service, engine *flow.Engine, gateway media.Gateway) *Dispatcher {
	return &Dispatcher{
		svc:       svc,
		engine:    engine,
		gateway:   gateway,
		mailboxes: make(map[string]chan models.Response),
		done:      make(chan struct{}),
	}
}

// Start consumes the service's response channel until the context is
// cancelled, the channel closes, or Stop is called.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.consume(ctx)
	}()
	slog.Debug("Dispatcher started")
}

// Stop signals every goroutine to wind down and waits for in-flight turns to
// finish. Mailboxes stay open so a concurrent route can never hit a closed
// channel; workers observe the done signal instead. Stop does not depend on
// the Start context being cancelled or on the service channels closing.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.done)
	d.mu.Unlock()

	d.wg.Wait()
	slog.Info("Dispatcher stopped")
}

func (d *Dispatcher) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.done:
			return
		case resp, ok := <-d.svc.Responses():
			if !ok {
				return
			}
			d.route(ctx, resp)
		}
	}
}

// route validates the sender and enqueues the response into its mailbox.
// Unparseable senders are logged and dropped without touching any session.
func (d *Dispatcher) route(ctx context.Context, resp models.Response) {
	sender, err := d.svc.ValidateAndCanonicalizeRecipient(resp.From)
	if err != nil {
		slog.Warn("Dispatcher dropping response with invalid sender", "error", err, "from", resp.From)
		return
	}

	mailbox := d.mailbox(ctx, sender)
	if mailbox == nil {
		return
	}
	select {
	case mailbox <- resp:
		slog.Debug("Dispatcher enqueued response", "sender", sender, "message_id", resp.MessageID)
	default:
		slog.Warn("Dispatcher mailbox full, dropping response", "sender", sender)
	}
}

// mailbox returns the sender's mailbox, lazily spawning its worker goroutine.
func (d *Dispatcher) mailbox(ctx context.Context, sender string) chan models.Response {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return nil
	}
	if mailbox, ok := d.mailboxes[sender]; ok {
		return mailbox
	}

	mailbox := make(chan models.Response, DefaultMailboxSize)
	d.mailboxes[sender] = mailbox
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.worker(ctx, sender, mailbox)
	}()
	slog.Debug("Dispatcher spawned worker", "sender", sender)
	return mailbox
}

// worker drains one sender's mailbox sequentially, keeping a small window of
// recent message ids to absorb duplicate webhook deliveries.
func (d *Dispatcher) worker(ctx context.Context, sender string, mailbox chan models.Response) {
	var seen []string
	for {
		select {
		case <-d.done:
			return
		case resp := <-mailbox:
			if resp.MessageID != "" && contains(seen, resp.MessageID) {
				slog.Info("Dispatcher skipping duplicate delivery", "sender", sender, "message_id", resp.MessageID)
				continue
			}
			if resp.MessageID != "" {
				seen = append(seen, resp.MessageID)
				if len(seen) > dedupWindow {
					seen = seen[1:]
				}
			}
			d.handleTurn(ctx, sender, resp)
		}
	}
}

// handleTurn runs one full turn: resolve audio, invoke the engine, deliver
// the reply. Exactly one outbound message is attempted per accepted event.
func (d *Dispatcher) handleTurn(ctx context.Context, sender string, resp models.Response) {
	audioData := resp.AudioData
	if resp.HasAudio() && len(audioData) == 0 {
		downloader, ok := d.svc.(MediaDownloader)
		if !ok {
			slog.Error("Dispatcher cannot download media for this service", "sender", sender)
			d.sendText(ctx, sender, flow.MsgGenericApology)
			return
		}
		data, err := downloader.DownloadMedia(ctx, resp.MediaURL)
		if err != nil {
			slog.Error("Dispatcher media download failed", "error", err, "sender", sender)
			d.sendText(ctx, sender, flow.MsgGenericApology)
			return
		}
		audioData = data
	}

	ev := models.InboundEvent{
		SenderID:         sender,
		Text:             resp.Body,
		AudioPresent:     resp.HasAudio(),
		AudioData:        audioData,
		AudioContentType: resp.MediaContentType,
		MessageID:        resp.MessageID,
	}

	reply, err := d.engine.HandleEvent(ctx, ev)
	if err != nil {
		if errors.Is(err, models.ErrEmptyEvent) || errors.Is(err, models.ErrEmptySender) {
			// Malformed event: already acknowledged at the transport; do not
			// reply, do not touch any session.
			slog.Warn("Dispatcher ignoring malformed event", "error", err, "sender", sender)
			return
		}
		slog.Error("Dispatcher engine turn failed", "error", err, "sender", sender)
		d.sendText(ctx, sender, flow.MsgGenericApology)
		return
	}

	d.deliver(ctx, sender, reply)
}

// deliver sends the reply, synthesizing audio for voice-mode sessions and
// degrading to text whenever synthesis, storage, or audio delivery fails.
func (d *Dispatcher) deliver(ctx context.Context, sender string, reply models.Reply) {
	if reply.DeliverAs == models.DeliverAsAudio {
		err := d.deliverAudio(ctx, sender, reply.Text)
		if err == nil {
			return
		}
		slog.Warn("Dispatcher audio delivery failed, falling back to text", "error", err, "sender", sender)
	}
	d.sendText(ctx, sender, reply.Text)
}

func (d *Dispatcher) deliverAudio(ctx context.Context, sender string, text string) error {
	audio, err := d.gateway.Synthesize(ctx, text)
	if err != nil {
		return fmt.Errorf("synthesis failed: %w", err)
	}

	key := fmt.Sprintf("curumim_tts/%s/%s.mp3", strings.TrimPrefix(sender, "+"),
		strings.ReplaceAll(uuid.NewString(), "-", ""))
	url, err := d.gateway.Store(ctx, audio, key, "audio/mpeg")
	if err != nil {
		return fmt.Errorf("audio storage failed: %w", err)
	}

	if err := d.svc.SendAudioMessage(ctx, sender, audio, url); err != nil {
		return fmt.Errorf("audio send failed: %w", err)
	}
	slog.Debug("Dispatcher delivered audio reply", "sender", sender, "url", url)
	return nil
}

func (d *Dispatcher) sendText(ctx context.Context, sender string, text string) {
	if err := d.svc.SendMessage(ctx, sender, text); err != nil {
		slog.Error("Dispatcher failed to send reply", "error", err, "sender", sender)
	}
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// DrainReceipts logs receipt events so the channel never backs up.
func (d *Dispatcher) DrainReceipts(ctx context.Context) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-d.done:
				return
			case receipt, ok := <-d.svc.Receipts():
				if !ok {
					return
				}
				slog.Debug("Dispatcher receipt", "to", receipt.To, "status", receipt.Status, "time", time.Unix(receipt.Time, 0))
			}
		}
	}()
}
