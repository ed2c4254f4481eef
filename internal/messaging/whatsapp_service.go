package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/angelia-ai/curumim/internal/models"
	"github.com/angelia-ai/curumim/internal/whatsapp"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"
)

// ttsMimeType is the mimetype of synthesized replies uploaded to WhatsApp.
const ttsMimeType = "audio/mpeg"

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
type WhatsAppService struct {
	client    whatsapp.WhatsAppSender
	waClient  *whatsapp.Client // Access to underlying client for event handling
	receipts  chan models.Receipt
	responses chan models.Response
	done      chan struct{}
}

// NewWhatsAppService creates a new WhatsAppService wrapping the given WhatsAppSender.
func NewWhatsAppService(client whatsapp.WhatsAppSender) *WhatsAppService {
	service := &WhatsAppService{
		client:    client,
		receipts:  make(chan models.Receipt, DefaultChannelBufferSize),
		responses: make(chan models.Response, DefaultChannelBufferSize),
		done:      make(chan struct{}),
	}

	// If the client is a full Client (not just an interface), store it for event handling
	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}

	return service
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp phone number.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", models.ErrEmptyRecipient
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", canonical)
	}
	return canonical, nil
}

// Start begins background processing (event polling).
func (s *WhatsAppService) Start(ctx context.Context) error {
	slog.Debug("WhatsAppService Start invoked")

	if s.waClient != nil {
		go s.handleEvents(ctx)
		slog.Debug("WhatsAppService event handler started")
	} else {
		slog.Debug("WhatsAppService no full client available, skipping event handling (likely mock)")
	}

	return nil
}

// Stop stops background processing.
func (s *WhatsAppService) Stop() error {
	slog.Info("WhatsAppService Stop invoked")
	close(s.done)
	close(s.receipts)
	close(s.responses)
	return nil
}

// SendMessage sends a message and emits a sent receipt.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	slog.Debug("WhatsAppService SendMessage invoked", "to", to, "body_length", len(body))
	err := s.client.SendMessage(ctx, to, body)
	if err != nil {
		slog.Error("WhatsAppService SendMessage error", "error", err, "to", to)
		return err
	}
	s.receipts <- models.Receipt{To: to, Status: models.MessageStatusSent, Time: time.Now().Unix()}
	return nil
}

// SendAudioMessage uploads the synthesized audio bytes and sends them as a
// voice message; the public mediaURL is unused for whatsmeow.
func (s *WhatsAppService) SendAudioMessage(ctx context.Context, to string, audio []byte, mediaURL string) error {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		return fmt.Errorf("whatsapp audio messages require a live client")
	}
	if len(audio) == 0 {
		return fmt.Errorf("no audio data to send")
	}

	cli := s.waClient.GetClient()
	uploaded, err := cli.Upload(ctx, audio, whatsmeow.MediaAudio)
	if err != nil {
		slog.Error("WhatsAppService audio upload failed", "error", err, "to", to)
		return fmt.Errorf("failed to upload audio: %w", err)
	}

	msg := &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
		URL:           proto.String(uploaded.URL),
		DirectPath:    proto.String(uploaded.DirectPath),
		MediaKey:      uploaded.MediaKey,
		Mimetype:      proto.String(ttsMimeType),
		FileEncSHA256: uploaded.FileEncSHA256,
		FileSHA256:    uploaded.FileSHA256,
		FileLength:    proto.Uint64(uploaded.FileLength),
	}}

	jid := types.NewJID(to, whatsapp.JIDSuffix)
	if _, err := cli.SendMessage(ctx, jid, msg); err != nil {
		slog.Error("WhatsAppService audio send failed", "error", err, "to", to)
		return fmt.Errorf("failed to send audio message to %s: %w", to, err)
	}

	s.receipts <- models.Receipt{To: to, Status: models.MessageStatusSent, Time: time.Now().Unix()}
	slog.Info("WhatsAppService audio message sent", "to", to, "bytes", len(audio))
	return nil
}

// Receipts returns a channel of receipt events.
func (s *WhatsAppService) Receipts() <-chan models.Receipt {
	return s.receipts
}

// Responses returns a channel of incoming response events.
func (s *WhatsAppService) Responses() <-chan models.Response {
	return s.responses
}

// handleEvents processes WhatsApp events and feeds them into the appropriate channels
func (s *WhatsAppService) handleEvents(ctx context.Context) {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Error("WhatsAppService handleEvents: no client available")
		return
	}

	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		switch v := evt.(type) {
		case *events.Message:
			s.handleIncomingMessage(ctx, v)
		case *events.Receipt:
			s.handleMessageReceipt(v)
		default:
			// Ignore other event types
		}
	})

	slog.Debug("WhatsAppService event handler registered")

	// Keep handler running until context is cancelled
	<-ctx.Done()
	slog.Debug("WhatsAppService handleEvents stopping due to context cancellation")
}

// handleIncomingMessage processes incoming text and voice messages from participants.
func (s *WhatsAppService) handleIncomingMessage(ctx context.Context, evt *events.Message) {
	if evt.Message == nil {
		return
	}

	response := models.Response{
		From:      canonicalFromJID(evt.Info.Sender),
		MessageID: string(evt.Info.ID),
		Time:      evt.Info.Timestamp.Unix(),
	}

	switch {
	case evt.Message.Conversation != nil:
		response.Body = *evt.Message.Conversation
	case evt.Message.ExtendedTextMessage != nil && evt.Message.ExtendedTextMessage.Text != nil:
		response.Body = *evt.Message.ExtendedTextMessage.Text
	case evt.Message.AudioMessage != nil:
		audioMsg := evt.Message.AudioMessage
		data, err := s.waClient.DownloadAudio(ctx, audioMsg)
		if err != nil {
			slog.Error("WhatsAppService failed to download voice note", "error", err, "from", response.From)
			return
		}
		response.MediaURL = audioMsg.GetURL()
		response.MediaContentType = normalizeAudioMime(audioMsg.GetMimetype())
		response.AudioData = data
	default:
		// Skip other media types (images, documents, etc.)
		slog.Debug("WhatsAppService ignoring unsupported message type", "from", response.From)
		return
	}

	slog.Debug("WhatsAppService processing incoming message", "from", response.From,
		"body_length", len(response.Body), "audio_bytes", len(response.AudioData))

	select {
	case s.responses <- response:
		slog.Info("WhatsAppService incoming message forwarded", "from", response.From)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService responses channel blocked, dropping message", "from", response.From)
	}
}

// handleMessageReceipt processes delivery and read receipts
func (s *WhatsAppService) handleMessageReceipt(evt *events.Receipt) {
	var status models.MessageStatus
	switch evt.Type {
	case events.ReceiptTypeDelivered:
		status = models.MessageStatusDelivered
	case events.ReceiptTypeRead:
		status = models.MessageStatusRead
	default:
		return
	}

	receipt := models.Receipt{
		To:     canonicalFromJID(evt.MessageSource.Sender),
		Status: status,
		Time:   evt.Timestamp.Unix(),
	}

	select {
	case s.receipts <- receipt:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService receipts channel blocked, dropping receipt", "to", receipt.To)
	}
}

// canonicalFromJID converts a WhatsApp JID to E.164-ish form.
func canonicalFromJID(jid types.JID) string {
	number := jid.User
	if !strings.HasPrefix(number, "+") {
		number = "+" + number
	}
	return number
}

// normalizeAudioMime strips codec parameters ("audio/ogg; codecs=opus").
func normalizeAudioMime(mimetype string) string {
	if mimetype == "" {
		return "audio/ogg"
	}
	if idx := strings.Index(mimetype, ";"); idx > 0 {
		return strings.TrimSpace(mimetype[:idx])
	}
	return mimetype
}
