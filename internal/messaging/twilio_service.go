package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/angelia-ai/curumim/internal/models"
	"github.com/angelia-ai/curumim/internal/twiliowhatsapp"
)

// emptyTwiML acknowledges a webhook without queuing a Twilio-side reply;
// actual replies go out through the REST API.
const emptyTwiML = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`

// TwilioService implements the Service interface using the Twilio API.
type TwilioService struct {
	client    twiliowhatsapp.TwilioWhatsAppSender
	receipts  chan models.Receipt
	responses chan models.Response
	done      chan struct{}
	mu        sync.RWMutex
	stopped   bool
}

// NewTwilioService creates a new TwilioService around a Twilio client (real or mock).
func NewTwilioService(client twiliowhatsapp.TwilioWhatsAppSender) *TwilioService {
	return &TwilioService{
		client:    client,
		receipts:  make(chan models.Receipt, DefaultChannelBufferSize),
		responses: make(chan models.Response, DefaultChannelBufferSize),
		done:      make(chan struct{}),
	}
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp phone number.
// It removes all non-numeric characters and validates the result has at least 6 digits.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
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

	if recipient != canonical {
		slog.Debug("TwilioService canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// Start is a no-op for Twilio (inbound events arrive via webhook).
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes channels and stops the service.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(s.receipts)
		close(s.responses)
	}()

	return nil
}

// SendMessage sends a text message via Twilio and emits a sent receipt.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	if s.isStopped() {
		return ErrServiceStopped
	}

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendMessage validation error", "error", err, "to", to)
		return err
	}

	if err := s.client.SendMessage(ctx, "+"+canonicalTo, body); err != nil {
		return err
	}

	s.safeEmitReceipt(models.Receipt{To: canonicalTo, Status: models.MessageStatusSent, Time: time.Now().Unix()})
	return nil
}

// SendAudioMessage sends an audio reply by media URL; the raw bytes are unused
// because Twilio fetches the media itself.
func (s *TwilioService) SendAudioMessage(ctx context.Context, to string, audio []byte, mediaURL string) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	if mediaURL == "" {
		return fmt.Errorf("media URL required for Twilio audio message")
	}

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendAudioMessage validation error", "error", err, "to", to)
		return err
	}

	if err := s.client.SendMediaMessage(ctx, "+"+canonicalTo, "", mediaURL); err != nil {
		return err
	}

	s.safeEmitReceipt(models.Receipt{To: canonicalTo, Status: models.MessageStatusSent, Time: time.Now().Unix()})
	return nil
}

// DownloadMedia fetches an inbound media attachment from the Twilio CDN.
func (s *TwilioService) DownloadMedia(ctx context.Context, mediaURL string) ([]byte, error) {
	return s.client.DownloadMedia(ctx, mediaURL)
}

// Receipts returns the channel for sent message receipts.
func (s *TwilioService) Receipts() <-chan models.Receipt {
	return s.receipts
}

// Responses returns the channel for incoming messages.
func (s *TwilioService) Responses() <-chan models.Response {
	return s.responses
}

// WebhookHandler handles inbound Twilio webhook requests. It parses the form
// payload (text and optional media) and emits a models.Response into the
// Responses() channel. Malformed payloads are logged and acknowledged without
// emitting anything, so Twilio does not storm us with redeliveries.
func (s *TwilioService) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Error("Failed to parse Twilio webhook form", "error", err)
		s.acknowledge(w)
		return
	}

	from := r.FormValue("From")
	body := r.FormValue("Body")
	numMedia := r.FormValue("NumMedia")
	mediaURL := r.FormValue("MediaUrl0")
	mediaContentType := r.FormValue("MediaContentType0")
	messageSid := r.FormValue("MessageSid")

	slog.Info("Twilio webhook received", "from", from, "body_length", len(body),
		"num_media", numMedia, "media_content_type", mediaContentType)

	if from == "" || (body == "" && mediaURL == "") {
		slog.Warn("Twilio webhook missing fields, acknowledging without processing", "from", from)
		s.acknowledge(w)
		return
	}

	response := models.Response{
		From:             from,
		Body:             body,
		MessageID:        messageSid,
		MediaURL:         mediaURL,
		MediaContentType: mediaContentType,
		Time:             time.Now().Unix(),
	}

	s.safeEmitResponse(response)
	s.acknowledge(w)
}

// acknowledge replies with an empty TwiML document.
func (s *TwilioService) acknowledge(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, emptyTwiML)
}

func (s *TwilioService) isStopped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopped
}

func (s *TwilioService) safeEmitReceipt(receipt models.Receipt) {
	if s.isStopped() {
		return
	}
	select {
	case s.receipts <- receipt:
	case <-time.After(DefaultChannelTimeout):
	}
}

// safeEmitResponse safely pushes responses into the responses channel.
func (s *TwilioService) safeEmitResponse(response models.Response) {
	if s.isStopped() {
		slog.Warn("TwilioService dropping inbound response (service stopped)", "from", response.From)
		return
	}

	select {
	case s.responses <- response:
		slog.Debug("TwilioService emitted inbound response", "from", response.From)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService responses channel blocked, dropping message", "from", response.From)
	}
}
