// Package messaging provides the transport layer for Curumim: a pluggable
// message delivery abstraction and the per-sender dispatcher that feeds
// inbound events into the conversation engine.
package messaging

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/angelia-ai/curumim/internal/models"
)

// Constants for messaging service configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for receipt and response channels
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
)

// ErrServiceStopped indicates the messaging service has been stopped.
var ErrServiceStopped = errors.New("messaging service is stopped")

// phoneNumberRegex strips everything but digits when canonicalizing recipients.
var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Service defines a pluggable message delivery abstraction.
// It supports sending messages, and provides channels for receipt and response events.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient identifier.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a text message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// SendAudioMessage sends a synthesized audio reply. Transports use either
	// the raw audio bytes (whatsmeow upload) or the public mediaURL (Twilio).
	SendAudioMessage(ctx context.Context, to string, audio []byte, mediaURL string) error

	// Start begins any background processing (e.g., polling for events).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Receipts returns a channel of receipt events (sent, delivered, read).
	Receipts() <-chan models.Receipt

	// Responses returns a channel of incoming participant responses.
	Responses() <-chan models.Response
}

// MediaDownloader is implemented by services whose inbound media attachments
// must be fetched separately (Twilio CDN URLs).
type MediaDownloader interface {
	DownloadMedia(ctx context.Context, mediaURL string) ([]byte, error)
}
