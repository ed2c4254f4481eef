// Package twiliowhatsapp wraps the Twilio API for WhatsApp integration in Curumim.
package twiliowhatsapp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// TwilioWhatsAppSender is the capability surface the messaging layer needs
// from the Twilio client.
type TwilioWhatsAppSender interface {
	SendMessage(ctx context.Context, to string, body string) error
	SendMediaMessage(ctx context.Context, to string, body string, mediaURL string) error
	DownloadMedia(ctx context.Context, mediaURL string) ([]byte, error)
}

// DefaultDownloadTimeout bounds inbound media downloads.
const DefaultDownloadTimeout = 30 * time.Second

// Opts holds configuration options for the Twilio WhatsApp client.
type Opts struct {
	AccountSID string
	AuthToken  string
	FromWhats  string
}

// Option defines a configuration option for the Twilio WhatsApp client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromWhats sets the sending WhatsApp number ("whatsapp:+1234567890").
func WithFromWhats(from string) Option {
	return func(o *Opts) { o.FromWhats = from }
}

// Client wraps Twilio REST API for WhatsApp.
type Client struct {
	client     *twilio.RestClient
	httpClient *http.Client
	accountSID string
	authToken  string
	fromWhats  string
}

// NewClient creates a Twilio WhatsApp client, falling back to the TWILIO_*
// environment variables for options not provided.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromWhats == "" {
		cfg.FromWhats = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("Twilio client config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromWhats_set", cfg.FromWhats != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromWhats == "" {
		return nil, fmt.Errorf("fromWhats number must be provided")
	}

	client := twilio.NewRestClientWithParams(
		twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		},
	)

	return &Client{
		client:     client,
		httpClient: &http.Client{Timeout: DefaultDownloadTimeout},
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		fromWhats:  cfg.FromWhats,
	}, nil
}

// SendMessage sends a WhatsApp text message using the Twilio API.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo("whatsapp:" + to)
	params.SetFrom(c.fromWhats)
	params.SetBody(body)

	_, err := c.client.Api.CreateMessage(params)
	if err != nil {
		slog.Error("Twilio SendMessage failed", "to", to, "error", err)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}

	slog.Debug("Twilio message sent", "to", to)
	return nil
}

// SendMediaMessage sends a WhatsApp message carrying a publicly reachable
// media URL (used for synthesized audio replies).
func (c *Client) SendMediaMessage(ctx context.Context, to string, body string, mediaURL string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo("whatsapp:" + to)
	params.SetFrom(c.fromWhats)
	if body != "" {
		params.SetBody(body)
	}
	params.SetMediaUrl([]string{mediaURL})

	_, err := c.client.Api.CreateMessage(params)
	if err != nil {
		slog.Error("Twilio SendMediaMessage failed", "to", to, "error", err)
		return fmt.Errorf("failed to send media message to %s: %w", to, err)
	}

	slog.Debug("Twilio media message sent", "to", to, "media_url", mediaURL)
	return nil
}

// DownloadMedia fetches an inbound media attachment from the Twilio CDN
// using account credentials.
func (c *Client) DownloadMedia(ctx context.Context, mediaURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build media request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Error("Twilio DownloadMedia request failed", "error", err, "url", mediaURL)
		return nil, fmt.Errorf("failed to download media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Error("Twilio DownloadMedia bad status", "status", resp.StatusCode, "url", mediaURL)
		return nil, fmt.Errorf("media download returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read media body: %w", err)
	}
	slog.Debug("Twilio media downloaded", "bytes", len(data))
	return data, nil
}

// MockClient implements TwilioWhatsAppSender for tests.
type MockClient struct {
	SentMessages  []SentMessage
	MediaMessages []SentMessage
	Media         map[string][]byte
	SendErr       error
}

// SentMessage records one outbound message for assertions.
type SentMessage struct {
	To       string
	Body     string
	MediaURL string
}

func NewMockClient() *MockClient {
	return &MockClient{Media: make(map[string][]byte)}
}

func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	if m.SendErr != nil {
		return m.SendErr
	}
	m.SentMessages = append(m.SentMessages, SentMessage{To: to, Body: body})
	return nil
}

func (m *MockClient) SendMediaMessage(ctx context.Context, to string, body string, mediaURL string) error {
	if m.SendErr != nil {
		return m.SendErr
	}
	m.MediaMessages = append(m.MediaMessages, SentMessage{To: to, Body: body, MediaURL: mediaURL})
	return nil
}

func (m *MockClient) DownloadMedia(ctx context.Context, mediaURL string) ([]byte, error) {
	if data, ok := m.Media[mediaURL]; ok {
		return data, nil
	}
	return nil, fmt.Errorf("no media registered for %s", mediaURL)
}
