package messaging

import (
	"context"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/angelia-ai/curumim/internal/models"
	"github.com/angelia-ai/curumim/internal/twiliowhatsapp"
)

func TestTwilioValidateAndCanonicalizeRecipient(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())

	tests := []struct {
		name      string
		recipient string
		want      string
		wantErr   bool
	}{
		{"whatsapp prefix", "whatsapp:+5511999990000", "5511999990000", false},
		{"plus prefix", "+5511999990000", "5511999990000", false},
		{"bare digits", "5511999990000", "5511999990000", false},
		{"formatted", "+55 (11) 99999-0000", "5511999990000", false},
		{"empty", "", "", true},
		{"no digits", "not-a-number", "", true},
		{"too short", "12345", "", true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := svc.ValidateAndCanonicalizeRecipient(tc.recipient)
			if tc.wantErr {
				if err == nil {
					t.Errorf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestTwilioSendMessage(t *testing.T) {
	client := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(client)

	if err := svc.SendMessage(context.Background(), "whatsapp:+5511999990000", "oi"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if len(client.SentMessages) != 1 {
		t.Fatalf("expected 1 sent message, got %d", len(client.SentMessages))
	}
	if client.SentMessages[0].To != "+5511999990000" {
		t.Errorf("expected E.164 recipient, got %q", client.SentMessages[0].To)
	}

	// A sent receipt is emitted for delivery bookkeeping.
	select {
	case receipt := <-svc.Receipts():
		if receipt.Status != models.MessageStatusSent {
			t.Errorf("expected sent status, got %q", receipt.Status)
		}
	default:
		t.Error("expected a receipt")
	}
}

func TestTwilioSendAudioMessage(t *testing.T) {
	client := twiliowhatsapp.NewMockClient()
	svc := NewTwilioService(client)

	const mediaURL = "https://pub-test.r2.dev/b/reply.mp3"
	if err := svc.SendAudioMessage(context.Background(), "5511999990000", []byte("mp3"), mediaURL); err != nil {
		t.Fatalf("SendAudioMessage: %v", err)
	}
	if len(client.MediaMessages) != 1 || client.MediaMessages[0].MediaURL != mediaURL {
		t.Errorf("expected media message with %q, got %+v", mediaURL, client.MediaMessages)
	}

	if err := svc.SendAudioMessage(context.Background(), "5511999990000", []byte("mp3"), ""); err == nil {
		t.Error("expected error for missing media URL")
	}
}

func TestTwilioSendAfterStop(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())
	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := svc.SendMessage(context.Background(), "5511999990000", "oi"); err != ErrServiceStopped {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
}

func postWebhook(t *testing.T, svc *TwilioService, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", "/whatsapp", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	svc.WebhookHandler(w, req)
	return w
}

func TestWebhookHandlerTextMessage(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())

	w := postWebhook(t, svc, url.Values{
		"From":       {"whatsapp:+5511999990000"},
		"Body":       {"texto"},
		"MessageSid": {"SM123"},
	})
	if w.Code != 200 {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "<Response></Response>") {
		t.Errorf("expected empty TwiML ack, got %q", w.Body.String())
	}

	select {
	case resp := <-svc.Responses():
		if resp.From != "whatsapp:+5511999990000" || resp.Body != "texto" || resp.MessageID != "SM123" {
			t.Errorf("unexpected response: %+v", resp)
		}
		if resp.HasAudio() {
			t.Error("text message should not report audio")
		}
	default:
		t.Fatal("expected an emitted response")
	}
}

func TestWebhookHandlerAudioMessage(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())

	postWebhook(t, svc, url.Values{
		"From":              {"whatsapp:+5511999990000"},
		"NumMedia":          {"1"},
		"MediaUrl0":         {"https://api.twilio.com/media/ME1"},
		"MediaContentType0": {"audio/ogg"},
		"MessageSid":        {"SM456"},
	})

	select {
	case resp := <-svc.Responses():
		if !resp.HasAudio() {
			t.Errorf("expected audio response, got %+v", resp)
		}
		if resp.MediaURL != "https://api.twilio.com/media/ME1" {
			t.Errorf("unexpected media URL %q", resp.MediaURL)
		}
	default:
		t.Fatal("expected an emitted response")
	}
}

func TestWebhookHandlerMalformedPayloadIsAcknowledged(t *testing.T) {
	svc := NewTwilioService(twiliowhatsapp.NewMockClient())

	// Missing sender and empty body: acknowledged so Twilio stops
	// redelivering, but nothing reaches the dispatcher.
	w := postWebhook(t, svc, url.Values{"Body": {"oi"}})
	if w.Code != 200 {
		t.Errorf("expected 200 ack, got %d", w.Code)
	}
	select {
	case resp := <-svc.Responses():
		t.Errorf("expected no response, got %+v", resp)
	default:
	}
}
