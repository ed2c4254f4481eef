// Package models defines the core data structures for Curumim.
//
// It includes types for inbound messaging events, engine replies, and
// delivery receipts, which are shared across modules.
package models

import (
	"errors"
	"strings"
)

// DeliveryKind defines how an outbound reply should be delivered.
type DeliveryKind string

const (
	// DeliverAsText delivers the reply as a plain text message.
	DeliverAsText DeliveryKind = "text"
	// DeliverAsAudio delivers the reply as a synthesized audio message.
	DeliverAsAudio DeliveryKind = "audio"
)

// MessageStatus describes the delivery status of an outbound message.
type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusRead      MessageStatus = "read"
	MessageStatusFailed    MessageStatus = "failed"
)

// Error variables for better error handling and testability
var (
	ErrEmptyRecipient = errors.New("recipient cannot be empty")
	ErrEmptySender    = errors.New("sender cannot be empty")
	ErrEmptyEvent     = errors.New("event carries neither text nor audio")
)

// Response represents a raw inbound message from the transport layer.
// Body may be empty when the message carries only media. AudioData is filled
// by transports that download media at event time (whatsmeow); for Twilio the
// dispatcher fetches MediaURL lazily.
type Response struct {
	From             string `json:"from"`
	Body             string `json:"body"`
	MessageID        string `json:"message_id,omitempty"`
	MediaURL         string `json:"media_url,omitempty"`
	MediaContentType string `json:"media_content_type,omitempty"`
	AudioData        []byte `json:"-"`
	Time             int64  `json:"time"`
}

// HasAudio reports whether the inbound message carries an audio attachment.
func (r Response) HasAudio() bool {
	return r.MediaURL != "" && strings.HasPrefix(r.MediaContentType, "audio/")
}

// Receipt records the delivery status of an outbound message.
type Receipt struct {
	To     string        `json:"to"`
	Status MessageStatus `json:"status"`
	Time   int64         `json:"time"`
}

// InboundEvent is the normalized input consumed by the conversation engine.
// Text is the resolved text of the turn (possibly produced by transcription);
// AudioData holds the raw bytes of an attached recording, if any.
type InboundEvent struct {
	SenderID         string
	Text             string
	AudioPresent     bool
	AudioData        []byte
	AudioContentType string
	MessageID        string
}

// Reply is the outbound payload produced by the conversation engine.
// DeliverAs is DeliverAsAudio only when the session mode is voice and the
// transport succeeds in synthesizing and storing the audio; it always
// degrades to DeliverAsText otherwise.
type Reply struct {
	Text      string
	DeliverAs DeliveryKind
}
