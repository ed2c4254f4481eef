// Package media provides the external audio collaborators for Curumim:
// speech transcription, speech synthesis, and blob storage for captured
// recordings. The conversation engine consumes these only through the
// Gateway interface.
package media

import (
	"context"
	"errors"
)

// Error variables for collaborator failures.
var (
	ErrTranscriptionUnavailable = errors.New("transcription is not configured")
	ErrSynthesisUnavailable     = errors.New("speech synthesis is not configured")
	ErrStorageUnavailable       = errors.New("blob storage is not configured")
)

// Transcriber converts recorded audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, contentType string) (string, error)
}

// Synthesizer converts reply text into audio bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// BlobStore persists a blob under a key and returns its public URL.
type BlobStore interface {
	Store(ctx context.Context, blob []byte, key, contentType string) (string, error)
}

// Gateway bundles the three audio capabilities behind one injected collaborator.
type Gateway interface {
	Transcriber
	Synthesizer
	BlobStore
}

// Capabilities describes which collaborators are actually configured.
// It is computed once at startup and passed to the engine so mode selection
// is a pure function of this descriptor plus user input.
type Capabilities struct {
	Transcription bool
	Synthesis     bool
	Storage       bool
}

// VoiceReady reports whether every collaborator needed for voice mode is configured.
func (c Capabilities) VoiceReady() bool {
	return c.Transcription && c.Synthesis && c.Storage
}

// CompositeGateway implements Gateway from independently configured
// collaborators. Nil members degrade the corresponding capability.
type CompositeGateway struct {
	transcriber Transcriber
	synthesizer Synthesizer
	blobs       BlobStore
}

// NewCompositeGateway builds a gateway from the given collaborators, any of
// which may be nil.
func NewCompositeGateway(t Transcriber, s Synthesizer, b BlobStore) *CompositeGateway {
	return &CompositeGateway{transcriber: t, synthesizer: s, blobs: b}
}

// Capabilities returns the capability descriptor for this gateway.
func (g *CompositeGateway) Capabilities() Capabilities {
	return Capabilities{
		Transcription: g.transcriber != nil,
		Synthesis:     g.synthesizer != nil,
		Storage:       g.blobs != nil,
	}
}

// Transcribe resolves audio to text via the configured transcriber.
func (g *CompositeGateway) Transcribe(ctx context.Context, audio []byte, contentType string) (string, error) {
	if g.transcriber == nil {
		return "", ErrTranscriptionUnavailable
	}
	return g.transcriber.Transcribe(ctx, audio, contentType)
}

// Synthesize renders text as audio via the configured synthesizer.
func (g *CompositeGateway) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if g.synthesizer == nil {
		return nil, ErrSynthesisUnavailable
	}
	return g.synthesizer.Synthesize(ctx, text)
}

// Store uploads a blob via the configured blob store.
func (g *CompositeGateway) Store(ctx context.Context, blob []byte, key, contentType string) (string, error) {
	if g.blobs == nil {
		return "", ErrStorageUnavailable
	}
	return g.blobs.Store(ctx, blob, key, contentType)
}
