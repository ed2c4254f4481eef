package media

import (
	"context"
	"fmt"
	"sync"
)

// MockGateway implements Gateway for testing. Zero value behaves as a fully
// configured gateway; set the error fields to simulate collaborator failures.
type MockGateway struct {
	mu sync.Mutex

	TranscribeResult string
	TranscribeErr    error
	SynthesizeResult []byte
	SynthesizeErr    error
	StoreErr         error

	TranscribeCalls int
	SynthesizeCalls int
	StoredKeys      []string
	StoredBlobs     map[string][]byte
}

// Transcribe returns the configured transcript or error.
func (m *MockGateway) Transcribe(ctx context.Context, audio []byte, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TranscribeCalls++
	if m.TranscribeErr != nil {
		return "", m.TranscribeErr
	}
	return m.TranscribeResult, nil
}

// Synthesize returns the configured audio or error.
func (m *MockGateway) Synthesize(ctx context.Context, text string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SynthesizeCalls++
	if m.SynthesizeErr != nil {
		return nil, m.SynthesizeErr
	}
	if m.SynthesizeResult != nil {
		return m.SynthesizeResult, nil
	}
	return []byte(text), nil
}

// Store records the blob and returns a deterministic fake URL for the key.
func (m *MockGateway) Store(ctx context.Context, blob []byte, key, contentType string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.StoreErr != nil {
		return "", m.StoreErr
	}
	if m.StoredBlobs == nil {
		m.StoredBlobs = make(map[string][]byte)
	}
	m.StoredKeys = append(m.StoredKeys, key)
	m.StoredBlobs[key] = blob
	return fmt.Sprintf("https://pub-test.r2.dev/test-bucket/%s", key), nil
}
