// Package media provides GenAI-backed audio operations using the OpenAI API.
package media

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Opts holds configuration options for the OpenAI audio client.
type Opts struct {
	APIKey string
	Voice  string
}

// Option defines a configuration option for the OpenAI audio client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithVoice sets the synthesis voice.
func WithVoice(voice string) Option {
	return func(o *Opts) { o.Voice = voice }
}

// OpenAIClient implements Transcriber and Synthesizer on top of the OpenAI
// audio endpoints (Whisper for transcription, TTS for synthesis).
type OpenAIClient struct {
	client openai.Client
	voice  openai.AudioSpeechNewParamsVoice
}

// NewOpenAIClient initializes the audio client, falling back to the
// OPENAI_API_KEY environment variable when no key option is provided.
func NewOpenAIClient(opts ...Option) (*OpenAIClient, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}

	voice := openai.AudioSpeechNewParamsVoiceAlloy
	if cfg.Voice != "" {
		voice = openai.AudioSpeechNewParamsVoice(cfg.Voice)
	}
	slog.Debug("OpenAI audio client initialized", "voice", voice)
	return &OpenAIClient{
		client: openai.NewClient(option.WithAPIKey(cfg.APIKey)),
		voice:  voice,
	}, nil
}

// Transcribe resolves recorded audio to text using Whisper.
func (c *OpenAIClient) Transcribe(ctx context.Context, audio []byte, contentType string) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("no audio data to transcribe")
	}

	filename := "audio" + extensionForContentType(contentType)
	transcription, err := c.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(audio), filename, contentType),
		Model: openai.AudioModelWhisper1,
	})
	if err != nil {
		slog.Error("OpenAI transcription failed", "error", err, "bytes", len(audio))
		return "", fmt.Errorf("transcription request failed: %w", err)
	}
	slog.Debug("OpenAI transcription succeeded", "bytes", len(audio), "text_length", len(transcription.Text))
	return transcription.Text, nil
}

// Synthesize renders text as MP3 audio using the TTS endpoint.
func (c *OpenAIClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if text == "" {
		return nil, fmt.Errorf("no text to synthesize")
	}

	resp, err := c.client.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Model:          openai.SpeechModelTTS1,
		Voice:          c.voice,
		Input:          text,
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
	})
	if err != nil {
		slog.Error("OpenAI synthesis failed", "error", err, "text_length", len(text))
		return nil, fmt.Errorf("synthesis request failed: %w", err)
	}
	defer resp.Body.Close()

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		slog.Error("OpenAI synthesis read failed", "error", err)
		return nil, fmt.Errorf("failed to read synthesized audio: %w", err)
	}
	slog.Debug("OpenAI synthesis succeeded", "text_length", len(text), "bytes", len(audio))
	return audio, nil
}

// extensionForContentType maps an audio content type to a filename extension.
// Twilio voice notes arrive as audio/ogg.
func extensionForContentType(contentType string) string {
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".ogg"
}
