// Package api provides the HTTP surface and the main server wiring for Curumim.
//
// It boots the session store, the media gateway, the conversation engine, and
// the configured messaging channel, then serves the health and webhook routes.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/angelia-ai/curumim/internal/flow"
	"github.com/angelia-ai/curumim/internal/media"
	"github.com/angelia-ai/curumim/internal/messaging"
	"github.com/angelia-ai/curumim/internal/session"
	"github.com/angelia-ai/curumim/internal/twiliowhatsapp"
	"github.com/angelia-ai/curumim/internal/whatsapp"
)

// Channel names for the messaging backend.
const (
	ChannelTwilio   = "twilio"
	ChannelWhatsApp = "whatsapp"
)

// Default server configuration.
const (
	DefaultAddr            = ":8080"
	DefaultShutdownTimeout = 10 * time.Second
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr    string
	Channel string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the HTTP listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithChannel selects the messaging backend ("twilio" or "whatsapp").
func WithChannel(channel string) Option {
	return func(o *Opts) { o.Channel = channel }
}

// Run boots every module and blocks until the process receives SIGINT or
// SIGTERM. Option slices configure the individual modules the way the
// command-line entrypoint assembled them.
func Run(storeOpts []session.Option, mediaOpts []media.Option, r2Opts []media.R2Option,
	twilioOpts []twiliowhatsapp.Option, waOpts []whatsapp.Option,
	engineOpts []flow.Option, apiOpts []Option) error {

	var cfg Opts
	for _, opt := range apiOpts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.Channel == "" {
		cfg.Channel = ChannelTwilio
	}

	store, err := buildStore(storeOpts)
	if err != nil {
		return fmt.Errorf("failed to build session store: %w", err)
	}
	defer store.Close()

	gateway := buildGateway(mediaOpts, r2Opts)
	caps := gateway.Capabilities()
	slog.Info("Media capabilities resolved",
		"transcription", caps.Transcription, "synthesis", caps.Synthesis, "storage", caps.Storage)

	engine := flow.NewEngine(store, gateway, caps, engineOpts...)

	svc, twilioSvc, err := buildMessagingService(cfg.Channel, twilioOpts, waOpts)
	if err != nil {
		return fmt.Errorf("failed to build messaging service: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}
	defer svc.Stop()

	dispatcher := messaging.NewDispatcher(svc, engine, gateway)
	dispatcher.Start(ctx)
	dispatcher.DrainReceipts(ctx)
	defer dispatcher.Stop()

	mux := http.NewServeMux()
	mux.HandleFunc("/", healthHandler)
	if twilioSvc != nil {
		mux.HandleFunc("/whatsapp", twilioSvc.WebhookHandler)
	}

	server := &http.Server{Addr: cfg.Addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Curumim API running", "addr", cfg.Addr, "channel", cfg.Channel)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server failed: %w", err)
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown failed", "error", err)
		return err
	}
	slog.Info("Curumim exited cleanly")
	return nil
}

// buildStore picks the session store backend from the configured DSN:
// Postgres for URLs/key-value DSNs, SQLite for paths, in-memory when unset.
func buildStore(storeOpts []session.Option) (session.Store, error) {
	var cfg session.Opts
	for _, opt := range storeOpts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Warn("No database DSN provided, using in-memory session store (state is lost on restart)")
		return session.NewInMemoryStore(), nil
	}
	if session.DetectDSNType(cfg.DSN) == "postgres" {
		return session.NewPostgresStore(storeOpts...)
	}
	return session.NewSQLiteStore(storeOpts...)
}

// buildGateway assembles the media gateway from whichever collaborators are
// configured; missing credentials simply degrade the capability.
func buildGateway(mediaOpts []media.Option, r2Opts []media.R2Option) *media.CompositeGateway {
	var transcriber media.Transcriber
	var synthesizer media.Synthesizer
	var blobs media.BlobStore

	openaiClient, err := media.NewOpenAIClient(mediaOpts...)
	if err != nil {
		slog.Warn("OpenAI audio client unavailable; transcription and synthesis disabled", "error", err)
	} else {
		transcriber = openaiClient
		synthesizer = openaiClient
	}

	r2, err := media.NewR2Store(r2Opts...)
	if err != nil {
		slog.Warn("R2 blob store unavailable; audio uploads disabled", "error", err)
	} else {
		blobs = r2
	}

	return media.NewCompositeGateway(transcriber, synthesizer, blobs)
}

// buildMessagingService instantiates the configured channel. The Twilio
// service is returned separately so its webhook can be mounted.
func buildMessagingService(channel string, twilioOpts []twiliowhatsapp.Option, waOpts []whatsapp.Option) (messaging.Service, *messaging.TwilioService, error) {
	switch channel {
	case ChannelTwilio:
		client, err := twiliowhatsapp.NewClient(twilioOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Twilio client: %w", err)
		}
		svc := messaging.NewTwilioService(client)
		return svc, svc, nil
	case ChannelWhatsApp:
		client, err := whatsapp.NewClient(waOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create WhatsApp client: %w", err)
		}
		return messaging.NewWhatsAppService(client), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown messaging channel %q", channel)
	}
}

// healthHandler reports liveness for the root route.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Curumim WhatsApp Bot is running!"})
}
