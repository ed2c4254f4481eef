package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/angelia-ai/curumim/internal/api"
	"github.com/angelia-ai/curumim/internal/flow"
	"github.com/angelia-ai/curumim/internal/media"
	"github.com/angelia-ai/curumim/internal/session"
	"github.com/angelia-ai/curumim/internal/twiliowhatsapp"
	"github.com/angelia-ai/curumim/internal/util"
	"github.com/angelia-ai/curumim/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for Curumim state data
	DefaultStateDir = "/var/lib/curumim"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "curumim.db"
)

func main() {
	// Load environment configuration (also feeds the logger level)
	config := loadEnvironmentConfig()

	// Initialize structured logger
	initializeLogger(config.LogLevel)

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	// Build module options
	storeOpts := buildStoreOptions(flags)
	mediaOpts := buildMediaOptions(flags)
	r2Opts := buildR2Options(config)
	twilioOpts := buildTwilioOptions(config)
	waOpts := buildWhatsAppOptions(flags)
	engineOpts := buildEngineOptions(config)
	apiOpts := buildAPIOptions(flags)

	// Start the service
	slog.Info("Bootstrapping Curumim with configured modules")
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "",
		"api_addr", *flags.apiAddr, "channel", *flags.channel)
	if err := api.Run(storeOpts, mediaOpts, r2Opts, twilioOpts, waOpts, engineOpts, apiOpts); err != nil {
		slog.Error("Curumim failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("Curumim exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL       string
	WhatsAppDSN       string
	StateDir          string
	OpenAIKey         string
	TTSVoice          string
	APIAddr           string
	Channel           string
	LogLevel          string
	TranscribeSilence bool
	TwilioAccountSID  string
	TwilioAuthToken   string
	TwilioFromNumber  string
	R2AccessKeyID     string
	R2SecretAccessKey string
	R2AccountID       string
	R2BucketName      string
}

// Flags holds command line flag values
type Flags struct {
	stateDir    *string
	dbDSN       *string
	waDSN       *string
	qrOutput    *string
	numericCode *bool
	openaiKey   *string
	ttsVoice    *string
	apiAddr     *string
	channel     *string
}

// initializeLogger sets up structured logging at the configured level.
func initializeLogger(level string) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: util.ParseLogLevel(level)}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	config := Config{
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		WhatsAppDSN:       os.Getenv("WHATSAPP_DB_DSN"),
		StateDir:          os.Getenv("CURUMIM_STATE_DIR"),
		OpenAIKey:         os.Getenv("OPENAI_API_KEY"),
		TTSVoice:          os.Getenv("CURUMIM_TTS_VOICE"),
		APIAddr:           os.Getenv("API_ADDR"),
		Channel:           util.GetEnv("CURUMIM_CHANNEL", api.ChannelTwilio),
		LogLevel:          util.GetEnv("LOG_LEVEL", "info"),
		TranscribeSilence: util.ParseBoolEnv("CURUMIM_TRANSCRIBE_SILENCE", false),
		TwilioAccountSID:  os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:   os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber:  os.Getenv("TWILIO_FROM_NUMBER"),
		R2AccessKeyID:     os.Getenv("R2_ACCESS_KEY_ID"),
		R2SecretAccessKey: os.Getenv("R2_SECRET_ACCESS_KEY"),
		R2AccountID:       os.Getenv("R2_ACCOUNT_ID"),
		R2BucketName:      os.Getenv("R2_BUCKET_NAME"),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	// Default the whatsmeow database alongside the session database
	if config.WhatsAppDSN == "" {
		config.WhatsAppDSN = filepath.Join(config.StateDir, "whatsmeow.db")
	}

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:    flag.String("state-dir", config.StateDir, "state directory for Curumim data (overrides $CURUMIM_STATE_DIR)"),
		dbDSN:       flag.String("db-dsn", config.DatabaseURL, "session database DSN (overrides $DATABASE_URL)"),
		waDSN:       flag.String("whatsapp-db-dsn", config.WhatsAppDSN, "whatsmeow database DSN (overrides $WHATSAPP_DB_DSN)"),
		qrOutput:    flag.String("qr-output", "", "path to write login QR code"),
		numericCode: flag.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		openaiKey:   flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		ttsVoice:    flag.String("tts-voice", config.TTSVoice, "synthesis voice (overrides $CURUMIM_TTS_VOICE)"),
		apiAddr:     flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		channel:     flag.String("channel", config.Channel, "messaging channel: twilio or whatsapp (overrides $CURUMIM_CHANNEL)"),
	}
	flag.Parse()
	return flags
}

// ensureDirectoriesExist creates the state directory when a SQLite DSN points into it.
func ensureDirectoriesExist(flags Flags) error {
	if session.DetectDSNType(*flags.dbDSN) == "postgres" {
		return nil
	}
	return os.MkdirAll(*flags.stateDir, 0755)
}

func buildStoreOptions(flags Flags) []session.Option {
	var opts []session.Option
	if *flags.dbDSN != "" {
		opts = append(opts, session.WithDSN(*flags.dbDSN))
	}
	return opts
}

func buildMediaOptions(flags Flags) []media.Option {
	var opts []media.Option
	if *flags.openaiKey != "" {
		opts = append(opts, media.WithAPIKey(*flags.openaiKey))
	}
	if *flags.ttsVoice != "" {
		opts = append(opts, media.WithVoice(*flags.ttsVoice))
	}
	return opts
}

func buildR2Options(config Config) []media.R2Option {
	var opts []media.R2Option
	if config.R2AccessKeyID != "" || config.R2SecretAccessKey != "" {
		opts = append(opts, media.WithR2Credentials(config.R2AccessKeyID, config.R2SecretAccessKey))
	}
	if config.R2AccountID != "" {
		opts = append(opts, media.WithR2Account(config.R2AccountID))
	}
	if config.R2BucketName != "" {
		opts = append(opts, media.WithR2Bucket(config.R2BucketName))
	}
	return opts
}

func buildTwilioOptions(config Config) []twiliowhatsapp.Option {
	var opts []twiliowhatsapp.Option
	if config.TwilioAccountSID != "" {
		opts = append(opts, twiliowhatsapp.WithAccountSID(config.TwilioAccountSID))
	}
	if config.TwilioAuthToken != "" {
		opts = append(opts, twiliowhatsapp.WithAuthToken(config.TwilioAuthToken))
	}
	if config.TwilioFromNumber != "" {
		opts = append(opts, twiliowhatsapp.WithFromWhats(config.TwilioFromNumber))
	}
	return opts
}

func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var opts []whatsapp.Option
	if *flags.waDSN != "" {
		opts = append(opts, whatsapp.WithDBDSN(*flags.waDSN))
	}
	if *flags.qrOutput != "" {
		opts = append(opts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numericCode {
		opts = append(opts, whatsapp.WithNumericCode())
	}
	return opts
}

func buildEngineOptions(config Config) []flow.Option {
	var opts []flow.Option
	if config.TranscribeSilence {
		opts = append(opts, flow.WithTranscribeSilence())
	}
	return opts
}

func buildAPIOptions(flags Flags) []api.Option {
	var opts []api.Option
	if *flags.apiAddr != "" {
		opts = append(opts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.channel != "" {
		opts = append(opts, api.WithChannel(*flags.channel))
	}
	return opts
}
