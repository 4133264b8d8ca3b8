package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	ModelsDir   string            `envconfig:"MODELS_DIR" default:"models"`
	FolderPaths FolderPaths `envconfig:"FOLDER_PATHS"`

	LogLevel          string `envconfig:"LOG_LEVEL" default:"INFO"`
	DBPath            string `envconfig:"DB_PATH" default:"downloads.db"`
	HistoryEnabled    bool   `envconfig:"HISTORY_ENABLED" default:"true"`
	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`

	HTTPConnectTimeout        time.Duration `envconfig:"HTTP_CONNECT_TIMEOUT" default:"30s"`
	HTTPResponseHeaderTimeout time.Duration `envconfig:"HTTP_RESPONSE_HEADER_TIMEOUT" default:"0s"`
	UserAgent                 string        `envconfig:"USER_AGENT" default:"model_downloader"`
	ProgressInterval          string        `envconfig:"PROGRESS_INTERVAL" default:"100MB"`

	CleanupInterval time.Duration `envconfig:"CLEANUP_INTERVAL" default:"1h"`
	PartialMaxAge   time.Duration `envconfig:"PARTIAL_MAX_AGE" default:"24h"`

	TelemetryEnabled bool   `envconfig:"TELEMETRY_ENABLED" default:"true"`
	ServiceName      string `envconfig:"SERVICE_NAME" default:"model_downloader"`
	OTLPEndpoint     string `envconfig:"OTLP_ENDPOINT"`

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:8189"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"0s"` // batches can run for hours
		IdleTimeout     time.Duration `split_words:"true" default:"60s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}

	progressBytes int64
}

// FolderPaths holds FOLDER_PATHS entries of the form "name:dir1:dir2,other:dir".
// Only the first colon ends the folder name; the rest is a path list.
type FolderPaths map[string]string

// Decode implements envconfig.Decoder.
func (f *FolderPaths) Decode(value string) error {
	out := make(FolderPaths)

	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		name, paths, ok := strings.Cut(item, ":")
		name = strings.TrimSpace(name)

		if !ok || name == "" || strings.TrimSpace(paths) == "" {
			return fmt.Errorf("invalid folder paths item %q, want name:path", item)
		}

		out[name] = paths
	}

	*f = out

	return nil
}

// LoadConfig loads the given .env files (".env" when none are given; missing
// files are skipped), then reads environment variables into a Config.
// Variables already set in the environment win over .env values.
func LoadConfig(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}

	for _, f := range envFiles {
		if _, err := os.Stat(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}

			return nil, fmt.Errorf("failed to stat %s: %w", f, err)
		}

		if err := godotenv.Load(f); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	n, err := humanize.ParseBytes(cfg.ProgressInterval)
	if err != nil {
		return nil, fmt.Errorf("invalid PROGRESS_INTERVAL %q: %w", cfg.ProgressInterval, err)
	}

	if n == 0 {
		return nil, fmt.Errorf("invalid PROGRESS_INTERVAL %q: must be positive", cfg.ProgressInterval)
	}

	cfg.progressBytes = int64(n)

	return &cfg, nil
}

// ProgressBytes is PROGRESS_INTERVAL in bytes.
func (c *Config) ProgressBytes() int64 {
	return c.progressBytes
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
