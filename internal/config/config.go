package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config carries every tunable of the upload lifecycle. Values come from
// FILEGATE_* environment variables; a .env file in the working directory
// is honored when present. Only the backend base URL is mandatory, the
// timing knobs default to the values the scan backend was designed
// around.
type Config struct {
	BaseURL           string        `envconfig:"BASE_URL" required:"true"`
	MaxFileSize       int64         `envconfig:"MAX_FILE_SIZE" default:"52428800"`
	ProgressTick      time.Duration `envconfig:"PROGRESS_TICK" default:"300ms"`
	ScanStartDelay    time.Duration `envconfig:"SCAN_START_DELAY" default:"5s"`
	PollInterval      time.Duration `envconfig:"POLL_INTERVAL" default:"10s"`
	PollCeiling       time.Duration `envconfig:"POLL_CEILING" default:"2m"`
	UploadConcurrency int           `envconfig:"UPLOAD_CONCURRENCY" default:"2"`
	Development       bool          `envconfig:"DEV" default:"false"`
	LogLevel          string        `envconfig:"LOG_LEVEL"`
	MetricsAddr       string        `envconfig:"METRICS_ADDR"`
	HistoryPath       string        `envconfig:"HISTORY_PATH"`
	PreviewDir        string        `envconfig:"PREVIEW_DIR"`
}

// Load reads the configuration from the environment. A missing base URL
// fails here, at startup, rather than surfacing later as a malformed
// request URL.
func Load() (*Config, error) {
	// Best effort: no .env file is fine.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("filegate", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &cfg, nil
}
