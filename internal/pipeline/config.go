package pipeline

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// Concurrency bounds the worker pool over a batch of signals.
	Concurrency int `envconfig:"PIPELINE_CONCURRENCY" default:"4"`
	// SignalTimeout caps the full stage sequence for one signal.
	SignalTimeout time.Duration `envconfig:"PIPELINE_SIGNAL_TIMEOUT" default:"60s"`
	// BatchExtraction pre-extracts a whole batch in one collaborator call
	// before any transaction opens; falls back to per-item extraction.
	BatchExtraction bool `envconfig:"PIPELINE_BATCH_EXTRACTION" default:"true"`
	// MaxRetries seeds failed_signal_attempts.max_retries for new failures.
	MaxRetries int `envconfig:"PIPELINE_MAX_RETRIES" default:"5"`
}

func LoadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
