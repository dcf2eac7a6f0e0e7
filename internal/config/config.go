package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Client holds identity and endpoint settings.
type Client struct {
	Environment string `envconfig:"POSTHOG_ENVIRONMENT" default:"development"`
	APIKey      string `envconfig:"POSTHOG_API_KEY" required:"true"`
	Endpoint    string `envconfig:"POSTHOG_ENDPOINT" default:"https://app.posthog.com"`
}

// Queue holds flush pipeline settings.
type Queue struct {
	BatchSize        int `envconfig:"POSTHOG_QUEUE_BATCH_SIZE" default:"50"`
	MaxQueueSize     int `envconfig:"POSTHOG_QUEUE_MAX_SIZE" default:"1000"`
	FlushIntervalSec int `envconfig:"POSTHOG_QUEUE_FLUSH_INTERVAL_SEC" default:"30"`
}

// Flags holds feature-flag settings.
type Flags struct {
	// SendFeatureFlagEvent emits a $feature_flag_called event on flag
	// reads, deduplicated per flag/response pair.
	SendFeatureFlagEvent bool `envconfig:"POSTHOG_SEND_FEATURE_FLAG_EVENT" default:"true"`
	// PreloadOnStart fetches flags once during client construction.
	PreloadOnStart bool `envconfig:"POSTHOG_PRELOAD_FEATURE_FLAGS" default:"true"`
}

// Storage holds local persistence settings. An empty Dir selects the
// non-durable in-memory store.
type Storage struct {
	Dir string `envconfig:"POSTHOG_STORAGE_DIR"`
}

// SQS selects the SQS batch sender over HTTP delivery when enabled.
type SQS struct {
	Enabled  bool   `envconfig:"POSTHOG_SQS_ENABLED" default:"false"`
	Endpoint string `envconfig:"POSTHOG_SQS_ENDPOINT"`
	QueueURL string `envconfig:"POSTHOG_SQS_QUEUE_URL"`
	Region   string `envconfig:"POSTHOG_SQS_REGION" default:"us-east-1"`
}

// Config is the full SDK configuration.
type Config struct {
	Client  Client
	Queue   Queue
	Flags   Flags
	Storage Storage
	SQS     SQS
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	return &cfg, nil
}

// Default returns a usable configuration for the given API key without
// touching the environment; callers adjust fields before handing it to the
// client.
func Default(apiKey string) *Config {
	return &Config{
		Client: Client{
			Environment: "development",
			APIKey:      apiKey,
			Endpoint:    "https://app.posthog.com",
		},
		Queue: Queue{
			BatchSize:        50,
			MaxQueueSize:     1000,
			FlushIntervalSec: 30,
		},
		Flags: Flags{
			SendFeatureFlagEvent: true,
			PreloadOnStart:       true,
		},
		SQS: SQS{Region: "us-east-1"},
	}
}
