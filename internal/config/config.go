package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	StoreDriverSQLite = "sqlite"
	StoreDriverMemory = "memory"
)

type AppConfig struct {
	// DataSourceURL is the Corona-Ampel municipality export.
	DataSourceURL string `envconfig:"DATA_SOURCE_URL" default:"https://corona-ampel.gv.at/sites/corona-ampel.gv.at/files/assets/Warnstufen_Corona_Ampel_Gemeinden_aktuell.json"`

	// StaleThresholdSeconds is the minimum age of the snapshot before a refresh is attempted.
	StaleThresholdSeconds int `envconfig:"STALE_THRESHOLD_SECONDS" default:"86400"`

	// RequestTimeoutSeconds bounds one dataset download, body included.
	RequestTimeoutSeconds int `envconfig:"REQUEST_TIMEOUT_SECONDS" default:"30"`

	// SyncInterval controls how often the scheduler asks for a refresh. Most
	// ticks are no-ops because the snapshot is still fresh.
	SyncInterval time.Duration `envconfig:"SYNC_INTERVAL" default:"1h"`

	StoreDriver string `envconfig:"STORE_DRIVER" default:"sqlite"`
	DBPath      string `envconfig:"DB_PATH" default:"data/warnstufen.db"`

	// NatsURL enables publishing snapshot events to NATS when set.
	NatsURL       string `envconfig:"NATS_URL"`
	NotifySubject string `envconfig:"NOTIFY_SUBJECT" default:"warnlevel.snapshot.replaced"`

	Port     string `envconfig:"PORT" default:"8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	DevMode  bool   `envconfig:"DEV_MODE" default:"false"`
}

// StaleThreshold returns StaleThresholdSeconds as a duration.
func (c *AppConfig) StaleThreshold() time.Duration {
	return time.Duration(c.StaleThresholdSeconds) * time.Second
}

// RequestTimeout returns RequestTimeoutSeconds as a duration.
func (c *AppConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// LoadDotEnv loads a .env file into the environment if one exists.
func LoadDotEnv(filenames ...string) error {
	return godotenv.Load(filenames...)
}

// Load reads configuration from the environment with defaults.
func Load() (*AppConfig, error) {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) validate() error {
	if c.DataSourceURL == "" {
		return fmt.Errorf("DATA_SOURCE_URL must not be empty")
	}
	if c.StaleThresholdSeconds <= 0 {
		return fmt.Errorf("invalid STALE_THRESHOLD_SECONDS: %d", c.StaleThresholdSeconds)
	}
	if c.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("invalid REQUEST_TIMEOUT_SECONDS: %d", c.RequestTimeoutSeconds)
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("invalid SYNC_INTERVAL: %s", c.SyncInterval)
	}
	switch c.StoreDriver {
	case StoreDriverSQLite:
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH must not be empty for the sqlite store")
		}
	case StoreDriverMemory:
	default:
		return fmt.Errorf("invalid STORE_DRIVER %q (want %s or %s)", c.StoreDriver, StoreDriverSQLite, StoreDriverMemory)
	}
	return nil
}
