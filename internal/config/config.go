// Package config loads the escrow bot configuration: the shared core settings
// plus storage, escrow, metrics and event stream sections.
package config

import (
	"fmt"
	"strings"

	coreconfig "github.com/fihsr/giftescrow/core/config"
	coredatabase "github.com/fihsr/giftescrow/core/database"
	"github.com/fihsr/giftescrow/internal/deal"
)

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// StorageConfig selects the ledger backend.
type StorageConfig struct {
	Driver string `yaml:"driver" envconfig:"STORAGE_DRIVER"`
}

// EscrowConfig tunes the deal flow.
type EscrowConfig struct {
	// BotUsername overrides the username reported by Telegram in join links.
	BotUsername    string `yaml:"bot_username" envconfig:"ESCROW_BOT_USERNAME"`
	SupportContact string `yaml:"support_contact" envconfig:"ESCROW_SUPPORT_CONTACT"`
	ReviewsChannel string `yaml:"reviews_channel" envconfig:"ESCROW_REVIEWS_CHANNEL"`
	IDLength       int    `yaml:"id_length" envconfig:"ESCROW_ID_LENGTH"`
	MaxIDAttempts  int    `yaml:"max_id_attempts" envconfig:"ESCROW_MAX_ID_ATTEMPTS"`
}

// MetricsConfig enables the Prometheus listener when Listen is set.
type MetricsConfig struct {
	Listen string `yaml:"listen" envconfig:"METRICS_LISTEN"`
}

// KafkaConfig enables the deal event stream when Brokers is set.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers" envconfig:"KAFKA_BROKERS"`
	Topic   string   `yaml:"topic" envconfig:"KAFKA_TOPIC"`
}

// Config is the full escrow bot configuration.
type Config struct {
	coreconfig.Config `yaml:",inline"`

	Database coredatabase.Config `yaml:"database"`
	Storage  StorageConfig       `yaml:"storage"`
	Escrow   EscrowConfig        `yaml:"escrow"`
	Metrics  MetricsConfig       `yaml:"metrics"`
	Kafka    KafkaConfig         `yaml:"kafka"`
}

// CoreConfig exposes the embedded core settings to the shared runner.
func (c *Config) CoreConfig() *coreconfig.Config {
	if c == nil {
		return nil
	}
	return &c.Config
}

// UsesDatabase reports whether the postgres ledger is selected.
func (c *Config) UsesDatabase() bool {
	return c.Storage.Driver == DriverPostgres
}

// Load reads path, overlays the environment and validates the result.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := coreconfig.Read(path, &cfg); err != nil {
		return nil, err
	}
	if err := Normalize(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize validates cfg and fills defaults.
func Normalize(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	if err := coreconfig.Normalize(&cfg.Config); err != nil {
		return err
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if driver == "" {
		driver = DriverPostgres
	}
	switch driver {
	case DriverPostgres:
		if strings.TrimSpace(cfg.Database.Host) == "" || strings.TrimSpace(cfg.Database.Name) == "" {
			return fmt.Errorf("database.host and database.name are required for the postgres storage driver")
		}
		if cfg.Database.Port == "" {
			cfg.Database.Port = "5432"
		}
		if cfg.Database.SSLMode == "" {
			cfg.Database.SSLMode = "disable"
		}
	case DriverMemory:
	default:
		return fmt.Errorf("invalid storage.driver %q; allowed: postgres, memory", cfg.Storage.Driver)
	}
	cfg.Storage.Driver = driver

	if cfg.Escrow.IDLength == 0 {
		cfg.Escrow.IDLength = deal.DefaultIDLength
	}
	if cfg.Escrow.IDLength < deal.MinIDLength || cfg.Escrow.IDLength > deal.MaxIDLength {
		return fmt.Errorf("escrow.id_length must be within %d..%d", deal.MinIDLength, deal.MaxIDLength)
	}
	if cfg.Escrow.MaxIDAttempts == 0 {
		cfg.Escrow.MaxIDAttempts = deal.DefaultMaxIDAttempts
	}
	if cfg.Escrow.MaxIDAttempts < 1 {
		return fmt.Errorf("escrow.max_id_attempts must be > 0")
	}
	cfg.Escrow.BotUsername = strings.TrimPrefix(strings.TrimSpace(cfg.Escrow.BotUsername), "@")

	brokers := cfg.Kafka.Brokers[:0]
	for _, b := range cfg.Kafka.Brokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	cfg.Kafka.Brokers = brokers
	if len(brokers) > 0 && strings.TrimSpace(cfg.Kafka.Topic) == "" {
		return fmt.Errorf("kafka.topic is required when kafka.brokers is set")
	}
	return nil
}
