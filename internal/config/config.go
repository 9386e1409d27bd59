// Package config loads and validates the HCL configuration shared by the
// docgate binaries.
package config

import (
	"fmt"

	"github.com/hashicorp/hcl/v2/hclsimple"

	"github.com/hashicorp-forge/docgate/pkg/database"
	"github.com/hashicorp-forge/docgate/pkg/scanner"
	s3store "github.com/hashicorp-forge/docgate/pkg/storage/s3"
)

// Config is the top-level configuration.
type Config struct {
	// ListenAddr is the address the API server binds to.
	ListenAddr string `hcl:"listen_addr,optional"`

	// BaseURL is the externally visible base URL of the service.
	BaseURL string `hcl:"base_url,optional"`

	// LogLevel sets the hclog level (trace, debug, info, warn, error).
	LogLevel string `hcl:"log_level,optional"`

	Database *database.Config    `hcl:"database,block"`
	Storage  *StorageConfig      `hcl:"storage,block"`
	Scanner  *scanner.HTTPConfig `hcl:"scanner,block"`
	Kafka    *KafkaConfig        `hcl:"kafka,block"`
}

// StorageConfig selects and configures the object store backend.
type StorageConfig struct {
	// Provider is "s3" or "local".
	Provider string `hcl:"provider"`

	// LocalDir is the storage root for the local provider.
	LocalDir string `hcl:"local_dir,optional"`

	S3 *s3store.Config `hcl:"s3,block"`
}

// Validate validates the storage configuration.
func (c *StorageConfig) Validate() error {
	switch c.Provider {
	case "s3":
		if c.S3 == nil {
			return fmt.Errorf("s3 block is required for the s3 provider")
		}
		return c.S3.Validate()
	case "local":
		if c.LocalDir == "" {
			return fmt.Errorf("local_dir is required for the local provider")
		}
		return nil
	default:
		return fmt.Errorf("unsupported storage provider: %q", c.Provider)
	}
}

// KafkaConfig configures the scan job queue.
type KafkaConfig struct {
	Brokers       []string `hcl:"brokers"`
	Topic         string   `hcl:"topic,optional"`
	ConsumerGroup string   `hcl:"consumer_group,optional"`
}

// Validate validates the Kafka configuration.
func (c *KafkaConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("at least one broker is required")
	}
	return nil
}

// NewConfig parses the HCL file at path into a validated Config.
func NewConfig(path string) (*Config, error) {
	var cfg Config
	if err := hclsimple.DecodeFile(path, nil, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Database == nil {
		return fmt.Errorf("database block is required")
	}
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if c.Storage == nil {
		return fmt.Errorf("storage block is required")
	}
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}

	if c.Scanner == nil {
		return fmt.Errorf("scanner block is required")
	}
	if err := c.Scanner.Validate(); err != nil {
		return fmt.Errorf("scanner: %w", err)
	}

	if c.Kafka == nil {
		return fmt.Errorf("kafka block is required")
	}
	if err := c.Kafka.Validate(); err != nil {
		return fmt.Errorf("kafka: %w", err)
	}

	return nil
}

// SetDefaults sets default values for optional configuration fields.
func (c *Config) SetDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = "127.0.0.1:8000"
	}
	if c.BaseURL == "" {
		c.BaseURL = "http://" + c.ListenAddr
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Database != nil {
		c.Database.SetDefaults()
	}
	if c.Scanner != nil {
		c.Scanner.SetDefaults()
	}
	if c.Storage != nil && c.Storage.S3 != nil {
		c.Storage.S3.SetDefaults()
	}
}
