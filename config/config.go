package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Dbnflow      DbnflowConfig      `yaml:"dbnflow"`
	Client       ClientConfig       `yaml:"client"`
	Subscription SubscriptionConfig `yaml:"subscription"`
	Stats        StatsConfig        `yaml:"stats"`
	Storage      StorageConfig      `yaml:"storage"`
	Logging      LoggingConfig      `yaml:"logging"`
	Metrics      MetricsConfig      `yaml:"metrics"`
}

type DbnflowConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type MetricsConfig struct {
	CloudWatch bool   `yaml:"cloudwatch"`
	Namespace  string `yaml:"namespace"`
	Region     string `yaml:"region"`
}

// ClientConfig governs per-session socket and buffer behaviour. The gateway
// streams bursts far larger than default kernel buffers; BufferCapacity is
// both the SO_RCVBUF request and the size of each receive buffer.
type ClientConfig struct {
	BufferCapacity int           `yaml:"buffer_capacity"`
	ReportInterval time.Duration `yaml:"report_interval"`
}

type SubscriptionConfig struct {
	Dataset     string   `yaml:"dataset"`
	Schema      string   `yaml:"schema"`
	Symbology   string   `yaml:"symbology"`
	Symbols     []string `yaml:"symbols"`
	SymbolFiles []string `yaml:"symbol_files"`
	Suffix      string   `yaml:"suffix"`
	Replay      bool     `yaml:"replay"`
	TsOut       bool     `yaml:"ts_out"`
}

type StatsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Archive string `yaml:"archive"` // local directory for latency archives when S3 is disabled
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	Prefix          string `yaml:"prefix"`
	Compression     string `yaml:"compression"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// DefaultBufferCapacity is the SO_RCVBUF target; sessions refuse to run with
// less.
const DefaultBufferCapacity = 64 * 1024 * 1024

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Client: ClientConfig{
			BufferCapacity: DefaultBufferCapacity,
			ReportInterval: 30 * time.Second,
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override S3 settings from environment variables if available
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
	}

	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Dbnflow.Name == "" {
		return fmt.Errorf("dbnflow.name is required")
	}

	if cfg.Dbnflow.Version == "" {
		return fmt.Errorf("dbnflow.version is required")
	}

	if cfg.Client.BufferCapacity <= 0 {
		return fmt.Errorf("client.buffer_capacity must be greater than 0")
	}

	if cfg.Client.ReportInterval <= 0 {
		return fmt.Errorf("client.report_interval must be greater than 0")
	}

	if cfg.Subscription.Dataset == "" {
		return fmt.Errorf("subscription.dataset is required")
	}
	if cfg.Subscription.Schema == "" {
		return fmt.Errorf("subscription.schema is required")
	}
	if cfg.Subscription.Symbology == "" {
		return fmt.Errorf("subscription.symbology is required")
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if cfg.Storage.S3.AccessKeyID == "" || cfg.Storage.S3.SecretAccessKey == "" {
			return fmt.Errorf("storage.s3.access_key_id and storage.s3.secret_access_key are required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}
