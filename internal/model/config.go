package model

import "fmt"

// Config is the ledger configuration loaded from config.yaml.
type Config struct {
	Project ProjectConfig `yaml:"project"`
	Ledger  LedgerConfig  `yaml:"ledger"`
	Counter CounterConfig `yaml:"counter"`
	Verify  VerifyConfig  `yaml:"verify"`
	Logging LoggingConfig `yaml:"logging"`
}

type ProjectConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

type LedgerConfig struct {
	Version          string `yaml:"version"`
	Created          string `yaml:"created"`
	MaxArtifactBytes int    `yaml:"max_artifact_bytes"`
}

type CounterConfig struct {
	MaxRetries int `yaml:"max_retries"`
}

type VerifyConfig struct {
	Disable []string `yaml:"disable,omitempty"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

func DefaultConfig() Config {
	return Config{
		Ledger: LedgerConfig{
			Version:          "1.0.0",
			MaxArtifactBytes: 4 * 1024 * 1024,
		},
		Counter: CounterConfig{MaxRetries: 5},
		Logging: LoggingConfig{Level: "info"},
	}
}

func (c *Config) Validate() error {
	if c.Counter.MaxRetries < 1 {
		return fmt.Errorf("counter.max_retries must be >= 1, got %d", c.Counter.MaxRetries)
	}
	if c.Ledger.MaxArtifactBytes < 0 {
		return fmt.Errorf("ledger.max_artifact_bytes must be >= 0, got %d", c.Ledger.MaxArtifactBytes)
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug|info|warn|error", c.Logging.Level)
	}
	return nil
}
