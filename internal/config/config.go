// Package config loads the YAML configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// LogToStderr as logging.file sends logs to standard error
const LogToStderr = "-"

// Transports
const (
	TransportSSH  = "ssh"
	TransportNATS = "nats"
)

type Config struct {
	Gerrit    GerritConfig   `yaml:"gerrit"`
	Transport string         `yaml:"transport"` // ssh, nats
	NATS      NATSConfig     `yaml:"nats"`
	Registry  RegistryConfig `yaml:"registry"`
	Stream    StreamConfig   `yaml:"stream"`
	UI        UIConfig       `yaml:"ui"`
	Filter    FilterConfig   `yaml:"filter"`
	Logging   LoggingConfig  `yaml:"logging"`
}

type GerritConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Username   string `yaml:"username"`
	KeyFile    string `yaml:"key_file"`
	KnownHosts string `yaml:"known_hosts"` // Optional: host keys are not verified when empty
}

type NATSConfig struct {
	URL           string        `yaml:"url"`
	Subject       string        `yaml:"subject"`
	QuerySubject  string        `yaml:"query_subject"`
	MaxReconnect  int           `yaml:"max_reconnect"`
	ReconnectWait time.Duration `yaml:"reconnect_wait"`
}

type RegistryConfig struct {
	Capacity int `yaml:"capacity"`
}

type StreamConfig struct {
	Prefetch int           `yaml:"prefetch"`
	Attempts int           `yaml:"attempts"`
	Cooldown time.Duration `yaml:"cooldown"`
}

type UIConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

// FilterConfig selects which events reach the registry
type FilterConfig struct {
	Enabled bool         `yaml:"enabled"`
	Script  string       `yaml:"script"`
	Rules   []FilterRule `yaml:"rules"`
}

// FilterRule matches events by project glob
type FilterRule struct {
	Project string `yaml:"project"`
	Exclude bool   `yaml:"exclude"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"` // "-" for stderr, which the table redraws over
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Default returns a configuration with every default filled in
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.setDefaults()
	return &config, nil
}

func (c *Config) setDefaults() {
	if c.Transport == "" {
		c.Transport = TransportSSH
	}
	if c.Gerrit.Port == 0 {
		c.Gerrit.Port = 29418
	}
	if c.Gerrit.Username == "" {
		c.Gerrit.Username = os.Getenv("USER")
	}
	if c.Gerrit.KeyFile == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.Gerrit.KeyFile = home + "/.ssh/id_rsa"
		}
	}
	if c.NATS.Subject == "" {
		c.NATS.Subject = "gerrit.events"
	}
	if c.NATS.QuerySubject == "" {
		c.NATS.QuerySubject = "gerrit.query"
	}
	if c.NATS.ReconnectWait == 0 {
		c.NATS.ReconnectWait = 2 * time.Second
	}
	if c.Registry.Capacity == 0 {
		c.Registry.Capacity = 50
	}
	if c.Stream.Prefetch == 0 {
		c.Stream.Prefetch = 50
	}
	if c.Stream.Attempts == 0 {
		c.Stream.Attempts = 5
	}
	if c.Stream.Cooldown == 0 {
		c.Stream.Cooldown = 30 * time.Second
	}
	if c.UI.PollInterval == 0 {
		c.UI.PollInterval = time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.File == "" {
		c.Logging.File = filepath.Join(os.TempDir(), "gerrit-watch.log")
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 10
	}
}

// Validate reports settings that cannot work
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportSSH:
		if c.Gerrit.Host == "" {
			return fmt.Errorf("gerrit.host is required for the ssh transport")
		}
	case TransportNATS:
		if c.NATS.URL == "" {
			return fmt.Errorf("nats.url is required for the nats transport")
		}
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	if c.Registry.Capacity < 0 {
		return fmt.Errorf("registry.capacity must be positive, got %d", c.Registry.Capacity)
	}
	if c.Stream.Prefetch < 0 {
		return fmt.Errorf("stream.prefetch must be positive, got %d", c.Stream.Prefetch)
	}
	if c.Stream.Attempts < 0 {
		return fmt.Errorf("stream.attempts must be positive, got %d", c.Stream.Attempts)
	}
	if c.Filter.Script != "" && len(c.Filter.Rules) > 0 {
		return fmt.Errorf("cannot specify both filter 'script' and 'rules'")
	}
	return nil
}
