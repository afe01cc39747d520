// Package config loads the iuupd daemon configuration.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the complete daemon configuration
type Config struct {
	Listen     ListenConfig  `yaml:"listen"`
	Decoder    DecoderConfig `yaml:"decoder"`
	Dictionary string        `yaml:"dictionary"`
	StorageDir string        `yaml:"storageDir"`
	Logs       LogConfig     `yaml:"logs"`
	Metrics    MetricsConfig `yaml:"metrics"`
}

// ListenConfig contains the UDP and HTTP listener addresses
type ListenConfig struct {
	UDP        string `yaml:"udp"`
	HTTP       string `yaml:"http"`
	BufferSize int    `yaml:"bufferSize"`
}

// DecoderConfig mirrors iuup.Options plus the framing of live datagrams
type DecoderConfig struct {
	PseudoHeader   bool `yaml:"pseudoHeader"`
	DecodeSubflows bool `yaml:"decodeSubflows"`
	Heuristic      bool `yaml:"heuristic"`
	RTP            bool `yaml:"rtp"`
}

type LogConfig struct {
	Directory  string `yaml:"directory"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	MaxBackups int    `yaml:"maxBackups"`
	Compress   bool   `yaml:"compress"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	var cfg Config
	cfg.Decoder.DecodeSubflows = true
	cfg.Metrics.Enabled = true
	cfg.applyDefaults("")
	return cfg
}

// Load reads, completes and validates the configuration file at path.
// Relative paths inside the file resolve against its directory.
func Load(path string) (Config, error) {
	cfg := Config{
		Decoder: DecoderConfig{DecodeSubflows: true},
		Metrics: MetricsConfig{Enabled: true},
	}
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults(baseDir string) {
	resolvePath := func(p string) string {
		p = strings.TrimSpace(p)
		if p == "" || baseDir == "" {
			return p
		}
		if filepath.IsAbs(p) {
			return filepath.Clean(p)
		}
		candidate := filepath.Clean(filepath.Join(baseDir, p))
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		return filepath.Clean(p)
	}
	if c.Listen.HTTP == "" {
		c.Listen.HTTP = ":8080"
	}
	if c.Listen.BufferSize == 0 {
		c.Listen.BufferSize = 64 * 1024
	}
	if c.StorageDir == "" {
		c.StorageDir = filepath.Join(".", "data")
	}
	// "amr" names the built-in dictionary, not a file.
	if c.Dictionary != "amr" {
		c.Dictionary = resolvePath(c.Dictionary)
	}
	if c.Logs.Directory == "" {
		c.Logs.Directory = filepath.Join(c.StorageDir, "logs")
	}
	if c.Logs.MaxSizeMB <= 0 {
		c.Logs.MaxSizeMB = 25
	}
	if c.Logs.MaxAgeDays <= 0 {
		c.Logs.MaxAgeDays = 7
	}
	if c.Logs.MaxBackups <= 0 {
		c.Logs.MaxBackups = 5
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks every section
func (c *Config) Validate() error {
	if err := c.Listen.Validate(); err != nil {
		return fmt.Errorf("listen config: %w", err)
	}
	if err := c.Decoder.Validate(); err != nil {
		return fmt.Errorf("decoder config: %w", err)
	}
	if err := c.Logs.Validate(); err != nil {
		return fmt.Errorf("logs config: %w", err)
	}
	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}
	return nil
}

func (l *ListenConfig) Validate() error {
	if l.UDP != "" {
		if _, err := net.ResolveUDPAddr("udp", l.UDP); err != nil {
			return fmt.Errorf("udp address %q: %w", l.UDP, err)
		}
	}
	if _, _, err := net.SplitHostPort(l.HTTP); err != nil {
		return fmt.Errorf("http address %q: %w", l.HTTP, err)
	}
	if l.BufferSize < 1024 {
		return fmt.Errorf("bufferSize must be at least 1024 bytes, got %d", l.BufferSize)
	}
	return nil
}

func (d *DecoderConfig) Validate() error {
	if d.PseudoHeader && d.RTP {
		return errors.New("pseudoHeader and rtp framing are mutually exclusive")
	}
	return nil
}

func (l *LogConfig) Validate() error {
	if strings.TrimSpace(l.Directory) == "" {
		return errors.New("directory cannot be empty")
	}
	return nil
}

func (m *MetricsConfig) Validate() error {
	if m.Enabled && !strings.HasPrefix(m.Path, "/") {
		return fmt.Errorf("path must start with '/', got %q", m.Path)
	}
	return nil
}
