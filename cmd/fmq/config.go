// Copyright 2016 Aleksandr Demakin. All rights reserved.

package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/nxgtw/go-fmq/codec"
	"github.com/nxgtw/go-fmq/mq"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the configuration file of the fmq tool.
type Config struct {
	Queue            string        `yaml:"queue"`
	NSlots           int           `yaml:"nslots"`
	BufSize          ByteSize      `yaml:"buf_size"`
	Compression      codec.Method  `yaml:"compression"`
	CompressionLevel codec.Level   `yaml:"compression_level"`
	MinCompressSize  ByteSize      `yaml:"min_compress_size"`
	BlockingWrite    bool          `yaml:"blocking_write"`
	PollInterval     Duration      `yaml:"poll_interval"`
	MaxRetries       int           `yaml:"max_retries"`
	LockTimeout      Duration      `yaml:"lock_timeout"`
	OpenPosition     mq.Position   `yaml:"open_position"`
	Recovery         mq.Recovery   `yaml:"recovery"`
	Perm             string        `yaml:"perm"`
	LogLevel         string        `yaml:"log_level"`
	Monitor          MonitorConfig `yaml:"monitor"`
}

// MonitorConfig configures the metrics endpoint.
type MonitorConfig struct {
	Listen string `yaml:"listen"`
	Path   string `yaml:"path"`
	// Name is the value of the queue label. Queue's path is used by default.
	Name string `yaml:"name"`
}

// Duration is a time.Duration, which is written in yaml as a string like "200ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		*d = 0
		return nil
	}
	duration, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(duration)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// ByteSize is a number of bytes. In yaml it is either an integer,
// or a number with one of Ki, Mi, Gi suffixes.
type ByteSize int64

var byteSuffixes = []struct {
	name string
	mult int64
}{
	{"Gi", 1 << 30},
	{"Mi", 1 << 20},
	{"Ki", 1 << 10},
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	var n int64
	if err := value.Decode(&n); err == nil {
		*b = ByteSize(n)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseByteSize(s)
	if err != nil {
		return err
	}
	*b = ByteSize(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (b ByteSize) MarshalYAML() (interface{}, error) {
	return FormatByteSize(int64(b)), nil
}

// ParseByteSize parses sizes like "4096", "64Ki" or "1.5Mi".
func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	for _, sf := range byteSuffixes {
		if strings.HasSuffix(s, sf.name) {
			f, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(s, sf.name)), 64)
			if err != nil || f < 0 {
				return 0, errors.Errorf("invalid byte size: %q", s)
			}
			return int64(f * float64(sf.mult)), nil
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, errors.Errorf("invalid byte size: %q (use Ki, Mi or Gi suffixes)", s)
	}
	return n, nil
}

// FormatByteSize formats a size with the largest suffix, which divides it.
func FormatByteSize(b int64) string {
	for _, sf := range byteSuffixes {
		if b >= sf.mult && b%sf.mult == 0 {
			return fmt.Sprintf("%d%s", b/sf.mult, sf.name)
		}
	}
	return strconv.FormatInt(b, 10)
}

// LoadConfig loads configuration from a yaml file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config")
	}
	return ParseConfig(data)
}

// ParseConfig parses yaml configuration and applies defaults.
func ParseConfig(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config")
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// DefaultConfig returns the configuration used without a config file.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults sets default values of unspecified fields.
func (c *Config) ApplyDefaults() {
	if c.NSlots == 0 {
		c.NSlots = mq.DefaultNSlots
	}
	if c.BufSize == 0 {
		c.BufSize = mq.DefaultBufSize
	}
	if c.MinCompressSize == 0 {
		c.MinCompressSize = mq.DefaultMinCompressSize
	}
	if c.PollInterval == 0 {
		c.PollInterval = Duration(mq.DefaultPollInterval)
	}
	if c.LockTimeout == 0 {
		c.LockTimeout = Duration(mq.DefaultLockTimeout)
	}
	if c.Perm == "" {
		c.Perm = "0666"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Monitor.Listen == "" {
		c.Monitor.Listen = ":9187"
	}
	if c.Monitor.Path == "" {
		c.Monitor.Path = "/metrics"
	}
}

// Options converts the configuration into queue options.
func (c *Config) Options() (*mq.Options, error) {
	perm, err := strconv.ParseUint(c.Perm, 8, 32)
	if err != nil {
		return nil, errors.Errorf("invalid perm %q", c.Perm)
	}
	opts := mq.DefaultOptions()
	opts.NSlots = c.NSlots
	opts.BufSize = int64(c.BufSize)
	opts.Compression = c.Compression
	opts.CompressionLevel = c.CompressionLevel
	opts.MinCompressSize = int(c.MinCompressSize)
	opts.BlockingWrite = c.BlockingWrite
	opts.PollInterval = time.Duration(c.PollInterval)
	opts.MaxRetries = c.MaxRetries
	opts.LockTimeout = time.Duration(c.LockTimeout)
	opts.OpenPosition = c.OpenPosition
	opts.Recovery = c.Recovery
	opts.Perm = os.FileMode(perm)
	opts.Log.Level = c.LogLevel
	if err = opts.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid queue options")
	}
	return &opts, nil
}
