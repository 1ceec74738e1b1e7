// internal/vsync/config.go

package vsync

import (
	"fmt"
	"os"
	"time"

	yaml "github.com/goccy/go-yaml"
	"github.com/rs/zerolog"
)

// Config mirrors the `vsync` section of the YAML config.
type Config struct {
	ThreadName          string `yaml:"thread_name"`            // "VSyncThread" (by default)
	SoftwarePeriodMS    int    `yaml:"software_period_ms"`     // 16
	ResyncRateLimitMS   int    `yaml:"resync_rate_limit_ms"`   // 500
	WriteWarnIntervalMS int    `yaml:"write_warn_interval_ms"` // 1000
	CoalesceVsync       bool   `yaml:"coalesce_vsync"`         // true
	ChannelBufferSize   int    `yaml:"channel_buffer_size"`    // 16384
	LogLevel            string `yaml:"log_level"`              // info
}

// DefaultConfig is used when no file is given.
func DefaultConfig() Config {
	return Config{
		ThreadName:          "VSyncThread",
		SoftwarePeriodMS:    16,
		ResyncRateLimitMS:   500,
		WriteWarnIntervalMS: 1000,
		CoalesceVsync:       true,
		ChannelBufferSize:   16 * 1024,
		LogLevel:            "info",
	}
}

// Load reads YAML and overrides defaults; empty path or a bad file = defaults only.
func Load(path string) Config {
	cfg, err := LoadFile(path)
	if err != nil {
		return DefaultConfig()
	}
	return cfg
}

// LoadFile is Load, but reports unreadable or malformed files.
func LoadFile(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("vsync config: %w", err)
	}
	doc := struct {
		Vsync Config `yaml:"vsync"`
	}{Vsync: cfg}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return DefaultConfig(), fmt.Errorf("vsync config %s: %w", path, err)
	}
	cfg = doc.Vsync
	cfg.clamp()
	return cfg, nil
}

// sanity clamps
func (c *Config) clamp() {
	d := DefaultConfig()
	if c.ThreadName == "" {
		c.ThreadName = d.ThreadName
	}
	if c.SoftwarePeriodMS <= 0 {
		c.SoftwarePeriodMS = d.SoftwarePeriodMS
	}
	if c.ResyncRateLimitMS <= 0 {
		c.ResyncRateLimitMS = d.ResyncRateLimitMS
	}
	if c.WriteWarnIntervalMS <= 0 {
		c.WriteWarnIntervalMS = d.WriteWarnIntervalMS
	}
	if c.ChannelBufferSize <= 0 {
		c.ChannelBufferSize = d.ChannelBufferSize
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil || c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
}

// SoftwarePeriod is the tick period of the software fallback source.
func (c Config) SoftwarePeriod() time.Duration {
	return time.Duration(c.SoftwarePeriodMS) * time.Millisecond
}

// Level parses LogLevel, falling back to info.
func (c Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}
