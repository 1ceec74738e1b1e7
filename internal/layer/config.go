package layer

import (
	"fmt"
	"os"
	"time"

	yaml "github.com/goccy/go-yaml"
)

// Config mirrors the `layer` section of the YAML config.
type Config struct {
	MaxRefreshRate      float32 `yaml:"max_refresh_rate"`       // 60 (by default)
	PresentHistorySize  int     `yaml:"present_history_size"`   // 10
	RefreshHistorySize  int     `yaml:"refresh_history_size"`   // 30
	TimeEpsilonMS       int     `yaml:"time_epsilon_ms"`        // 100, larger gaps are stale
	ObsoleteEpsilonMS   int     `yaml:"obsolete_epsilon_ms"`    // 100, idle layers leave the summary
	LowActivityWindowMS int     `yaml:"low_activity_window_ms"` // 100
	LowActivityBuffers  int     `yaml:"low_activity_buffers"`   // 2
}

// DefaultConfig is used when no file is given.
func DefaultConfig() Config {
	return Config{
		MaxRefreshRate:      60,
		PresentHistorySize:  10,
		RefreshHistorySize:  30,
		TimeEpsilonMS:       100,
		ObsoleteEpsilonMS:   100,
		LowActivityWindowMS: 100,
		LowActivityBuffers:  2,
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
		return cfg, fmt.Errorf("layer config: %w", err)
	}
	doc := struct {
		Layer Config `yaml:"layer"`
	}{Layer: cfg}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return DefaultConfig(), fmt.Errorf("layer config %s: %w", path, err)
	}
	cfg = doc.Layer
	cfg.clamp()
	return cfg, nil
}

// sanity clamps
func (c *Config) clamp() {
	d := DefaultConfig()
	if c.MaxRefreshRate <= 0 {
		c.MaxRefreshRate = d.MaxRefreshRate
	}
	if c.PresentHistorySize <= 0 {
		c.PresentHistorySize = d.PresentHistorySize
	}
	if c.RefreshHistorySize <= 0 {
		c.RefreshHistorySize = d.RefreshHistorySize
	}
	if c.TimeEpsilonMS <= 0 {
		c.TimeEpsilonMS = d.TimeEpsilonMS
	}
	if c.ObsoleteEpsilonMS <= 0 {
		c.ObsoleteEpsilonMS = d.ObsoleteEpsilonMS
	}
	if c.LowActivityWindowMS <= 0 {
		c.LowActivityWindowMS = d.LowActivityWindowMS
	}
	if c.LowActivityBuffers <= 0 {
		c.LowActivityBuffers = d.LowActivityBuffers
	}
	if c.LowActivityBuffers > c.PresentHistorySize {
		c.LowActivityBuffers = c.PresentHistorySize
	}
}

func (c Config) timeEpsilon() int64 {
	return int64(time.Duration(c.TimeEpsilonMS) * time.Millisecond)
}

func (c Config) obsoleteEpsilon() int64 {
	return int64(time.Duration(c.ObsoleteEpsilonMS) * time.Millisecond)
}

func (c Config) lowActivityWindow() int64 {
	return int64(time.Duration(c.LowActivityWindowMS) * time.Millisecond)
}
