// Package config holds all constella configuration: server binding, the
// database path, the embedding provider, and the resonance/graph tunables.
// Everything here is an externally supplied knob — nothing in config is
// engine logic.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds all constella configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Resonance ResonanceConfig `yaml:"resonance"`
	Graph     GraphConfig     `yaml:"graph"`
}

type ServerConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type EmbeddingConfig struct {
	OllamaURL  string `yaml:"ollama_url"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
}

type ResonanceConfig struct {
	LookbackDays        int     `yaml:"lookback_days"`
	TauDays             float64 `yaml:"tau_days"`
	ThresholdPercentile float64 `yaml:"threshold_percentile"`
	MinThreshold        float64 `yaml:"min_threshold"`
	MaxSymbols          int     `yaml:"max_symbols"`
	MaxOverlapSymbols   int     `yaml:"max_overlap_symbols"`
	CacheHours          int     `yaml:"cache_hours"`
	InvalidateHours     int     `yaml:"invalidate_hours"`
}

type GraphConfig struct {
	TopK          int     `yaml:"top_k"`
	EdgeThreshold float64 `yaml:"edge_threshold"`
	TauDays       float64 `yaml:"tau_days"`
	WindowDays    int     `yaml:"window_days"`
	MaxNodes      int     `yaml:"max_nodes"`
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind: "127.0.0.1",
			Port: 37781,
		},
		Database: DatabaseConfig{
			Path: "", // resolved at runtime via store.DefaultDBPath()
		},
		Embedding: EmbeddingConfig{
			OllamaURL:  "http://localhost:11434",
			Model:      "nomic-embed-text",
			Dimensions: 768,
		},
		Resonance: ResonanceConfig{
			LookbackDays:        14,
			TauDays:             21,
			ThresholdPercentile: 0.90,
			MinThreshold:        0.5,
			MaxSymbols:          12,
			MaxOverlapSymbols:   5,
			CacheHours:          24,
			InvalidateHours:     48,
		},
		Graph: GraphConfig{
			TopK:          5,
			EdgeThreshold: 0.65,
			TauDays:       21,
			WindowDays:    90,
			MaxNodes:      200,
		},
	}
}

// Load reads a YAML config file over the defaults and applies env
// overrides. A missing file is fine — defaults plus env apply.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv applies CONSTELLA_* environment overrides.
func (c *Config) applyEnv() {
	if v := os.Getenv("CONSTELLA_DB"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("CONSTELLA_OLLAMA_URL"); v != "" {
		c.Embedding.OllamaURL = v
	}
	if v := os.Getenv("CONSTELLA_EMBEDDING_MODEL"); v != "" {
		c.Embedding.Model = v
	}
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}
