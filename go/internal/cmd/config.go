package main

import (
	"fmt"
	"os"

	"github.com/quizbuzz/quizbuzz/go/internal/game/coordinator"
	"gopkg.in/yaml.v3"
)

// Config is the optional YAML config. Anything unset falls back to the
// defaults, so the server runs without a config file at all.
type Config struct {
	Game coordinator.Policy `yaml:"game"`
	NATS struct {
		URL      string `yaml:"url"`
		Disabled bool   `yaml:"disabled"`
	} `yaml:"nats"`
	Outbox struct {
		FallbackIntervalSeconds int `yaml:"fallback_interval_seconds"`
		BatchSize               int `yaml:"batch_size"`
	} `yaml:"outbox"`
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func loadConfig(path string) (*Config, error) {
	var config Config
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &config, nil
}
