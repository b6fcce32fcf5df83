// Package config loads glimpse configuration from a YAML file, filling in
// defaults for anything unset.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration accepts Go duration strings ("30m", "1h") in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full file layout of glimpse.yaml.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Model   ModelConfig   `yaml:"model"`
	Budget  BudgetConfig  `yaml:"budget"`
	Cache   CacheConfig   `yaml:"cache"`
	Capture CaptureConfig `yaml:"capture"`
	History HistoryConfig `yaml:"history"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type ModelConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	Name string `yaml:"name"`
}

type BudgetConfig struct {
	DailyBudget     float64  `yaml:"daily_budget"`
	CostPerAnalysis float64  `yaml:"cost_per_analysis"`
	ThrottleEvery   int      `yaml:"throttle_every"`
	LedgerPath      string   `yaml:"ledger_path"`
	Retention       Duration `yaml:"retention"`
}

type CacheConfig struct {
	Capacity            int      `yaml:"capacity"`
	TTL                 Duration `yaml:"ttl"`
	SimilarityThreshold int      `yaml:"similarity_threshold"`
	SnapshotPath        string   `yaml:"snapshot_path"`
}

type CaptureConfig struct {
	Display string `yaml:"display"`
}

type HistoryConfig struct {
	DSN        string `yaml:"dsn"`
	EmbedModel string `yaml:"embed_model"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Log:   LogConfig{Level: "info"},
		Model: ModelConfig{Host: "http://localhost", Port: 11434, Name: "llama3.2-vision:11b"},
		Budget: BudgetConfig{
			DailyBudget:     5.0,
			CostPerAnalysis: 0.01,
			ThrottleEvery:   5,
			LedgerPath:      "glimpse-usage.db",
			Retention:       Duration(90 * 24 * time.Hour),
		},
		Cache: CacheConfig{
			Capacity:            1000,
			TTL:                 Duration(time.Hour),
			SimilarityThreshold: 5,
			SnapshotPath:        "glimpse-cache.json",
		},
		Capture: CaptureConfig{Display: "0"},
		History: HistoryConfig{EmbedModel: "nomic-embed-text"},
	}
}

// Load reads path if it exists, layering it over the defaults. A missing
// file is not an error; a malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
