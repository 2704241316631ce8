// Package config loads and validates the TOML service configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"gridflow/internal/etl"
)

type Config struct {
	Server    ServerConfig              `toml:"server"`
	Storage   StorageConfig             `toml:"storage"`
	Queue     QueueConfig               `toml:"queue"`
	Worker    WorkerConfig              `toml:"worker"`
	Pipelines map[string]PipelineConfig `toml:"pipelines"`
	Sources   map[string]SourceConfig   `toml:"sources"`
}

type ServerConfig struct {
	Port string `toml:"port"`
}

type StorageConfig struct {
	Type string `toml:"type"`
	Path string `toml:"path"`
}

type QueueConfig struct {
	Type      string `toml:"type"` // redis | memory
	Addr      string `toml:"addr"`
	StatusTTL string `toml:"status_ttl"`
}

type WorkerConfig struct {
	Count int `toml:"count"`
}

type PipelineConfig struct {
	BatchSize     int                 `toml:"batch_size"`
	Parallelism   int                 `toml:"parallelism"`
	Retry         RetryConfig         `toml:"retry"`
	ErrorHandling ErrorHandlingConfig `toml:"error_handling"`
	Dedup         DedupConfig         `toml:"dedup"`
}

type RetryConfig struct {
	MaxRetries        int     `toml:"max_retries"`
	BackoffMultiplier float64 `toml:"backoff_multiplier"`
	InitialDelay      string  `toml:"initial_delay"`
	MaxDelay          string  `toml:"max_delay"`
}

type ErrorHandlingConfig struct {
	OnValidationError string `toml:"on_validation_error"`
	OnTransformError  string `toml:"on_transform_error"`
	QuarantineTable   string `toml:"quarantine_table"`
}

type DedupConfig struct {
	Strategy  string   `toml:"strategy"`
	KeyFields []string `toml:"key_fields"`
	Action    string   `toml:"action"`
}

type SourceConfig struct {
	Name            string            `toml:"name"`
	Type            string            `toml:"type"`
	Priority        int               `toml:"priority"`
	Required        bool              `toml:"required"`
	Endpoint        string            `toml:"endpoint"`
	Path            string            `toml:"path"`
	Selector        string            `toml:"selector"`
	Headers         map[string]string `toml:"headers"`
	Query           map[string]string `toml:"query"`
	UpdateFrequency string            `toml:"update_frequency"`
	Description     string            `toml:"description"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func validateConfig(config *Config) error {
	if config.Server.Port == "" {
		config.Server.Port = "8080"
	}

	if config.Storage.Type == "" {
		config.Storage.Type = "sqlite"
	}
	if config.Storage.Path == "" {
		config.Storage.Path = "./gridflow.db"
	}

	if config.Queue.Type == "" {
		config.Queue.Type = "memory"
	}
	switch config.Queue.Type {
	case "redis":
		if config.Queue.Addr == "" {
			config.Queue.Addr = "localhost:6379"
		}
	case "memory":
	default:
		return fmt.Errorf("unsupported queue type: %s", config.Queue.Type)
	}
	if config.Queue.StatusTTL == "" {
		config.Queue.StatusTTL = "24h"
	}
	if _, err := time.ParseDuration(config.Queue.StatusTTL); err != nil {
		return fmt.Errorf("invalid status_ttl: %w", err)
	}

	if config.Worker.Count <= 0 {
		config.Worker.Count = 2
	}

	if len(config.Pipelines) == 0 {
		return fmt.Errorf("at least one pipeline must be configured")
	}
	for name, p := range config.Pipelines {
		if err := validatePipeline(name, &p); err != nil {
			return err
		}
		config.Pipelines[name] = p
	}

	for id, src := range config.Sources {
		switch etl.SourceType(src.Type) {
		case etl.SourceAPI, etl.SourceFile, etl.SourceScraper:
		default:
			return fmt.Errorf("source %s: unsupported type %q", id, src.Type)
		}
	}

	return nil
}

func validatePipeline(name string, p *PipelineConfig) error {
	if p.BatchSize <= 0 {
		p.BatchSize = 50
	}
	if p.Parallelism <= 0 {
		p.Parallelism = 3
	}

	if p.Retry.MaxRetries <= 0 {
		p.Retry.MaxRetries = 3
	}
	if p.Retry.BackoffMultiplier <= 0 {
		p.Retry.BackoffMultiplier = 2.0
	}
	if p.Retry.InitialDelay == "" {
		p.Retry.InitialDelay = "1s"
	}
	if p.Retry.MaxDelay == "" {
		p.Retry.MaxDelay = "30s"
	}
	if _, err := time.ParseDuration(p.Retry.InitialDelay); err != nil {
		return fmt.Errorf("pipeline %s: invalid initial_delay: %w", name, err)
	}
	if _, err := time.ParseDuration(p.Retry.MaxDelay); err != nil {
		return fmt.Errorf("pipeline %s: invalid max_delay: %w", name, err)
	}

	switch p.ErrorHandling.OnValidationError {
	case "":
		p.ErrorHandling.OnValidationError = etl.OnErrorQuarantine
	case etl.OnErrorQuarantine, etl.OnErrorSkip, etl.OnErrorFail:
	default:
		return fmt.Errorf("pipeline %s: invalid on_validation_error %q", name, p.ErrorHandling.OnValidationError)
	}
	switch p.ErrorHandling.OnTransformError {
	case "":
		p.ErrorHandling.OnTransformError = etl.OnErrorSkip
	case etl.OnErrorSkip, etl.OnErrorFail:
	default:
		return fmt.Errorf("pipeline %s: invalid on_transform_error %q", name, p.ErrorHandling.OnTransformError)
	}

	switch etl.DedupStrategy(p.Dedup.Strategy) {
	case "":
		p.Dedup.Strategy = string(etl.DedupKey)
	case etl.DedupHash, etl.DedupKey, etl.DedupSimilarity:
	default:
		return fmt.Errorf("pipeline %s: invalid dedup strategy %q", name, p.Dedup.Strategy)
	}
	switch etl.DedupAction(p.Dedup.Action) {
	case "":
		p.Dedup.Action = string(etl.ActionMerge)
	case etl.ActionSkip, etl.ActionMerge, etl.ActionReplace:
	default:
		return fmt.Errorf("pipeline %s: invalid dedup action %q", name, p.Dedup.Action)
	}

	return nil
}

// StatusTTL returns the parsed status retention window.
func (c *Config) StatusTTL() time.Duration {
	d, _ := time.ParseDuration(c.Queue.StatusTTL)
	return d
}

// BuildPipeline converts a validated pipeline section into the runtime
// config. The transformation set is supplied by the caller since it carries
// function values that do not live in TOML.
func (p PipelineConfig) BuildPipeline(name string, transformations map[etl.SourceType]etl.TransformationRule) etl.PipelineConfig {
	initial, _ := time.ParseDuration(p.Retry.InitialDelay)
	maxDelay, _ := time.ParseDuration(p.Retry.MaxDelay)

	return etl.PipelineConfig{
		Name:            name,
		Transformations: transformations,
		BatchSize:       p.BatchSize,
		Parallelism:     p.Parallelism,
		Retry: etl.RetryPolicy{
			MaxRetries:        p.Retry.MaxRetries,
			BackoffMultiplier: p.Retry.BackoffMultiplier,
			InitialDelay:      initial,
			MaxDelay:          maxDelay,
		},
		ErrorHandling: etl.ErrorHandling{
			OnValidationError: p.ErrorHandling.OnValidationError,
			OnTransformError:  p.ErrorHandling.OnTransformError,
			QuarantineTable:   p.ErrorHandling.QuarantineTable,
		},
		Dedup: etl.DuplicateDetectionConfig{
			Strategy:  etl.DedupStrategy(p.Dedup.Strategy),
			KeyFields: p.Dedup.KeyFields,
			Action:    etl.DedupAction(p.Dedup.Action),
		},
	}
}

// BuildSource converts a source section into its runtime description.
func (s SourceConfig) BuildSource(id string) etl.DataSource {
	return etl.DataSource{
		ID:              id,
		Name:            s.Name,
		Type:            etl.SourceType(s.Type),
		Priority:        s.Priority,
		Required:        s.Required,
		Endpoint:        s.Endpoint,
		Headers:         s.Headers,
		Query:           s.Query,
		Path:            s.Path,
		Selector:        s.Selector,
		UpdateFrequency: s.UpdateFrequency,
		Description:     s.Description,
	}
}
