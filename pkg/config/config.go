// Package config provides configuration loading and management for kinenrich.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete kinenrich configuration
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Inference  InferenceConfig  `yaml:"inference"`
	Enrichment EnrichmentConfig `yaml:"enrichment"`
	Store      StoreConfig      `yaml:"store"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// DatabaseConfig locates the parameter store file
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// InferenceConfig configures the heuristic inference engine
type InferenceConfig struct {
	// UseBackgroundFetch enables the database-enhanced mode; false means heuristics only.
	UseBackgroundFetch bool `yaml:"use_background_fetch"`
	// UseCache enables reads from the per-session result cache.
	UseCache bool `yaml:"use_cache"`
	// Organism is the default target organism.
	Organism string `yaml:"organism"`
	// SessionCacheSize bounds the per-session result cache.
	SessionCacheSize int `yaml:"session_cache_size"`
	// PersistHeuristics writes heuristic results into the parameter store.
	PersistHeuristics bool `yaml:"persist_heuristics"`
}

// EnrichmentConfig configures the enrichment pipeline
type EnrichmentConfig struct {
	MinQualityScore      float64       `yaml:"min_quality_score"`
	Allow                []string      `yaml:"allow,omitempty"`
	Deny                 []string      `yaml:"deny,omitempty"`
	FetchTimeout         time.Duration `yaml:"fetch_timeout"`
	Workers              int           `yaml:"workers"`
	MaxConcurrentFetches int           `yaml:"max_concurrent_fetches"`
	// AnnotationURL is a printf template taking the EC number.
	AnnotationURL string `yaml:"annotation_url"`
}

// StoreConfig configures parameter store queries and retention
type StoreConfig struct {
	MinConfidence float64         `yaml:"min_confidence"`
	Retention     RetentionConfig `yaml:"retention"`
}

// RetentionConfig bounds how long and how many rows the store keeps. Zero disables a bound.
type RetentionConfig struct {
	MaxAge  time.Duration `yaml:"max_age"`
	MaxRows int           `yaml:"max_rows"`
}

// LoggingConfig selects the log encoder/level preset
type LoggingConfig struct {
	Mode string `yaml:"mode"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path: "kinenrich.db",
		},
		Inference: InferenceConfig{
			UseBackgroundFetch: false,
			UseCache:           true,
			Organism:           "Homo sapiens",
			SessionCacheSize:   512,
		},
		Enrichment: EnrichmentConfig{
			MinQualityScore:      0.5,
			FetchTimeout:         30 * time.Second,
			Workers:              2,
			MaxConcurrentFetches: 4,
			AnnotationURL:        "https://enzyme.expasy.org/EC/%s",
		},
		Store: StoreConfig{
			MinConfidence: 0,
		},
		Logging: LoggingConfig{
			Mode: "dev",
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Enrichment.MinQualityScore < 0 || c.Enrichment.MinQualityScore > 1 {
		return fmt.Errorf("enrichment.min_quality_score must be between 0 and 1")
	}
	if c.Store.MinConfidence < 0 || c.Store.MinConfidence > 1 {
		return fmt.Errorf("store.min_confidence must be between 0 and 1")
	}
	if c.Enrichment.FetchTimeout < 0 {
		return fmt.Errorf("enrichment.fetch_timeout must not be negative")
	}
	if c.Enrichment.Workers < 0 || c.Enrichment.MaxConcurrentFetches < 0 {
		return fmt.Errorf("enrichment worker counts must not be negative")
	}
	if c.Inference.SessionCacheSize < 0 {
		return fmt.Errorf("inference.session_cache_size must not be negative")
	}
	if c.Store.Retention.MaxAge < 0 || c.Store.Retention.MaxRows < 0 {
		return fmt.Errorf("store.retention bounds must not be negative")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
