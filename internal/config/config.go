// Package config provides YAML-based configuration for the EcoWatch backend.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// AppConfig is the root configuration structure.
type AppConfig struct {
	Server     ServerConfig     `yaml:"server"`
	Services   ServicesConfig   `yaml:"services"`
	Storage    StorageConfig    `yaml:"storage"`
	Batch      BatchConfig      `yaml:"batch"`
	Enrichment EnrichmentConfig `yaml:"enrichment"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port         int    `yaml:"port"`
	BindAddress  string `yaml:"bindAddress"`
	EnableCORS   bool   `yaml:"enableCors"`
	AllowOrigins string `yaml:"allowOrigins"`
	ReadTimeout  int    `yaml:"readTimeoutSeconds"`
	WriteTimeout int    `yaml:"writeTimeoutSeconds"`
	IdleTimeout  int    `yaml:"idleTimeoutSeconds"`
	BodyLimit    string `yaml:"bodyLimit"`
}

// ServicesConfig contains the base URLs of the remote services.
type ServicesConfig struct {
	DetectionURL      string `yaml:"detectionUrl"`
	EnrichmentURL     string `yaml:"enrichmentUrl"`
	RequestTimeoutSec int    `yaml:"requestTimeoutSeconds"`
}

// StorageConfig contains upload storage settings.
type StorageConfig struct {
	UploadDirectory string `yaml:"uploadDirectory"`
}

// BatchConfig contains batch pipeline settings.
type BatchConfig struct {
	MaxItems          int      `yaml:"maxItems"`
	AcceptedTypes     []string `yaml:"acceptedTypes"`
	PostProcessTickMs int      `yaml:"postProcessTickMs"`
}

// EnrichmentConfig tunes the satellite lookup.
type EnrichmentConfig struct {
	CacheSize    int     `yaml:"cacheSize"`
	BBoxDelta    float64 `yaml:"bboxDelta"`
	LookbackDays int     `yaml:"lookbackDays"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:         8090,
			BindAddress:  "0.0.0.0",
			EnableCORS:   true,
			AllowOrigins: "*",
			ReadTimeout:  30,
			WriteTimeout: 60,
			IdleTimeout:  120,
			BodyLimit:    "64M",
		},
		Services: ServicesConfig{
			DetectionURL:      "http://localhost:9000",
			EnrichmentURL:     "http://localhost:9001",
			RequestTimeoutSec: 60,
		},
		Storage: StorageConfig{
			UploadDirectory: "./data/uploads",
		},
		Batch: BatchConfig{
			MaxItems:          10,
			AcceptedTypes:     []string{"image/jpeg", "image/png", "image/webp"},
			PostProcessTickMs: 200,
		},
		Enrichment: EnrichmentConfig{
			CacheSize:    20,
			BBoxDelta:    0.01,
			LookbackDays: 30,
		},
	}
}

// LoadConfig loads configuration from a YAML file, creating it with
// defaults on first run.
func LoadConfig(configPath string) (*AppConfig, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := cfg.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		cfg.applyEnvironmentOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvironmentOverrides()
	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *AppConfig) Save(configPath string) error {
	out, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if dir := filepath.Dir(configPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	if err := os.WriteFile(configPath, out, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// applyEnvironmentOverrides allows environment variables to override config values.
func (c *AppConfig) applyEnvironmentOverrides() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}
	if url := os.Getenv("ECOWATCH_DETECT_URL"); url != "" {
		c.Services.DetectionURL = url
	}
	if url := os.Getenv("ECOWATCH_ENRICH_URL"); url != "" {
		c.Services.EnrichmentURL = url
	}
	if dir := os.Getenv("DATA_DIR"); dir != "" {
		c.Storage.UploadDirectory = filepath.Join(dir, "uploads")
	}
}

// GetServerAddr returns the listen address in host:port form.
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// EnsureDirectories creates the upload directory if missing.
func (c *AppConfig) EnsureDirectories() error {
	return os.MkdirAll(c.Storage.UploadDirectory, 0755)
}
