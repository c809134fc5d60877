/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultRegion is used when neither the environment nor a config file sets one.
const DefaultRegion = "ap-northeast-1"

// Storage backend selection.
type StorageBackend string

const (
	StorageS3     StorageBackend = "s3"
	StorageMinIO  StorageBackend = "minio"
	StorageMemory StorageBackend = "memory"
)

// Config covers process level configuration read from environment variables.
// It is built once at startup and passed to every component.
type Config struct {
	Environment string `yaml:"environment"`
	HTTPBind    string `yaml:"http_bind"`
	HTTPPort    int    `yaml:"http_port"`
	DataDir     string `yaml:"data_dir"` // Local root for upload sources and download destinations

	StorageBackend StorageBackend `yaml:"storage_backend"`

	// Object storage configuration
	Bucket           string        `yaml:"bucket"`
	Region           string        `yaml:"region"`
	RoleARN          string        `yaml:"role_arn"`     // Empty means the default credential chain
	SessionName      string        `yaml:"session_name"` // RoleSessionName for assumed roles
	SessionDuration  time.Duration `yaml:"session_duration"`
	Endpoint         string        `yaml:"endpoint"` // For S3-compatible services (MinIO, etc.)
	UsePathStyle     bool          `yaml:"use_path_style"`
	AccessKeyID      string        `yaml:"-"`
	SecretAccessKey  string        `yaml:"-"`
	CacheCredentials bool          `yaml:"cache_credentials"`

	// External image source
	ImageBaseURL string        `yaml:"image_base_url"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`

	// Tracing configuration
	TracingEnabled    bool    `yaml:"tracing_enabled"`
	OTLPEndpoint      string  `yaml:"otlp_endpoint"`
	TracingSampleRate float64 `yaml:"tracing_sample_rate"`
}

func defaults() *Config {
	return &Config{
		Environment:       "development",
		HTTPBind:          "0.0.0.0",
		HTTPPort:          8080,
		DataDir:           ".",
		StorageBackend:    StorageS3,
		Region:            DefaultRegion,
		SessionName:       "objgate",
		SessionDuration:   15 * time.Minute,
		CacheCredentials:  true,
		ImageBaseURL:      "https://picsum.photos",
		FetchTimeout:      30 * time.Second,
		OTLPEndpoint:      "localhost:4317",
		TracingSampleRate: 1.0,
	}
}

// Load reads an optional YAML file named by OBJGATE_CONFIG_FILE, overlays
// environment variables, and validates the result.
func Load() (*Config, error) {
	base := defaults()
	if path := os.Getenv("OBJGATE_CONFIG_FILE"); path != "" {
		if err := readFile(path, base); err != nil {
			return nil, err
		}
	}

	cfg := &Config{
		Environment: getEnvAny([]string{"OBJGATE_ENV"}, base.Environment),
		HTTPBind:    getEnvAny([]string{"OBJGATE_HTTP_BIND", "HTTP_HOST"}, base.HTTPBind),
		HTTPPort:    getEnvIntAny([]string{"OBJGATE_HTTP_PORT", "HTTP_PORT"}, base.HTTPPort),
		DataDir:     getEnvAny([]string{"OBJGATE_DATA_DIR"}, base.DataDir),

		StorageBackend: StorageBackend(strings.ToLower(getEnvAny([]string{"OBJGATE_STORAGE_BACKEND"}, string(base.StorageBackend)))),

		Bucket:           getEnvAny([]string{"OBJGATE_BUCKET", "AWS_S3_BUCKET_NAME"}, base.Bucket),
		Region:           getEnvAny([]string{"OBJGATE_REGION", "AWS_REGION", "AWS_DEFAULT_REGION"}, base.Region),
		RoleARN:          getEnvAny([]string{"OBJGATE_ROLE_ARN", "AWS_ROLE_ARN"}, base.RoleARN),
		SessionName:      getEnvAny([]string{"OBJGATE_SESSION_NAME", "AWS_ROLE_SESSION_NAME"}, base.SessionName),
		SessionDuration:  getEnvDurationAny([]string{"OBJGATE_SESSION_DURATION"}, base.SessionDuration),
		Endpoint:         getEnvAny([]string{"OBJGATE_S3_ENDPOINT", "S3_ENDPOINT"}, base.Endpoint),
		UsePathStyle:     getEnvBoolAny([]string{"OBJGATE_S3_USE_PATH_STYLE", "S3_USE_PATH_STYLE"}, base.UsePathStyle),
		AccessKeyID:      getEnvAny([]string{"OBJGATE_ACCESS_KEY_ID"}, ""),
		SecretAccessKey:  getEnvAny([]string{"OBJGATE_SECRET_ACCESS_KEY"}, ""),
		CacheCredentials: getEnvBoolAny([]string{"OBJGATE_CACHE_CREDENTIALS"}, base.CacheCredentials),

		ImageBaseURL: getEnvAny([]string{"OBJGATE_IMAGE_BASE_URL"}, base.ImageBaseURL),
		FetchTimeout: getEnvDurationAny([]string{"OBJGATE_FETCH_TIMEOUT"}, base.FetchTimeout),

		TracingEnabled:    getEnvBoolAny([]string{"OBJGATE_TRACING_ENABLED"}, base.TracingEnabled),
		OTLPEndpoint:      getEnvAny([]string{"OBJGATE_OTLP_ENDPOINT"}, base.OTLPEndpoint),
		TracingSampleRate: getEnvFloatAny([]string{"OBJGATE_TRACING_SAMPLE_RATE"}, base.TracingSampleRate),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the combination of settings.
func (c *Config) Validate() error {
	switch c.StorageBackend {
	case StorageS3, StorageMinIO, StorageMemory:
	default:
		return fmt.Errorf("unsupported storage backend %q", c.StorageBackend)
	}

	if c.Bucket == "" && c.StorageBackend != StorageMemory {
		return fmt.Errorf("OBJGATE_BUCKET or AWS_S3_BUCKET_NAME must be provided")
	}

	if c.StorageBackend == StorageMinIO && c.Endpoint == "" {
		return fmt.Errorf("OBJGATE_S3_ENDPOINT must be provided for the minio backend")
	}

	if (c.AccessKeyID == "") != (c.SecretAccessKey == "") {
		return fmt.Errorf("OBJGATE_ACCESS_KEY_ID and OBJGATE_SECRET_ACCESS_KEY must be set together")
	}

	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http port %d", c.HTTPPort)
	}
	return nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTPBind, c.HTTPPort)
}

func readFile(path string, into *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, into); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvDurationAny accepts Go durations ("90s") or plain seconds.
func getEnvDurationAny(keys []string, def time.Duration) time.Duration {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := time.ParseDuration(v); err == nil {
				return parsed
			}
			if secs, err := strconv.Atoi(v); err == nil {
				return time.Duration(secs) * time.Second
			}
		}
	}
	return def
}
