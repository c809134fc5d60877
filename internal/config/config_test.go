package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// clearEnv blanks every key Load consults so ambient CI variables do not leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"OBJGATE_CONFIG_FILE", "OBJGATE_ENV", "OBJGATE_HTTP_BIND", "HTTP_HOST", "OBJGATE_HTTP_PORT", "HTTP_PORT",
		"OBJGATE_DATA_DIR", "OBJGATE_STORAGE_BACKEND", "OBJGATE_BUCKET", "AWS_S3_BUCKET_NAME",
		"OBJGATE_REGION", "AWS_REGION", "AWS_DEFAULT_REGION", "OBJGATE_ROLE_ARN", "AWS_ROLE_ARN",
		"OBJGATE_SESSION_NAME", "AWS_ROLE_SESSION_NAME", "OBJGATE_SESSION_DURATION",
		"OBJGATE_S3_ENDPOINT", "S3_ENDPOINT", "OBJGATE_S3_USE_PATH_STYLE", "S3_USE_PATH_STYLE",
		"OBJGATE_ACCESS_KEY_ID", "OBJGATE_SECRET_ACCESS_KEY", "OBJGATE_CACHE_CREDENTIALS",
		"OBJGATE_IMAGE_BASE_URL", "OBJGATE_FETCH_TIMEOUT",
		"OBJGATE_TRACING_ENABLED", "OBJGATE_OTLP_ENDPOINT", "OBJGATE_TRACING_SAMPLE_RATE",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadReadsLegacyEnvKeys(t *testing.T) {
	clearEnv(t)
	t.Setenv("HTTP_HOST", "127.0.0.1")
	t.Setenv("HTTP_PORT", "3000")
	t.Setenv("AWS_S3_BUCKET_NAME", "images")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Addr() != "127.0.0.1:3000" {
		t.Fatalf("unexpected addr: %q", cfg.Addr())
	}
	if cfg.Bucket != "images" {
		t.Fatalf("unexpected bucket: %q", cfg.Bucket)
	}
	if cfg.Region != DefaultRegion {
		t.Fatalf("unexpected region: %q", cfg.Region)
	}
	if cfg.StorageBackend != StorageS3 {
		t.Fatalf("unexpected backend: %q", cfg.StorageBackend)
	}
}

func TestLoadPrefersObjgateKeys(t *testing.T) {
	clearEnv(t)
	t.Setenv("AWS_S3_BUCKET_NAME", "legacy")
	t.Setenv("OBJGATE_BUCKET", "primary")
	t.Setenv("AWS_REGION", "us-west-2")
	t.Setenv("OBJGATE_REGION", "eu-central-1")
	t.Setenv("OBJGATE_FETCH_TIMEOUT", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Bucket != "primary" || cfg.Region != "eu-central-1" {
		t.Fatalf("unexpected bucket/region: %q %q", cfg.Bucket, cfg.Region)
	}
	if cfg.FetchTimeout != 5*time.Second {
		t.Fatalf("unexpected fetch timeout: %v", cfg.FetchTimeout)
	}
}

func TestLoadRequiresBucket(t *testing.T) {
	clearEnv(t)
	if _, err := Load(); err == nil {
		t.Fatal("expected error when no bucket is configured")
	}

	t.Setenv("OBJGATE_STORAGE_BACKEND", "memory")
	if _, err := Load(); err != nil {
		t.Fatalf("memory backend should not need a bucket: %v", err)
	}
}

func TestLoadValidatesBackend(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr bool
	}{
		{
			name:    "unknown backend",
			env:     map[string]string{"OBJGATE_STORAGE_BACKEND": "gcs", "OBJGATE_BUCKET": "b"},
			wantErr: true,
		},
		{
			name:    "minio without endpoint",
			env:     map[string]string{"OBJGATE_STORAGE_BACKEND": "minio", "OBJGATE_BUCKET": "b"},
			wantErr: true,
		},
		{
			name:    "minio with endpoint",
			env:     map[string]string{"OBJGATE_STORAGE_BACKEND": "MinIO", "OBJGATE_BUCKET": "b", "OBJGATE_S3_ENDPOINT": "localhost:9000"},
			wantErr: false,
		},
		{
			name:    "half static keys",
			env:     map[string]string{"OBJGATE_BUCKET": "b", "OBJGATE_ACCESS_KEY_ID": "AKIA"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadConfigFileIsOverriddenByEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "objgate.yaml")
	content := []byte("bucket: from-file\nregion: us-east-2\nsession_duration: 30m\ndata_dir: /srv/objgate\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv("OBJGATE_CONFIG_FILE", path)
	t.Setenv("OBJGATE_REGION", "ap-southeast-2")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Bucket != "from-file" {
		t.Fatalf("bucket = %q, want from-file", cfg.Bucket)
	}
	if cfg.Region != "ap-southeast-2" {
		t.Fatalf("region = %q, want env override", cfg.Region)
	}
	if cfg.SessionDuration != 30*time.Minute {
		t.Fatalf("session duration = %v", cfg.SessionDuration)
	}
	if cfg.DataDir != "/srv/objgate" {
		t.Fatalf("data dir = %q", cfg.DataDir)
	}
}

func TestLoadRejectsBadConfigFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("OBJGATE_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
