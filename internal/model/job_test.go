package model

import (
	"path/filepath"
	"testing"
	"time"
)

func defaults() BuildConfig {
	return BuildConfig{
		Target:            "",
		Timeout:           5 * time.Minute,
		MaxBundleBytes:    32 << 20,
		MaxExtractedBytes: 256 << 20,
	}
}

func TestApplyFieldOverrides(t *testing.T) {
	tests := []struct {
		name  string
		field string
		value string
		check func(t *testing.T, cfg BuildConfig)
	}{
		{
			name:  "target replaces default",
			field: FieldTarget,
			value: "release",
			check: func(t *testing.T, cfg BuildConfig) {
				if cfg.Target != "release" {
					t.Fatalf("target = %q, want release", cfg.Target)
				}
			},
		},
		{
			name:  "timeout in seconds",
			field: FieldTimeoutSec,
			value: "90",
			check: func(t *testing.T, cfg BuildConfig) {
				if cfg.Timeout != 90*time.Second {
					t.Fatalf("timeout = %v, want 90s", cfg.Timeout)
				}
			},
		},
		{
			name:  "bundle ceiling",
			field: FieldMaxBundleBytes,
			value: "1024",
			check: func(t *testing.T, cfg BuildConfig) {
				if cfg.MaxBundleBytes != 1024 {
					t.Fatalf("maxBundleBytes = %d, want 1024", cfg.MaxBundleBytes)
				}
			},
		},
		{
			name:  "extracted ceiling",
			field: FieldMaxExtractedBytes,
			value: "4096",
			check: func(t *testing.T, cfg BuildConfig) {
				if cfg.MaxExtractedBytes != 4096 {
					t.Fatalf("maxExtractedBytes = %d, want 4096", cfg.MaxExtractedBytes)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			cfg.ApplyField(tt.field, tt.value)
			tt.check(t, cfg)
		})
	}
}

func TestApplyFieldIgnoresBadValues(t *testing.T) {
	tests := []struct {
		name  string
		field string
		value string
	}{
		{"empty target", FieldTarget, ""},
		{"zero timeout", FieldTimeoutSec, "0"},
		{"negative timeout", FieldTimeoutSec, "-5"},
		{"non-numeric timeout", FieldTimeoutSec, "soon"},
		{"zero bundle ceiling", FieldMaxBundleBytes, "0"},
		{"non-numeric bundle ceiling", FieldMaxBundleBytes, "big"},
		{"negative extracted ceiling", FieldMaxExtractedBytes, "-1"},
		{"unknown field", "color", "blue"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			cfg.ApplyField(tt.field, tt.value)
			if cfg != defaults() {
				t.Fatalf("config changed: %+v", cfg)
			}
		})
	}
}

func TestBuildRequestApplyTo(t *testing.T) {
	cfg := defaults()
	req := BuildRequest{
		BundleURL:      "https://example.com/bundle.tar.gz",
		Target:         "dist",
		TimeoutSec:     30,
		MaxBundleBytes: 2048,
	}
	req.ApplyTo(&cfg)

	if cfg.Target != "dist" {
		t.Fatalf("target = %q, want dist", cfg.Target)
	}
	if cfg.Timeout != 30*time.Second {
		t.Fatalf("timeout = %v, want 30s", cfg.Timeout)
	}
	if cfg.MaxBundleBytes != 2048 {
		t.Fatalf("maxBundleBytes = %d, want 2048", cfg.MaxBundleBytes)
	}
	if cfg.MaxExtractedBytes != defaults().MaxExtractedBytes {
		t.Fatalf("maxExtractedBytes changed without override: %d", cfg.MaxExtractedBytes)
	}
}

func TestNewJobLayout(t *testing.T) {
	job := NewJob("/tmp/buildforge", defaults())

	if job.ID == "" {
		t.Fatal("job ID is empty")
	}
	if job.WorkDir != filepath.Join("/tmp/buildforge", job.ID) {
		t.Fatalf("workdir = %q", job.WorkDir)
	}
	if job.BundlePath() != filepath.Join(job.WorkDir, "bundle.tmp") {
		t.Fatalf("bundle path = %q", job.BundlePath())
	}
	if job.SourceDir() != filepath.Join(job.WorkDir, "src") {
		t.Fatalf("source dir = %q", job.SourceDir())
	}

	other := NewJob("/tmp/buildforge", defaults())
	if other.ID == job.ID {
		t.Fatal("job IDs are not unique")
	}
}
