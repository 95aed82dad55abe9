package model

import (
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Override field names accepted in multipart forms and JSON bodies.
const (
	FieldTarget            = "target"
	FieldTimeoutSec        = "timeoutSec"
	FieldMaxBundleBytes    = "maxBundleBytes"
	FieldMaxExtractedBytes = "maxExtractedBytes"
)

// BuildConfig carries the effective options for one build job. Server
// defaults seed it; per-request overrides replace individual fields.
type BuildConfig struct {
	Target            string
	Timeout           time.Duration
	MaxBundleBytes    int64
	MaxExtractedBytes int64
}

// ApplyTarget replaces the build target. Empty values keep the default.
func (c *BuildConfig) ApplyTarget(v string) {
	if v != "" {
		c.Target = v
	}
}

// ApplyTimeoutSec replaces the build timeout. Non-positive values keep
// the default.
func (c *BuildConfig) ApplyTimeoutSec(sec int64) {
	if sec > 0 {
		c.Timeout = time.Duration(sec) * time.Second
	}
}

// ApplyMaxBundleBytes replaces the compressed size ceiling. Non-positive
// values keep the default.
func (c *BuildConfig) ApplyMaxBundleBytes(v int64) {
	if v > 0 {
		c.MaxBundleBytes = v
	}
}

// ApplyMaxExtractedBytes replaces the decompressed size ceiling.
// Non-positive values keep the default.
func (c *BuildConfig) ApplyMaxExtractedBytes(v int64) {
	if v > 0 {
		c.MaxExtractedBytes = v
	}
}

// ApplyField applies a named override with the value still in wire form.
// Unknown names and malformed numbers are ignored so one bad form field
// cannot fail a whole upload.
func (c *BuildConfig) ApplyField(name, value string) {
	switch name {
	case FieldTarget:
		c.ApplyTarget(value)
	case FieldTimeoutSec:
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			c.ApplyTimeoutSec(n)
		}
	case FieldMaxBundleBytes:
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			c.ApplyMaxBundleBytes(n)
		}
	case FieldMaxExtractedBytes:
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			c.ApplyMaxExtractedBytes(n)
		}
	}
}

// Job is one admitted build request with its private working directory.
type Job struct {
	ID      string
	WorkDir string
	Config  BuildConfig
}

// NewJob allocates a job identity rooted under workRoot.
func NewJob(workRoot string, cfg BuildConfig) Job {
	id := uuid.NewString()
	return Job{
		ID:      id,
		WorkDir: filepath.Join(workRoot, id),
		Config:  cfg,
	}
}

// BundlePath is where ingested bundle bytes land before extraction.
func (j Job) BundlePath() string {
	return filepath.Join(j.WorkDir, "bundle.tmp")
}

// SourceDir is the extraction root and the toolchain working directory.
func (j Job) SourceDir() string {
	return filepath.Join(j.WorkDir, "src")
}
