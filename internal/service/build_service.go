package service

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"buildforge/internal/admission"
	"buildforge/internal/archive"
	"buildforge/internal/artifact"
	"buildforge/internal/bundle"
	"buildforge/internal/model"
	"buildforge/internal/toolchain"
	"buildforge/pkg/utils/contextkey"
	"buildforge/pkg/utils/logger"

	appErr "buildforge/pkg/errors"
)

// BuildSource describes where one job's bundle comes from.
// Exactly one of Multipart and URL is set.
type BuildSource struct {
	// Multipart is the original request when the bundle rides in as a
	// multipart upload. Overrides travel as form fields and are applied
	// by the ingestor while it parses the body.
	Multipart *http.Request

	// URL is a remote bundle location (http, https or s3). Overrides
	// carries the settings from the JSON body that named it.
	URL       string
	Overrides *model.BuildRequest
}

// BuildResult carries everything the transport layer returns to the caller.
type BuildResult struct {
	JobID    string
	Artifact []byte
	Log      []byte
	Duration time.Duration
}

// BuildService runs the full build pipeline for one request: admission,
// ingest, extraction, toolchain execution and artifact lookup.
type BuildService struct {
	admission *admission.Controller
	ingestor  *bundle.Ingestor
	runner    *toolchain.Runner
	locator   artifact.Locator
	events    *EventPublisher
	defaults  model.BuildConfig
	workRoot  string

	// runCtx bounds toolchain processes to the server lifetime, so a
	// client disconnect after the slot grant never kills a running build
	// but shutdown still reaps the process group.
	runCtx context.Context
}

// Config holds service dependencies and settings.
type Config struct {
	Admission  *admission.Controller
	Ingestor   *bundle.Ingestor
	Runner     *toolchain.Runner
	Locator    artifact.Locator
	Events     *EventPublisher
	Defaults   model.BuildConfig
	WorkRoot   string
	RunContext context.Context
}

// NewBuildService creates a new build service.
func NewBuildService(cfg Config) (*BuildService, error) {
	if cfg.Admission == nil {
		return nil, fmt.Errorf("admission controller is required")
	}
	if cfg.Ingestor == nil {
		return nil, fmt.Errorf("ingestor is required")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if cfg.WorkRoot == "" {
		return nil, fmt.Errorf("work root is required")
	}
	if cfg.Defaults.Timeout <= 0 {
		return nil, fmt.Errorf("default build timeout must be positive")
	}
	if cfg.Defaults.MaxBundleBytes <= 0 || cfg.Defaults.MaxExtractedBytes <= 0 {
		return nil, fmt.Errorf("default size ceilings must be positive")
	}
	runCtx := cfg.RunContext
	if runCtx == nil {
		runCtx = context.Background()
	}
	return &BuildService{
		admission: cfg.Admission,
		ingestor:  cfg.Ingestor,
		runner:    cfg.Runner,
		locator:   cfg.Locator,
		events:    cfg.Events,
		defaults:  cfg.Defaults,
		workRoot:  cfg.WorkRoot,
		runCtx:    runCtx,
	}, nil
}

// Execute runs one job end to end. ctx is the request context: its
// cancellation aborts queue waits and ingestion, but never a toolchain
// invocation that already started.
func (s *BuildService) Execute(ctx context.Context, src BuildSource) (*BuildResult, error) {
	if err := s.admission.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.admission.Release()

	job := model.NewJob(s.workRoot, s.defaults)
	if src.Overrides != nil {
		src.Overrides.ApplyTo(&job.Config)
	}
	ctx = context.WithValue(ctx, contextkey.JobID, job.ID)
	if err := os.MkdirAll(job.SourceDir(), 0755); err != nil {
		return nil, appErr.Wrapf(err, appErr.InternalServerError, "create job workdir failed")
	}
	defer s.cleanup(ctx, job)

	logger.Info(ctx, "build job admitted")

	if err := s.ingest(ctx, &job, src); err != nil {
		return nil, err
	}
	if err := archive.Extract(job.BundlePath(), job.SourceDir(), job.Config.MaxExtractedBytes); err != nil {
		return nil, err
	}

	started := time.Now()
	outcome, err := s.runner.Run(s.runCtx, job.SourceDir(), job.Config.Target, job.Config.Timeout)
	if err != nil {
		// The toolchain never ran, so the duration estimate is not fed.
		return nil, err
	}
	elapsed := time.Since(started)
	s.admission.ObserveDuration(elapsed)

	switch outcome.Status {
	case toolchain.StatusTimedOut:
		s.publish(ctx, job, outcome, elapsed, 0)
		return nil, appErr.Newf(appErr.BuildTimeout, "build exceeded its deadline of %s", job.Config.Timeout)
	case toolchain.StatusFailed:
		s.publish(ctx, job, outcome, elapsed, 0)
		return nil, appErr.Newf(appErr.BuildFailed, "toolchain exited with code %d", outcome.ExitCode).
			WithDetail("exit_code", outcome.ExitCode).
			WithDetail("log", base64.StdEncoding.EncodeToString(outcome.Log))
	}

	path, found := s.locator.Find(job.SourceDir())
	if !found {
		s.publish(ctx, job, outcome, elapsed, 0)
		return nil, appErr.New(appErr.ArtifactNotFound).
			WithMessage("build succeeded but produced no artifact").
			WithDetail("log", base64.StdEncoding.EncodeToString(outcome.Log))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.InternalServerError, "read artifact failed")
	}

	s.publish(ctx, job, outcome, elapsed, int64(len(data)))
	return &BuildResult{
		JobID:    job.ID,
		Artifact: data,
		Log:      outcome.Log,
		Duration: elapsed,
	}, nil
}

// Stats reports the admission controller state for readiness probes.
func (s *BuildService) Stats() admission.Stats {
	return s.admission.Snapshot()
}

// EstimateWaitSeconds forwards the admission wait hint for Retry-After.
func (s *BuildService) EstimateWaitSeconds() int {
	return s.admission.EstimateWaitSeconds()
}

// SweepWorkRoot removes leftover job directories from earlier runs.
// Cleanup cannot span a process crash, so startup finishes the job.
func (s *BuildService) SweepWorkRoot(ctx context.Context) error {
	entries, err := os.ReadDir(s.workRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return os.MkdirAll(s.workRoot, 0755)
		}
		return fmt.Errorf("read work root failed: %w", err)
	}
	removed := 0
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(s.workRoot, entry.Name())); err != nil {
			logger.Warn(ctx, "remove leftover job dir failed",
				zap.String("entry", entry.Name()), zap.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		logger.Info(ctx, "swept leftover job dirs", zap.Int("removed", removed))
	}
	return nil
}

// ingest mutates job.Config when the request carries overrides, so the
// extraction ceiling and toolchain settings that follow see them.
func (s *BuildService) ingest(ctx context.Context, job *model.Job, src BuildSource) error {
	switch {
	case src.Multipart != nil:
		return s.ingestor.FromMultipart(src.Multipart, job.BundlePath(), &job.Config)
	case src.URL != "":
		return s.ingestor.FromURL(ctx, src.URL, job.BundlePath(), &job.Config)
	default:
		return appErr.New(appErr.BundleMissing).WithMessage("no bundle source provided")
	}
}

func (s *BuildService) cleanup(ctx context.Context, job model.Job) {
	if err := os.RemoveAll(job.WorkDir); err != nil {
		logger.Warn(ctx, "remove job workdir failed", zap.Error(err))
	}
}

func (s *BuildService) publish(ctx context.Context, job model.Job, outcome toolchain.Outcome, elapsed time.Duration, artifactBytes int64) {
	s.events.PublishFinished(ctx, model.BuildEvent{
		JobID:         job.ID,
		Status:        outcome.Status.String(),
		ExitCode:      outcome.ExitCode,
		DurationMs:    elapsed.Milliseconds(),
		ArtifactBytes: artifactBytes,
		LogBytes:      int64(len(outcome.Log)),
		TraceID:       traceIDFromContext(ctx),
	})
}
