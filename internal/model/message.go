package model

// BuildEvent represents the Kafka payload emitted when a build finishes.
type BuildEvent struct {
	JobID         string `json:"job_id"`
	Status        string `json:"status"`
	ExitCode      int    `json:"exit_code"`
	DurationMs    int64  `json:"duration_ms"`
	ArtifactBytes int64  `json:"artifact_bytes"`
	LogBytes      int64  `json:"log_bytes"`
	TraceID       string `json:"trace_id"`
}
