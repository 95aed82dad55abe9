package model

// BuildRequest is the JSON body for URL-sourced builds.
type BuildRequest struct {
	BundleURL         string `json:"bundleUrl"`
	Target            string `json:"target"`
	TimeoutSec        int64  `json:"timeoutSec"`
	MaxBundleBytes    int64  `json:"maxBundleBytes"`
	MaxExtractedBytes int64  `json:"maxExtractedBytes"`
}

// ApplyTo merges the request overrides into cfg. Empty and non-positive
// values keep the server defaults.
func (r BuildRequest) ApplyTo(cfg *BuildConfig) {
	cfg.ApplyTarget(r.Target)
	cfg.ApplyTimeoutSec(r.TimeoutSec)
	cfg.ApplyMaxBundleBytes(r.MaxBundleBytes)
	cfg.ApplyMaxExtractedBytes(r.MaxExtractedBytes)
}
