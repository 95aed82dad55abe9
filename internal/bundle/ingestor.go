// Package bundle materializes a submitted project archive on disk,
// enforcing the compressed-size ceiling for direct uploads and remote
// fetches alike.
package bundle

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"buildforge/internal/common/storage"
	"buildforge/internal/model"
	"buildforge/pkg/limitio"

	appErr "buildforge/pkg/errors"
)

const (
	// FileField is the multipart form field expected to carry the archive.
	FileField = "bundle"

	// framingAllowance is added to the bundle ceiling when fast-failing on
	// a request's declared Content-Length, which also counts multipart
	// boundaries and override fields.
	framingAllowance = 8 << 10

	// Override values are short scalars; anything longer is garbage.
	maxOverrideValueLen = 256

	defaultFetchTimeout = 2 * time.Minute
)

// Ingestor writes submitted bundles to per-job paths.
type Ingestor struct {
	client *http.Client
	store  storage.ObjectStorage
}

// NewIngestor creates an ingestor. The client serves http(s) bundle URLs;
// store may be nil when s3 URLs are not offered.
func NewIngestor(client *http.Client, store storage.ObjectStorage) *Ingestor {
	if client == nil {
		client = &http.Client{Timeout: defaultFetchTimeout}
	}
	return &Ingestor{client: client, store: store}
}

// FromMultipart streams the bundle file field of req into destPath.
// Override fields are applied to cfg in the order they appear in the
// body, so a ceiling override arriving before the bundle governs the
// copy, and one arriving after is checked against the bytes already
// received.
func (in *Ingestor) FromMultipart(req *http.Request, destPath string, cfg *model.BuildConfig) error {
	if req.ContentLength > 0 && req.ContentLength > cfg.MaxBundleBytes+framingAllowance {
		return appErr.Newf(appErr.BundleTooLarge, "declared body size %d exceeds bundle limit %d", req.ContentLength, cfg.MaxBundleBytes)
	}

	reader, err := req.MultipartReader()
	if err != nil {
		return appErr.Wrapf(err, appErr.InvalidParams, "read multipart body failed")
	}

	received := int64(-1)
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return appErr.Wrapf(err, appErr.InvalidParams, "read multipart body failed")
		}

		name := part.FormName()
		switch {
		case name == FileField:
			if received >= 0 {
				_ = part.Close()
				return appErr.New(appErr.InvalidParams).WithMessage("duplicate bundle field")
			}
			n, err := in.writeBundle(part, destPath, cfg.MaxBundleBytes, appErr.InvalidParams)
			_ = part.Close()
			if err != nil {
				return err
			}
			received = n
		case part.FileName() != "":
			// Unexpected file fields are drained so the parser can reach
			// override fields that follow them.
			_, _ = io.Copy(io.Discard, part)
			_ = part.Close()
		default:
			value, err := readFieldValue(part)
			_ = part.Close()
			if err != nil {
				return err
			}
			cfg.ApplyField(name, value)
			if received >= 0 && cfg.MaxBundleBytes < received {
				return appErr.Newf(appErr.BundleTooLarge, "bundle size %d exceeds overridden limit %d", received, cfg.MaxBundleBytes)
			}
		}
	}

	if received < 0 {
		return appErr.Newf(appErr.BundleMissing, "multipart file field %q is required", FileField)
	}
	return nil
}

// FromURL fetches the bundle behind rawURL into destPath under
// cfg.MaxBundleBytes. Supported schemes are http, https and s3.
func (in *Ingestor) FromURL(ctx context.Context, rawURL, destPath string, cfg *model.BuildConfig) error {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" {
		return appErr.New(appErr.BundleURLInvalid).WithMessage("bundle url is invalid")
	}
	switch u.Scheme {
	case "http", "https":
		return in.fetchHTTP(ctx, rawURL, destPath, cfg.MaxBundleBytes)
	case "s3":
		return in.fetchObject(ctx, u, destPath, cfg.MaxBundleBytes)
	default:
		return appErr.Newf(appErr.BundleURLInvalid, "unsupported bundle url scheme: %s", u.Scheme)
	}
}

func (in *Ingestor) fetchHTTP(ctx context.Context, rawURL, destPath string, limit int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return appErr.Wrapf(err, appErr.BundleURLInvalid, "build bundle request failed")
	}

	resp, err := in.client.Do(req)
	if err != nil {
		return appErr.Wrapf(err, appErr.BundleDownloadFailed, "fetch bundle failed")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return appErr.Newf(appErr.BundleDownloadFailed, "bundle fetch returned status %d", resp.StatusCode)
	}
	if resp.ContentLength == 0 {
		return appErr.New(appErr.BundleDownloadFailed).WithMessage("bundle response has no body")
	}
	if resp.ContentLength > 0 && resp.ContentLength > limit {
		return appErr.Newf(appErr.BundleTooLarge, "declared bundle size %d exceeds limit %d", resp.ContentLength, limit)
	}

	_, err = in.writeBundle(resp.Body, destPath, limit, appErr.BundleDownloadFailed)
	return err
}

func (in *Ingestor) fetchObject(ctx context.Context, u *url.URL, destPath string, limit int64) error {
	if in.store == nil {
		return appErr.New(appErr.ServiceUnavailable).WithMessage("object storage is not configured")
	}
	bucket := u.Host
	key := strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return appErr.New(appErr.BundleURLInvalid).WithMessage("s3 url must be s3://bucket/key")
	}

	stat, err := in.store.StatObject(ctx, bucket, key)
	if err != nil {
		return appErr.Wrapf(err, appErr.BundleDownloadFailed, "stat bundle object failed")
	}
	if stat.SizeBytes > limit {
		return appErr.Newf(appErr.BundleTooLarge, "declared bundle size %d exceeds limit %d", stat.SizeBytes, limit)
	}

	obj, err := in.store.GetObject(ctx, bucket, key)
	if err != nil {
		return appErr.Wrapf(err, appErr.BundleDownloadFailed, "fetch bundle object failed")
	}
	defer func() { _ = obj.Close() }()

	_, err = in.writeBundle(obj, destPath, limit, appErr.BundleDownloadFailed)
	return err
}

// writeBundle copies src to destPath, refusing to write past limit.
// readCode classifies source read failures, which differ between uploads
// and remote fetches. Partial output is left for the caller's workdir
// cleanup.
func (in *Ingestor) writeBundle(src io.Reader, destPath string, limit int64, readCode appErr.ErrorCode) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return 0, appErr.Wrapf(err, appErr.InternalServerError, "create bundle dir failed")
	}
	f, err := os.OpenFile(destPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return 0, appErr.Wrapf(err, appErr.InternalServerError, "create bundle file failed")
	}

	n, copyErr := limitio.Copy(f, src, limit)
	closeErr := f.Close()
	if copyErr != nil {
		if errors.Is(copyErr, limitio.ErrLimitExceeded) {
			return n, appErr.Newf(appErr.BundleTooLarge, "bundle exceeds limit of %d bytes", limit)
		}
		return n, appErr.Wrapf(copyErr, readCode, "read bundle failed")
	}
	if closeErr != nil {
		return n, appErr.Wrapf(closeErr, appErr.InternalServerError, "write bundle file failed")
	}
	return n, nil
}

func readFieldValue(part io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(part, maxOverrideValueLen))
	if err != nil {
		return "", appErr.Wrapf(err, appErr.InvalidParams, "read multipart field failed")
	}
	return strings.TrimSpace(string(data)), nil
}
