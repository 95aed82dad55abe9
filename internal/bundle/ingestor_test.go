package bundle

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"buildforge/internal/common/storage"
	"buildforge/internal/model"

	appErr "buildforge/pkg/errors"
)

func testConfig() model.BuildConfig {
	return model.BuildConfig{
		Timeout:           time.Minute,
		MaxBundleBytes:    1 << 20,
		MaxExtractedBytes: 10 << 20,
	}
}

func newUploadRequest(t *testing.T, build func(w *multipart.Writer)) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	build(w)
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/build", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func addBundle(t *testing.T, w *multipart.Writer, content []byte) {
	t.Helper()
	fw, err := w.CreateFormFile(FileField, "project.tar.gz")
	if err != nil {
		t.Fatalf("create bundle field: %v", err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatalf("write bundle field: %v", err)
	}
}

func addFile(t *testing.T, w *multipart.Writer, field string, content []byte) {
	t.Helper()
	fw, err := w.CreateFormFile(field, field+".bin")
	if err != nil {
		t.Fatalf("create file field %s: %v", field, err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatalf("write file field %s: %v", field, err)
	}
}

func addField(t *testing.T, w *multipart.Writer, name, value string) {
	t.Helper()
	if err := w.WriteField(name, value); err != nil {
		t.Fatalf("write field %s: %v", name, err)
	}
}

func TestFromMultipartWritesBundle(t *testing.T) {
	payload := bytes.Repeat([]byte{0xA5}, 300)
	req := newUploadRequest(t, func(w *multipart.Writer) {
		addField(t, w, model.FieldTarget, "release")
		addBundle(t, w, payload)
	})

	in := NewIngestor(nil, nil)
	dest := filepath.Join(t.TempDir(), "bundle.tmp")
	cfg := testConfig()
	if err := in.FromMultipart(req, dest, &cfg); err != nil {
		t.Fatalf("FromMultipart() error = %v", err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read bundle: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("bundle bytes differ: got %d bytes, want %d", len(got), len(payload))
	}
	if cfg.Target != "release" {
		t.Fatalf("target = %q, want release", cfg.Target)
	}
}

func TestFromMultipartExactCeiling(t *testing.T) {
	const limit = 100

	for _, tt := range []struct {
		name string
		size int
		ok   bool
	}{
		{"exactly at limit", limit, true},
		{"one byte over", limit + 1, false},
	} {
		t.Run(tt.name, func(t *testing.T) {
			req := newUploadRequest(t, func(w *multipart.Writer) {
				addBundle(t, w, bytes.Repeat([]byte{'b'}, tt.size))
			})
			in := NewIngestor(nil, nil)
			dest := filepath.Join(t.TempDir(), "bundle.tmp")
			cfg := testConfig()
			cfg.MaxBundleBytes = limit

			err := in.FromMultipart(req, dest, &cfg)
			if tt.ok {
				if err != nil {
					t.Fatalf("FromMultipart() error = %v", err)
				}
				return
			}
			if appErr.GetCode(err) != appErr.BundleTooLarge {
				t.Fatalf("code = %v, want BundleTooLarge", appErr.GetCode(err))
			}
		})
	}
}

type touchReader struct {
	touched bool
}

func (r *touchReader) Read(p []byte) (int, error) {
	r.touched = true
	return 0, io.ErrUnexpectedEOF
}

func TestFromMultipartDeclaredOversizeFastFails(t *testing.T) {
	body := &touchReader{}
	req := httptest.NewRequest(http.MethodPost, "/build", body)
	req.Header.Set("Content-Type", "multipart/form-data; boundary=deadbeef")
	cfg := testConfig()
	req.ContentLength = cfg.MaxBundleBytes + framingAllowance + 1

	in := NewIngestor(nil, nil)
	err := in.FromMultipart(req, filepath.Join(t.TempDir(), "bundle.tmp"), &cfg)
	if appErr.GetCode(err) != appErr.BundleTooLarge {
		t.Fatalf("code = %v, want BundleTooLarge", appErr.GetCode(err))
	}
	if body.touched {
		t.Fatal("request body was read despite declared oversize")
	}
}

func TestFromMultipartMissingBundleField(t *testing.T) {
	req := newUploadRequest(t, func(w *multipart.Writer) {
		addField(t, w, model.FieldTarget, "release")
	})

	in := NewIngestor(nil, nil)
	cfg := testConfig()
	err := in.FromMultipart(req, filepath.Join(t.TempDir(), "bundle.tmp"), &cfg)
	if appErr.GetCode(err) != appErr.BundleMissing {
		t.Fatalf("code = %v, want BundleMissing", appErr.GetCode(err))
	}
}

func TestFromMultipartDrainsOtherFileFields(t *testing.T) {
	payload := []byte("the real bundle")
	req := newUploadRequest(t, func(w *multipart.Writer) {
		addFile(t, w, "junk", bytes.Repeat([]byte{'j'}, 4096))
		addBundle(t, w, payload)
	})

	in := NewIngestor(nil, nil)
	dir := t.TempDir()
	dest := filepath.Join(dir, "bundle.tmp")
	cfg := testConfig()
	if err := in.FromMultipart(req, dest, &cfg); err != nil {
		t.Fatalf("FromMultipart() error = %v", err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read bundle: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("bundle bytes differ")
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("unexpected files written: %d", len(entries))
	}
}

func TestFromMultipartLateCeilingOverride(t *testing.T) {
	payload := bytes.Repeat([]byte{'p'}, 100)

	t.Run("below received bytes fails", func(t *testing.T) {
		req := newUploadRequest(t, func(w *multipart.Writer) {
			addBundle(t, w, payload)
			addField(t, w, model.FieldMaxBundleBytes, "50")
		})
		in := NewIngestor(nil, nil)
		cfg := testConfig()
		err := in.FromMultipart(req, filepath.Join(t.TempDir(), "bundle.tmp"), &cfg)
		if appErr.GetCode(err) != appErr.BundleTooLarge {
			t.Fatalf("code = %v, want BundleTooLarge", appErr.GetCode(err))
		}
	})

	t.Run("at or above received bytes is honored", func(t *testing.T) {
		req := newUploadRequest(t, func(w *multipart.Writer) {
			addBundle(t, w, payload)
			addField(t, w, model.FieldMaxBundleBytes, "100")
		})
		in := NewIngestor(nil, nil)
		cfg := testConfig()
		if err := in.FromMultipart(req, filepath.Join(t.TempDir(), "bundle.tmp"), &cfg); err != nil {
			t.Fatalf("FromMultipart() error = %v", err)
		}
		if cfg.MaxBundleBytes != 100 {
			t.Fatalf("maxBundleBytes = %d, want 100", cfg.MaxBundleBytes)
		}
	})
}

func TestFromMultipartEarlyCeilingOverrideGovernsCopy(t *testing.T) {
	req := newUploadRequest(t, func(w *multipart.Writer) {
		addField(t, w, model.FieldMaxBundleBytes, "50")
		addBundle(t, w, bytes.Repeat([]byte{'p'}, 100))
	})

	in := NewIngestor(nil, nil)
	cfg := testConfig()
	err := in.FromMultipart(req, filepath.Join(t.TempDir(), "bundle.tmp"), &cfg)
	if appErr.GetCode(err) != appErr.BundleTooLarge {
		t.Fatalf("code = %v, want BundleTooLarge", appErr.GetCode(err))
	}
}

func TestFromMultipartOverridesWithSafeFallbacks(t *testing.T) {
	req := newUploadRequest(t, func(w *multipart.Writer) {
		addField(t, w, model.FieldTimeoutSec, "45")
		addField(t, w, model.FieldMaxExtractedBytes, "nonsense")
		addBundle(t, w, []byte("bundle"))
	})

	in := NewIngestor(nil, nil)
	cfg := testConfig()
	if err := in.FromMultipart(req, filepath.Join(t.TempDir(), "bundle.tmp"), &cfg); err != nil {
		t.Fatalf("FromMultipart() error = %v", err)
	}
	if cfg.Timeout != 45*time.Second {
		t.Fatalf("timeout = %v, want 45s", cfg.Timeout)
	}
	if cfg.MaxExtractedBytes != testConfig().MaxExtractedBytes {
		t.Fatalf("maxExtractedBytes changed on garbage override: %d", cfg.MaxExtractedBytes)
	}
}

func TestFromURLFetchesBundle(t *testing.T) {
	payload := bytes.Repeat([]byte{0xCD}, 500)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	in := NewIngestor(srv.Client(), nil)
	dest := filepath.Join(t.TempDir(), "bundle.tmp")
	cfg := testConfig()
	if err := in.FromURL(context.Background(), srv.URL, dest, &cfg); err != nil {
		t.Fatalf("FromURL() error = %v", err)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read bundle: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("bundle bytes differ: got %d bytes, want %d", len(got), len(payload))
	}
}

func TestFromURLNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	in := NewIngestor(srv.Client(), nil)
	cfg := testConfig()
	err := in.FromURL(context.Background(), srv.URL, filepath.Join(t.TempDir(), "bundle.tmp"), &cfg)
	if appErr.GetCode(err) != appErr.BundleDownloadFailed {
		t.Fatalf("code = %v, want BundleDownloadFailed", appErr.GetCode(err))
	}
}

func TestFromURLEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	in := NewIngestor(srv.Client(), nil)
	cfg := testConfig()
	err := in.FromURL(context.Background(), srv.URL, filepath.Join(t.TempDir(), "bundle.tmp"), &cfg)
	if appErr.GetCode(err) != appErr.BundleDownloadFailed {
		t.Fatalf("code = %v, want BundleDownloadFailed", appErr.GetCode(err))
	}
}

func TestFromURLDeclaredOversizeFastFails(t *testing.T) {
	cfg := testConfig()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.FormatInt(cfg.MaxBundleBytes+1, 10))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	in := NewIngestor(srv.Client(), nil)
	dest := filepath.Join(t.TempDir(), "bundle.tmp")
	err := in.FromURL(context.Background(), srv.URL, dest, &cfg)
	if appErr.GetCode(err) != appErr.BundleTooLarge {
		t.Fatalf("code = %v, want BundleTooLarge", appErr.GetCode(err))
	}
	if _, statErr := os.Stat(dest); !os.IsNotExist(statErr) {
		t.Fatal("bundle file written despite declared oversize")
	}
}

func TestFromURLStreamingCeiling(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Chunked transfer keeps ContentLength unknown so only the
		// streaming counter can stop the copy.
		fl := w.(http.Flusher)
		chunk := bytes.Repeat([]byte{'x'}, 256)
		for i := 0; i < 8; i++ {
			if _, err := w.Write(chunk); err != nil {
				return
			}
			fl.Flush()
		}
	}))
	defer srv.Close()

	in := NewIngestor(srv.Client(), nil)
	cfg := testConfig()
	cfg.MaxBundleBytes = 1000
	err := in.FromURL(context.Background(), srv.URL, filepath.Join(t.TempDir(), "bundle.tmp"), &cfg)
	if appErr.GetCode(err) != appErr.BundleTooLarge {
		t.Fatalf("code = %v, want BundleTooLarge", appErr.GetCode(err))
	}
}

func TestFromURLRejectsBadURLs(t *testing.T) {
	in := NewIngestor(nil, nil)
	cfg := testConfig()
	dest := filepath.Join(t.TempDir(), "bundle.tmp")

	for _, raw := range []string{"", "not-a-url", "ftp://host/bundle.tar.gz"} {
		err := in.FromURL(context.Background(), raw, dest, &cfg)
		if appErr.GetCode(err) != appErr.BundleURLInvalid {
			t.Fatalf("FromURL(%q) code = %v, want BundleURLInvalid", raw, appErr.GetCode(err))
		}
	}
}

type fakeObjectStore struct {
	size    int64
	data    []byte
	statErr error
	fetched bool
}

func (f *fakeObjectStore) StatObject(ctx context.Context, bucket, key string) (storage.ObjectStat, error) {
	if f.statErr != nil {
		return storage.ObjectStat{}, f.statErr
	}
	return storage.ObjectStat{SizeBytes: f.size}, nil
}

func (f *fakeObjectStore) GetObject(ctx context.Context, bucket, key string) (storage.ObjectReader, error) {
	f.fetched = true
	return nopObjectReader{bytes.NewReader(f.data)}, nil
}

type nopObjectReader struct {
	*bytes.Reader
}

func (nopObjectReader) Close() error { return nil }

func TestFromURLObjectStorage(t *testing.T) {
	payload := []byte("object payload")

	t.Run("fetches object", func(t *testing.T) {
		store := &fakeObjectStore{size: int64(len(payload)), data: payload}
		in := NewIngestor(nil, store)
		dest := filepath.Join(t.TempDir(), "bundle.tmp")
		cfg := testConfig()
		if err := in.FromURL(context.Background(), "s3://bundles/app.tar.gz", dest, &cfg); err != nil {
			t.Fatalf("FromURL() error = %v", err)
		}
		got, err := os.ReadFile(dest)
		if err != nil {
			t.Fatalf("read bundle: %v", err)
		}
		if !bytes.Equal(got, payload) {
			t.Fatalf("bundle bytes differ")
		}
	})

	t.Run("oversize stat skips fetch", func(t *testing.T) {
		cfg := testConfig()
		store := &fakeObjectStore{size: cfg.MaxBundleBytes + 1}
		in := NewIngestor(nil, store)
		err := in.FromURL(context.Background(), "s3://bundles/app.tar.gz", filepath.Join(t.TempDir(), "bundle.tmp"), &cfg)
		if appErr.GetCode(err) != appErr.BundleTooLarge {
			t.Fatalf("code = %v, want BundleTooLarge", appErr.GetCode(err))
		}
		if store.fetched {
			t.Fatal("object fetched despite oversize stat")
		}
	})

	t.Run("stat failure", func(t *testing.T) {
		store := &fakeObjectStore{statErr: fmt.Errorf("no such key")}
		in := NewIngestor(nil, store)
		cfg := testConfig()
		err := in.FromURL(context.Background(), "s3://bundles/missing.tar.gz", filepath.Join(t.TempDir(), "bundle.tmp"), &cfg)
		if appErr.GetCode(err) != appErr.BundleDownloadFailed {
			t.Fatalf("code = %v, want BundleDownloadFailed", appErr.GetCode(err))
		}
	})

	t.Run("unconfigured storage", func(t *testing.T) {
		in := NewIngestor(nil, nil)
		cfg := testConfig()
		err := in.FromURL(context.Background(), "s3://bundles/app.tar.gz", filepath.Join(t.TempDir(), "bundle.tmp"), &cfg)
		if appErr.GetCode(err) != appErr.ServiceUnavailable {
			t.Fatalf("code = %v, want ServiceUnavailable", appErr.GetCode(err))
		}
	})

	t.Run("missing bucket or key", func(t *testing.T) {
		in := NewIngestor(nil, &fakeObjectStore{})
		cfg := testConfig()
		err := in.FromURL(context.Background(), "s3://bundles", filepath.Join(t.TempDir(), "bundle.tmp"), &cfg)
		if appErr.GetCode(err) != appErr.BundleURLInvalid {
			t.Fatalf("code = %v, want BundleURLInvalid", appErr.GetCode(err))
		}
	})
}
