// Package archive unpacks untrusted project bundles into a confined
// directory tree.
package archive

import (
	"archive/tar"
	"bufio"
	"bytes"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	appErr "buildforge/pkg/errors"
	"buildforge/pkg/limitio"
)

// magic numbers for the supported bundle compressions
var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// Extract unpacks the archive at srcPath into destRoot. Compression is
// sniffed from the leading bytes (gzip, zstd, or plain tar). Entry paths may
// not leave destRoot, symlinks and other special entries are skipped, and the
// cumulative decompressed size may not exceed maxExtractedBytes. The first
// violation in archive order fails the whole extraction; the caller discards
// destRoot on failure.
func Extract(srcPath, destRoot string, maxExtractedBytes int64) error {
	file, err := os.Open(srcPath)
	if err != nil {
		return appErr.Wrapf(err, appErr.ArchiveMalformed, "open bundle failed")
	}
	defer file.Close()

	reader, closeReader, err := decompressReader(file)
	if err != nil {
		return err
	}
	defer closeReader()

	root := filepath.Clean(destRoot)
	if err := os.MkdirAll(root, 0755); err != nil {
		return appErr.Wrapf(err, appErr.InternalServerError, "create extraction root failed")
	}
	budget := limitio.NewBudget(maxExtractedBytes)

	tr := tar.NewReader(reader)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return appErr.Wrapf(err, appErr.ArchiveMalformed, "read tar entry failed")
		}
		if hdr.Name == "" {
			continue
		}
		cleanName := filepath.Clean(hdr.Name)
		if strings.HasPrefix(cleanName, "..") || filepath.IsAbs(cleanName) {
			return appErr.New(appErr.ArchivePathEscape).WithDetail("entry", hdr.Name)
		}
		target := filepath.Join(root, cleanName)
		if target != root && !strings.HasPrefix(target, root+string(filepath.Separator)) {
			return appErr.New(appErr.ArchivePathEscape).WithDetail("entry", hdr.Name)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return appErr.Wrapf(err, appErr.InternalServerError, "create dir failed")
			}
		case tar.TypeReg:
			// The declared size alone deciding the outcome keeps bombs from
			// touching the disk at all.
			if hdr.Size > budget.Remaining() {
				return appErr.New(appErr.ExtractTooLarge).WithDetail("entry", hdr.Name)
			}
			if err := writeEntry(target, fs.FileMode(hdr.Mode).Perm(), tr, budget); err != nil {
				return appErr.GetError(err).WithDetail("entry", hdr.Name)
			}
		default:
			// skip symlinks and other special types
		}
	}
	return nil
}

// writeEntry streams one regular file to disk, charging the shared budget.
func writeEntry(target string, mode fs.FileMode, src io.Reader, budget *limitio.Budget) error {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return appErr.Wrapf(err, appErr.InternalServerError, "create parent dir failed")
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return appErr.Wrapf(err, appErr.InternalServerError, "create file failed")
	}
	if _, err := budget.Copy(f, src); err != nil {
		_ = f.Close()
		if errors.Is(err, limitio.ErrLimitExceeded) {
			return appErr.Wrapf(err, appErr.ExtractTooLarge, "extracted bundle exceeds the allowed size")
		}
		return appErr.Wrapf(err, appErr.ArchiveMalformed, "write file failed")
	}
	_ = f.Close()
	return nil
}

// decompressReader sniffs the compression from the stream head and returns a
// reader producing the underlying tar bytes.
func decompressReader(f io.Reader) (io.Reader, func(), error) {
	br := bufio.NewReader(f)
	head, err := br.Peek(4)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, nil, appErr.Wrapf(err, appErr.ArchiveMalformed, "read bundle head failed")
	}
	switch {
	case bytes.HasPrefix(head, gzipMagic):
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, nil, appErr.Wrapf(err, appErr.ArchiveMalformed, "create gzip reader failed")
		}
		return gz, func() { _ = gz.Close() }, nil
	case bytes.HasPrefix(head, zstdMagic):
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, nil, appErr.Wrapf(err, appErr.ArchiveMalformed, "create zstd reader failed")
		}
		return zr, zr.Close, nil
	default:
		return br, func() {}, nil
	}
}
