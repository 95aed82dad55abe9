package pack_test

import (
	"os"
	"path/filepath"
	"testing"

	"buildforge/internal/archive"
	"buildforge/internal/cli/pack"
)

func TestDirRoundTrip(t *testing.T) {
	src := t.TempDir()
	if err := os.MkdirAll(filepath.Join(src, "sub"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(src, "main.c"), []byte("int main(void) { return 0; }\n"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(src, "sub", "util.c"), []byte("static int x;\n"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := os.Symlink("main.c", filepath.Join(src, "link.c")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	data, err := pack.Dir(src)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}

	bundlePath := filepath.Join(t.TempDir(), "bundle.tar.gz")
	if err := os.WriteFile(bundlePath, data, 0644); err != nil {
		t.Fatalf("write bundle: %v", err)
	}
	dest := t.TempDir()
	if err := archive.Extract(bundlePath, dest, 1<<20); err != nil {
		t.Fatalf("extract packed bundle: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dest, "main.c"))
	if err != nil {
		t.Fatalf("read extracted file: %v", err)
	}
	if string(got) != "int main(void) { return 0; }\n" {
		t.Fatalf("unexpected content %q", got)
	}
	got, err = os.ReadFile(filepath.Join(dest, "sub", "util.c"))
	if err != nil {
		t.Fatalf("read extracted subdir file: %v", err)
	}
	if string(got) != "static int x;\n" {
		t.Fatalf("unexpected content %q", got)
	}

	// The symlink never entered the bundle.
	if _, err := os.Lstat(filepath.Join(dest, "link.c")); !os.IsNotExist(err) {
		t.Fatalf("symlink should not be packed, lstat err = %v", err)
	}
}

func TestDirRejectsNonDirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "plain.txt")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if _, err := pack.Dir(file); err == nil {
		t.Fatalf("expected error for non-directory input")
	}
	if _, err := pack.Dir(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatalf("expected error for missing input")
	}
}
