// Package artifact locates build outputs beneath a finished job's work tree.
package artifact

import (
	"os"
	"path/filepath"
	"strings"
)

// Locator finds the file a build produced.
type Locator struct {
	Dir string // conventional output subdirectory, checked first
	Ext string // expected artifact extension; empty matches any file
}

// Find returns the path of the first artifact beneath workDir. The
// conventional output subdirectory is scanned first; failing that, the whole
// tree is walked breadth-first in directory-enumeration order. A false
// return means the build produced nothing recognizable, which is reported,
// not an error of the walk itself.
func (l Locator) Find(workDir string) (string, bool) {
	if l.Dir != "" {
		if path, ok := l.scanDir(filepath.Join(workDir, l.Dir)); ok {
			return path, true
		}
	}

	queue := []string{workDir}
	for len(queue) > 0 {
		dir := queue[0]
		queue = queue[1:]
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			path := filepath.Join(dir, e.Name())
			if e.IsDir() {
				queue = append(queue, path)
				continue
			}
			if l.matches(e.Name()) {
				return path, true
			}
		}
	}
	return "", false
}

// scanDir checks the direct children of dir only.
func (l Locator) scanDir(dir string) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if l.matches(e.Name()) {
			return filepath.Join(dir, e.Name()), true
		}
	}
	return "", false
}

func (l Locator) matches(name string) bool {
	return l.Ext == "" || strings.HasSuffix(name, l.Ext)
}
