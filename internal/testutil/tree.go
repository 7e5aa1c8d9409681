package testutil

import (
	"path/filepath"
	"sort"
	"testing"

	"github.com/schaermu/mbedsync/internal/framework"
	"github.com/schaermu/mbedsync/internal/marker"
	"github.com/spf13/afero"
)

// WriteTree creates files below root. Keys are slash separated paths
// relative to root; a key ending in "/" creates an empty directory.
func WriteTree(tb testing.TB, fs afero.Fs, root string, files map[string]string) {
	tb.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		if rel[len(rel)-1] == '/' {
			if err := fs.MkdirAll(p, 0o755); err != nil {
				tb.Fatalf("failed to create %s: %v", p, err)
			}
			continue
		}
		if err := fs.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			tb.Fatalf("failed to create %s: %v", filepath.Dir(p), err)
		}
		if err := afero.WriteFile(fs, p, []byte(content), 0o644); err != nil {
			tb.Fatalf("failed to write %s: %v", p, err)
		}
	}
}

// MarkedDirs returns the sorted directories below root whose marker file
// excludes them, relative to root
func MarkedDirs(tb testing.TB, fs afero.Fs, root string) []string {
	tb.Helper()
	files, err := framework.DiscoverMarkerFiles(fs, root)
	if err != nil {
		tb.Fatalf("failed to discover marker files: %v", err)
	}

	dirs := make([]string, 0, len(files))
	for _, p := range files {
		ignored, err := marker.At(fs, filepath.Dir(p)).IsIgnored()
		if err != nil {
			tb.Fatalf("failed to read %s: %v", p, err)
		}
		if !ignored {
			continue
		}
		rel, err := framework.RelativePath(root, filepath.Dir(p))
		if err != nil {
			tb.Fatal(err)
		}
		dirs = append(dirs, rel)
	}
	sort.Strings(dirs)
	return dirs
}
