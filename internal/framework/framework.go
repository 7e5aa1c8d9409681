package framework

import (
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/schaermu/mbedsync/internal/marker"
	"github.com/spf13/afero"
)

// IsMarkerFile returns true if the file is a per-directory marker file
func IsMarkerFile(p string) bool {
	return filepath.Base(p) == marker.FileName
}

// DiscoverMarkerFiles finds all marker files below root. The marker file of
// root itself holds the baseline and is not returned. Hidden directories
// (names starting with ".") are skipped.
func DiscoverMarkerFiles(fs afero.Fs, root string) ([]string, error) {
	var files []string

	err := afero.Walk(fs, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() {
			// Skip hidden directories (e.g. .git, .github)
			if p != root && strings.HasPrefix(info.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}

		if IsMarkerFile(p) && filepath.Dir(p) != filepath.Clean(root) {
			files = append(files, p)
		}
		return nil
	})

	if err != nil {
		return nil, err
	}

	return files, nil
}

// RelativePath returns the slash separated path of target relative to root
func RelativePath(root, target string) (string, error) {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

// Ancestors lists the directories from the root ("") down to the parent of
// rel, in that order. For example: a/b/c.c -> "", "a", "a/b"
func Ancestors(rel string) []string {
	rel = path.Clean(filepath.ToSlash(rel))
	dirs := []string{""}
	if rel == "." || rel == "" {
		return dirs
	}

	parts := strings.Split(rel, "/")
	for i := 1; i < len(parts); i++ {
		dirs = append(dirs, strings.Join(parts[:i], "/"))
	}
	return dirs
}
