package marker

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/schaermu/mbedsync/internal/manifest"
	"github.com/spf13/afero"
)

const (
	// FileName is the per-directory ignore file read by the Mbed build tools
	FileName = ".mbedignore"
	// Line excludes everything below the directory holding the marker file
	Line = "*"
)

// File is the marker file of a single directory
type File struct {
	fs   afero.Fs
	dir  string
	path string
}

// At returns the marker file belonging to dir
func At(fs afero.Fs, dir string) *File {
	return &File{
		fs:   fs,
		dir:  dir,
		path: filepath.Join(dir, FileName),
	}
}

// Path returns the location of the marker file
func (f *File) Path() string {
	return f.path
}

// Dir returns the directory the marker file controls
func (f *File) Dir() string {
	return f.dir
}

// Exists reports whether the marker file is present as a regular file
func (f *File) Exists() (bool, error) {
	_, exists, err := f.read()
	return exists, err
}

// Count returns how many marker lines the file holds. A missing file has none.
func (f *File) Count() (int, error) {
	data, exists, err := f.read()
	if err != nil || !exists {
		return 0, err
	}

	n := 0
	for _, line := range manifest.SplitLines(data) {
		if line == Line {
			n++
		}
	}
	return n, nil
}

// IsIgnored reports whether the directory is excluded from compilation
func (f *File) IsIgnored() (bool, error) {
	n, err := f.Count()
	return n > 0, err
}

// Ignore appends the marker line unless one is already present. The boolean
// result reports whether the file was modified.
func (f *File) Ignore() (bool, error) {
	info, err := f.fs.Stat(f.dir)
	if err != nil {
		return false, fmt.Errorf("failed to mark %s ignored: %w", f.dir, err)
	}
	if !info.IsDir() {
		return false, fmt.Errorf("failed to mark %s ignored: not a directory", f.dir)
	}

	data, _, err := f.read()
	if err != nil {
		return false, err
	}
	for _, line := range manifest.SplitLines(data) {
		if line == Line {
			return false, nil
		}
	}

	// An unterminated last line would otherwise absorb the marker
	entry := Line + "\n"
	if n := len(data); n > 0 && data[n-1] != '\n' && data[n-1] != '\r' {
		entry = "\n" + entry
	}

	file, err := f.fs.OpenFile(f.path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return false, fmt.Errorf("failed to open marker file %s: %w", f.path, err)
	}
	if _, err := file.WriteString(entry); err != nil {
		_ = file.Close()
		return false, fmt.Errorf("failed to append to marker file %s: %w", f.path, err)
	}
	if err := file.Close(); err != nil {
		return false, fmt.Errorf("failed to close marker file %s: %w", f.path, err)
	}
	return true, nil
}

// Unignore removes the marker line. Every marker line is dropped, so a file
// edited by hand to carry duplicates still ends up unmarked. A file left
// without lines is deleted; otherwise the remaining lines are rewritten, each
// terminated by a newline. The boolean result reports whether the file was
// modified.
func (f *File) Unignore() (bool, error) {
	data, exists, err := f.read()
	if err != nil || !exists {
		return false, err
	}

	lines := manifest.SplitLines(data)
	remaining := make([]string, 0, len(lines))
	for _, line := range lines {
		if line != Line {
			remaining = append(remaining, line)
		}
	}
	if len(remaining) == len(lines) {
		return false, nil
	}

	if len(remaining) == 0 {
		if err := f.fs.Remove(f.path); err != nil {
			return false, fmt.Errorf("failed to remove marker file %s: %w", f.path, err)
		}
		return true, nil
	}

	content := strings.Join(remaining, "\n") + "\n"
	if err := afero.WriteFile(f.fs, f.path, []byte(content), 0o644); err != nil {
		return false, fmt.Errorf("failed to rewrite marker file %s: %w", f.path, err)
	}
	return true, nil
}

// read returns the content of the marker file. A missing file, or a path that
// is not a regular file, reads as absent.
func (f *File) read() ([]byte, bool, error) {
	info, err := f.fs.Stat(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to stat marker file %s: %w", f.path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, false, nil
	}

	data, err := afero.ReadFile(f.fs, f.path)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read marker file %s: %w", f.path, err)
	}
	return data, true, nil
}
