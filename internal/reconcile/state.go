package reconcile

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/schaermu/mbedsync/internal/manifest"
	"github.com/schaermu/mbedsync/internal/marker"
	"github.com/spf13/afero"
)

// Baseline is the snapshot of the manifest applied by the previous run
type Baseline struct {
	fs   afero.Fs
	path string
}

// NewBaseline returns a baseline handle stored at path
func NewBaseline(fs afero.Fs, path string) *Baseline {
	return &Baseline{fs: fs, path: path}
}

// BaselineFor returns the default baseline handle of a framework tree, kept in
// the marker file of the framework root
func BaselineFor(fs afero.Fs, frameworkRoot string) *Baseline {
	return NewBaseline(fs, filepath.Join(frameworkRoot, marker.FileName))
}

// Path returns the location of the snapshot
func (b *Baseline) Path() string {
	return b.path
}

// Load reads the snapshot. A missing snapshot is an empty manifest.
func (b *Baseline) Load() (*manifest.Manifest, error) {
	return manifest.ReadOptional(b.fs, b.path)
}

// Store replaces the snapshot with the raw bytes of m
func (b *Baseline) Store(m *manifest.Manifest, perm os.FileMode) error {
	return writeAtomic(b.fs, b.path, m.Raw, perm)
}

// Plan represents the marker operations to perform
type Plan struct {
	Ignore   []PathOp
	Unignore []PathOp
}

// PathOp represents one manifest entry resolved against the framework root
type PathOp struct {
	RelPath    string // entry as listed in the manifest
	Dir        string // absolute directory the marker controls
	MarkerPath string // marker file inside Dir
}

// Empty reports whether the plan touches no marker file
func (p *Plan) Empty() bool {
	return len(p.Ignore) == 0 && len(p.Unignore) == 0
}

// Summary counts what applying a plan actually changed
type Summary struct {
	Ignored        int `json:"ignored"`
	Unignored      int `json:"unignored"`
	AlreadyIgnored int `json:"already_ignored"`
	NotIgnored     int `json:"not_ignored"`
}

// Result describes a finished reconcile run
type Result struct {
	Plan         *Plan
	Summary      Summary
	BaselinePath string
	DryRun       bool
}

// writeAtomic writes data to dst through a temporary file in the same
// directory followed by a rename
func writeAtomic(fs afero.Fs, dst string, data []byte, perm os.FileMode) error {
	tmpFile, err := afero.TempFile(fs, filepath.Dir(dst), ".mbedsync-tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", dst, err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = fs.Remove(tmpPath)
	}() // cleanup on error

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("failed to write %s: %w", tmpPath, err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmpPath, err)
	}

	if err := fs.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("failed to set permissions on %s: %w", tmpPath, err)
	}

	if err := fs.Rename(tmpPath, dst); err != nil {
		return fmt.Errorf("failed to replace %s: %w", dst, err)
	}

	return nil
}
