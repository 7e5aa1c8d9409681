package manifest

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

var (
	// ErrAbsolutePath is returned for entries that are not relative to the framework root
	ErrAbsolutePath = errors.New("path must be relative to the framework root")
	// ErrOutsideRoot is returned for entries that climb out of the framework root
	ErrOutsideRoot = errors.New("path escapes the framework root")
	// ErrRootPath is returned for entries that name the framework root itself
	ErrRootPath = errors.New("path names the framework root itself")
)

// Manifest is a flat list of directory paths relative to the framework root.
// Raw keeps the file content untouched so it can be copied byte for byte.
type Manifest struct {
	Raw     []byte
	Entries []string
}

// EntryError describes a manifest entry that cannot be applied
type EntryError struct {
	Line  int
	Entry string
	Err   error
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("line %d: %q: %v", e.Line, e.Entry, e.Err)
}

func (e *EntryError) Unwrap() error {
	return e.Err
}

// Parse builds a manifest from raw content. Entries are normalized and
// deduplicated, keeping the order of first appearance. Blank lines are dropped.
func Parse(data []byte) *Manifest {
	m := &Manifest{Raw: data, Entries: make([]string, 0)}
	seen := make(map[string]bool)
	for _, line := range SplitLines(data) {
		entry, ok := Normalize(line)
		if !ok || seen[entry] {
			continue
		}
		seen[entry] = true
		m.Entries = append(m.Entries, entry)
	}
	return m
}

// Read loads the manifest at path. The path must be a regular file.
func Read(fs afero.Fs, path string) (*Manifest, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}
	return Parse(data), nil
}

// ReadOptional loads the manifest at path, returning an empty manifest when
// the file does not exist.
func ReadOptional(fs afero.Fs, path string) (*Manifest, error) {
	info, err := fs.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Parse(nil), nil
		}
		return nil, fmt.Errorf("failed to stat manifest %s: %w", path, err)
	}
	if info.IsDir() {
		return Parse(nil), nil
	}
	return Read(fs, path)
}

// Normalize trims a manifest line and cleans it into a slash separated path.
// The second result is false for lines that carry no entry.
func Normalize(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", false
	}
	return path.Clean(strings.ReplaceAll(line, `\`, "/")), true
}

// ValidateEntry reports whether a normalized entry can be joined onto the
// framework root without leaving it.
func ValidateEntry(entry string) error {
	switch {
	case path.IsAbs(entry), filepath.IsAbs(filepath.FromSlash(entry)), filepath.VolumeName(filepath.FromSlash(entry)) != "":
		return ErrAbsolutePath
	case entry == ".":
		return ErrRootPath
	case entry == "..", strings.HasPrefix(entry, "../"):
		return ErrOutsideRoot
	}
	return nil
}

// Invalid returns an error for every entry that fails ValidateEntry
func (m *Manifest) Invalid() []*EntryError {
	var out []*EntryError
	for i, entry := range m.Entries {
		if err := ValidateEntry(entry); err != nil {
			out = append(out, &EntryError{Line: m.lineOf(entry, i), Entry: entry, Err: err})
		}
	}
	return out
}

// WithoutInvalid returns a copy holding only entries that pass ValidateEntry.
// Raw is shared with the receiver.
func (m *Manifest) WithoutInvalid() *Manifest {
	out := &Manifest{Raw: m.Raw, Entries: make([]string, 0, len(m.Entries))}
	for _, entry := range m.Entries {
		if ValidateEntry(entry) == nil {
			out.Entries = append(out.Entries, entry)
		}
	}
	return out
}

// Contains reports whether entry is part of the manifest after normalization
func (m *Manifest) Contains(entry string) bool {
	entry, ok := Normalize(entry)
	if !ok {
		return false
	}
	for _, e := range m.Entries {
		if e == entry {
			return true
		}
	}
	return false
}

// Set returns the entries as a set
func (m *Manifest) Set() map[string]struct{} {
	set := make(map[string]struct{}, len(m.Entries))
	for _, e := range m.Entries {
		set[e] = struct{}{}
	}
	return set
}

// Difference compares two manifests. removed holds the entries only present
// in previous, added the entries only present in desired. Both are sorted.
func Difference(previous, desired *Manifest) (removed, added []string) {
	prev := previous.Set()
	want := desired.Set()

	removed = make([]string, 0)
	for e := range prev {
		if _, ok := want[e]; !ok {
			removed = append(removed, e)
		}
	}
	added = make([]string, 0)
	for e := range want {
		if _, ok := prev[e]; !ok {
			added = append(added, e)
		}
	}

	sort.Strings(removed)
	sort.Strings(added)
	return removed, added
}

// lineOf finds the 1-based line number holding entry, falling back to the
// entry index when the raw content is not available.
func (m *Manifest) lineOf(entry string, idx int) int {
	for i, line := range SplitLines(m.Raw) {
		if e, ok := Normalize(line); ok && e == entry {
			return i + 1
		}
	}
	return idx + 1
}

// SplitLines splits text on \n, \r\n and \r without keeping the terminators.
// A trailing terminator does not produce an empty final line.
func SplitLines(data []byte) []string {
	lines := make([]string, 0)
	start := 0
	for i := 0; i < len(data); i++ {
		switch data[i] {
		case '\n':
			lines = append(lines, string(data[start:i]))
			start = i + 1
		case '\r':
			lines = append(lines, string(data[start:i]))
			if i+1 < len(data) && data[i+1] == '\n' {
				i++
			}
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, string(data[start:]))
	}
	return lines
}
