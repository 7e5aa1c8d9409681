package inspect

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/schaermu/mbedsync/internal/framework"
	"github.com/schaermu/mbedsync/internal/manifest"
	"github.com/schaermu/mbedsync/internal/marker"
	ignore "github.com/sabhiram/go-gitignore"
	"github.com/spf13/afero"
)

// Decision tells whether the Mbed build would skip a path
type Decision struct {
	Path     string `json:"path" yaml:"path"`
	Excluded bool   `json:"excluded" yaml:"excluded"`
	// MarkerFile is the file whose rules excluded the path
	MarkerFile string `json:"marker_file,omitempty" yaml:"marker_file,omitempty"`
}

// Checker evaluates the marker files of a framework tree as gitignore-style
// pattern lists, each relative to the directory holding it
type Checker struct {
	fs    afero.Fs
	root  string
	rules map[string]*ignore.GitIgnore
}

// NewChecker creates a checker for the framework tree at root
func NewChecker(fs afero.Fs, root string) *Checker {
	return &Checker{
		fs:    fs,
		root:  root,
		rules: make(map[string]*ignore.GitIgnore),
	}
}

// Excluded decides whether rel, a path relative to the framework root, is
// excluded from compilation. The first marker file from the root downwards
// that matches wins.
func (c *Checker) Excluded(rel string) (*Decision, error) {
	rel, ok := manifest.Normalize(rel)
	if !ok {
		rel = "."
	}
	if err := manifest.ValidateEntry(rel); err != nil && rel != "." {
		return nil, fmt.Errorf("cannot check %q: %w", rel, err)
	}

	decision := &Decision{Path: rel}
	if rel == "." {
		return decision, nil
	}

	isDir := false
	if info, err := c.fs.Stat(filepath.Join(c.root, filepath.FromSlash(rel))); err == nil {
		isDir = info.IsDir()
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	for _, dir := range framework.Ancestors(rel) {
		rules, err := c.load(dir)
		if err != nil {
			return nil, err
		}
		if rules == nil {
			continue
		}

		sub := strings.TrimPrefix(rel, dir+"/")
		if dir == "" {
			sub = rel
		}
		if isDir {
			sub += "/"
		}
		if rules.MatchesPath(sub) {
			decision.Excluded = true
			decision.MarkerFile = c.markerPath(dir)
			return decision, nil
		}
	}

	// A marked directory excludes its own contents
	if isDir {
		ignored, err := marker.At(c.fs, filepath.Join(c.root, filepath.FromSlash(rel))).IsIgnored()
		if err != nil {
			return nil, err
		}
		if ignored {
			decision.Excluded = true
			decision.MarkerFile = c.markerPath(rel)
		}
	}

	return decision, nil
}

// load compiles the marker file of dir, caching the result. A nil result
// means the directory has no marker file.
func (c *Checker) load(dir string) (*ignore.GitIgnore, error) {
	if rules, ok := c.rules[dir]; ok {
		return rules, nil
	}

	p := c.markerPath(dir)
	var rules *ignore.GitIgnore
	exists, err := marker.At(c.fs, filepath.Dir(p)).Exists()
	if err != nil {
		return nil, err
	}
	if exists {
		data, err := afero.ReadFile(c.fs, p)
		if err != nil {
			return nil, fmt.Errorf("failed to read marker file %s: %w", p, err)
		}
		rules = ignore.CompileIgnoreLines(manifest.SplitLines(data)...)
	}

	c.rules[dir] = rules
	return rules, nil
}

func (c *Checker) markerPath(dir string) string {
	return filepath.Join(c.root, filepath.FromSlash(path.Clean("./"+dir)), marker.FileName)
}
