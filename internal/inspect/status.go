package inspect

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/schaermu/mbedsync/internal/framework"
	"github.com/schaermu/mbedsync/internal/manifest"
	"github.com/schaermu/mbedsync/internal/marker"
	"github.com/spf13/afero"
)

// Report compares the baseline of a framework tree with the markers on disk
type Report struct {
	FrameworkRoot string   `json:"framework_root" yaml:"framework_root"`
	BaselinePath  string   `json:"baseline_path" yaml:"baseline_path"`
	Baseline      []string `json:"baseline" yaml:"baseline"`
	Ignored       []string `json:"ignored" yaml:"ignored"`
	// Missing lists baseline entries whose directory is not marked
	Missing []string `json:"missing" yaml:"missing"`
	// Unmanaged lists marked directories the baseline does not know about
	Unmanaged []string `json:"unmanaged" yaml:"unmanaged"`
	// Duplicates lists marker files holding more than one marker line
	Duplicates []string `json:"duplicates" yaml:"duplicates"`
}

// InSync reports whether every baseline entry is marked exactly once
func (r *Report) InSync() bool {
	return len(r.Missing) == 0 && len(r.Duplicates) == 0
}

// Inspect builds a Report for the framework tree at root. An empty
// baselinePath selects the marker file of root.
func Inspect(fs afero.Fs, root, baselinePath string) (*Report, error) {
	if baselinePath == "" {
		baselinePath = filepath.Join(root, marker.FileName)
	}

	baseline, err := manifest.ReadOptional(fs, baselinePath)
	if err != nil {
		return nil, fmt.Errorf("failed to load baseline: %w", err)
	}
	baseline = baseline.WithoutInvalid()

	files, err := framework.DiscoverMarkerFiles(fs, root)
	if err != nil {
		return nil, fmt.Errorf("failed to discover marker files: %w", err)
	}

	report := &Report{
		FrameworkRoot: root,
		BaselinePath:  baselinePath,
		Baseline:      append([]string{}, baseline.Entries...),
		Ignored:       make([]string, 0),
		Missing:       make([]string, 0),
		Unmanaged:     make([]string, 0),
		Duplicates:    make([]string, 0),
	}
	sort.Strings(report.Baseline)

	ignored := make(map[string]bool)
	for _, p := range files {
		n, err := marker.At(fs, filepath.Dir(p)).Count()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			continue
		}

		rel, err := framework.RelativePath(root, filepath.Dir(p))
		if err != nil {
			return nil, fmt.Errorf("failed to compute relative path: %w", err)
		}
		ignored[rel] = true
		report.Ignored = append(report.Ignored, rel)
		if n > 1 {
			report.Duplicates = append(report.Duplicates, rel)
		}
	}
	sort.Strings(report.Ignored)
	sort.Strings(report.Duplicates)

	// Baseline entries below hidden directories are not discovered by the
	// walk, so check them directly
	for _, entry := range report.Baseline {
		if ignored[entry] {
			continue
		}
		marked, err := marker.At(fs, filepath.Join(root, filepath.FromSlash(entry))).IsIgnored()
		if err != nil {
			return nil, err
		}
		if !marked {
			report.Missing = append(report.Missing, entry)
		}
	}

	for _, rel := range report.Ignored {
		if !baseline.Contains(rel) {
			report.Unmanaged = append(report.Unmanaged, rel)
		}
	}

	return report, nil
}
