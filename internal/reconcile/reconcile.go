package reconcile

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/schaermu/mbedsync/internal/manifest"
	"github.com/schaermu/mbedsync/internal/marker"
	"github.com/spf13/afero"
)

// Request describes one reconcile invocation
type Request struct {
	ManifestPath  string
	FrameworkRoot string
	// Baseline defaults to the marker file of the framework root when nil
	Baseline *Baseline
	DryRun   bool
}

// Engine brings the ignore markers of a framework tree in line with a manifest
type Engine struct {
	fs     afero.Fs
	logger zerolog.Logger
}

// NewEngine creates a new reconcile engine
func NewEngine(fs afero.Fs, logger zerolog.Logger) *Engine {
	return &Engine{
		fs:     fs,
		logger: logger.With().Str("component", "reconcile").Logger(),
	}
}

// Reconcile applies the manifest at manifestPath to the framework tree at
// frameworkRoot, using the default baseline location
func (e *Engine) Reconcile(ctx context.Context, manifestPath, frameworkRoot string) error {
	_, err := e.Run(ctx, Request{
		ManifestPath:  manifestPath,
		FrameworkRoot: frameworkRoot,
	})
	return err
}

// Run executes the complete reconcile process
func (e *Engine) Run(ctx context.Context, req Request) (*Result, error) {
	e.logger.Info().
		Str("manifest", req.ManifestPath).
		Str("framework", req.FrameworkRoot).
		Bool("dry_run", req.DryRun).
		Msg("starting reconcile")

	if err := e.validate(req); err != nil {
		return nil, err
	}

	desired, err := manifest.Read(e.fs, req.ManifestPath)
	if err != nil {
		return nil, err
	}
	if invalid := desired.Invalid(); len(invalid) > 0 {
		errs := make([]error, 0, len(invalid))
		for _, entryErr := range invalid {
			errs = append(errs, entryErr)
		}
		return nil, &ConfigurationError{
			Param:  "manifest",
			Path:   req.ManifestPath,
			Reason: "contains unusable entries",
			Err:    errors.Join(errs...),
		}
	}

	baseline := req.Baseline
	if baseline == nil {
		baseline = BaselineFor(e.fs, req.FrameworkRoot)
	}

	// Load previous state
	previous, err := baseline.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load baseline: %w", err)
	}
	for _, entryErr := range previous.Invalid() {
		e.logger.Warn().
			Str("baseline", baseline.Path()).
			Err(entryErr).
			Msg("skipping unusable baseline entry")
	}
	previous = previous.WithoutInvalid()

	plan := e.BuildPlan(req.FrameworkRoot, previous, desired)

	e.logger.Info().
		Int("ignore", len(plan.Ignore)).
		Int("unignore", len(plan.Unignore)).
		Msg("reconcile plan")

	result := &Result{
		Plan:         plan,
		BaselinePath: baseline.Path(),
		DryRun:       req.DryRun,
	}

	// check for dry-run mode
	if req.DryRun {
		e.logPlanDetails(plan)
		e.logger.Info().Msg("dry-run complete, no changes applied")
		return result, nil
	}

	// Nothing has been written so far; stop here if the caller gave up
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	summary, err := e.applyPlan(plan)
	result.Summary = summary
	if err != nil {
		return result, fmt.Errorf("failed to apply reconcile plan: %w", err)
	}

	info, err := e.fs.Stat(req.ManifestPath)
	if err != nil {
		return result, fmt.Errorf("failed to stat manifest: %w", err)
	}
	if err := baseline.Store(desired, info.Mode().Perm()); err != nil {
		return result, fmt.Errorf("failed to save baseline: %w", err)
	}

	e.logger.Info().
		Int("ignored", summary.Ignored).
		Int("unignored", summary.Unignored).
		Int("already_ignored", summary.AlreadyIgnored).
		Int("not_ignored", summary.NotIgnored).
		Str("baseline", baseline.Path()).
		Msg("reconcile completed successfully")

	return result, nil
}

// BuildPlan computes the marker operations needed to move from previous to desired
func (e *Engine) BuildPlan(frameworkRoot string, previous, desired *manifest.Manifest) *Plan {
	removed, added := manifest.Difference(previous, desired)

	plan := &Plan{
		Ignore:   make([]PathOp, 0, len(added)),
		Unignore: make([]PathOp, 0, len(removed)),
	}
	for _, rel := range added {
		plan.Ignore = append(plan.Ignore, e.pathOp(frameworkRoot, rel))
	}
	for _, rel := range removed {
		plan.Unignore = append(plan.Unignore, e.pathOp(frameworkRoot, rel))
	}
	return plan
}

func (e *Engine) pathOp(frameworkRoot, rel string) PathOp {
	dir := filepath.Join(frameworkRoot, filepath.FromSlash(rel))
	return PathOp{
		RelPath:    rel,
		Dir:        dir,
		MarkerPath: marker.At(e.fs, dir).Path(),
	}
}

// validate checks the request before anything is read or written
func (e *Engine) validate(req Request) error {
	info, err := e.fs.Stat(req.ManifestPath)
	if err != nil || !info.Mode().IsRegular() {
		return &ConfigurationError{
			Param:  "manifest",
			Path:   req.ManifestPath,
			Reason: "input .mbedignore is not a file",
			Err:    err,
		}
	}

	info, err = e.fs.Stat(req.FrameworkRoot)
	if err != nil || !info.IsDir() {
		return &ConfigurationError{
			Param:  "framework",
			Path:   req.FrameworkRoot,
			Reason: "the specified path to the mbed-os framework is not a directory",
			Err:    err,
		}
	}

	return nil
}

// applyPlan executes the reconcile plan
func (e *Engine) applyPlan(plan *Plan) (Summary, error) {
	var summary Summary

	for _, op := range plan.Ignore {
		changed, err := marker.At(e.fs, op.Dir).Ignore()
		if err != nil {
			return summary, fmt.Errorf("failed to ignore %s: %w", op.RelPath, err)
		}
		if !changed {
			e.logger.Debug().Str("path", op.RelPath).Msg("already ignored")
			summary.AlreadyIgnored++
			continue
		}
		e.logger.Info().Str("path", op.RelPath).Str("marker", op.MarkerPath).Msg("ignoring directory")
		summary.Ignored++
	}

	for _, op := range plan.Unignore {
		changed, err := marker.At(e.fs, op.Dir).Unignore()
		if err != nil {
			return summary, fmt.Errorf("failed to unignore %s: %w", op.RelPath, err)
		}
		if !changed {
			e.logger.Debug().Str("path", op.RelPath).Msg("not ignored")
			summary.NotIgnored++
			continue
		}
		e.logger.Info().Str("path", op.RelPath).Str("marker", op.MarkerPath).Msg("unignoring directory")
		summary.Unignored++
	}

	return summary, nil
}

// logPlanDetails logs detailed plan information for dry-run
func (e *Engine) logPlanDetails(plan *Plan) {
	for _, op := range plan.Ignore {
		e.logger.Info().Str("path", op.RelPath).Str("marker", op.MarkerPath).Msg("[dry-run] would ignore")
	}
	for _, op := range plan.Unignore {
		e.logger.Info().Str("path", op.RelPath).Str("marker", op.MarkerPath).Msg("[dry-run] would unignore")
	}
}
