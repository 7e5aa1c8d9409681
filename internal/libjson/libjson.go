// Package libjson installs project supplied library.json manifests into the
// PlatformIO dependency directory, overriding the ones shipped by the library.
package libjson

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// FileName is the PlatformIO library manifest name
const FileName = "library.json"

// PlatformIO build variables
const (
	EnvProjectDir = "PROJECT_DIR"
	EnvPIOEnv     = "PIOENV"
	EnvLibDepsDir = "PROJECT_LIBDEPS_DIR"
)

// Outcome describes what Apply did for a library
type Outcome string

const (
	Copied    Outcome = "copied"
	Unchanged Outcome = "unchanged"
	Skipped   Outcome = "skipped"
)

// ErrInvalidLibrary is returned for library names that are not a single
// path element
var ErrInvalidLibrary = errors.New("invalid library name")

// Environment holds the PlatformIO variables needed to locate both copies
type Environment struct {
	ProjectDir string
	PIOEnv     string
	LibDepsDir string
}

// EnvironmentFromMap reads the PlatformIO variables from env
func EnvironmentFromMap(env map[string]string) (Environment, error) {
	e := Environment{
		ProjectDir: env[EnvProjectDir],
		PIOEnv:     env[EnvPIOEnv],
		LibDepsDir: env[EnvLibDepsDir],
	}
	if err := e.Validate(); err != nil {
		return Environment{}, err
	}
	return e, nil
}

// Validate checks that every variable is set
func (e Environment) Validate() error {
	switch {
	case e.ProjectDir == "":
		return fmt.Errorf("%s is required", EnvProjectDir)
	case e.PIOEnv == "":
		return fmt.Errorf("%s is required", EnvPIOEnv)
	case e.LibDepsDir == "":
		return fmt.Errorf("%s is required", EnvLibDepsDir)
	}
	return nil
}

// SourcePath returns <PROJECT_DIR>/<customDir>/<library>/library.json
func (e Environment) SourcePath(customDir, library string) string {
	return filepath.Join(e.ProjectDir, customDir, library, FileName)
}

// InstallDir returns <PROJECT_LIBDEPS_DIR>/<PIOENV>/<library>
func (e Environment) InstallDir(library string) string {
	return filepath.Join(e.LibDepsDir, e.PIOEnv, library)
}

// Copier copies custom library.json files for one PlatformIO environment
type Copier struct {
	fs     afero.Fs
	env    Environment
	logger zerolog.Logger
}

// NewCopier creates a copier bound to env
func NewCopier(fs afero.Fs, env Environment, logger zerolog.Logger) *Copier {
	return &Copier{
		fs:     fs,
		env:    env,
		logger: logger.With().Str("component", "libjson").Str("pioenv", env.PIOEnv).Logger(),
	}
}

// Apply copies the custom library.json of library, found below customDir in
// the project, over the installed one. The copy only happens when the
// installed file is missing or differs. A library that is not installed is
// skipped with a warning.
func (c *Copier) Apply(customDir, library string) (Outcome, error) {
	if library == "" || library != filepath.Base(library) || library == "." || library == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidLibrary, library)
	}

	installDir := c.env.InstallDir(library)
	info, err := c.fs.Stat(installDir)
	if err != nil || !info.IsDir() {
		if err != nil && !os.IsNotExist(err) {
			return "", fmt.Errorf("failed to stat %s: %w", installDir, err)
		}
		c.logger.Warn().
			Str("library", library).
			Str("dir", installDir).
			Msg("library is not found in the build directory")
		return Skipped, nil
	}

	src := c.env.SourcePath(customDir, library)
	data, err := afero.ReadFile(c.fs, src)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", src, err)
	}
	if !json.Valid(data) {
		return "", fmt.Errorf("%s is not valid JSON", src)
	}

	dst := filepath.Join(installDir, FileName)
	current, err := afero.ReadFile(c.fs, dst)
	switch {
	case err == nil && bytes.Equal(current, data):
		c.logger.Debug().Str("library", library).Msg("library.json up to date")
		return Unchanged, nil
	case err != nil && !os.IsNotExist(err):
		return "", fmt.Errorf("failed to read %s: %w", dst, err)
	}

	srcInfo, err := c.fs.Stat(src)
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", src, err)
	}
	if err := copyFile(c.fs, dst, data, srcInfo.Mode().Perm()); err != nil {
		return "", err
	}

	c.logger.Info().Str("library", library).Str("dst", dst).Msg("overwriting library.json")
	return Copied, nil
}

// ApplyAll runs Apply for every library, stopping at the first error
func (c *Copier) ApplyAll(customDir string, libraries []string) (map[string]Outcome, error) {
	outcomes := make(map[string]Outcome, len(libraries))
	for _, lib := range libraries {
		outcome, err := c.Apply(customDir, lib)
		if err != nil {
			return outcomes, fmt.Errorf("library %s: %w", lib, err)
		}
		outcomes[lib] = outcome
	}
	return outcomes, nil
}

// copyFile replaces dst with data through a temp file in the same directory
func copyFile(fs afero.Fs, dst string, data []byte, perm os.FileMode) error {
	tmpFile, err := afero.TempFile(fs, filepath.Dir(dst), ".library-json-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", dst, err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = fs.Remove(tmpPath)
	}()

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
		return fmt.Errorf("failed to copy library.json to %s: %w", dst, err)
	}
	return nil
}
