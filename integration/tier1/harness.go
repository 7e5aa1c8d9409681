//go:build integration

package tier1

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/schaermu/mbedsync/internal/testutil"
	"github.com/spf13/afero"
)

const defaultTimeout = 5 * time.Minute

// Harness builds the mbedsync binary once and runs it against a scratch
// directory holding a PlatformIO project and an mbed-os framework
type Harness struct {
	t       *testing.T
	binary  string
	workDir string
	env     []string
	keep    bool
}

// NewHarness creates a new test harness
func NewHarness(t *testing.T) *Harness {
	t.Helper()

	workDir := t.TempDir()
	keep := os.Getenv("INTEGRATION_KEEP_WORKDIR") == "1"
	if keep {
		dir, err := os.MkdirTemp("", "mbedsync-tier1-*")
		if err != nil {
			t.Fatalf("create work dir: %v", err)
		}
		workDir = dir
	}

	return &Harness{
		t:       t,
		binary:  filepath.Join(t.TempDir(), "mbedsync"),
		workDir: workDir,
		env: []string{
			"HOME=" + workDir,
			"XDG_CONFIG_HOME=" + filepath.Join(workDir, ".config"),
			"PATH=" + os.Getenv("PATH"),
		},
		keep: keep,
	}
}

// Build compiles the binary under test
func (h *Harness) Build(ctx context.Context) error {
	h.t.Helper()

	projectRoot, err := testutil.FindProjectRoot()
	if err != nil {
		return fmt.Errorf("get project root: %w", err)
	}

	h.t.Logf("Building %s", h.binary)
	cmd := exec.CommandContext(ctx, "go", "build", "-o", h.binary, "./cmd/mbedsync")
	cmd.Dir = projectRoot
	cmd.Stdout = &testWriter{t: h.t, prefix: "[build] "}
	cmd.Stderr = &testWriter{t: h.t, prefix: "[build] "}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("go build: %w", err)
	}
	return nil
}

// Cleanup reports the work dir when it is kept for inspection
func (h *Harness) Cleanup() {
	h.t.Helper()
	if h.keep {
		h.t.Logf("INTEGRATION_KEEP_WORKDIR=1, keeping %s", h.workDir)
	}
}

// SetEnv adds an environment variable to every following Exec
func (h *Harness) SetEnv(key, value string) {
	h.env = append(h.env, key+"="+value)
}

// Path resolves a slash separated path relative to the work dir
func (h *Harness) Path(rel string) string {
	return filepath.Join(h.workDir, filepath.FromSlash(rel))
}

// Exec runs the binary with args
func (h *Harness) Exec(ctx context.Context, args ...string) (string, string, int, error) {
	h.t.Helper()

	cmd := exec.CommandContext(ctx, h.binary, args...)
	cmd.Dir = h.workDir
	cmd.Env = h.env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return "", "", 0, fmt.Errorf("exec failed: %w", err)
		}
	}

	return stdout.String(), stderr.String(), exitCode, nil
}

// MustExec runs the binary and fails the test if it returns non-zero
func (h *Harness) MustExec(ctx context.Context, args ...string) (string, string) {
	h.t.Helper()
	stdout, stderr, exitCode, err := h.Exec(ctx, args...)
	if err != nil {
		h.t.Fatalf("exec failed: %v", err)
	}
	if exitCode != 0 {
		h.t.Fatalf("command failed with exit code %d\nstdout: %s\nstderr: %s\nargs: %v",
			exitCode, stdout, stderr, args)
	}
	return stdout, stderr
}

// WriteTree lays out files below the work dir
func (h *Harness) WriteTree(files map[string]string) {
	h.t.Helper()
	testutil.WriteTree(h.t, afero.NewOsFs(), h.workDir, files)
}

// WriteFile writes a file relative to the work dir
func (h *Harness) WriteFile(rel, content string) {
	h.t.Helper()
	h.WriteTree(map[string]string{rel: content})
}

// ReadFile reads a file relative to the work dir
func (h *Harness) ReadFile(rel string) string {
	h.t.Helper()
	data, err := os.ReadFile(h.Path(rel))
	if err != nil {
		h.t.Fatalf("read %s: %v", rel, err)
	}
	return string(data)
}

// FileExists checks if a file exists relative to the work dir
func (h *Harness) FileExists(rel string) bool {
	h.t.Helper()
	_, err := os.Stat(h.Path(rel))
	return err == nil
}

// MarkedDirs lists the directories of the framework below rel that are
// currently excluded from the build
func (h *Harness) MarkedDirs(rel string) []string {
	h.t.Helper()
	return testutil.MarkedDirs(h.t, afero.NewOsFs(), h.Path(rel))
}

// Snapshot returns the content of every file below rel
func (h *Harness) Snapshot(rel string) map[string]string {
	h.t.Helper()
	files := make(map[string]string)
	root := h.Path(rel)
	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		files[strings.TrimPrefix(p, root)] = string(data)
		return nil
	})
	if err != nil {
		h.t.Fatalf("snapshot %s: %v", rel, err)
	}
	return files
}

// testWriter wraps test logging for command output
type testWriter struct {
	t      *testing.T
	prefix string
}

func (w *testWriter) Write(p []byte) (n int, err error) {
	lines := strings.Split(string(p), "\n")
	for _, line := range lines {
		if line != "" {
			w.t.Log(w.prefix + line)
		}
	}
	return len(p), nil
}

var _ io.Writer = (*testWriter)(nil)
