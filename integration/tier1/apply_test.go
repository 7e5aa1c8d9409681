//go:build integration

package tier1

import (
	"context"
	"encoding/json"
	"reflect"
	"strings"
	"testing"
)

const (
	// Test paths (relative to the harness work dir)
	testManifest  = "project/.mbedignore"
	testFramework = "packages/framework-mbed"
	testBaseline  = testFramework + "/.mbedignore"
	testConfig    = ".config/mbedsync/config.yaml"
)

func TestTier1Apply(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	h := NewHarness(t)
	defer h.Cleanup()

	if err := h.Build(ctx); err != nil {
		t.Fatalf("build binary: %v", err)
	}

	setupFramework(t, h)

	// Run all scenarios as subtests, each building on the previous one
	t.Run("A_InitialApply", func(t *testing.T) {
		testInitialApply(t, h, ctx)
	})

	t.Run("B_UpdateApply", func(t *testing.T) {
		testUpdateApply(t, h, ctx)
	})

	t.Run("C_NoOpApply", func(t *testing.T) {
		testNoOpApply(t, h, ctx)
	})

	t.Run("D_DryRunMode", func(t *testing.T) {
		testDryRunMode(t, h, ctx)
	})

	t.Run("E_StatusDrift", func(t *testing.T) {
		testStatusDrift(t, h, ctx)
	})

	t.Run("F_UsageErrors", func(t *testing.T) {
		testUsageErrors(t, h, ctx)
	})

	t.Run("G_ConfigDrivenApply", func(t *testing.T) {
		testConfigDrivenApply(t, h, ctx)
	})

	t.Run("H_LibraryJSON", func(t *testing.T) {
		testLibraryJSON(t, h, ctx)
	})
}

// setupFramework lays out a trimmed mbed-os tree
func setupFramework(t *testing.T, h *Harness) {
	t.Helper()
	h.WriteTree(map[string]string{
		testFramework + "/features/nfc/source/nfc.c":                 "",
		testFramework + "/features/cryptocell/FEATURE_CRYPTOCELL310/": "",
		testFramework + "/features/frameworks/greentea-client/":       "",
		testFramework + "/connectivity/drivers/.mbedignore":           "TESTS/*",
		testFramework + "/connectivity/drivers/emac/emac.c":           "",
		testFramework + "/connectivity/lwipstack/lwip/core/ip.c":      "",
	})
}

func testInitialApply(t *testing.T, h *Harness, ctx context.Context) {
	h.WriteFile(testManifest, "features/nfc\nconnectivity/drivers\n")

	h.MustExec(ctx, "apply", h.Path(testManifest), h.Path(testFramework))

	assertMarked(t, h, "connectivity/drivers", "features/nfc")
	if got := h.ReadFile(testFramework + "/connectivity/drivers/.mbedignore"); got != "TESTS/*\n*\n" {
		t.Errorf("expected marker appended on its own line, got %q", got)
	}
	if got := h.ReadFile(testBaseline); got != "features/nfc\nconnectivity/drivers\n" {
		t.Errorf("expected baseline to copy the manifest, got %q", got)
	}
}

func testUpdateApply(t *testing.T, h *Harness, ctx context.Context) {
	h.WriteFile(testManifest, "features/cryptocell\r\nfeatures/frameworks\r\n")

	h.MustExec(ctx, "apply", h.Path(testManifest), h.Path(testFramework))

	assertMarked(t, h, "features/cryptocell", "features/frameworks")
	if h.FileExists(testFramework + "/features/nfc/.mbedignore") {
		t.Error("expected marker file of features/nfc to be deleted")
	}
	if got := h.ReadFile(testFramework + "/connectivity/drivers/.mbedignore"); got != "TESTS/*\n" {
		t.Errorf("expected other lines to survive unignore, got %q", got)
	}
}

func testNoOpApply(t *testing.T, h *Harness, ctx context.Context) {
	before := h.Snapshot(testFramework)

	h.MustExec(ctx, "apply", h.Path(testManifest), h.Path(testFramework))

	if after := h.Snapshot(testFramework); !reflect.DeepEqual(before, after) {
		t.Errorf("expected no changes on re-apply\nbefore: %v\nafter:  %v", before, after)
	}
}

func testDryRunMode(t *testing.T, h *Harness, ctx context.Context) {
	h.WriteFile(testManifest, "features/cryptocell\nconnectivity/lwipstack\n")
	before := h.Snapshot(testFramework)

	stdout, _ := h.MustExec(ctx, "apply", "--dry-run", h.Path(testManifest), h.Path(testFramework))

	want := "ignore   connectivity/lwipstack\nunignore features/frameworks\n"
	if stdout != want {
		t.Errorf("expected plan %q, got %q", want, stdout)
	}
	if after := h.Snapshot(testFramework); !reflect.DeepEqual(before, after) {
		t.Error("expected dry-run to leave the framework untouched")
	}

	// Restore the applied manifest for the following scenarios
	h.WriteFile(testManifest, "features/cryptocell\r\nfeatures/frameworks\r\n")
}

func testStatusDrift(t *testing.T, h *Harness, ctx context.Context) {
	stdout, _ := h.MustExec(ctx, "status", h.Path(testFramework), "-o", "json")

	var report struct {
		Ignored []string `json:"ignored"`
		Missing []string `json:"missing"`
	}
	if err := json.Unmarshal([]byte(stdout), &report); err != nil {
		t.Fatalf("parse status output: %v\n%s", err, stdout)
	}
	if want := []string{"features/cryptocell", "features/frameworks"}; !reflect.DeepEqual(report.Ignored, want) {
		t.Errorf("expected ignored %v, got %v", want, report.Ignored)
	}

	// A hand-deleted marker is reported and fails the status
	h.WriteFile(testFramework+"/features/frameworks/.mbedignore", "")
	_, _, code, err := h.Exec(ctx, "status", h.Path(testFramework))
	if err != nil {
		t.Fatal(err)
	}
	if code != 1 {
		t.Errorf("expected exit code 1 for drift, got %d", code)
	}

	// Re-applying an unchanged manifest does not repair markers
	h.WriteFile(testFramework+"/features/frameworks/.mbedignore", "*\n")
	h.MustExec(ctx, "status", h.Path(testFramework))
}

func testUsageErrors(t *testing.T, h *Harness, ctx context.Context) {
	before := h.Snapshot(testFramework)

	for _, args := range [][]string{
		{"apply", h.Path(testManifest)},
		{"apply", h.Path("project"), h.Path(testFramework)},
		{"apply", h.Path(testManifest), h.Path("packages/missing")},
	} {
		_, stderr, code, err := h.Exec(ctx, args...)
		if err != nil {
			t.Fatal(err)
		}
		if code != 2 {
			t.Errorf("%v: expected exit code 2, got %d", args, code)
		}
		if !strings.Contains(stderr, "ERROR:") || !strings.Contains(stderr, "Examples:") {
			t.Errorf("%v: expected error and usage on stderr, got:\n%s", args, stderr)
		}
	}

	if after := h.Snapshot(testFramework); !reflect.DeepEqual(before, after) {
		t.Error("expected failed invocations to leave the framework untouched")
	}
}

func testConfigDrivenApply(t *testing.T, h *Harness, ctx context.Context) {
	h.WriteFile(testConfig, "framework:\n  root: "+h.Path(testFramework)+"\n  manifest: "+h.Path(testManifest)+"\n")
	h.WriteFile(testManifest, "features/nfc\n")

	h.MustExec(ctx, "apply")

	assertMarked(t, h, "features/nfc")

	stdout, _ := h.MustExec(ctx, "check", "features/nfc/source/nfc.c")
	if !strings.Contains(stdout, "excluded") {
		t.Errorf("expected nfc.c to be excluded, got %q", stdout)
	}
	stdout, _ = h.MustExec(ctx, "check", "connectivity/drivers/emac/emac.c")
	if !strings.Contains(stdout, "included") {
		t.Errorf("expected emac.c to be included, got %q", stdout)
	}
}

func testLibraryJSON(t *testing.T, h *Harness, ctx context.Context) {
	h.WriteTree(map[string]string{
		"project/custom_library_json/mbed-os/library.json": `{"name": "mbed-os", "build": {"libArchive": false}}`,
		"project/.pio/libdeps/nucleo/mbed-os/library.json": `{"name": "mbed-os"}`,
	})
	h.SetEnv("PROJECT_DIR", h.Path("project"))
	h.SetEnv("PIOENV", "nucleo")

	stdout, _ := h.MustExec(ctx, "libjson", "--source-dir", "custom_library_json", "mbed-os", "lvgl")
	if stdout != "mbed-os: copied\nlvgl: skipped\n" {
		t.Errorf("unexpected outcomes: %q", stdout)
	}
	if got := h.ReadFile("project/.pio/libdeps/nucleo/mbed-os/library.json"); !strings.Contains(got, "libArchive") {
		t.Errorf("expected custom library.json to be installed, got %q", got)
	}

	stdout, _ = h.MustExec(ctx, "libjson", "--source-dir", "custom_library_json", "mbed-os")
	if stdout != "mbed-os: unchanged\n" {
		t.Errorf("expected second run to be a no-op, got %q", stdout)
	}
}

func assertMarked(t *testing.T, h *Harness, want ...string) {
	t.Helper()
	if got := h.MarkedDirs(testFramework); !reflect.DeepEqual(got, want) {
		t.Errorf("expected marked directories %v, got %v", want, got)
	}
}
