package marker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDir(t *testing.T, fs afero.Fs, dir string) {
	t.Helper()
	require.NoError(t, fs.MkdirAll(dir, 0o755))
}

func readMarker(t *testing.T, fs afero.Fs, dir string) string {
	t.Helper()
	data, err := afero.ReadFile(fs, filepath.Join(dir, FileName))
	require.NoError(t, err)
	return string(data)
}

func TestIsIgnored(t *testing.T) {
	tests := []struct {
		name    string
		content *string
		want    bool
	}{
		{name: "no file", content: nil, want: false},
		{name: "empty file", content: strPtr(""), want: false},
		{name: "marker only", content: strPtr("*\n"), want: true},
		{name: "marker without newline", content: strPtr("*"), want: true},
		{name: "marker among patterns", content: strPtr("*.txt\n*\nTESTS/\n"), want: true},
		{name: "crlf", content: strPtr("docs\r\n*\r\n"), want: true},
		{name: "padded marker is not a marker", content: strPtr(" * \n"), want: false},
		{name: "patterns only", content: strPtr("*.c\n"), want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			newDir(t, fs, "/fw/a")
			if tc.content != nil {
				require.NoError(t, afero.WriteFile(fs, "/fw/a/.mbedignore", []byte(*tc.content), 0o644))
			}

			got, err := At(fs, "/fw/a").IsIgnored()
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestIgnore_CreatesFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	newDir(t, fs, "/fw/a/b")

	f := At(fs, "/fw/a/b")
	changed, err := f.Ignore()
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "/fw/a/b/.mbedignore", f.Path())
	assert.Equal(t, "*\n", readMarker(t, fs, "/fw/a/b"))
}

func TestIgnore_AppendsAfterExistingContent(t *testing.T) {
	tests := []struct {
		name     string
		existing string
		want     string
	}{
		{name: "terminated", existing: "TESTS/*\n", want: "TESTS/*\n*\n"},
		{name: "unterminated", existing: "TESTS/*", want: "TESTS/*\n*\n"},
		{name: "cr terminated", existing: "TESTS/*\r", want: "TESTS/*\r*\n"},
		{name: "crlf terminated", existing: "TESTS/*\r\n", want: "TESTS/*\r\n*\n"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			newDir(t, fs, "/fw/a")
			require.NoError(t, afero.WriteFile(fs, "/fw/a/.mbedignore", []byte(tc.existing), 0o644))

			changed, err := At(fs, "/fw/a").Ignore()
			require.NoError(t, err)
			assert.True(t, changed)
			assert.Equal(t, tc.want, readMarker(t, fs, "/fw/a"))
		})
	}
}

func TestIgnore_AlreadyMarkedIsNoop(t *testing.T) {
	fs := afero.NewMemMapFs()
	newDir(t, fs, "/fw/a")
	require.NoError(t, afero.WriteFile(fs, "/fw/a/.mbedignore", []byte("*"), 0o644))

	f := At(fs, "/fw/a")
	for i := 0; i < 3; i++ {
		changed, err := f.Ignore()
		require.NoError(t, err)
		assert.False(t, changed)
	}

	assert.Equal(t, "*", readMarker(t, fs, "/fw/a"))
	n, err := f.Count()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestIgnore_MissingDirectory(t *testing.T) {
	fs := afero.NewMemMapFs()

	_, err := At(fs, "/fw/missing").Ignore()
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)

	exists, err := afero.Exists(fs, "/fw/missing/.mbedignore")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestIgnore_NotADirectory(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/fw/file", []byte("x"), 0o644))

	_, err := At(fs, "/fw/file").Ignore()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a directory")
}

func TestUnignore_DeletesFileLeftEmpty(t *testing.T) {
	fs := afero.NewMemMapFs()
	newDir(t, fs, "/fw/a")
	require.NoError(t, afero.WriteFile(fs, "/fw/a/.mbedignore", []byte("*\n"), 0o644))

	changed, err := At(fs, "/fw/a").Unignore()
	require.NoError(t, err)
	assert.True(t, changed)

	exists, err := afero.Exists(fs, "/fw/a/.mbedignore")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestUnignore_KeepsOtherLines(t *testing.T) {
	fs := afero.NewMemMapFs()
	newDir(t, fs, "/fw/a")
	require.NoError(t, afero.WriteFile(fs, "/fw/a/.mbedignore", []byte("TESTS/*\r\n*\r\nunittests/*"), 0o644))

	changed, err := At(fs, "/fw/a").Unignore()
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "TESTS/*\nunittests/*\n", readMarker(t, fs, "/fw/a"))
}

func TestUnignore_BlankLineCountsAsContent(t *testing.T) {
	fs := afero.NewMemMapFs()
	newDir(t, fs, "/fw/a")
	require.NoError(t, afero.WriteFile(fs, "/fw/a/.mbedignore", []byte("\n*\n"), 0o644))

	changed, err := At(fs, "/fw/a").Unignore()
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "\n", readMarker(t, fs, "/fw/a"))
}

func TestUnignore_RemovesDuplicates(t *testing.T) {
	fs := afero.NewMemMapFs()
	newDir(t, fs, "/fw/a")
	require.NoError(t, afero.WriteFile(fs, "/fw/a/.mbedignore", []byte("*\nfoo\n*\n"), 0o644))

	f := At(fs, "/fw/a")
	n, err := f.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	changed, err := f.Unignore()
	require.NoError(t, err)
	assert.True(t, changed)

	ignored, err := f.IsIgnored()
	require.NoError(t, err)
	assert.False(t, ignored)
	assert.Equal(t, "foo\n", readMarker(t, fs, "/fw/a"))
}

func TestUnignore_NotMarkedIsNoop(t *testing.T) {
	fs := afero.NewMemMapFs()
	newDir(t, fs, "/fw/a")
	require.NoError(t, afero.WriteFile(fs, "/fw/a/.mbedignore", []byte("TESTS/*"), 0o644))

	changed, err := At(fs, "/fw/a").Unignore()
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, "TESTS/*", readMarker(t, fs, "/fw/a"))

	changed, err = At(fs, "/fw/b").Unignore()
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestIgnoreUnignoreRoundTrip_OS(t *testing.T) {
	dir := t.TempDir()
	fs := afero.NewOsFs()

	f := At(fs, dir)
	changed, err := f.Ignore()
	require.NoError(t, err)
	assert.True(t, changed)

	data, err := os.ReadFile(filepath.Join(dir, FileName))
	require.NoError(t, err)
	assert.Equal(t, "*\n", string(data))

	changed, err = f.Unignore()
	require.NoError(t, err)
	assert.True(t, changed)

	_, err = os.Stat(filepath.Join(dir, FileName))
	assert.True(t, os.IsNotExist(err))
}

func strPtr(s string) *string {
	return &s
}
