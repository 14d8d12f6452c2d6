package filex

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func chdir(t *testing.T, dir string) func() {
	t.Helper()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	return func() { _ = os.Chdir(old) }
}

func TestEnsureSubDir_CreatesDirectoryInCWD(t *testing.T) {
	tmp := t.TempDir()
	defer chdir(t, tmp)()

	got, err := EnsureSubDir("", "uploads")
	require.NoError(t, err)

	want := filepath.Join(tmp, "uploads")
	require.Equal(t, want, got)

	fi, err := os.Stat(want)
	require.NoError(t, err)
	require.True(t, fi.IsDir(), "should create a directory")

	if runtime.GOOS != "windows" {
		require.Equal(t, os.FileMode(0o700), fi.Mode().Perm()&0o700)
	}
}

func TestEnsureSubDir_Idempotent(t *testing.T) {
	tmp := t.TempDir()

	first, err := EnsureSubDir(tmp, "tryitout")
	require.NoError(t, err)

	second, err := EnsureSubDir(tmp, "tryitout")
	require.NoError(t, err)

	require.Equal(t, first, second)
	fi, err := os.Stat(second)
	require.NoError(t, err)
	require.True(t, fi.IsDir())
}

func TestEnsureSubDir_FailsIfFileWithSameNameExists(t *testing.T) {
	tmp := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tmp, "tryitout"), []byte("x"), 0o600))

	_, err := EnsureSubDir(tmp, "tryitout")
	require.Error(t, err, "should fail when a file exists with the same name")
}

func TestEnsureConfigDir(t *testing.T) {
	orig := userConfigDir
	t.Cleanup(func() { userConfigDir = orig })

	tmp := t.TempDir()
	userConfigDir = func() (string, error) { return tmp, nil }

	got, err := EnsureConfigDir("tryitout")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(tmp, "tryitout"), got)

	userConfigDir = func() (string, error) { return "", errors.New("no home") }
	_, err = EnsureConfigDir("tryitout")
	require.ErrorContains(t, err, "config dir")
}
