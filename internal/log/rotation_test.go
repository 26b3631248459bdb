package log

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestRotatingFile_Rotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "sso.log")
	rf, err := NewRotatingFile(path, 10, 2)
	require.NoError(t, err)
	defer rf.Close()

	for _, line := range []string{"first\n", "second\n", "third\n", "fourth\n"} {
		_, err := rf.Write([]byte(line))
		require.NoError(t, err)
	}

	assert.Equal(t, "fourth\n", readFile(t, path))
	assert.Equal(t, "third\n", readFile(t, path+".1"))
	assert.Equal(t, "second\n", readFile(t, path+".2"))
	_, err = os.Stat(path + ".3")
	assert.True(t, os.IsNotExist(err))
}

func TestRotatingFile_NoBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sso.log")
	rf, err := NewRotatingFile(path, 8, 0)
	require.NoError(t, err)
	defer rf.Close()

	_, err = rf.Write([]byte("aaaaaa\n"))
	require.NoError(t, err)
	_, err = rf.Write([]byte("bbbbbb\n"))
	require.NoError(t, err)

	assert.Equal(t, "bbbbbb\n", readFile(t, path))
	_, err = os.Stat(path + ".1")
	assert.True(t, os.IsNotExist(err))
}

func TestRotatingFile_Permissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix permissions")
	}
	path := filepath.Join(t.TempDir(), "sso.log")
	rf, err := NewRotatingFile(path, 0, -1)
	require.NoError(t, err)
	require.NoError(t, rf.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestRotatingFile_WriteAfterClose(t *testing.T) {
	rf, err := NewRotatingFile(filepath.Join(t.TempDir(), "sso.log"), 0, 1)
	require.NoError(t, err)
	require.NoError(t, rf.Close())
	require.NoError(t, rf.Close())

	_, err = rf.Write([]byte("late"))
	assert.ErrorIs(t, err, os.ErrClosed)
}
