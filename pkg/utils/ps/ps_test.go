package ps

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPS(t *testing.T) {
	m, err := MemoryStatus()
	require.NoError(t, err)
	assert.NotZero(t, m.Total)

	_, err = CPUStatus()
	require.NoError(t, err)
}

func TestDisk(t *testing.T) {
	dir := t.TempDir()
	d, err := DiskStatus(dir)
	require.NoError(t, err)
	assert.NotZero(t, d.Total)

	free, err := DiskFree(dir)
	require.NoError(t, err)
	assert.LessOrEqual(t, free, d.Total)
}

func TestDirDiskUsage(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.jpg"), make([]byte, 300), 0660))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.jpg"), make([]byte, 200), 0660))

	size, err := DirDiskUsage(dir)
	require.NoError(t, err)
	assert.Equal(t, int64(500), size)
}
