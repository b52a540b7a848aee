package webdav

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestWebdavStartStop(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "photo_1.jpg"), []byte("jpeg"), 0600))

	w := New(context.Background(), 0, dir, zaptest.NewLogger(t).Sugar())
	assert.False(t, w.Stop())

	started, err := w.Start()
	require.NoError(t, err)
	assert.True(t, started)
	assert.True(t, w.Running())
	defer w.Stop()

	started, err = w.Start()
	require.NoError(t, err)
	assert.False(t, started)

	port := w.Addr().(*net.TCPAddr).Port
	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/photo_1.jpg", port))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "jpeg", string(body))

	assert.True(t, w.Stop())
	assert.False(t, w.Running())
	assert.Nil(t, w.Addr())
}
