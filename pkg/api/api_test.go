package api

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"timelapse-cam/pkg/camera"
	"timelapse-cam/pkg/camera/cameratest"
	"timelapse-cam/pkg/storage"
	"timelapse-cam/pkg/webdav"
)

type fixture struct {
	router *gin.Engine
	engine *camera.Engine
	driver *cameratest.Driver
	store  *storage.Store
}

func newFixture(t *testing.T, opts Options, lengths ...int) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t).Sugar()

	f := &fixture{driver: cameratest.NewDriver(lengths...)}
	conf := camera.NewConfigurator(f.driver, camera.DefaultBoard(), logger,
		camera.WithSleep(func(time.Duration) {}),
		camera.WithRestart(func(error) {}),
	)
	f.engine = camera.NewEngine(conf, camera.DefaultSettings(), logger)
	_, err := f.engine.Init()
	require.NoError(t, err)
	f.driver.ResetCalls()

	f.store, err = storage.New(t.TempDir(), logger, storage.WithDiskFree(func(string) (uint64, error) { return 1 << 30, nil }))
	require.NoError(t, err)

	f.router = gin.New()
	New(f.engine, f.store, logger, opts).Register(f.router)

	return f
}

func (f *fixture) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func jpegBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, 32, 24)), nil))
	return buf.Bytes()
}

func TestGetCamera(t *testing.T) {
	f := newFixture(t, Options{})

	w := f.do(http.MethodGet, "/api/camera", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"idle"`)
	assert.Contains(t, w.Body.String(), `"size":"VGA"`)
	assert.Contains(t, w.Body.String(), `"width":640`)
}

func TestCapture(t *testing.T) {
	f := newFixture(t, Options{}, 50, 300)

	w := f.do(http.MethodPost, "/api/camera/capture", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	assert.Len(t, w.Body.Bytes(), 300)
	assert.Len(t, w.Header().Get(sessionHeader), 8)
	assert.Zero(t, f.driver.Outstanding())
}

func TestCaptureFailure(t *testing.T) {
	f := newFixture(t, Options{}, cameratest.Null)

	w := f.do(http.MethodPost, "/api/camera/capture", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, 1, f.engine.Stats().ConsecutiveFailures)
	assert.False(t, f.engine.Busy())
}

func TestUpdateSettings(t *testing.T) {
	f := newFixture(t, Options{})

	w := f.do(http.MethodPut, "/api/camera/settings", `{"quality": 20}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 20, f.engine.Quality())
	assert.Equal(t, []string{"stop", "start"}, f.driver.CallLog("stop", "start"))

	f.driver.ResetCalls()
	w = f.do(http.MethodPut, "/api/camera/settings", `{"quality": 20, "frameSize": 4}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, camera.FrameSizeXGA, f.engine.FrameSize())
	assert.Equal(t, []string{"stop", "start", "stop", "start"}, f.driver.CallLog("stop", "start"))

	f.driver.ResetCalls()
	w = f.do(http.MethodPut, "/api/camera/settings", `{"frameSize": 42}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, camera.FrameSizeQVGA, f.engine.FrameSize())
}

func TestUpdateSettingsRejected(t *testing.T) {
	f := newFixture(t, Options{})

	for _, body := range []string{`{"quality": 64, "frameSize": 1}`, `{}`, `{"frameSize": -1}`, `not json`} {
		w := f.do(http.MethodPut, "/api/camera/settings", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
	assert.Empty(t, f.driver.Calls)
	assert.Equal(t, camera.DefaultSettings(), f.engine.Settings())
}

func TestPhotos(t *testing.T) {
	f := newFixture(t, Options{})

	w := f.do(http.MethodGet, "/api/photos/latest", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	require.NoError(t, f.store.Write("photos/photo_1.jpg", []byte("first")))
	require.NoError(t, f.store.Write("photos/photo_2.jpg", []byte("second")))

	w = f.do(http.MethodGet, "/api/photos/latest", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "second", w.Body.String())

	w = f.do(http.MethodGet, "/api/photos/file/photo_1.jpg", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "first", w.Body.String())

	w = f.do(http.MethodGet, "/api/photos/file/photo_9.jpg", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodGet, "/api/photos", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"photo_1.jpg"`)
	assert.Contains(t, w.Body.String(), `"photo_2.jpg"`)
}

func TestBuildVideo(t *testing.T) {
	f := newFixture(t, Options{})

	w := f.do(http.MethodPost, "/api/photos/video", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	frame := jpegBytes(t)
	require.NoError(t, f.store.Write("photos/photo_1.jpg", frame))
	require.NoError(t, f.store.Write("photos/photo_2.jpg", frame))

	w = f.do(http.MethodPost, "/api/photos/video", `{"fps": 5}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"frames":2`)
	assert.Contains(t, w.Body.String(), `"fps":5`)

	videos, err := os.ReadDir(filepath.Join(f.store.Root(), "videos"))
	require.NoError(t, err)
	require.Len(t, videos, 1)
	assert.True(t, strings.HasSuffix(videos[0].Name(), ".avi"))

	w = f.do(http.MethodPost, "/api/photos/video", `{"fps": 500}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebdavControl(t *testing.T) {
	f := newFixture(t, Options{})
	w := f.do(http.MethodPut, "/api/webdav?op=start", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	dav := webdav.New(context.Background(), 0, t.TempDir(), zaptest.NewLogger(t).Sugar())
	f = newFixture(t, Options{Webdav: dav})
	defer dav.Stop()

	w = f.do(http.MethodPut, "/api/webdav?op=restart", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodPut, "/api/webdav?op=start", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, dav.Running())

	w = f.do(http.MethodPut, "/api/webdav?op=shutdown", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.False(t, dav.Running())
}

func TestDeviceStatus(t *testing.T) {
	f := newFixture(t, Options{})
	require.NoError(t, f.store.Write("photos/photo_1.jpg", []byte("x")))

	w := f.do(http.MethodGet, "/api/device/status", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"storageHealthy":true`)
}
