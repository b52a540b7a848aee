package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"github.com/vincent-vinf/go-jsend"
	"go.uber.org/zap"

	"timelapse-cam/pkg/camera"
	"timelapse-cam/pkg/ov"
	"timelapse-cam/pkg/schedule"
	"timelapse-cam/pkg/storage"
	"timelapse-cam/pkg/storage/consts"
	"timelapse-cam/pkg/types"
	"timelapse-cam/pkg/utils/ps"
	"timelapse-cam/pkg/video"
	"timelapse-cam/pkg/webdav"
)

const (
	webDavStart    = "start"
	webDavShutdown = "shutdown"

	defaultFPS = 10

	sessionHeader = "X-Capture-Session"
)

// Camera is what the API needs from the capture engine.
type Camera interface {
	Capture() camera.CaptureResult
	Photo() ([]byte, bool)
	ReturnBuffer()
	SetQuality(quality int) error
	SetFrameSize(size camera.FrameSize) error
	Settings() camera.Settings
	Width() int
	Height() int
	Info() camera.SensorInfo
	Stats() camera.Stats
	Busy() bool
	State() string
}

type Options struct {
	// Lock serializes settings changes with captures. Share it with the
	// scheduler.
	Lock      sync.Locker
	PhotoDir  string
	VideoDir  string
	Scheduler *schedule.Scheduler
	Webdav    *webdav.Webdav
}

type Server struct {
	camera Camera
	store  *storage.Store
	logger *zap.SugaredLogger

	lock      sync.Locker
	photoDir  string
	videoDir  string
	scheduler *schedule.Scheduler
	webdav    *webdav.Webdav

	// one export at a time
	videoLock sync.Mutex
}

func New(cam Camera, store *storage.Store, logger *zap.SugaredLogger, opts Options) *Server {
	if opts.Lock == nil {
		opts.Lock = &sync.Mutex{}
	}
	if opts.PhotoDir == "" {
		opts.PhotoDir = consts.DefaultPhotoDir
	}
	if opts.VideoDir == "" {
		opts.VideoDir = consts.DefaultVideoDir
	}

	return &Server{
		camera:    cam,
		store:     store,
		logger:    logger,
		lock:      opts.Lock,
		photoDir:  opts.PhotoDir,
		videoDir:  opts.VideoDir,
		scheduler: opts.Scheduler,
		webdav:    opts.Webdav,
	}
}

// Register mounts the routes under /api.
func (s *Server) Register(r gin.IRouter) {
	apiRouter := r.Group("/api")

	cameraRouter := apiRouter.Group("/camera")
	cameraRouter.GET("", s.getCamera)
	cameraRouter.PUT("/settings", s.updateSettings)
	cameraRouter.POST("/capture", s.capture)

	photoRouter := apiRouter.Group("/photos")
	photoRouter.GET("", s.listPhotos)
	photoRouter.GET("/latest", s.latestPhoto)
	photoRouter.GET("/file/:name", s.getPhoto)
	photoRouter.POST("/video", s.buildVideo)

	deviceRouter := apiRouter.Group("/device")
	deviceRouter.GET("/status", s.deviceStatus)

	apiRouter.PUT("/webdav", s.ctlWebdav)
}

func (s *Server) getCamera(c *gin.Context) {
	settings := s.camera.Settings()
	status := types.CameraStatus{
		Info:     s.camera.Info(),
		Settings: settings,
		Size:     settings.FrameSize.String(),
		Width:    s.camera.Width(),
		Height:   s.camera.Height(),
		State:    s.camera.State(),
		Busy:     s.camera.Busy(),
		Stats:    s.camera.Stats(),
	}
	if s.scheduler != nil {
		status.Schedule = &types.ScheduleStatus{
			Period: s.scheduler.Period().String(),
			Dir:    s.scheduler.Dir(),
			Stats:  s.scheduler.Stats(),
		}
	}

	c.JSON(http.StatusOK, jsend.Success(status))
}

func (s *Server) updateSettings(c *gin.Context) {
	var req ov.Settings
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, jsend.SimpleErr(err.Error()))
		return
	}
	if req.Quality == nil && req.FrameSize == nil {
		c.JSON(http.StatusBadRequest, jsend.SimpleErr("nothing to update"))
		return
	}
	if req.Quality != nil {
		if err := (camera.Settings{Quality: *req.Quality, FrameSize: camera.DefaultFrameSize}).Validate(); err != nil {
			c.JSON(http.StatusBadRequest, jsend.SimpleErr(err.Error()))
			return
		}
	}
	if req.FrameSize != nil && (*req.FrameSize < 0 || *req.FrameSize > 255) {
		c.JSON(http.StatusBadRequest, jsend.SimpleErr(fmt.Sprintf("frame size %d out of range", *req.FrameSize)))
		return
	}

	s.lock.Lock()
	defer s.lock.Unlock()
	if req.Quality != nil {
		if err := s.camera.SetQuality(*req.Quality); err != nil {
			s.settingsErr(c, err)
			return
		}
	}
	if req.FrameSize != nil {
		if err := s.camera.SetFrameSize(camera.FrameSize(*req.FrameSize)); err != nil {
			s.settingsErr(c, err)
			return
		}
	}
	s.logger.Infof("camera settings updated: %+v", s.camera.Settings())

	c.JSON(http.StatusOK, jsend.Success(s.camera.Settings()))
}

func (s *Server) settingsErr(c *gin.Context, err error) {
	if errors.Is(err, camera.ErrInvalidConfig) {
		c.JSON(http.StatusBadRequest, jsend.SimpleErr(err.Error()))
		return
	}
	internalErr(c, err)
}

func (s *Server) capture(c *gin.Context) {
	s.lock.Lock()
	res := s.camera.Capture()
	photo, ok := s.camera.Photo()
	if res.Success {
		s.camera.ReturnBuffer()
	}
	s.lock.Unlock()

	c.Header(sessionHeader, res.Session)
	if !res.Success || !ok {
		c.JSON(http.StatusServiceUnavailable, jsend.SimpleErr(fmt.Sprintf("capture failed after %d attempt(s)", res.Attempts)))
		return
	}

	c.Data(http.StatusOK, "image/jpeg", photo)
}

func (s *Server) listPhotos(c *gin.Context) {
	names, err := s.store.List(s.photoDir)
	if err != nil {
		internalErr(c, err)
		return
	}
	files := make([]types.File, 0, len(names))
	for _, name := range names {
		info, err := s.store.Stat(name)
		if err != nil {
			continue
		}
		files = append(files, types.File{
			Name:    path.Base(name),
			Size:    humanize.IBytes(uint64(info.Size())),
			ModTime: info.ModTime(),
		})
	}

	c.JSON(http.StatusOK, jsend.Success(files))
}

func (s *Server) latestPhoto(c *gin.Context) {
	name, err := s.store.Latest()
	if err != nil {
		internalErr(c, err)
		return
	}
	if name == "" {
		c.JSON(http.StatusNotFound, jsend.SimpleErr("no photo yet"))
		return
	}
	s.servePhoto(c, name)
}

func (s *Server) getPhoto(c *gin.Context) {
	name := c.Param("name")
	if strings.ContainsAny(name, `/\`) {
		c.JSON(http.StatusBadRequest, jsend.SimpleErr("invalid photo name"))
		return
	}
	s.servePhoto(c, path.Join(s.photoDir, name))
}

func (s *Server) servePhoto(c *gin.Context, name string) {
	data, err := s.store.Read(name)
	if errors.Is(err, storage.ErrBadName) {
		c.JSON(http.StatusBadRequest, jsend.SimpleErr(err.Error()))
		return
	}
	if err != nil {
		c.JSON(http.StatusNotFound, jsend.SimpleErr(err.Error()))
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("inline; filename=%q", path.Base(name)))
	c.Data(http.StatusOK, "image/jpeg", data)
}

func (s *Server) buildVideo(c *gin.Context) {
	var req ov.Video
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, jsend.SimpleErr(err.Error()))
		return
	}
	if req.FPS == 0 {
		req.FPS = defaultFPS
	}
	if !s.videoLock.TryLock() {
		c.JSON(http.StatusConflict, jsend.SimpleErr("a video is already being built"))
		return
	}
	defer s.videoLock.Unlock()

	if err := s.store.EnsureDirectory(s.videoDir); err != nil {
		internalErr(c, err)
		return
	}
	name := path.Join(s.videoDir, fmt.Sprintf("timelapse-%s%s", time.Now().Format("20060102-150405"), consts.DefaultVideoExt))
	out, err := s.store.Path(name)
	if err != nil {
		internalErr(c, err)
		return
	}

	start := time.Now()
	res, err := video.Export(s.store, s.photoDir, out, req.FPS)
	if errors.Is(err, video.ErrNoFrames) {
		c.JSON(http.StatusNotFound, jsend.SimpleErr(err.Error()))
		return
	}
	if err != nil {
		internalErr(c, err)
		return
	}
	result := types.VideoResult{
		Name:    name,
		Frames:  res.Frames,
		Skipped: res.Skipped,
		Width:   res.Width,
		Height:  res.Height,
		FPS:     res.FPS,
	}
	if info, err := s.store.Stat(name); err == nil {
		result.Size = humanize.IBytes(uint64(info.Size()))
	}
	s.logger.Infof("video %s built in %s: %d frames, %d skipped", name, time.Since(start), res.Frames, res.Skipped)

	c.JSON(http.StatusOK, jsend.Success(result))
}

func (s *Server) deviceStatus(c *gin.Context) {
	var (
		status types.DeviceStatus
		err    error
	)
	if status.CPU, err = ps.CPUStatus(); err != nil {
		internalErr(c, err)
		return
	}
	if status.Memory, err = ps.MemoryStatus(); err != nil {
		internalErr(c, err)
		return
	}
	if status.Disk, err = ps.DiskStatus(s.store.Root()); err != nil {
		internalErr(c, err)
		return
	}
	status.StorageHealthy = s.store.Healthy()
	if used, err := ps.DirDiskUsage(s.store.Root()); err == nil {
		status.StorageUsed = humanize.IBytes(uint64(used))
	}

	c.JSON(http.StatusOK, jsend.Success(status))
}

func (s *Server) ctlWebdav(c *gin.Context) {
	if s.webdav == nil {
		c.JSON(http.StatusNotFound, jsend.SimpleErr("webdav is not available"))
		return
	}
	switch c.Query("op") {
	case webDavStart:
		started, err := s.webdav.Start()
		if err != nil {
			internalErr(c, err)
			return
		}
		if !started {
			c.JSON(http.StatusOK, jsend.Success("the webdav service is already enabled"))
			return
		}
		c.JSON(http.StatusOK, jsend.Success(s.webdav.Addr().String()))
	case webDavShutdown:
		if !s.webdav.Stop() {
			c.JSON(http.StatusOK, jsend.SimpleErr("the webdav service has been shut down"))
			return
		}
		c.JSON(http.StatusOK, jsend.Success(nil))
	default:
		c.JSON(http.StatusBadRequest, jsend.SimpleErr("unknown operation"))
	}
}

func internalErr(c *gin.Context, err error) {
	c.JSON(http.StatusInternalServerError, jsend.SimpleErr(err.Error()))
}
