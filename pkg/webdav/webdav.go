package webdav

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/webdav"
)

// Webdav exposes the storage root over WebDAV on demand.
type Webdav struct {
	lock   sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	addr   net.Addr
	port   int
	dir    string
	logger *zap.SugaredLogger
}

func New(ctx context.Context, port int, dir string, logger *zap.SugaredLogger) *Webdav {
	return &Webdav{
		ctx:    ctx,
		port:   port,
		dir:    dir,
		logger: logger,
	}
}

// Start serves the directory. It reports false when the server was already
// running.
func (w *Webdav) Start() (bool, error) {
	w.lock.Lock()
	defer w.lock.Unlock()
	if w.cancel != nil {
		return false, nil
	}
	l, err := net.Listen("tcp", ":"+strconv.Itoa(w.port))
	if err != nil {
		return false, err
	}
	newCtx, cancel := context.WithCancel(w.ctx)
	w.cancel = cancel
	w.addr = l.Addr()
	Serve(newCtx, l, w.dir, w.logger)
	w.logger.Infof("webdav serving %s on %s", w.dir, w.addr)

	return true, nil
}

// Stop reports false when the server was not running.
func (w *Webdav) Stop() bool {
	w.lock.Lock()
	defer w.lock.Unlock()
	if w.cancel == nil {
		return false
	}
	w.cancel()
	w.cancel = nil
	w.addr = nil
	w.logger.Info("webdav stopped")

	return true
}

func (w *Webdav) Running() bool {
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.cancel != nil
}

// Addr is the listening address, nil when stopped.
func (w *Webdav) Addr() net.Addr {
	w.lock.Lock()
	defer w.lock.Unlock()
	return w.addr
}

func Serve(ctx context.Context, l net.Listener, dir string, logger *zap.SugaredLogger) {
	h := &webdav.Handler{
		FileSystem: webdav.Dir(dir),
		LockSystem: webdav.NewMemLS(),
		Logger: func(r *http.Request, err error) {
			if err != nil {
				logger.Errorf("WEBDAV [%s]: %s, err: %s", r.Method, r.URL, err)
			}
		},
	}
	svr := &http.Server{
		Handler: h,
	}

	go func() {
		if err := svr.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("webdav server err: %s", err)
		}
	}()
	go func() {
		<-ctx.Done()
		srcCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := svr.Shutdown(srcCtx); err != nil {
			logger.Errorf("shutdown webdav server err: %s", err)
		}
	}()
}
