package utils

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

func WatchSignal(ctx context.Context) {
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(signalCh)
	select {
	case <-signalCh:
	case <-ctx.Done():
	}
}

// ListenAndServe serves h on port until SIGINT/SIGTERM or ctx is done, then
// shuts the server down gracefully.
func ListenAndServe(ctx context.Context, h http.Handler, port int, logger *zap.SugaredLogger) {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: h,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("listen: %s", err)
		}
	}()
	logger.Infof("listening on :%d", port)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error(err)
		}
		logger.Info("server shutdown")
	}()

	WatchSignal(ctx)
}
