package apiserver

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const gracefulShutdownTimeout = 5 * time.Second

// serve runs handler on listener until ctx is cancelled, then drains open
// connections for at most gracefulShutdownTimeout.
func serve(ctx context.Context, name string, listener net.Listener, handler http.Handler) error {
	log := zap.S().Named(name)
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		log.Infow("shutting down", "cause", context.Cause(ctx))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
		defer cancel()
		srv.SetKeepAlivesEnabled(false)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warnw("forced shutdown", "error", err)
		}
	}()

	log.Infow("listening", "address", listener.Addr().String())
	err := srv.Serve(listener)
	if err != nil && !errors.Is(err, net.ErrClosed) && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	if ctx.Err() != nil {
		<-stopped
	}
	log.Info("server terminated")
	return nil
}
