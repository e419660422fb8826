package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/amelia-dev/amelia/orchestrator"
	"github.com/amelia-dev/amelia/telemetry"
)

// shutdownGrace bounds how long Serve waits for in-flight requests to drain
// once ctx is cancelled, mirroring the teacher's handleHTTPServer 30s
// shutdown timeout (example/cmd/assistant/http.go).
const shutdownGrace = 30 * time.Second

// Serve starts an HTTP server on addr exposing svc's command surface, and
// blocks until ctx is cancelled, then shuts down gracefully. errc receives
// the server's terminal error (nil on a clean shutdown), matching the
// teacher's wg/errc run-and-report pattern so a single process can run this
// alongside the WebSocket listener and select on whichever exits first.
func Serve(ctx context.Context, addr string, svc *orchestrator.Service, opts Options, logger telemetry.Logger, wg *sync.WaitGroup, errc chan<- error) {
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(svc, opts),
		ReadHeaderTimeout: 60 * time.Second,
	}

	wg.Add(1)
	go func() {
		defer wg.Done()

		go func() {
			logger.Info(ctx, "HTTP server listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errc <- err
				return
			}
			errc <- nil
		}()

		<-ctx.Done()
		logger.Info(ctx, "shutting down HTTP server", "addr", addr)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error(ctx, "HTTP server shutdown error", "error", err)
		}
	}()
}
