package main

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/amelia-dev/amelia/telemetry"
	"github.com/amelia-dev/amelia/wire/ws"
)

// wsShutdownGrace mirrors wire/http.Serve's shutdownGrace, so the WebSocket
// listener drains in-flight connections on the same schedule as the REST
// server during graceful shutdown.
const wsShutdownGrace = 30 * time.Second

// serveWebSocket starts the WebSocket event-stream listener (spec.md §4.5
// "/ws/events") on addr, following the same wg/errc run-and-report shape as
// wire/http.Serve so both listeners race on the same errc and shut down
// together.
func serveWebSocket(ctx context.Context, addr string, broker *ws.Broker, logger telemetry.Logger, wg *sync.WaitGroup, errc chan<- error) {
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}

	mux := http.NewServeMux()
	mux.Handle("/ws/events", broker.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 60 * time.Second,
	}

	wg.Add(1)
	go func() {
		defer wg.Done()

		go func() {
			logger.Info(ctx, "WebSocket server listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errc <- err
				return
			}
			errc <- nil
		}()

		<-ctx.Done()
		logger.Info(ctx, "shutting down WebSocket server", "addr", addr)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), wsShutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error(ctx, "WebSocket server shutdown error", "error", err)
		}
	}()
}
