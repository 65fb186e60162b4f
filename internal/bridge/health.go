package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// serveHealth runs the bridge's health endpoint when configured.
// GET /health returns 200 with uptime once the poll loop is running,
// 503 while starting or shutting down.
func (b *Bridge) serveHealth(ctx context.Context) {
	if b.cfg.HealthAddr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if b.healthy.Load() {
			w.WriteHeader(http.StatusOK)
			fmt.Fprintf(w, `{"status":"ok","uptime":"%s","processed":%d}`,
				time.Since(b.startedAt).Round(time.Second), b.processed.Load())
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"status":"starting"}`)
		}
	})

	srv := &http.Server{Addr: b.cfg.HealthAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	slog.Info("health endpoint listening", "addr", b.cfg.HealthAddr)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		slog.Warn("health server error", "error", err)
	}
}
