package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// jsonHeaders sets Content-Type application/json for every debug response.
func jsonHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func requestLogger(a *App) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			a.log.WithFields(logrus.Fields{
				"method": r.Method,
				"path":   r.URL.Path,
			}).Debug("poolcore: debug request")
			next.ServeHTTP(w, r)
		})
	}
}

func (a *App) ringStatsHandler(w http.ResponseWriter, r *http.Request) {
	_ = json.NewEncoder(w).Encode(a.ring.Stats())
}

func (a *App) shareRecordsStatsHandler(w http.ResponseWriter, r *http.Request) {
	_ = json.NewEncoder(w).Encode(a.shareRecords.Stats())
}

func (a *App) rateLimitStatsHandler(w http.ResponseWriter, r *http.Request) {
	_ = json.NewEncoder(w).Encode(map[string]int64{
		"global_connections": a.rateLimiter.GlobalConnections(),
	})
}

func (a *App) relayStatsHandler(w http.ResponseWriter, r *http.Request) {
	snapshot := map[string]interface{}{}
	if a.relayServer != nil {
		snapshot["peer_count"] = a.relayServer.PeerCount()
	}
	if a.relayClient != nil {
		snapshot["state"] = a.relayClient.State().String()
		snapshot["independent"] = a.relayClient.IsIndependent()
	}
	_ = json.NewEncoder(w).Encode(snapshot)
}

// serveDebug runs the operator-facing debug HTTP surface on addr until ctx
// is cancelled. It is separate from the Prometheus exposition endpoint: it
// speaks JSON and exposes internal subsystem snapshots rather than counters.
func (a *App) serveDebug(ctx context.Context, addr string) {
	r := mux.NewRouter()
	r.Use(requestLogger(a))
	r.Use(jsonHeaders)

	r.HandleFunc("/debug/ring", a.ringStatsHandler).Methods(http.MethodGet)
	r.HandleFunc("/debug/slab", a.shareRecordsStatsHandler).Methods(http.MethodGet)
	r.HandleFunc("/debug/ratelimit", a.rateLimitStatsHandler).Methods(http.MethodGet)
	r.HandleFunc("/debug/relay", a.relayStatsHandler).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		a.log.WithError(err).Warn("poolcore: debug server stopped")
	}
}
