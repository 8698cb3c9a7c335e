package app

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/psyberpunk/CoWork-OS-sub010/cmd/internal/gateway"
	"github.com/psyberpunk/CoWork-OS-sub010/cmd/internal/idempotency"
)

// statusResponse is the unauthenticated /status body: counts only, no per-client detail.
type statusResponse struct {
	Version       string            `json:"version"`
	Connections   int               `json:"connections"`
	Authenticated int               `json:"authenticated"`
	Pending       int               `json:"pending"`
	Nodes         int               `json:"nodes"`
	Idempotency   idempotency.Stats `json:"idempotency"`
	NamedLocks    int               `json:"named_locks"`
}

func registerHTTP(
	mux *http.ServeMux,
	log Logger,
	cfg Config,
	dbPool *pgxpool.Pool,
	gw *gateway.Gateway,
	version string,
	metrics *prometheus.Registry,
) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.ReadinessRequireDB && dbPool == nil {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}

		if dbPool != nil {
			if err := PingDB(r.Context(), dbPool, 2*time.Second); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				log.Info("readyz.db.not_ready", "err", err)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		st := gw.Registry().Status()
		writeJSON(w, http.StatusOK, statusResponse{
			Version:       version,
			Connections:   st.Total,
			Authenticated: st.Authenticated,
			Pending:       st.Pending,
			Nodes:         st.Nodes,
			Idempotency:   gw.Idempotency().Stats(),
			NamedLocks:    gw.Locks().Len(),
		})
	})

	if metrics != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(metrics, promhttp.HandlerOpts{Registry: metrics}))
	}

}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
