package metrics

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthFunc reports whether the daemon is serving and a short status word.
type HealthFunc func() (ok bool, status string)

// NewRouter serves /metrics and /healthz, plus /ws when ws is non-nil.
func NewRouter(m *Metrics, health HealthFunc, ws http.Handler) http.Handler {
	r := chi.NewRouter()

	r.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ok, status := health()
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if !ok {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		fmt.Fprintln(w, status)
	})
	if ws != nil {
		r.Handle("/ws", ws)
	}
	return r
}
