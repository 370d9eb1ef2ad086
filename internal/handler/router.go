package handler

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"layerlex/internal/metrics"
)

// NewRouter registers every endpoint and wraps the mux in the standard
// middleware. events may be nil when no event stream is served.
func NewRouter(h *ClassifierHandler, events http.Handler, m metrics.Metrics, logger logrus.FieldLogger) http.Handler {
	if m == nil {
		m = metrics.Disabled()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/extract", h.Extract)
	mux.HandleFunc("POST /api/resolve", h.Resolve)
	mux.HandleFunc("POST /api/classify", h.Classify)

	mux.HandleFunc("GET /api/patterns", h.ListPatterns)
	mux.HandleFunc("POST /api/patterns/reload", h.ReloadPatterns)
	mux.HandleFunc("GET /api/stats", h.Stats)

	if registry := m.GetRegistry(); registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}
	if events != nil {
		mux.Handle("GET /events", events)
	}

	return Chain(mux,
		Recover(logger),
		Logger(logger),
		Instrument(m),
	)
}
