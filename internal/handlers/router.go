package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/qrshield/qrshield-go/internal/classify"
	"github.com/qrshield/qrshield-go/internal/metrics"
	"github.com/qrshield/qrshield-go/internal/ratelimit"
	"github.com/qrshield/qrshield-go/internal/sse"
	"github.com/qrshield/qrshield-go/internal/ws"
)

// Deps are the components the router is built from. History may be nil.
type Deps struct {
	Gateway        *classify.Gateway
	Recorder       Recorder
	History        HistoryStore
	Hub            *sse.Hub
	WS             *ws.Manager
	Limiter        *ratelimit.Limiter
	Metrics        *metrics.Metrics
	Explainer      *classify.Explainer
	MaxUploadBytes int64
	Logger         *slog.Logger
}

// NewRouter builds the HTTP router.
func NewRouter(d Deps) http.Handler {
	scanner := NewScanner(d.Gateway, d.Recorder, d.Metrics, d.Logger)
	api := NewAPIHandler(scanner, d.Limiter, d.Explainer, d.MaxUploadBytes, d.Logger)
	page := NewPageHandler(scanner, d.Limiter, d.MaxUploadBytes, d.Logger)
	history := NewHistoryHandler(d.History, d.Logger)
	stream := NewStreamHandler(d.Hub, d.History)

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(corsMiddleware)
	r.Use(d.Metrics.Middleware)

	// Health check
	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("pong"))
	})
	r.Get("/healthz", Health(scanner))
	r.Handle("/metrics", d.Metrics.Handler())

	// Mobile client
	r.Get("/", api.Banner)
	r.Post("/scan", api.Scan)
	r.Post("/v1/scan-image", api.ScanImage)
	r.Post("/v1/explain", api.Explain)

	// Interactive page
	r.Get("/app", page.Show)
	r.Post("/app/check", page.Check)
	r.Post("/app/upload", page.Upload)

	// Live feeds
	r.Get("/ws", d.WS.HandleWS)

	r.Route("/api", func(api chi.Router) {
		api.Get("/scans", history.ListScans)
		api.Get("/scans/{id}", history.GetScan)
		api.Get("/stats", history.GetStats)
		api.Get("/stream/events", stream.HandleSSE)
	})

	return r
}

// corsMiddleware allows any origin; the mobile client and page carry no
// credentials.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
