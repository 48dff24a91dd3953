package server

import (
	"log/slog"
	"net/http"
)

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
	}
}

// NewRouter creates a new HTTP router with all routes configured.
// It uses Go 1.22+ ServeMux with method-based routing.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /transcriptions", h.ListTranscriptions)
	mux.HandleFunc("POST /transcriptions", h.CreateTranscription)
	mux.HandleFunc("GET /transcriptions/{id}", h.GetTranscription)
	mux.HandleFunc("DELETE /transcriptions/{id}", h.DeleteTranscription)
	mux.HandleFunc("POST /transcriptions/{id}/cancel", h.CancelTranscription)
	mux.HandleFunc("GET /transcriptions/{id}/progress", h.StreamProgress)

	chain := ChainMiddleware(
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
		CORSMiddleware(cfg.AllowedOrigins),
	)

	return chain(mux)
}
