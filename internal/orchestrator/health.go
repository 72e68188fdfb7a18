package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/dyluth/warren/internal/config"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Server serves /healthz and the admin API.
type Server struct {
	engine      *Engine
	addr        string
	corsOrigins []string
	mux         *chi.Mux
	srv         *http.Server
	logger      zerolog.Logger
}

// NewServer creates the admin server for engine from cfg.
func NewServer(engine *Engine, cfg *config.ServerConfig, logger zerolog.Logger) *Server {
	addr := cfg.Addr
	s := &Server{
		engine:      engine,
		addr:        addr,
		corsOrigins: cfg.CORSOrigins,
		logger:      logger,
	}
	s.mux = s.routes()
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("event_type", "server_listening").Str("addr", s.addr).Msg("admin server listening")
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn().Err(err).Str("event_type", "server_shutdown_failed").Msg("admin server shutdown")
	}
	return nil
}

// healthCheckHandler handles GET /healthz.
// Returns 200 OK if Redis is accessible, 503 Service Unavailable otherwise.
func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:     "healthy",
		Bridge:     runningString(s.engine.BridgeRunning()),
		Continuity: runningString(s.engine.loop.Running()),
	}

	if err := s.engine.Ping(ctx); err != nil {
		response.Status = "unhealthy"
		response.Redis = "disconnected"
		response.Error = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, response)
		return
	}

	response.Redis = "connected"
	writeJSON(w, http.StatusOK, response)
}

func runningString(running bool) string {
	if running {
		return "running"
	}
	return "stopped"
}

// HealthResponse is the JSON response structure for health checks.
type HealthResponse struct {
	Status     string `json:"status"`
	Redis      string `json:"redis,omitempty"`
	Bridge     string `json:"bridge,omitempty"`
	Continuity string `json:"continuity,omitempty"`
	Error      string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
