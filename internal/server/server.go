/**
 * HTTP ingress for the face redaction engine
 *
 * Routes:
 * - POST /procesar   image (+ optional debug flag) -> redacted or annotated JPEG
 * - POST /pixelar    image + rectangulos JSON       -> pixelated JPEG
 * - GET  /           operational message
 * - GET  /health     liveness, host memory, queue backlog, optional collaborator checks
 *
 * Every error response is {"error": ..., "detalle": ...} with 400 or 500.
 */

package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/adverant/nexus/faceredact-engine/internal/logging"
	"github.com/adverant/nexus/faceredact-engine/internal/processor"
)

// HealthChecker is a collaborator the health endpoint can probe
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// QueueStats reports backlog counters for the queue ingress
type QueueStats interface {
	Stats(ctx context.Context) (map[string]int64, error)
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port          string
	MaxUploadSize int64
	MaxPixels     int // decode limit for /pixelar; 0 = imaging.DefaultMaxPixels
	JPEGQuality   int
	Processor     processor.ProcessorInterface
	// Dependencies are probed by GET /health?deep=true
	Dependencies map[string]HealthChecker
	// Queue, when set, is reported by GET /health
	Queue QueueStats
}

// Server serves the engine over HTTP
type Server struct {
	config     *ServerConfig
	processor  processor.ProcessorInterface
	httpServer *http.Server
	startedAt  time.Time
	logger     *logging.Logger
}

// NewServer creates a new HTTP server
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	if cfg.Processor == nil {
		return nil, fmt.Errorf("processor is required")
	}

	if cfg.Port == "" {
		cfg.Port = "5003"
	}
	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = 16 * 1024 * 1024
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = 95
	}

	s := &Server{
		config:    cfg,
		processor: cfg.Processor,
		startedAt: time.Now(),
		logger:    logging.NewLogger("Server"),
	}

	s.httpServer = &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s, nil
}

// Handler returns the routed handler, useful for tests
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /procesar", s.handleProcess)
	mux.HandleFunc("POST /pixelar", s.handlePixelate)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleRoot)
	return s.logRequests(mux)
}

// Start listens in the background. Listen errors are returned synchronously.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}

	s.logger.Info("HTTP server listening", "addr", s.httpServer.Addr)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server stopped unexpectedly", "error", err)
		}
	}()
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start).String())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
