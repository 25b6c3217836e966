package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Eric-C-E/ESP32-LLL/internal/audio"
	"github.com/Eric-C-E/ESP32-LLL/internal/config"
	"github.com/Eric-C-E/ESP32-LLL/internal/dispatch"
	"github.com/Eric-C-E/ESP32-LLL/internal/link"
	"github.com/Eric-C-E/ESP32-LLL/internal/metrics"
	"github.com/Eric-C-E/ESP32-LLL/internal/modegate"
	"github.com/Eric-C-E/ESP32-LLL/internal/transport"
)

// Sources are the running components the status API reports on
type Sources struct {
	Transport interface{ Stats() transport.Stats }
	Gate      interface{ Snapshot() modegate.Snapshot }
	Ring      interface{ GetStats() audio.RingStats }
	Capture   interface{ GetStats() audio.CaptureStats }
	Link      interface{ Status() link.Status }
	Dispatch  interface{ GetStats() dispatch.Stats }
	Display   interface{ Snapshot() DisplaySnapshot }
}

// HTTPServer provides HTTP API endpoints for monitoring the node
type HTTPServer struct {
	server   *http.Server
	logger   *slog.Logger
	config   *config.Config
	sources  Sources
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer

	startTime time.Time
}

// NewHTTPServer creates the status API server. gatherer backs /metrics.
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger, appConfig *config.Config,
	sources Sources, m *metrics.Metrics, gatherer prometheus.Gatherer) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		sources:   sources,
		metrics:   m,
		gatherer:  gatherer,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))
	mux.HandleFunc("/status", h.withMetrics("/status", h.handleStatus))
	mux.HandleFunc("/display", h.withMetrics("/display", h.handleDisplay))
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	mux.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (h *HTTPServer) Run(ctx context.Context) error {
	h.logger.Info("Starting HTTP API server", slog.String("address", h.server.Addr))

	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	h.logger.Info("Stopping HTTP API server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return h.server.Shutdown(shutdownCtx)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// handleHealth implements the /health endpoint. The node is healthy while it
// holds a server connection; the endpoint itself always answers 200.
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	state := h.sources.Transport.Stats().State
	status := "healthy"
	if state != transport.StateConnected {
		status = "degraded"
	}

	writeJSON(w, map[string]interface{}{
		"status":     status,
		"connection": state,
		"timestamp":  time.Now().UTC(),
		"uptime":     time.Since(h.startTime).String(),
	})
}

// handleStatus implements the /status endpoint
func (h *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, map[string]interface{}{
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"transport": h.sources.Transport.Stats(),
		"mode":      h.sources.Gate.Snapshot(),
		"ring":      h.sources.Ring.GetStats(),
		"capture":   h.sources.Capture.GetStats(),
		"link":      h.sources.Link.Status(),
		"dispatch":  h.sources.Dispatch.GetStats(),
	})
}

// handleDisplay implements the /display endpoint
func (h *HTTPServer) handleDisplay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, h.sources.Display.Snapshot())
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	c := h.config
	writeJSON(w, map[string]interface{}{
		"server": map[string]interface{}{
			"address":          c.Server.Address,
			"dial_timeout_ms":  c.Server.DialTimeoutMs,
			"retry_delay_ms":   c.Server.RetryDelayMs,
			"pop_timeout_ms":   c.Server.PopTimeoutMs,
			"write_timeout_ms": c.Server.WriteTimeoutMs,
		},
		"audio": map[string]interface{}{
			"source":              c.Audio.Source,
			"file_path":           c.Audio.FilePath,
			"sample_rate":         c.Audio.SampleRate,
			"channels":            c.Audio.Channels,
			"chunk_bytes":         c.Audio.ChunkBytes,
			"ring_bytes":          c.Audio.RingBytes,
			"read_timeout_ms":     c.Audio.ReadTimeoutMs,
			"push_timeout_ms":     c.Audio.PushTimeoutMs,
			"capture_interval_ms": c.Audio.CaptureIntervalMs,
		},
		"buttons": map[string]interface{}{
			"button1_path":     c.Buttons.Button1Path,
			"button2_path":     c.Buttons.Button2Path,
			"active_level":     c.Buttons.ActiveLevel,
			"debounce_count":   c.Buttons.DebounceCount,
			"poll_interval_ms": c.Buttons.PollIntervalMs,
		},
		"dispatch": map[string]interface{}{
			"queue_length":       c.Dispatch.QueueLength,
			"max_text_bytes":     c.Dispatch.MaxTextBytes,
			"enqueue_timeout_ms": c.Dispatch.EnqueueTimeoutMs,
		},
		"link": map[string]interface{}{
			"interface": c.Link.Interface,
		},
		"logging": map[string]interface{}{
			"level":  c.Logging.Level,
			"format": c.Logging.Format,
			"output": c.Logging.Output,
		},
	})
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	writeJSON(w, map[string]interface{}{
		"service": "voice link node",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":        "API documentation",
			"GET /health":  "Connection health",
			"GET /status":  "Transport, mode, audio, link and dispatch status",
			"GET /display": "Latest text shown on each display",
			"GET /config":  "Effective configuration",
			"GET /metrics": "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	})
}
