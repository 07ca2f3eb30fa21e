// cmd/server/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/valpere/ScrapeMend/internal/config"
	"github.com/valpere/ScrapeMend/internal/organizer"
	"github.com/valpere/ScrapeMend/internal/telemetry"
	"github.com/valpere/ScrapeMend/internal/utils"
	"github.com/valpere/ScrapeMend/pkg/api"
)

// maxBodyBytes bounds request bodies; documents are sent inline.
const maxBodyBytes = 10 << 20

// server serves one api.Client. The client is swapped when the
// configuration file changes.
type server struct {
	mu       sync.RWMutex
	client   *api.Client
	recorder *telemetry.Recorder
	logger   utils.Logger
	limiter  *utils.RateLimiter
	apiKey   string
	started  time.Time
}

func newServer(client *api.Client, logger utils.Logger, limiter *utils.RateLimiter, apiKey string) *server {
	return &server{
		client:   client,
		recorder: client.Telemetry(),
		logger:   utils.OrNop(logger),
		limiter:  limiter,
		apiKey:   apiKey,
		started:  time.Now(),
	}
}

// routes builds the router. /health and /metrics stay outside the API
// middleware so probes are never throttled.
func (s *server) routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", s.recorder.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Use(s.logRequests, s.authenticate, s.rateLimit)
	v1.HandleFunc("/extract", s.handleExtract).Methods(http.MethodPost)
	v1.HandleFunc("/analyze", s.handleAnalyze).Methods(http.MethodPost)
	v1.HandleFunc("/memory", s.handleMemory).Methods(http.MethodGet)
	v1.HandleFunc("/memory", s.handleForget).Methods(http.MethodDelete)
	return r
}

func (s *server) current() *api.Client {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client
}

// reload replaces the client and closes the previous one.
func (s *server) reload(cfg *config.Config) {
	next, err := api.New(context.Background(), cfg, api.WithLogger(s.logger), api.WithRecorder(s.recorder))
	if err != nil {
		s.logger.Errorf("Configuration reload rejected: %v", err)
		return
	}
	s.mu.Lock()
	prev := s.client
	s.client = next
	s.mu.Unlock()

	if err := prev.Close(); err != nil {
		s.logger.Warnf("Failed to close previous client: %v", err)
	}
	s.logger.Info("Configuration reloaded")
}

// Middleware

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.WithFields(map[string]interface{}{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).String(),
		}).Debug("request handled")
	})
}

func (s *server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" {
			next.ServeHTTP(w, r)
			return
		}
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing Authorization header")
			return
		}
		token, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid authorization format")
			return
		}
		if token != s.apiKey {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Handlers

type documentRequest struct {
	HTML   string                   `json:"html"`
	Fields []organizer.FieldRequest `json:"fields,omitempty"`
	Rows   bool                     `json:"rows,omitempty"`
}

func (s *server) decode(w http.ResponseWriter, r *http.Request) (*documentRequest, *api.Page, bool) {
	var req documentRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return nil, nil, false
	}
	if strings.TrimSpace(req.HTML) == "" {
		writeError(w, http.StatusBadRequest, "invalid_body", "html is required")
		return nil, nil, false
	}
	page, err := api.ParseHTML(strings.NewReader(req.HTML))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_document", err.Error())
		return nil, nil, false
	}
	return &req, page, true
}

// handleHealth reports "degraded" while the delivery breaker is open.
func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	client := s.current()
	status := "healthy"
	delivery := client.DeliveryState()
	if delivery == "open" {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    status,
		"version":   utils.Version,
		"uptime":    utils.FormatDuration(time.Since(s.started)),
		"delivery":  delivery,
		"memory":    client.MemoryStats(),
		"timestamp": time.Now().UTC(),
	})
}

func (s *server) handleExtract(w http.ResponseWriter, r *http.Request) {
	req, page, ok := s.decode(w, r)
	if !ok {
		return
	}
	client := s.current()

	var (
		data interface{}
		err  error
	)
	switch {
	case len(req.Fields) > 0:
		data, err = client.ExtractFields(r.Context(), page, req.Fields)
	case req.Rows || client.Config().Template.Container != "":
		var items []organizer.Item
		items, err = client.ExtractRows(r.Context(), page)
		data = map[string]interface{}{"items": items, "count": len(items)}
	default:
		data, err = client.Extract(r.Context(), page)
	}
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (s *server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	_, page, ok := s.decode(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.current().Analyze(page))
}

func (s *server) handleMemory(w http.ResponseWriter, r *http.Request) {
	client := s.current()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"stats":  client.MemoryStats(),
		"memory": client.Memory(),
	})
}

// handleForget drops one address (?address=) or, without one, the whole
// memory.
func (s *server) handleForget(w http.ResponseWriter, r *http.Request) {
	client := s.current()
	address := r.URL.Query().Get("address")
	if address == "" {
		client.ResetMemory(r.Context())
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if !client.Forget(r.Context(), address) {
		writeError(w, http.StatusNotFound, "not_found", fmt.Sprintf("nothing remembered for %q", address))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": message, "code": code})
}

// writeFailure maps extraction errors to HTTP statuses.
func writeFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, organizer.ErrInvalidRequest), errors.Is(err, organizer.ErrNoRequests):
		writeError(w, http.StatusBadRequest, string(utils.ErrCodeValidation), err.Error())
	case errors.Is(err, api.ErrNoTemplate):
		writeError(w, http.StatusUnprocessableEntity, string(utils.ErrCodeInvalidConfig), err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, string(utils.ErrCodeContextCanceled), err.Error())
	default:
		code := utils.CodeOf(err)
		status := http.StatusInternalServerError
		if code == utils.ErrCodeResolutionFailed || code == utils.ErrCodeInvalidAddress {
			status = http.StatusUnprocessableEntity
		}
		writeError(w, status, string(code), err.Error())
	}
}

func main() {
	var (
		configPath = flag.String("config", "", "configuration file (reloaded on change)")
		addr       = flag.String("addr", ":8080", "listen address")
		rps        = flag.Float64("rate", 10, "API requests per second; 0 disables limiting")
		burst      = flag.Int("burst", 20, "API request burst")
	)
	flag.Parse()

	if err := serve(*configPath, *addr, *rps, *burst); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serve(configPath, addr string, rps float64, burst int) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.LoadFromFile(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		cfg = loaded
	}

	logger, err := utils.NewLoggerWithConfig(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := api.New(ctx, cfg, api.WithLogger(logger))
	if err != nil {
		return err
	}
	s := newServer(client, logger, utils.NewRateLimiter(rps, burst), os.Getenv("SCRAPEMEND_API_KEY"))
	defer func() { s.current().Close() }()

	if configPath != "" {
		watcher, err := config.NewWatcher(configPath, logger)
		if err != nil {
			logger.Warnf("Configuration reload disabled: %v", err)
		} else {
			watcher.OnChange(s.reload)
			defer watcher.Close()
		}
	}

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Listening on %s", addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
