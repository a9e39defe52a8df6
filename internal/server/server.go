// Package server exposes grids over HTTP: JSON reads and writes, a
// server-sent event stream of changes, caption suggestions and Prometheus
// metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bodul/wafflegram/internal/cell"
	"github.com/bodul/wafflegram/internal/docstore"
	"github.com/bodul/wafflegram/internal/gridcache"
	"github.com/bodul/wafflegram/internal/identity"
)

const (
	maxCellBody    = 1 << 20 // 1 MiB, room for a base64 thumbnail
	captionTimeout = 30 * time.Second
)

// Captioner suggests a caption for a cell.
type Captioner interface {
	Suggest(ctx context.Context, c cell.Cell) (string, error)
}

// Server is the main HTTP server.
type Server struct {
	mux       *http.ServeMux
	hub       *Hub
	author    *identity.Keypair
	captioner Captioner
	heartbeat time.Duration
	writeRL   *rateLimiter
	captionRL *rateLimiter
	registry  *prometheus.Registry
	metrics   *Metrics
	logger    *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithCaptioner enables caption suggestions.
func WithCaptioner(c Captioner) Option {
	return func(s *Server) { s.captioner = c }
}

// WithRegistry serves and registers metrics on reg instead of a private
// registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Server) { s.registry = reg }
}

// WithLogger sets the logger, slog.Default() by default.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer creates a configured HTTP server writing as author.
func NewServer(hub *Hub, author *identity.Keypair, opts ...Option) *Server {
	s := &Server{
		mux:       http.NewServeMux(),
		hub:       hub,
		author:    author,
		heartbeat: sseHeartbeat,
		writeRL:   newRateLimiter(30, time.Second), // 30 writes/sec per IP
		captionRL: newRateLimiter(5, time.Minute),  // 5 captions/min per IP
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}
	s.metrics = NewMetrics(s.registry)
	s.routes()
	return s
}

func (s *Server) routes() {
	s.handle("GET /api/grids/{grid}", "grid", s.handleGetGrid)
	s.handle("GET /api/grids/{grid}/cells/{x}/{y}", "cell", s.handleGetCell)
	s.handle("PUT /api/grids/{grid}/cells/{x}/{y}", "cell_put", s.handlePutCell)
	s.handle("POST /api/grids/{grid}/cells/{x}/{y}/caption", "caption", s.handleCaption)
	s.handle("GET /api/grids/{grid}/events", "events", s.handleEvents)
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
}

func (s *Server) handle(pattern, route string, h http.HandlerFunc) {
	s.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		h(rec, r)
		s.metrics.Requests.WithLabelValues(route, strconv.Itoa(rec.code)).Inc()
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
	s.mux.ServeHTTP(w, r)
}

// Close stops background work. The hub is closed by its owner.
func (s *Server) Close() {
	s.writeRL.close()
	s.captionRL.close()
}

// --- Grid handlers ---

type gridResponse struct {
	Grid   string               `json:"grid"`
	Config gridcache.GridConfig `json:"config"`
	Cells  []cell.Cell          `json:"cells"`
}

// GET /api/grids/{grid} — dimensions and every cell.
func (s *Server) handleGetGrid(w http.ResponseWriter, r *http.Request) {
	c, release, ok := s.openGrid(w, r)
	if !ok {
		return
	}
	defer release()
	writeJSON(w, http.StatusOK, gridState(c))
}

func gridState(c *gridcache.Cache) gridResponse {
	return gridResponse{Grid: c.Name(), Config: c.Config(), Cells: c.Cells()}
}

// GET /api/grids/{grid}/cells/{x}/{y} — one cell.
func (s *Server) handleGetCell(w http.ResponseWriter, r *http.Request) {
	c, release, ok := s.openGrid(w, r)
	if !ok {
		return
	}
	defer release()
	x, y, ok := coordinates(w, r)
	if !ok {
		return
	}
	v, err := c.Get(x, y)
	if err != nil {
		jsonError(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type cellRequest struct {
	Kind    cell.Kind `json:"kind"`
	Content string    `json:"content"`
	Caption string    `json:"caption"`
}

type writeResponse struct {
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

// PUT /api/grids/{grid}/cells/{x}/{y} — save a cell. The change reaches
// readers through the event stream once the store accepts it.
func (s *Server) handlePutCell(w http.ResponseWriter, r *http.Request) {
	if !s.writeRL.allow(clientIP(r)) {
		jsonError(w, "too many requests, try again later", http.StatusTooManyRequests)
		return
	}
	c, release, ok := s.openGrid(w, r)
	if !ok {
		return
	}
	defer release()
	x, y, ok := coordinates(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxCellBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	var req cellRequest
	if err := dec.Decode(&req); err != nil {
		jsonError(w, "invalid cell body", http.StatusBadRequest)
		return
	}
	v := cell.Cell{X: x, Y: y, Kind: req.Kind, Content: req.Content, Caption: req.Caption}
	s.save(r.Context(), w, c, v)
}

func (s *Server) save(ctx context.Context, w http.ResponseWriter, c *gridcache.Cache, v cell.Cell) {
	if err := c.Validate(v); err != nil {
		jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	o, err := c.Submit(ctx, s.author, v)
	switch o {
	case gridcache.OutcomeAccepted:
		writeJSON(w, http.StatusAccepted, writeResponse{Outcome: o.String()})
	case gridcache.OutcomeIgnored:
		writeJSON(w, http.StatusConflict, writeResponse{Outcome: o.String()})
	default:
		writeJSON(w, rejectionStatus(err), writeResponse{Outcome: o.String(), Error: err.Error()})
	}
}

func rejectionStatus(err error) int {
	switch {
	case errors.Is(err, docstore.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, docstore.ErrInvalidPath), errors.Is(err, gridcache.ErrOutOfBounds):
		return http.StatusBadRequest
	case errors.Is(err, docstore.ErrClosed), errors.Is(err, docstore.ErrNoIdentity):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

type captionRequest struct {
	Apply bool `json:"apply"`
}

type captionResponse struct {
	Caption string `json:"caption"`
	Outcome string `json:"outcome,omitempty"`
}

// POST /api/grids/{grid}/cells/{x}/{y}/caption — suggest a caption for the
// cell, and save it when the body asks to apply it.
func (s *Server) handleCaption(w http.ResponseWriter, r *http.Request) {
	if s.captioner == nil {
		jsonError(w, "caption suggestions not configured", http.StatusServiceUnavailable)
		return
	}
	if !s.captionRL.allow(clientIP(r)) {
		jsonError(w, "too many requests, try again later", http.StatusTooManyRequests)
		return
	}
	c, release, ok := s.openGrid(w, r)
	if !ok {
		return
	}
	defer release()
	x, y, ok := coordinates(w, r)
	if !ok {
		return
	}
	var req captionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10)).Decode(&req); err != nil {
			jsonError(w, "invalid caption body", http.StatusBadRequest)
			return
		}
	}
	v, err := c.Get(x, y)
	if err != nil {
		jsonError(w, err.Error(), http.StatusNotFound)
		return
	}
	if v.Content == "" {
		jsonError(w, "cell is blank", http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), captionTimeout)
	defer cancel()
	text, err := s.captioner.Suggest(ctx, v)
	if err != nil {
		s.metrics.Captions.WithLabelValues("error").Inc()
		s.logger.Error("caption suggestion failed", "grid", c.Name(), "x", x, "y", y, "error", err)
		jsonError(w, "caption suggestion failed", http.StatusBadGateway)
		return
	}
	s.metrics.Captions.WithLabelValues("ok").Inc()
	if !req.Apply {
		writeJSON(w, http.StatusOK, captionResponse{Caption: text})
		return
	}
	v.Caption = text
	o, err := c.Submit(r.Context(), s.author, v)
	if o == gridcache.OutcomeRejected {
		jsonError(w, err.Error(), rejectionStatus(err))
		return
	}
	writeJSON(w, http.StatusOK, captionResponse{Caption: text, Outcome: o.String()})
}

// GET /api/grids/{grid}/events — SSE stream, a grid_state event then a
// cell_update event per accepted change.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	c, release, ok := s.openGrid(w, r)
	if !ok {
		return
	}
	defer release()

	grid := c.Name()
	gauge := s.metrics.SSEClients.WithLabelValues(grid)
	gauge.Inc()
	defer gauge.Dec()
	dropped := s.metrics.SSEDropped.WithLabelValues(grid)
	newCellStream(dropped.Inc).serve(w, r, c, s.heartbeat)
}

// --- Helpers ---

// openGrid resolves the {grid} path value to a ready cache held until
// release is called, writing the error response when it cannot.
func (s *Server) openGrid(w http.ResponseWriter, r *http.Request) (*gridcache.Cache, func(), bool) {
	name := r.PathValue("grid")
	c, release, err := s.hub.Acquire(r.Context(), name)
	if err == nil {
		return c, release, true
	}
	switch {
	case errors.Is(err, ErrInvalidGrid):
		jsonError(w, "invalid grid name", http.StatusBadRequest)
	case r.Context().Err() != nil:
		// Client went away.
	default:
		s.logger.Error("open grid", "grid", name, "error", err)
		jsonError(w, "grid unavailable", http.StatusServiceUnavailable)
	}
	return nil, nil, false
}

func coordinates(w http.ResponseWriter, r *http.Request) (int, int, bool) {
	x, okX := cell.ParseCoordinate(r.PathValue("x"))
	y, okY := cell.ParseCoordinate(r.PathValue("y"))
	if !okX || !okY {
		jsonError(w, "coordinates must be non-negative integers", http.StatusBadRequest)
		return 0, 0, false
	}
	return x, y, true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
