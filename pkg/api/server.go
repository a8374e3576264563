// Package api exposes the engine over HTTP: run and signal listings,
// operations, comparisons, sessions, and a websocket live-update feed.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vjranagit/tsdiff/pkg/engine"
	"github.com/vjranagit/tsdiff/pkg/metrics"
	"github.com/vjranagit/tsdiff/pkg/session"
	"github.com/vjranagit/tsdiff/pkg/types"
)

// Server implements the HTTP API
type Server struct {
	engine   *engine.Engine
	sessions *session.Store
	metrics  *metrics.Metrics
	registry *prometheus.Registry
	hub      *Hub
	logger   *slog.Logger
	maxShift float64

	addr   string
	server *http.Server
}

// Options configures a server. Sessions and metrics are optional.
type Options struct {
	Addr         string
	Engine       *engine.Engine
	Sessions     *session.Store
	Metrics      *metrics.Metrics
	Registry     *prometheus.Registry
	Logger       *slog.Logger
	MaxShift     float64
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewServer creates an API server
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxShift := opts.MaxShift
	if maxShift <= 0 {
		maxShift = 5.0
	}

	s := &Server{
		engine:   opts.Engine,
		sessions: opts.Sessions,
		metrics:  opts.Metrics,
		registry: opts.Registry,
		logger:   logger,
		maxShift: maxShift,
		addr:     opts.Addr,
		hub:      NewHub(logger, opts.Metrics),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/runs", s.instrument("/api/v1/runs", s.handleRuns))
	mux.HandleFunc("/api/v1/runs/", s.instrument("/api/v1/runs/{idx}", s.handleRunSignals))
	mux.HandleFunc("/api/v1/signals/data", s.instrument("/api/v1/signals/data", s.handleSignalData))
	mux.HandleFunc("/api/v1/operations", s.instrument("/api/v1/operations", s.handleOperations))
	mux.HandleFunc("/api/v1/compare", s.instrument("/api/v1/compare", s.handleCompare))
	mux.HandleFunc("/api/v1/shift", s.instrument("/api/v1/shift", s.handleShift))
	mux.HandleFunc("/api/v1/sessions", s.instrument("/api/v1/sessions", s.handleSessions))
	mux.HandleFunc("/api/v1/sessions/", s.instrument("/api/v1/sessions/{id}", s.handleSessionByID))
	mux.HandleFunc("/api/v1/live", s.hub.HandleWS)
	mux.HandleFunc("/healthz", s.handleHealth)
	if s.registry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}

	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 30 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      mux,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
	return s
}

// Hub returns the live-update hub so the watcher can broadcast through it
func (s *Server) Hub() *Hub { return s.hub }

// Start starts the HTTP server and blocks until it stops
func (s *Server) Start() error {
	s.logger.Info("api server listening", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Stop shuts the server down gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.hub.Close()
	return s.server.Shutdown(ctx)
}

// instrument counts requests per path and status code
func (s *Server) instrument(path string, h http.HandlerFunc) http.HandlerFunc {
	if s.metrics == nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		h(rec, r)
		s.metrics.HTTPRequests.WithLabelValues(path, strconv.Itoa(rec.code)).Inc()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("encode response failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, err error) {
	s.writeJSON(w, code, map[string]string{"error": err.Error()})
}

// runSummary is the listing form of a run
type runSummary struct {
	Index       int           `json:"index"`
	Path        string        `json:"path"`
	DisplayName string        `json:"display_name"`
	TimeOffset  float64       `json:"time_offset"`
	Meta        types.RunMeta `json:"meta"`
	Signals     []string      `json:"signals"`
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	runs := s.engine.Runs()
	out := make([]runSummary, len(runs))
	for i, run := range runs {
		out[i] = runSummary{
			Index:       i,
			Path:        run.Path,
			DisplayName: run.DisplayName,
			TimeOffset:  run.TimeOffset,
			Meta:        run.Meta,
			Signals:     run.SignalNames(),
		}
	}
	s.writeJSON(w, http.StatusOK, out)
}

// handleRunSignals serves GET /api/v1/runs/{idx}/signals
func (s *Server) handleRunSignals(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/runs/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[1] != "signals" {
		s.writeError(w, http.StatusNotFound, errors.New("not found"))
		return
	}
	idx, err := strconv.Atoi(parts[0])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid run index %q", parts[0]))
		return
	}
	run, err := s.engine.Run(idx)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}

	type signalInfo struct {
		Name    string           `json:"name"`
		Kind    types.SignalKind `json:"kind"`
		Display types.Display    `json:"display"`
		Samples int              `json:"samples"`
	}
	out := make([]signalInfo, 0, len(run.Signals))
	for _, name := range run.SignalNames() {
		sig := run.Signals[name]
		out = append(out, signalInfo{Name: name, Kind: sig.Kind, Display: sig.Display, Samples: len(sig.Data)})
	}
	s.writeJSON(w, http.StatusOK, out)
}

// handleSignalData serves GET /api/v1/signals/data?ref=0:speed
func (s *Server) handleSignalData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	ref, err := types.ParseSignalRef(r.URL.Query().Get("ref"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	timeVec, data, err := s.engine.SignalData(ref)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"ref":  ref.String(),
		"time": timeVec,
		"data": data,
	})
}

// operationRequest selects one operation over one or more signal refs
type operationRequest struct {
	Op      string   `json:"op"`
	Sources []string `json:"sources"`
	Interp  string   `json:"interp,omitempty"`
}

func (s *Server) handleOperations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	var req operationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
		return
	}

	refs := make([]types.SignalRef, len(req.Sources))
	for i, src := range req.Sources {
		ref, err := types.ParseSignalRef(src)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
		refs[i] = ref
	}
	interp := types.InterpLinear
	if req.Interp != "" {
		var err error
		if interp, err = types.ParseInterpMethod(req.Interp); err != nil {
			s.writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	var derived *types.Derived
	var err error
	switch len(refs) {
	case 0:
		s.writeError(w, http.StatusBadRequest, errors.New("no sources"))
		return
	case 1:
		derived, err = s.engine.ApplyUnary(engine.UnaryOp(req.Op), refs[0])
	case 2:
		derived, err = s.engine.ApplyBinary(engine.BinaryOp(req.Op), refs[0], refs[1], interp)
	default:
		derived, err = s.engine.ApplyMulti(engine.MultiOp(req.Op), refs, interp)
	}
	if err != nil {
		code := http.StatusUnprocessableEntity
		if errors.Is(err, engine.ErrUnknownOperation) {
			code = http.StatusBadRequest
		}
		if errors.Is(err, engine.ErrUnknownRun) || errors.Is(err, engine.ErrUnknownSignal) {
			code = http.StatusNotFound
		}
		s.writeError(w, code, err)
		return
	}

	handle := s.engine.AddDerived(derived)
	if s.metrics != nil {
		s.metrics.OperationsTotal.WithLabelValues(req.Op).Inc()
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"handle":  handle,
		"derived": derived,
	})
}

// compareResponse wraps a batch comparison; failed signals carry a reason
// string instead of a result.
type compareResponse struct {
	Signal string               `json:"signal"`
	Result *types.CompareResult `json:"result,omitempty"`
	Reason string               `json:"reason,omitempty"`
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	var cfg types.CompareConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
		return
	}
	if cfg.Sync == "" {
		cfg.Sync = types.SyncBaseline
	}
	if cfg.Interp == "" {
		cfg.Interp = types.InterpLinear
	}

	start := time.Now()
	results, err := s.engine.CompareRuns(cfg)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	if s.metrics != nil {
		s.metrics.CompareDuration.Observe(time.Since(start).Seconds())
		for _, res := range results {
			s.metrics.ComparisonsTotal.WithLabelValues(verdict(res)).Inc()
		}
	}

	out := make([]compareResponse, len(results))
	for i, res := range results {
		out[i] = compareResponse{Signal: res.Signal, Result: res.Result, Reason: res.Reason()}
	}
	s.writeJSON(w, http.StatusOK, out)
}

func verdict(c engine.SignalComparison) string {
	switch {
	case c.Err != nil:
		return "skip"
	case c.Result.WithinTolerance:
		return "pass"
	default:
		return "fail"
	}
}

// shiftRequest asks for a time-shift estimate between two signals
type shiftRequest struct {
	Baseline  string  `json:"baseline"`
	Candidate string  `json:"candidate"`
	MaxShift  float64 `json:"max_shift,omitempty"`
}

func (s *Server) handleShift(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}
	var req shiftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
		return
	}
	baseRef, err := types.ParseSignalRef(req.Baseline)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	candRef, err := types.ParseSignalRef(req.Candidate)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	baseTime, baseData, err := s.engine.Resolve(baseRef)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	candTime, candData, err := s.engine.Resolve(candRef)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	maxShift := req.MaxShift
	if maxShift <= 0 {
		maxShift = s.maxShift
	}
	shift := engine.EstimateTimeShift(baseTime, baseData, candTime, candData, maxShift)
	s.writeJSON(w, http.StatusOK, map[string]float64{"shift": shift})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		s.writeError(w, http.StatusNotImplemented, errors.New("session store disabled"))
		return
	}
	switch r.Method {
	case http.MethodGet:
		infos, err := s.sessions.List(r.Context())
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.writeJSON(w, http.StatusOK, infos)
	case http.MethodPost:
		var snap session.Snapshot
		if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
			return
		}
		id, err := s.sessions.Save(r.Context(), &snap)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"id": id})
	default:
		s.writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	}
}

func (s *Server) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		s.writeError(w, http.StatusNotImplemented, errors.New("session store disabled"))
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/sessions/")
	if id == "" || strings.Contains(id, "/") {
		s.writeError(w, http.StatusNotFound, errors.New("not found"))
		return
	}
	switch r.Method {
	case http.MethodGet:
		snap, err := s.sessions.Load(r.Context(), id)
		if err != nil {
			s.writeError(w, http.StatusNotFound, err)
			return
		}
		s.writeJSON(w, http.StatusOK, snap)
	case http.MethodDelete:
		if err := s.sessions.Delete(r.Context(), id); err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		s.writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}
