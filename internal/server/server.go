// Package server exposes bridge processors to remote hosts over HTTP and
// WebSocket.
//
// The read-only endpoints under /v1 describe the engine and the loaded model.
// GET /v1/stream upgrades to a WebSocket that owns one [bridge.Processor] for
// its lifetime; see [Session] for the message protocol.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxbridge/internal/observe"
	"github.com/MrWong99/voxbridge/internal/resilience"
	"github.com/MrWong99/voxbridge/pkg/bridge"
	"github.com/MrWong99/voxbridge/pkg/provider/enhancer"
)

var (
	// ErrServerClosed is returned by [Server.Close] when called twice.
	ErrServerClosed = errors.New("server: closed")

	// ErrSessionLimit is reported with HTTP 503 when MaxSessions streams are
	// already open.
	ErrSessionLimit = errors.New("server: session limit reached")
)

// Defaults are applied to every new session before it is handed to the
// client.
type Defaults struct {
	// Stream is the configuration each session is initialised with. A zero
	// SampleRate leaves new sessions uninitialised.
	Stream enhancer.Config

	// Processor and VAD hold initial parameter values.
	Processor map[enhancer.ProcessorParameter]float32
	VAD       map[enhancer.VadParameter]float32
}

// Config configures a [Server].
type Config struct {
	Runtime    enhancer.Runtime
	Model      *bridge.Model
	LicenseKey string
	Defaults   Defaults

	// MaxSessions caps concurrent streams. Zero means unlimited.
	MaxSessions int

	// Metrics receives session gauges and bridge observations. Defaults to
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Breaker guards processor creation. While it is open, new streams are
	// refused with HTTP 503. Defaults to a breaker that opens after five
	// consecutive failures.
	Breaker *resilience.Breaker

	// AcceptOptions is passed to websocket.Accept.
	AcceptOptions *websocket.AcceptOptions
}

// Server hosts streaming sessions for one model.
type Server struct {
	cfg     Config
	metrics *observe.Metrics
	log     *slog.Logger

	nextID atomic.Uint64

	mu       sync.Mutex
	sessions map[*Session]struct{}
	reserved int
	closed   bool
}

// New creates a Server. It panics if cfg.Runtime or cfg.Model is nil.
func New(cfg Config) *Server {
	if cfg.Runtime == nil || cfg.Model == nil {
		panic("server: runtime and model are required")
	}
	s := &Server{
		cfg:      cfg,
		metrics:  cfg.Metrics,
		log:      cfg.Logger,
		sessions: make(map[*Session]struct{}),
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.cfg.Breaker == nil {
		s.cfg.Breaker = resilience.New(resilience.Config{Name: "processor"})
	}
	return s
}

// Register adds the /v1 routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /v1/constants", s.handleConstants)
	mux.HandleFunc("GET /v1/model", s.handleModel)
	mux.HandleFunc("GET /v1/stream", s.handleStream)
}

// ActiveSessions returns the number of sessions currently open or being
// opened.
func (s *Server) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reserved
}

// Sessions returns a snapshot of the live sessions.
func (s *Server) Sessions() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Session, 0, len(s.sessions))
	for sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

// SetDefaults replaces the defaults applied to sessions opened from now on.
func (s *Server) SetDefaults(d Defaults) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Defaults = d
}

func (s *Server) defaults() Defaults {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Defaults
}

// Close rejects new streams and closes every live session with status
// "going away". It does not wait for the session goroutines to finish.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrServerClosed
	}
	s.closed = true
	live := make([]*Session, 0, len(s.sessions))
	for sess := range s.sessions {
		live = append(live, sess)
	}
	s.mu.Unlock()

	for _, sess := range live {
		sess.close(websocket.StatusGoingAway, "server shutting down")
	}
	return nil
}

// reserve claims a session slot.
func (s *Server) reserve() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || (s.cfg.MaxSessions > 0 && s.reserved >= s.cfg.MaxSessions) {
		return false
	}
	s.reserved++
	return true
}

func (s *Server) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reserved--
}

func (s *Server) track(sess *Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.sessions[sess] = struct{}{}
	return true
}

func (s *Server) untrack(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sess)
}

// ── read-only endpoints ──────────────────────────────────────────────────────

type versionResponse struct {
	SDKVersion    string `json:"sdk_version"`
	BridgeVersion string `json:"bridge_version"`
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, versionResponse{
		SDKVersion:    s.cfg.Runtime.Version(),
		BridgeVersion: bridge.Version,
	})
}

func (s *Server) handleConstants(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, bridge.Constants())
}

type modelResponse struct {
	ID                string `json:"id"`
	OptimalSampleRate uint32 `json:"optimal_sample_rate"`
	SampleRate        uint32 `json:"sample_rate"`
	OptimalNumFrames  int    `json:"optimal_num_frames"`
}

func (s *Server) handleModel(w http.ResponseWriter, r *http.Request) {
	m := s.cfg.Model
	optimal, err := m.OptimalSampleRate()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	sr := optimal
	if q := r.URL.Query().Get("sample_rate"); q != "" {
		v, err := strconv.ParseUint(q, 10, 32)
		if err != nil {
			writeError(w, http.StatusBadRequest, &bridge.ArgumentError{Kind: "sample rate", Value: q})
			return
		}
		sr = uint32(v)
	}

	frames, err := m.OptimalNumFrames(sr)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, modelResponse{
		ID:                m.ID(),
		OptimalSampleRate: optimal,
		SampleRate:        sr,
		OptimalNumFrames:  frames,
	})
}

// ── streaming ────────────────────────────────────────────────────────────────

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if !s.reserve() {
		writeError(w, http.StatusServiceUnavailable, ErrSessionLimit)
		return
	}
	defer s.release()

	var proc *bridge.Processor
	err := s.cfg.Breaker.Execute(func() error {
		var err error
		proc, err = bridge.NewProcessor(s.cfg.Runtime, s.cfg.Model, s.cfg.LicenseKey,
			bridge.WithObserver(s.metrics),
			bridge.WithLogger(s.log),
		)
		return err
	})
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		writeError(w, http.StatusServiceUnavailable, err)
		return
	case err != nil:
		s.metrics.RecordBridgeError(r.Context(), err)
		s.log.Warn("processor creation failed", "err", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	conn, err := websocket.Accept(w, r, s.cfg.AcceptOptions)
	if err != nil {
		// Accept has already written the HTTP error response.
		_ = proc.Close()
		return
	}

	sess := newSession(s, conn, proc)
	if !s.track(sess) {
		sess.close(websocket.StatusGoingAway, "server shutting down")
		_ = proc.Close()
		return
	}
	defer s.untrack(sess)

	sess.run(r.Context(), s.defaults())
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: bridge.Kind(err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
