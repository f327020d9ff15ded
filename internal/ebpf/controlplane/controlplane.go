// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package controlplane serves the HTTP API used to reconfigure a running
// port filter and to read its counters.
package controlplane

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/netutil"

	"grimm.is/portdrop/internal/ebpf/loader"
	"grimm.is/portdrop/internal/ebpf/metrics"
	"grimm.is/portdrop/internal/ebpf/stats"
	"grimm.is/portdrop/internal/errors"
	"grimm.is/portdrop/internal/logging"
	"grimm.is/portdrop/internal/store"
)

// API paths.
const (
	PathStats       = "/api/v1/filter/stats"
	PathStatsStream = "/api/v1/filter/stats/stream"
	PathPort        = "/api/v1/filter/port"
	PathHealth      = "/api/v1/health"
	PathMetrics     = "/metrics"

	RequestIDHeader = "X-Request-ID"

	// MaxConnections caps concurrent API connections, streams included.
	MaxConnections = 64
)

// StatsMessage is the body of the stats route and of every stream frame.
type StatsMessage struct {
	store.Stats
	DropRate   string    `json:"drop_rate"`
	Port       uint16    `json:"port,omitempty"`
	Configured bool      `json:"configured"`
	At         time.Time `json:"at"`
}

// PortMessage is the body of the port routes.
type PortMessage struct {
	Port       int  `json:"port"`
	Configured bool `json:"configured"`
}

// Status describes the datapath behind the store.
type Status struct {
	Interface string              `json:"interface,omitempty"`
	Mode      string              `json:"mode,omitempty"`
	Driver    string              `json:"driver,omitempty"`
	Attached  bool                `json:"attached"`
	Program   *loader.ProgramInfo `json:"program,omitempty"`
}

// HealthMessage is the body of the health route.
type HealthMessage struct {
	Healthy   bool    `json:"healthy"`
	Timestamp int64   `json:"timestamp"`
	Status    *Status `json:"status,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// Options configures a Server. Zero values are usable.
type Options struct {
	Logger *logging.Logger
	// Metrics is exported on /metrics when set.
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	// MetricsPath overrides PathMetrics.
	MetricsPath string
	// StreamInterval is the period of the websocket stream.
	StreamInterval time.Duration
	// Status reports hook and program state for /health.
	Status func() Status
}

// Server is the control-plane API over a store.
type Server struct {
	store          store.Control
	router         *mux.Router
	logger         *logging.Logger
	metrics        *metrics.Metrics
	status         func() Status
	streamInterval time.Duration
	upgrader       websocket.Upgrader

	mutex      sync.Mutex
	httpServer *http.Server
	listener   net.Listener

	// done is closed by Shutdown; hijacked stream connections are not
	// tracked by http.Server, so they watch it and register in streams.
	done     chan struct{}
	stopping bool
	streams  sync.WaitGroup
}

// New creates the API server. It does not listen until Start.
func New(src store.Control, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	interval := opts.StreamInterval
	if interval <= 0 {
		interval = time.Second
	}

	s := &Server{
		store:          src,
		router:         mux.NewRouter(),
		logger:         logger.WithComponent("api"),
		metrics:        opts.Metrics,
		status:         opts.Status,
		streamInterval: interval,
		done:           make(chan struct{}),
	}
	metricsPath := opts.MetricsPath
	if metricsPath == "" {
		metricsPath = PathMetrics
	}
	s.setupRoutes(opts.Gatherer, metricsPath)
	return s
}

// setupRoutes sets up HTTP routes for the control plane API
func (s *Server) setupRoutes(gatherer prometheus.Gatherer, metricsPath string) {
	s.router.Use(s.requestIDMiddleware)

	s.router.HandleFunc(PathStats, s.handleStats).Methods("GET")
	s.router.HandleFunc(PathStatsStream, s.handleStatsStream).Methods("GET")
	s.router.HandleFunc(PathPort, s.handleGetPort).Methods("GET")
	s.router.HandleFunc(PathPort, s.handleSetPort).Methods("PUT")
	s.router.HandleFunc(PathPort, s.handleClearPort).Methods("DELETE")
	s.router.HandleFunc(PathHealth, s.handleHealth).Methods("GET")

	if s.metrics != nil {
		if gatherer == nil {
			reg := prometheus.NewRegistry()
			if err := s.metrics.Register(reg); err != nil {
				s.logger.WithError(err).Warn("failed to register metrics")
			}
			gatherer = reg
		}
		s.router.Handle(metricsPath, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.httpServer != nil {
		return errors.New(errors.KindConflict, "API server already started")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Attr(errors.Wrap(err, errors.KindUnavailable, "failed to listen"), "addr", addr)
	}
	ln = netutil.LimitListener(ln, MaxConnections)
	s.listener = ln
	if s.stopping {
		s.done = make(chan struct{})
		s.stopping = false
	}
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		s.logger.Info("control plane API listening", "addr", ln.Addr().String())
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server error")
		}
	}()
	return nil
}

// Addr is the bound listen address, empty before Start.
func (s *Server) Addr() string {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops the HTTP server, waiting for in-flight requests and open
// stats streams until ctx ends. Streams are sent a going-away close frame.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mutex.Lock()
	if s.stopping {
		s.mutex.Unlock()
		return nil
	}
	srv := s.httpServer
	s.httpServer, s.listener = nil, nil
	s.stopping = true
	close(s.done)
	s.mutex.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}

	finished := make(chan struct{})
	go func() {
		s.streams.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-ctx.Done():
		err = errors.Join(err, errors.Wrap(ctx.Err(), errors.KindUnavailable, "stats streams still open"))
	}
	return err
}

// trackStream registers a stream with Shutdown. ok is false once the
// server is stopping.
func (s *Server) trackStream() (done <-chan struct{}, ok bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.stopping {
		return nil, false
	}
	s.streams.Add(1)
	return s.done, true
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, requestID)

		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path,
			"request_id", requestID, "duration", time.Since(start))
	})
}

func (s *Server) statsMessage() (StatsMessage, error) {
	snap, err := s.store.Snapshot()
	if err != nil {
		return StatsMessage{}, err
	}
	port, ok, err := s.store.LoadPort()
	if err != nil {
		return StatsMessage{}, err
	}
	return StatsMessage{
		Stats:      snap,
		DropRate:   stats.FormatDropRate(snap),
		Port:       port,
		Configured: ok,
		At:         time.Now().UTC(),
	}, nil
}

// handleStats handles the /stats endpoint
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	msg, err := s.statsMessage()
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, msg)
}

// handleStatsStream upgrades to a websocket and pushes one StatsMessage
// per interval until the client goes away.
func (s *Server) handleStatsStream(w http.ResponseWriter, r *http.Request) {
	done, ok := s.trackStream()
	if !ok {
		s.respondWithError(w, r, errors.New(errors.KindUnavailable, "server is shutting down"))
		return
	}
	defer s.streams.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		s.logger.WithError(err).Debug("websocket upgrade failed")
		return
	}
	defer conn.Close()

	// reader: only needed to notice the close frame
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.streamInterval)
	defer ticker.Stop()

	for {
		msg, err := s.statsMessage()
		if err != nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseInternalServerErr, err.Error()),
				time.Now().Add(time.Second))
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(s.streamInterval + time.Second))
		if err := conn.WriteJSON(msg); err != nil {
			return
		}

		select {
		case <-done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(time.Second))
			return
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) handleGetPort(w http.ResponseWriter, r *http.Request) {
	port, ok, err := s.store.LoadPort()
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, PortMessage{Port: int(port), Configured: ok})
}

func (s *Server) handleSetPort(w http.ResponseWriter, r *http.Request) {
	var req PortMessage
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.respondWithError(w, r, errors.Wrap(err, errors.KindValidation, "invalid JSON body"))
		return
	}
	port, err := store.ValidatePort(req.Port)
	if err != nil {
		s.respondWithError(w, r, err)
		return
	}
	if err := s.store.SetPort(port); err != nil {
		s.respondWithError(w, r, err)
		return
	}
	if s.metrics != nil {
		s.metrics.PortUpdates.WithLabelValues("set").Inc()
	}

	s.logger.Info("filter port changed", "port", port, "request_id", w.Header().Get(RequestIDHeader))
	respondWithJSON(w, http.StatusOK, PortMessage{Port: int(port), Configured: true})
}

func (s *Server) handleClearPort(w http.ResponseWriter, r *http.Request) {
	if err := s.store.ClearPort(); err != nil {
		s.respondWithError(w, r, err)
		return
	}
	if s.metrics != nil {
		s.metrics.PortUpdates.WithLabelValues("clear").Inc()
	}

	s.logger.Info("filter port cleared, passing all traffic", "request_id", w.Header().Get(RequestIDHeader))
	respondWithJSON(w, http.StatusOK, PortMessage{Configured: false})
}

// handleHealth handles the /health endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	msg := HealthMessage{Healthy: true, Timestamp: time.Now().Unix()}

	if _, err := s.store.Snapshot(); err != nil {
		msg.Healthy = false
		msg.Error = err.Error()
	}
	if s.status != nil {
		st := s.status()
		msg.Status = &st
		if !st.Attached {
			msg.Healthy = false
			if msg.Error == "" {
				msg.Error = "XDP program not attached"
			}
		}
	}

	code := http.StatusOK
	if !msg.Healthy {
		code = http.StatusServiceUnavailable
	}
	respondWithJSON(w, code, msg)
}

func (s *Server) respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	kind := errors.GetKind(err)
	code := kind.HTTPStatus()
	if code >= http.StatusInternalServerError {
		s.logger.WithError(err).Error("request failed", "path", r.URL.Path,
			"request_id", w.Header().Get(RequestIDHeader))
	}
	respondWithJSON(w, code, map[string]string{
		"error": err.Error(),
		"kind":  kind.String(),
	})
}

// Helper functions
func respondWithJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Default().WithError(err).Debug("failed to encode response")
	}
}

// URL joins a listen address and an API path, for clients.
func URL(addr, path string) string {
	return fmt.Sprintf("http://%s%s", addr, path)
}
