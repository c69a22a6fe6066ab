// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package update is the HTTP listener started while the remote is in Update
// mode. It exposes the device identity, the calibration table, a status
// snapshot and the link metrics.
package update

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Thermoquad/flowremote/internal/caltable"
	"github.com/Thermoquad/flowremote/internal/remote"
)

// Source supplies the data served by the listener. *remote.Remote implements it.
type Source interface {
	Table() caltable.Table
	Snapshot() remote.Status
}

// Options configures the listener
type Options struct {
	ListenAddr string
	Hostname   string
	Identity   string // radio address reported by /mac
	Gatherer   prometheus.Gatherer
}

// Server implements remote.UpdateListener
type Server struct {
	opts   Options
	logger *zap.SugaredLogger
	router *mux.Router
	source Source

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
}

// Anchor is one calibration table row as served by /cal
type Anchor struct {
	Index  int     `json:"index"`
	Flow   float64 `json:"flow"`
	Sensor uint16  `json:"sensor"`
}

// CalResponse is the /cal body
type CalResponse struct {
	Monotonic bool     `json:"monotonic"`
	Anchors   []Anchor `json:"anchors"`
}

// NewServer creates a stopped listener
func NewServer(opts Options, logger *zap.SugaredLogger) *Server {
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{opts: opts, logger: logger}

	s.router = mux.NewRouter()
	s.router.Handle("/mac", http.HandlerFunc(s.MAC)).Methods("GET", "HEAD")
	s.router.Handle("/MAC", http.HandlerFunc(s.MAC)).Methods("GET", "HEAD")
	s.router.Handle("/cal", http.HandlerFunc(s.Cal)).Methods("GET", "HEAD")
	s.router.Handle("/CAL", http.HandlerFunc(s.Cal)).Methods("GET", "HEAD")
	s.router.Handle("/status", http.HandlerFunc(s.Status)).Methods("GET", "HEAD")
	s.router.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})).Methods("GET")
	s.router.Use(s.logRequests)
	return s
}

// Attach sets the data source. Must be called before Start.
func (s *Server) Attach(src Source) {
	s.source = src
}

// Handler returns the router (tests, embedding)
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debugw("update request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr, "took", time.Since(start))
	})
}

// Start binds the listen address and serves in the background
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.opts.ListenAddr)
	if err != nil {
		return fmt.Errorf("update listen %s: %w", s.opts.ListenAddr, err)
	}

	srv := &http.Server{
		Handler:      s.router,
		ReadTimeout:  4 * time.Second,
		WriteTimeout: 4 * time.Second,
	}
	s.srv = srv
	s.listener = ln

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorw("update listener stopped", "error", err)
		}
	}()
	s.logger.Infow("update listener started", "addr", ln.Addr().String(), "hostname", s.opts.Hostname)
	return nil
}

// Stop shuts the listener down
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.listener = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	s.logger.Infow("update listener stopping")
	return srv.Shutdown(ctx)
}

// Addr returns the bound address, or "" when stopped
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// MAC reports the device identity as plain text
func (s *Server) MAC(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprint(w, s.opts.Identity)
}

// Cal serves the active calibration table
func (s *Server) Cal(w http.ResponseWriter, r *http.Request) {
	if s.source == nil {
		http.Error(w, "no calibration source", http.StatusServiceUnavailable)
		return
	}
	t := s.source.Table()
	resp := CalResponse{Monotonic: t.Monotonic(), Anchors: make([]Anchor, 0, caltable.Anchors)}
	for i, v := range t {
		resp.Anchors = append(resp.Anchors, Anchor{Index: i, Flow: caltable.FlowForIndex(i), Sensor: v})
	}
	s.writeJSON(w, resp)
}

// Status serves the remote's latest snapshot
func (s *Server) Status(w http.ResponseWriter, r *http.Request) {
	if s.source == nil {
		http.Error(w, "no status source", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, s.source.Snapshot())
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warnw("update response encode failed", "error", err)
	}
}
