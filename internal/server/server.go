// Package server exposes the hub over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cuinjune/ar-peggiator/internal/hub"
	"github.com/cuinjune/ar-peggiator/internal/notes"
	"github.com/cuinjune/ar-peggiator/internal/protocol"
	"github.com/cuinjune/ar-peggiator/internal/registry"
)

// Options configures the HTTP surface.
type Options struct {
	Addr            string
	TLSCert         string
	TLSKey          string
	StaticDir       string
	ShutdownTimeout time.Duration

	// Gatherer backs /metrics. Nil serves the default registry.
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// Server serves the websocket endpoint and the read-only JSON views.
type Server struct {
	opts     Options
	hub      *hub.Hub
	registry *registry.Registry
	notes    *notes.Store
	logger   *slog.Logger
	http     *http.Server
}

// New wires the router.
func New(h *hub.Hub, reg *registry.Registry, store *notes.Store, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		opts:     opts,
		hub:      h,
		registry: reg,
		notes:    store,
		logger:   opts.Logger.With("component", "server"),
	}
	s.http = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/ws", s.hub.ServeWS).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/notes", s.handleNotes).Methods(http.MethodGet)
	api.HandleFunc("/notes/{id}", s.handleNote).Methods(http.MethodGet)
	api.HandleFunc("/peers", s.handlePeers).Methods(http.MethodGet)

	if s.opts.StaticDir != "" {
		r.PathPrefix("/").Handler(http.FileServer(http.Dir(s.opts.StaticDir)))
	}
	return r
}

// ListenAndServe serves until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx ends.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errc := make(chan error, 1)
	go func() {
		tls := s.opts.TLSCert != "" && s.opts.TLSKey != ""
		s.logger.Info("listening", "addr", ln.Addr().String(), "tls", tls)
		if tls {
			errc <- s.http.ServeTLS(ln, s.opts.TLSCert, s.opts.TLSKey)
		} else {
			errc <- s.http.Serve(ln)
		}
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"connections": s.registry.Len(),
		"notes":       s.notes.Len(),
	})
}

func (s *Server) handleNotes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, protocol.NoteListChanged{Notes: protocol.NonNilNotes(s.notes.List())})
}

func (s *Server) handleNote(w http.ResponseWriter, r *http.Request) {
	n, ok := s.notes.Get(mux.Vars(r)["id"])
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "note not found"})
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, protocol.StateEcho{Peers: s.registry.Snapshot()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
