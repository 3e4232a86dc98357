// Copyright 2026 The ComicFS Authors
// SPDX-License-Identifier: Apache-2.0

// Package gateway is the HTTP ingestion surface: clients register new
// comic content by POSTing URL batches, and enumerate the catalog
// with the list endpoints. Registration only records metadata — no
// download happens until a file is opened through the mount.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/comicfs-dev/comicfs/lib/catalog"
)

// maxAddBodyBytes bounds a registration request body. A batch of a
// few thousand URLs fits comfortably.
const maxAddBodyBytes = 4 << 20

// AddRequest is the body of POST /add: comic name -> episode name ->
// ordered page URLs.
type AddRequest map[string]map[string][]string

// FileEntry is one file in a GET /list/{comic}/{episode} response.
type FileEntry struct {
	Name  string `json:"name"`
	State string `json:"state"`
	Size  int64  `json:"size"`
}

// envelope is the wire shape of every response. Success carries data,
// failure carries the HTTP status and a message.
type envelope struct {
	OK     bool   `json:"ok"`
	Data   any    `json:"data,omitempty"`
	Status int    `json:"status,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Config configures a gateway Server.
type Config struct {
	// Address is the TCP listen address (e.g., ":8080"). Required.
	Address string

	// Catalog receives registrations and answers listings. Required.
	Catalog *catalog.Catalog

	// ShutdownTimeout is the maximum time to wait for in-flight
	// requests during graceful shutdown. Defaults to 10 seconds.
	ShutdownTimeout time.Duration

	// Logger receives request diagnostics. If nil, a no-op logger is
	// used.
	Logger *slog.Logger
}

// Server serves the ingestion API on a TCP listener. Serve(ctx)
// blocks until the context is cancelled and active requests drain.
type Server struct {
	address         string
	catalog         *catalog.Catalog
	logger          *slog.Logger
	shutdownTimeout time.Duration

	// ready is closed after the listener is bound and the server is
	// accepting connections.
	ready chan struct{}

	// addr is the resolved listen address, available after ready is
	// closed. Carries the actual port when Address used port 0.
	addr net.Addr
}

// NewServer creates a gateway server. Call Serve to start accepting
// connections.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("gateway: Address is required")
	}
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("gateway: Catalog is required")
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}

	return &Server{
		address:         cfg.Address,
		catalog:         cfg.Catalog,
		logger:          cfg.Logger,
		shutdownTimeout: cfg.ShutdownTimeout,
		ready:           make(chan struct{}),
	}, nil
}

// Ready returns a channel that is closed once the server is bound and
// accepting connections.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the resolved listen address. Only valid after Ready()
// is closed.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Handler returns the API routes. Exposed separately from Serve so
// tests can drive the API through httptest without binding a port.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /add", s.handleAdd)
	mux.HandleFunc("GET /list", s.handleListComics)
	mux.HandleFunc("GET /list/{comic}", s.handleListEpisodes)
	mux.HandleFunc("GET /list/{comic}/{episode}", s.handleListFiles)
	return mux
}

// Serve starts accepting connections. Blocks until ctx is cancelled,
// then performs graceful shutdown.
func (s *Server) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("gateway: listening on %s: %w", s.address, err)
	}
	s.addr = listener.Addr()
	close(s.ready)

	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("gateway listening", "address", s.addr.String())

	serveDone := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveDone <- err
		}
		close(serveDone)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("gateway shutting down")
	case err := <-serveDone:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("gateway shutdown: %w", err)
	}

	s.logger.Info("gateway stopped")
	return nil
}

func (s *Server) handleAdd(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxAddBodyBytes+1))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("reading body: %w", err))
		return
	}
	if len(body) > maxAddBodyBytes {
		s.writeError(w, http.StatusRequestEntityTooLarge, fmt.Errorf("body exceeds %d bytes", maxAddBodyBytes))
		return
	}

	var request AddRequest
	if err := json.Unmarshal(body, &request); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decoding body: %w", err))
		return
	}
	if len(request) == 0 {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("empty registration"))
		return
	}

	// Deterministic registration order regardless of JSON map
	// iteration, so episode IDs (and thus listing order) are stable
	// for a given request.
	registered := 0
	for _, comic := range sortedKeys(request) {
		episodes := request[comic]
		for _, episode := range sortedKeys(episodes) {
			urls := episodes[episode]
			added, err := s.catalog.UpsertEpisodeURLs(r.Context(), comic, episode, urls)
			if err != nil {
				s.writeError(w, http.StatusBadRequest, fmt.Errorf("registering %s/%s: %w", comic, episode, err))
				return
			}
			// Already-registered URLs are skipped by the catalog; only
			// files actually created count toward the response.
			registered += added
		}
	}

	s.logger.Info("registration accepted", "comics", len(request), "urls", registered)
	s.writeData(w, map[string]int{"urls": registered})
}

func (s *Server) handleListComics(w http.ResponseWriter, r *http.Request) {
	comics, err := s.catalog.ListComics(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeData(w, comics)
}

func (s *Server) handleListEpisodes(w http.ResponseWriter, r *http.Request) {
	episodes, err := s.catalog.ListEpisodes(r.Context(), r.PathValue("comic"))
	if err != nil {
		s.writeCatalogError(w, err)
		return
	}
	s.writeData(w, episodes)
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.catalog.EpisodeFiles(r.Context(), r.PathValue("comic"), r.PathValue("episode"))
	if err != nil {
		s.writeCatalogError(w, err)
		return
	}
	entries := make([]FileEntry, len(files))
	for i, file := range files {
		entries[i] = FileEntry{
			Name:  file.Name,
			State: string(file.State),
			Size:  file.Size,
		}
	}
	s.writeData(w, entries)
}

func (s *Server) writeData(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(envelope{OK: true, Data: data}); err != nil {
		s.logger.Error("encoding response", "error", err)
	}
}

func (s *Server) writeCatalogError(w http.ResponseWriter, err error) {
	if errors.Is(err, catalog.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	s.writeError(w, http.StatusInternalServerError, err)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.logger.Warn("request failed", "status", status, "error", err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encodeErr := json.NewEncoder(w).Encode(envelope{
		OK:     false,
		Status: status,
		Error:  err.Error(),
	}); encodeErr != nil {
		s.logger.Error("encoding error response", "error", encodeErr)
	}
}

func sortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
