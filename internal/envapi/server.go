// Package envapi exposes the environment store over HTTP so that
// out-of-process agents and seed tooling can read and mutate the same
// world state the harness evaluates against.
package envapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/codefionn/webtaskbench/internal/logger"
	"github.com/codefionn/webtaskbench/internal/store"
)

// Server provides the HTTP interface to the environment store
type Server struct {
	store  *store.Store
	port   int
	server *http.Server
	router *httprouter.Router
	log    *logger.Logger
}

// NewServer creates a new environment API server
func NewServer(st *store.Store, port int, log *logger.Logger) *Server {
	if log == nil {
		log = logger.Discard()
	}
	s := &Server{
		store:  st,
		port:   port,
		router: httprouter.New(),
		log:    log,
	}

	s.setupRoutes()
	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.router,
	}

	s.log.Info("environment API listening on port %d", s.port)
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// Handler returns the router for use in tests without a listener.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	s.router.GET("/api/env/*path", s.handleEnvGet)
	s.router.PUT("/api/env/*path", s.handleEnvPut)

	s.router.GET("/api/memory/:key", s.handleMemoryGet)
	s.router.PUT("/api/memory/:key", s.handleMemoryPut)
	s.router.DELETE("/api/memory/:key", s.handleMemoryDelete)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// handleEnvGet reads one environment path. Wildcard paths are allowed
// and return the collected matches.
func (s *Server) handleEnvGet(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	path := cleanPath(ps.ByName("path"))
	if path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	value := s.store.QueryEnvironment(path)
	if value == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no value at %s", path))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"path":  path,
		"value": value,
	})
}

func (s *Server) handleEnvPut(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	path := cleanPath(ps.ByName("path"))
	if path == "" {
		writeError(w, http.StatusBadRequest, "path is required")
		return
	}

	var body struct {
		Value interface{} `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return
	}

	if err := s.store.SetEnvState(path, body.Value); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.log.Debug("env write %s = %v", path, body.Value)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"path":  path,
		"value": body.Value,
	})
}

func (s *Server) handleMemoryGet(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	key := ps.ByName("key")

	value := s.store.GetMemory(key, nil)
	if value == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no memory entry %s", key))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"key":   key,
		"value": value,
	})
}

func (s *Server) handleMemoryPut(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	key := ps.ByName("key")

	var body struct {
		Value interface{} `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return
	}

	s.store.SetMemory(key, body.Value)
	if err := s.store.SaveMemory(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"key":   key,
		"value": body.Value,
	})
}

func (s *Server) handleMemoryDelete(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	key := ps.ByName("key")

	s.store.DeleteMemory(key)
	if err := s.store.SaveMemory(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// cleanPath turns the router's "/a/b/c" wildcard capture into the
// dotted form the store uses.
func cleanPath(raw string) string {
	raw = strings.Trim(raw, "/")
	if raw == "" {
		return ""
	}
	return strings.ReplaceAll(raw, "/", ".")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
