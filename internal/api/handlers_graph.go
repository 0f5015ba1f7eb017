package api

import (
	"net/http"
	"strconv"

	"github.com/alvmarrod/trust-weaver/internal/memory"
	"github.com/alvmarrod/trust-weaver/internal/storage"
	"github.com/sirupsen/logrus"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

// GraphOverview is the admin dashboard payload
type GraphOverview struct {
	Stats     memory.Stats         `json:"stats"`
	LastBuild *storage.GraphBuild  `json:"lastBuild"`
	History   []storage.GraphBuild `json:"history"`
	IsRunning bool                 `json:"isRunning"`
}

// BuildResponse is returned by a synchronous rebuild
type BuildResponse struct {
	NodesCount int `json:"nodesCount"`
}

// AsyncBuildResponse is returned when the rebuild runs in the background
type AsyncBuildResponse struct {
	Build storage.GraphBuild `json:"build"`
}

// handleGetGraph handles GET /admin/graph
func (s *Server) handleGetGraph(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r.URL.Query().Get("limit"))

	history, err := s.builds.History(r.Context(), limit)
	if err != nil {
		respondMappedError(w, r, err)
		return
	}
	if history == nil {
		history = []storage.GraphBuild{}
	}

	status := s.builds.Status()
	respondJSON(w, http.StatusOK, GraphOverview{
		Stats:     s.graph.Stats(),
		LastBuild: status.LastBuild,
		History:   history,
		IsRunning: status.IsRunning,
	})
}

// handleBuildGraph handles POST /admin/graph
func (s *Server) handleBuildGraph(w http.ResponseWriter, r *http.Request) {
	run, err := s.builds.StartBuild(r.Context())
	if err != nil {
		respondMappedError(w, r, err)
		return
	}

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		respondJSON(w, http.StatusAccepted, AsyncBuildResponse{Build: run.Build()})
		return
	}

	// The build keeps running if the client goes away
	finished, err := run.Wait(r.Context())
	if err != nil {
		logrus.WithField("build", run.Build().ID).Warnf("Client stopped waiting for build: %v", err)
		return
	}

	if finished.Status != storage.BuildCompleted {
		message := "graph build failed"
		if finished.ErrorMessage != nil {
			message = *finished.ErrorMessage
		}
		respondError(w, http.StatusInternalServerError, ErrCodeBuildFailed, message)
		return
	}

	nodes := 0
	if finished.NodesCount != nil {
		nodes = *finished.NodesCount
	}
	respondJSON(w, http.StatusOK, BuildResponse{NodesCount: nodes})
}

// parseLimit applies the default and caps the history size
func parseLimit(raw string) int {
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}
