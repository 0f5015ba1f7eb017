package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// handleGetTrust handles GET /trust/{identifier}. Unknown or malformed
// identifiers still get an answer: the floor score.
func (s *Server) handleGetTrust(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.scorer.Explain(mux.Vars(r)["identifier"]))
}
