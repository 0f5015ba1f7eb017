package api

import (
	"net/http"

	"github.com/alvmarrod/trust-weaver/internal/storage"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// AddSeederRequest is the body of POST /admin/seeders
type AddSeederRequest struct {
	Identifier string `json:"identifier"`
	Region     string `json:"region"`
	Label      string `json:"label"`
}

const adminActor = "admin-api"

func (s *Server) handleListSeeders(w http.ResponseWriter, r *http.Request) {
	seeders, err := s.seeds.ListSeeders(r.Context())
	if err != nil {
		respondMappedError(w, r, err)
		return
	}
	if seeders == nil {
		seeders = []storage.Seeder{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"seeders": seeders})
}

func (s *Server) handleAddSeeder(w http.ResponseWriter, r *http.Request) {
	var req AddSeederRequest
	if err := parseJSONBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, "Invalid JSON request body")
		return
	}

	seeder, err := s.seeds.AddSeeder(r.Context(), req.Identifier, req.Region, req.Label, adminActor)
	if err != nil {
		respondMappedError(w, r, err)
		return
	}

	logrus.WithFields(logrus.Fields{
		"seeder": seeder.Identifier,
		"region": seeder.Region,
	}).Info("Seeder added")
	respondJSON(w, http.StatusCreated, seeder)
}

func (s *Server) handleRemoveSeeder(w http.ResponseWriter, r *http.Request) {
	identifier := mux.Vars(r)["identifier"]

	if err := s.seeds.RemoveSeeder(r.Context(), identifier); err != nil {
		respondMappedError(w, r, err)
		return
	}

	logrus.WithField("seeder", identifier).Info("Seeder removed")
	w.WriteHeader(http.StatusNoContent)
}
