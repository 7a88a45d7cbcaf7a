// ABOUTME: HTTP health and resident endpoints of a bailiff
// ABOUTME: Resident listing is JSON and includes tag and migration state

package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/2389/gotag/internal/agent"
)

// ResidentsResponse is the body of GET /api/residents.
type ResidentsResponse struct {
	HostID    string           `json:"host_id"`
	Name      string           `json:"name"`
	Residents []agent.Snapshot `json:"residents"`
}

// handleHealth returns 200 OK if the server is alive.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the bailiff holds a lease with the lookup service.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.registrar.Registered() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not registered with lookup"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d residents)", len(s.bailiff.Residents()))
}

// handleResidents lists the residents of this bailiff.
func (s *Server) handleResidents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	residents := s.bailiff.Residents()
	if residents == nil {
		residents = []agent.Snapshot{}
	}
	response := ResidentsResponse{
		HostID:    s.bailiff.ID(),
		Name:      s.bailiff.Name(),
		Residents: residents,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}
