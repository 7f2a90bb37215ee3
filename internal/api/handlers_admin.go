package api

import (
	"net/http"
)

// handleSweep handles POST /api/v1/admin/sweep, running one
// reconciliation pass synchronously
func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	if s.sweeper == nil {
		respondError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Sweeper is not running on this instance", nil)
		return
	}

	stats, err := s.sweeper.SweepNow(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, stats)
}

// handleListFailed handles GET /api/v1/admin/failed, listing claims in
// failed or timeout awaiting an operator retry
func (s *Server) handleListFailed(w http.ResponseWriter, r *http.Request) {
	records, err := s.claimService.ListRetryable(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":  len(records),
		"claims": records,
	})
}

// handleBatch handles POST /api/v1/admin/batch, running one batch mint
// pass synchronously
func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	if s.batchRunner == nil {
		respondError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Batch scheduler is not running on this instance", nil)
		return
	}

	stats, err := s.batchRunner.RunNow(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, stats)
}
