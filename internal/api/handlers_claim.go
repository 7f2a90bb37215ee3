package api

import (
	"net/http"

	"github.com/gorilla/mux"

	pkgerrors "github.com/claim-pipeline/internal/errors"
	"github.com/claim-pipeline/internal/service"
)

// handleSubmitClaim handles POST /api/v1/claims
func (s *Server) handleSubmitClaim(w http.ResponseWriter, r *http.Request) {
	var input service.ClaimInput
	if err := parseJSONBody(r, &input); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid request body: "+err.Error(), nil)
		return
	}

	result, err := s.claimService.SubmitClaim(r.Context(), &input)
	if err != nil {
		// A rejected mint carries the result the wallet needs to see
		if result != nil && pkgerrors.IsCode(err, pkgerrors.CodeSubmissionRejected) {
			respondJSON(w, http.StatusUnprocessableEntity, result)
			return
		}
		respondServiceError(w, err)
		return
	}

	status := http.StatusOK
	if result.Outcome == service.OutcomePending {
		status = http.StatusAccepted
	}
	respondJSON(w, status, result)
}

// handleGetStatus handles GET /api/v1/claims/{address}
func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	record, err := s.claimService.GetStatus(r.Context(), vars["address"])
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, record)
}

// handleRetryClaim handles POST /api/v1/claims/{address}/retry
func (s *Server) handleRetryClaim(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	result, err := s.claimService.RetryClaim(r.Context(), vars["address"])
	if err != nil {
		if result != nil && pkgerrors.IsCode(err, pkgerrors.CodeSubmissionRejected) {
			respondJSON(w, http.StatusUnprocessableEntity, result)
			return
		}
		respondServiceError(w, err)
		return
	}

	status := http.StatusOK
	if result.Outcome == service.OutcomePending {
		status = http.StatusAccepted
	}
	respondJSON(w, status, result)
}

// handleRegisterIntent handles POST /api/v1/registrations
func (s *Server) handleRegisterIntent(w http.ResponseWriter, r *http.Request) {
	var input service.ClaimInput
	if err := parseJSONBody(r, &input); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid request body: "+err.Error(), nil)
		return
	}

	if err := s.claimService.RegisterIntent(r.Context(), &input); err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]string{
		"address": input.Address,
		"status":  "registered",
	})
}
