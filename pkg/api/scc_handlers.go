package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/veridion/sovereign-shield/pkg/scc"
)

type registerSCCBody struct {
	PartnerName            string `json:"partnerName"`
	DestinationCountryCode string `json:"destinationCountryCode"`
	ExpiresAt              string `json:"expiresAt"`
	Notes                  string `json:"notes"`
}

func (s *Server) handleRegisterSCC(w http.ResponseWriter, r *http.Request) {
	var body registerSCCBody
	if err := decodeJSON(r, &body); err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_BODY", "Request body is not valid JSON")
		return
	}
	if body.PartnerName == "" || body.DestinationCountryCode == "" {
		writeAPIError(w, http.StatusBadRequest, "REGISTRATION_FAILED",
			"Failed to register SCC: partnerName and destinationCountryCode are required")
		return
	}

	var expiresAt *time.Time
	if body.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, body.ExpiresAt)
		if err == nil {
			utc := t.UTC()
			expiresAt = &utc
		}
	}

	entry, err := s.registry.Register(r.Context(), body.PartnerName, body.DestinationCountryCode,
		expiresAt, "admin", body.Notes)
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "REGISTRATION_FAILED",
			"Failed to register SCC: "+err.Error())
		return
	}

	// The new SCC immediately unblocks any matching pending reviews.
	if n, err := s.reviews.AutoApproveForCountry(r.Context(), entry.DestinationCountryCode); err != nil {
		s.logger.Error("auto-approval after SCC registration failed",
			"country", entry.DestinationCountryCode, "error", err)
	} else if n > 0 {
		s.logger.Info("SCC registration auto-approved pending reviews",
			"count", n, "country", entry.DestinationCountryCode)
	}

	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleListSCC(w http.ResponseWriter, r *http.Request) {
	entries, err := s.registry.List(r.Context())
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "QUERY_FAILED",
			"Failed to list SCC registries: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"registries": entries,
		"total":      len(entries),
	})
}

func (s *Server) handleRevokeSCC(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_ID", "Invalid UUID format")
		return
	}

	err := s.registry.Revoke(r.Context(), id)
	switch {
	case errors.Is(err, scc.ErrNotFound):
		writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "SCC registry not found or already revoked")
	case err != nil:
		writeAPIError(w, http.StatusInternalServerError, "REVOKE_FAILED",
			"Failed to revoke SCC: "+err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"id":      id,
			"status":  "revoked",
		})
	}
}
