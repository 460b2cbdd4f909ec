package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/veridion/sovereign-shield/pkg/evidence"
)

type erasureRequest struct {
	RequestID    string `json:"requestId"`
	UserID       string `json:"userId"`
	Grounds      string `json:"grounds"`
	Confirmation string `json:"confirmation"`
}

func (s *Server) handleExecuteErasure(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	_ = r.Body.Close()
	if err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_BODY", "Failed to read request body")
		return
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_BODY", "Request body is not valid JSON")
		return
	}
	if err := erasureSchema.Validate(generic); err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	var body erasureRequest
	if err := json.Unmarshal(raw, &body); err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_BODY", "Request body is not valid JSON")
		return
	}

	// Erasure is irreversible; demand an explicit typed confirmation.
	if body.Confirmation != "ERASE "+body.UserID {
		writeAPIError(w, http.StatusBadRequest, "INVALID_CONFIRMATION",
			fmt.Sprintf("Confirmation must be 'ERASE %s'", body.UserID))
		return
	}

	res, err := s.shredder.Erase(r.Context(), body.UserID, body.RequestID, body.Grounds)
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "ERASURE_FAILED", err.Error())
		return
	}

	now := time.Now().UTC()
	_, err = s.ledger.Append(r.Context(), evidence.AppendParams{
		EventType:      "GDPR_ERASURE_COMPLETED",
		Severity:       evidence.SeverityL4,
		SourceSystem:   "crypto-shredder",
		RegulatoryTags: []string{"GDPR"},
		Articles:       []string{"GDPR Art. 17"},
		Payload: map[string]any{
			"requestId":     body.RequestID,
			"userId":        body.UserID,
			"grounds":       body.Grounds,
			"executedAt":    now.Format(time.RFC3339),
			"shreddedItems": res.Items,
			"cryptoLogId":   res.LogID,
			"totalRecords":  res.TotalRecords,
			"totalSizeMb":   res.TotalSizeMB,
		},
		CorrelationID: body.RequestID,
	})
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "EVIDENCE_LOGGING_FAILED",
			"Failed to log erasure to evidence graph: "+err.Error())
		return
	}
	if s.obs != nil {
		s.obs.RecordErasure(r.Context())
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"requestId":     body.RequestID,
		"userId":        body.UserID,
		"executedAt":    now.Format(time.RFC3339),
		"executedBy":    "admin",
		"grounds":       body.Grounds,
		"shreddedItems": res.Items,
		"summary": map[string]any{
			"totalRecords":   res.TotalRecords,
			"totalSizeMb":    res.TotalSizeMB,
			"cryptoLogId":    res.LogID,
			"evidenceSealed": true,
			"integrityLevel": "L4",
		},
		"certificate": map[string]any{
			"id":           fmt.Sprintf("CERT-%s-%s", body.RequestID, now.Format("20060102150405")),
			"issuedAt":     now.Format(time.RFC3339),
			"issuedBy":     "Veridion API Crypto-Shredder",
			"compliance":   "GDPR Article 17 - Right to Erasure",
			"verification": "Evidence sealed with L4 integrity: " + res.LogID,
		},
	})
}
