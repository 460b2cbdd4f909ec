package api

import (
	"errors"
	"net/http"
	"sort"

	"github.com/veridion/sovereign-shield/pkg/review"
)

func (s *Server) handleReviewQueue(w http.ResponseWriter, r *http.Request) {
	items, err := s.reviews.List(r.Context(), r.URL.Query().Get("status"))
	if err != nil {
		s.logger.Error("failed to list reviews", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}

	pending, decided, expired := 0, 0, 0
	for _, it := range items {
		switch it.Status {
		case "PENDING":
			pending++
		case "DECIDED":
			decided++
		case "EXPIRED":
			expired++
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"reviews": items,
		"total":   len(items),
		"pending": pending,
		"decided": decided,
		"expired": expired,
	})
}

func (s *Server) handlePendingReviews(w http.ResponseWriter, r *http.Request) {
	items, err := s.reviews.List(r.Context(), "PENDING")
	if err != nil {
		s.logger.Error("failed to list pending reviews", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reviews": items,
		"total":   len(items),
	})
}

type createReviewBody struct {
	AgentID         string         `json:"agentId"`
	Action          string         `json:"action"`
	Context         map[string]any `json:"context"`
	EvidenceEventID string         `json:"evidenceEventId"`
	RiskLevel       string         `json:"riskLevel"`
}

func (s *Server) handleCreateReview(w http.ResponseWriter, r *http.Request) {
	var body createReviewBody
	if err := decodeJSON(r, &body); err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_BODY", "Request body is not valid JSON")
		return
	}
	if body.AgentID == "" || body.Action == "" {
		writeAPIError(w, http.StatusBadRequest, "INVALID_BODY", "agentId and action are required")
		return
	}

	sealID, err := s.reviews.Create(r.Context(), review.CreateParams{
		AgentID:         body.AgentID,
		Action:          body.Action,
		Context:         body.Context,
		EvidenceEventID: body.EvidenceEventID,
		RiskLevel:       body.RiskLevel,
	})
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "REVIEW_CREATION_FAILED", err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"sealId": sealID,
		"status": "PENDING",
	})
}

func (s *Server) handleDecidedEvidenceIDs(w http.ResponseWriter, r *http.Request) {
	decided, err := s.reviews.DecidedEvidenceEventIDs(r.Context())
	if err != nil {
		s.logger.Error("failed to list decided evidence ids", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	ids := make([]string, 0, len(decided))
	for id := range decided {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	writeJSON(w, http.StatusOK, map[string]any{
		"decidedEvidenceEventIds": ids,
		"total":                   len(ids),
	})
}

type decisionBody struct {
	Decision   string `json:"decision"`
	Reason     string `json:"reason"`
	ReviewerID string `json:"reviewerId"`
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	s.decideReview(w, r, "APPROVE", "APPROVED")
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	s.decideReview(w, r, "REJECT", "REJECTED")
}

func (s *Server) decideReview(w http.ResponseWriter, r *http.Request, decision, resultStatus string) {
	sealID := r.PathValue("seal_id")

	var body decisionBody
	if err := decodeJSON(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Request body is not valid JSON"})
		return
	}
	reviewer := body.ReviewerID
	if reviewer == "" {
		reviewer = "admin"
	}

	err := s.reviews.Decide(r.Context(), sealID, decision, reviewer, body.Reason)
	if err != nil {
		msg := err.Error()
		if errors.Is(err, review.ErrNotPending) {
			msg = "Review not found or already decided"
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": msg})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"sealId":   sealID,
		"decision": resultStatus,
	})
}
