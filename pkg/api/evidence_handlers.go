package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/veridion/sovereign-shield/pkg/evidence"
)

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := queryInt(q.Get("limit"), 50)
	if limit > 10000 {
		limit = 10000
	}
	offset := queryInt(q.Get("offset"), 0)
	if offset < 0 {
		offset = 0
	}

	events, total, err := s.ledger.List(r.Context(), evidence.Filter{
		Severity:           q.Get("severity"),
		EventType:          q.Get("event_type"),
		Search:             q.Get("search"),
		DestinationCountry: q.Get("destination_country"),
		Limit:              limit,
		Offset:             offset,
	})
	if err != nil {
		s.logger.Error("failed to list evidence events", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}

	merkleRoots, err := s.ledger.CountSealedChains(r.Context())
	if err != nil {
		merkleRoots = 0
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events":      events,
		"totalCount":  total,
		"merkleRoots": merkleRoots,
	})
}

type createEventBody struct {
	EventType       string         `json:"eventType"`
	Severity        string         `json:"severity"`
	SourceSystem    string         `json:"sourceSystem"`
	RegulatoryTags  []string       `json:"regulatoryTags"`
	Articles        []string       `json:"articles"`
	Payload         map[string]any `json:"payload"`
	CorrelationID   string         `json:"correlationId"`
	CausationID     string         `json:"causationId"`
	SourceIP        string         `json:"sourceIp"`
	SourceUserAgent string         `json:"sourceUserAgent"`
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request) {
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
	if err := evidenceSchema.Validate(generic); err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}

	var body createEventBody
	if err := json.Unmarshal(raw, &body); err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_BODY", "Request body is not valid JSON")
		return
	}

	ev, err := s.ledger.Append(r.Context(), evidence.AppendParams{
		EventType:       body.EventType,
		Severity:        body.Severity,
		SourceSystem:    body.SourceSystem,
		RegulatoryTags:  body.RegulatoryTags,
		Articles:        body.Articles,
		Payload:         body.Payload,
		CorrelationID:   body.CorrelationID,
		CausationID:     body.CausationID,
		SourceIP:        body.SourceIP,
		SourceUserAgent: body.SourceUserAgent,
	})
	if err != nil {
		s.logger.Error("failed to create evidence event", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"eventId":        ev.EventID,
		"sequenceNumber": ev.SequenceNumber,
		"payloadHash":    ev.PayloadHash,
		"previousHash":   ev.PreviousHash,
		"createdAt":      ev.CreatedAt.Format(time.RFC3339),
	})
}

type verifyBody struct {
	SourceSystem      string `json:"sourceSystem"`
	SourceSystemSnake string `json:"source_system"`
}

func (s *Server) handleVerifyIntegrity(w http.ResponseWriter, r *http.Request) {
	var body verifyBody
	if err := decodeJSON(r, &body); err != nil && err != io.EOF {
		writeAPIError(w, http.StatusBadRequest, "INVALID_BODY", "Request body is not valid JSON")
		return
	}
	source := body.SourceSystem
	if source == "" {
		source = body.SourceSystemSnake
	}
	if source == "" {
		source = "sovereign-shield"
	}

	verified, message, err := s.ledger.Verify(r.Context(), source)
	if err != nil {
		s.logger.Error("failed to verify evidence chain", "source_system", source, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"verified":     verified,
		"sourceSystem": source,
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
		"message":      message,
	})
}

func queryInt(s string, def int64) int64 {
	if s == "" {
		return def
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return def
	}
	return n
}
