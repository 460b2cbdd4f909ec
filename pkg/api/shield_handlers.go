package api

import (
	"net/http"
	"time"

	"github.com/veridion/sovereign-shield/pkg/shield"
)

type evaluateRequest struct {
	DestinationCountryCode string   `json:"destinationCountryCode"`
	DestinationCountry     string   `json:"destinationCountry"`
	DataCategories         []string `json:"dataCategories"`
	PartnerName            string   `json:"partnerName"`
	SourceIP               string   `json:"sourceIp"`
	DestIP                 string   `json:"destIp"`
	DataSize               *int64   `json:"dataSize"`
	Protocol               string   `json:"protocol"`
	UserAgent              string   `json:"userAgent"`
	RequestPath            string   `json:"requestPath"`
}

func (b evaluateRequest) transferContext() shield.TransferContext {
	return shield.TransferContext{
		DestinationCountryCode: b.DestinationCountryCode,
		DestinationCountry:     b.DestinationCountry,
		DataCategories:         b.DataCategories,
		PartnerName:            b.PartnerName,
		SourceIP:               b.SourceIP,
		DestIP:                 b.DestIP,
		DataSize:               b.DataSize,
		Protocol:               b.Protocol,
		UserAgent:              b.UserAgent,
		RequestPath:            b.RequestPath,
	}
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var body evaluateRequest
	if err := decodeJSON(r, &body); err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_BODY", "Request body is not valid JSON")
		return
	}

	res, err := s.shield.EvaluateAndRecord(r.Context(), body.transferContext())
	if err != nil {
		writeAPIError(w, http.StatusInternalServerError, "EVIDENCE_CREATION_FAILED",
			"Failed to create evidence: "+err.Error())
		return
	}
	if s.obs != nil {
		s.obs.RecordDecision(r.Context(), string(res.Decision.Decision), res.Decision.CountryStatus)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"decision":       res.Decision.Decision,
		"reason":         res.Decision.Reason,
		"severity":       res.Decision.Severity,
		"articles":       res.Decision.Articles,
		"country_status": res.Decision.CountryStatus,
		"evidence_id":    res.EvidenceID,
		"review_id":      res.ReviewID,
		"timestamp":      res.Timestamp.Format(time.RFC3339),
	})
}

// ingestEntry accepts both camelCase and snake_case keys; log shippers vary.
type ingestEntry struct {
	SourceIP                    string   `json:"sourceIp"`
	SourceIPSnake               string   `json:"source_ip"`
	DestIP                      string   `json:"destIp"`
	DestIPSnake                 string   `json:"dest_ip"`
	Protocol                    string   `json:"protocol"`
	DataSize                    *int64   `json:"dataSize"`
	DataSizeSnake               *int64   `json:"data_size"`
	Timestamp                   string   `json:"timestamp"`
	UserAgent                   string   `json:"userAgent"`
	UserAgentSnake              string   `json:"user_agent"`
	RequestPath                 string   `json:"requestPath"`
	RequestPathSnake            string   `json:"request_path"`
	DestinationCountryCode      string   `json:"destinationCountryCode"`
	DestinationCountryCodeSnake string   `json:"destination_country_code"`
	DestinationCountry          string   `json:"destinationCountry"`
	DestinationCountrySnake     string   `json:"destination_country"`
	DataCategories              []string `json:"dataCategories"`
	DataCategoriesSnake         []string `json:"data_categories"`
	PartnerName                 string   `json:"partnerName"`
	PartnerNameSnake            string   `json:"partner_name"`
}

func (e ingestEntry) transferContext() shield.TransferContext {
	categories := e.DataCategories
	if categories == nil {
		categories = e.DataCategoriesSnake
	}
	size := e.DataSize
	if size == nil {
		size = e.DataSizeSnake
	}
	return shield.TransferContext{
		DestinationCountryCode: coalesce(e.DestinationCountryCode, e.DestinationCountryCodeSnake),
		DestinationCountry:     coalesce(e.DestinationCountry, e.DestinationCountrySnake),
		DataCategories:         categories,
		PartnerName:            coalesce(e.PartnerName, e.PartnerNameSnake),
		SourceIP:               coalesce(e.SourceIP, e.SourceIPSnake),
		DestIP:                 coalesce(e.DestIP, e.DestIPSnake),
		DataSize:               size,
		Protocol:               e.Protocol,
		UserAgent:              coalesce(e.UserAgent, e.UserAgentSnake),
		RequestPath:            coalesce(e.RequestPath, e.RequestPathSnake),
	}
}

func (s *Server) handleIngestLogs(w http.ResponseWriter, r *http.Request) {
	var entries []ingestEntry
	if err := decodeJSON(r, &entries); err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_BODY", "Request body must be a JSON array of log entries")
		return
	}

	contexts := make([]shield.TransferContext, len(entries))
	for i, e := range entries {
		contexts[i] = e.transferContext()
	}
	processed := s.shield.Ingest(r.Context(), contexts)

	writeJSON(w, http.StatusOK, map[string]any{
		"processed": processed,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleShieldStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.shield.Stats(r.Context())
	if err != nil {
		s.logger.Error("failed to build shield stats", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleShieldCountries(w http.ResponseWriter, r *http.Request) {
	countries, err := s.shield.Countries(r.Context())
	if err != nil {
		s.logger.Error("failed to list countries", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, countries)
}

func (s *Server) handleRequiresAttention(w http.ResponseWriter, r *http.Request) {
	items, err := s.shield.RequiresAttention(r.Context())
	if err != nil {
		s.logger.Error("failed to build attention list", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleTransfersByDestination(w http.ResponseWriter, r *http.Request) {
	rows, err := s.shield.TransfersByDestination(r.Context())
	if err != nil {
		s.logger.Error("failed to group transfers", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func coalesce(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
