package api

import (
	"net/http"
	"time"
)

func (s *Server) handleSystemConfig(w http.ResponseWriter, _ *http.Request) {
	now := time.Now().UTC().Format(time.RFC3339)
	writeJSON(w, http.StatusOK, map[string]any{
		"runtime_mode":     "live",
		"updated_at":       now,
		"enforcement_mode": "live",
		"enabled_at":       now,
	})
}

func (s *Server) handleModules(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"modules": []any{}})
}

func (s *Server) handleAuditAlerts(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"alerts": []any{}})
}
