package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// handleDevBypass mints an admin token for local development. Disabled in
// production environments.
func (s *Server) handleDevBypass(w http.ResponseWriter, r *http.Request) {
	if s.cfg != nil && s.cfg.AppEnv == "production" {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "Endpoint not available"})
		return
	}

	userID := uuid.NewString()
	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"sub":        userID,
		"username":   "admin",
		"roles":      []string{"admin", "editor"},
		"onboarded":  true,
		"company_id": nil,
		"exp":        now.Add(24 * time.Hour).Unix(),
		"iat":        now.Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.jwtSecret()))
	if err != nil {
		s.logger.Error("JWT encode error", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Failed to generate token"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"user": map[string]any{
			"id":                   userID,
			"username":             "admin",
			"email":                "admin@veridion.local",
			"full_name":            nil,
			"roles":                []string{"admin", "editor"},
			"onboarded":            true,
			"enforcement_override": false,
			"company_id":           nil,
		},
	})
}

// handleAuthMe echoes the claims of a valid bearer token.
func (s *Server) handleAuthMe(w http.ResponseWriter, r *http.Request) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Missing or invalid Authorization"})
		return
	}
	raw := strings.TrimPrefix(auth, "Bearer ")

	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(s.jwtSecret()), nil
	})
	if err != nil || !token.Valid {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Invalid token"})
		return
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "Invalid token"})
		return
	}

	sub, _ := claims["sub"].(string)
	username, ok := claims["username"].(string)
	if !ok || username == "" {
		username = "user"
	}
	roles := []string{"admin", "editor"}
	if raw, ok := claims["roles"].([]any); ok {
		roles = roles[:0]
		for _, v := range raw {
			if s, ok := v.(string); ok {
				roles = append(roles, s)
			}
		}
	}
	onboarded := true
	if v, ok := claims["onboarded"].(bool); ok {
		onboarded = v
	}
	var companyID any
	if v, ok := claims["company_id"].(string); ok && v != "" {
		companyID = v
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":                   sub,
		"username":             username,
		"email":                nil,
		"full_name":            nil,
		"roles":                roles,
		"onboarded":            onboarded,
		"enforcement_override": false,
		"company_id":           companyID,
	})
}

func (s *Server) jwtSecret() string {
	if s.cfg != nil && s.cfg.JWTSecret != "" {
		return s.cfg.JWTSecret
	}
	return "veridion-api-dev-secret-change-in-production"
}
