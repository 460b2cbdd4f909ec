// Package config loads server configuration from environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	defaultSealSalt  = "VERIDION_PROFESSIONAL_COMPLIANCE_SEAL_2024"
	defaultMasterKey = "veridion-dev-master-key-32bytes!!"
	defaultJWTSecret = "veridion-api-dev-secret-change-in-production"
)

// ShredSource describes one data source reported in erasure certificates.
type ShredSource struct {
	Source  string  `json:"source"`
	Records int64   `json:"records"`
	SizeMB  float64 `json:"size_mb"`
}

// Config holds server configuration.
type Config struct {
	ServerHost     string
	ServerPort     string
	DatabaseURL    string
	AllowedOrigins []string
	AppEnv         string
	JWTSecret      string
	SealSalt       string
	MasterKey      [32]byte
	ShredInventory []ShredSource
	RateLimitRPS   int
	RateLimitBurst int
	OTELEnabled    bool
	OTLPEndpoint   string
}

// Load loads configuration from environment variables.
func Load() *Config {
	host := os.Getenv("SERVER_HOST")
	if host == "" {
		host = "0.0.0.0"
	}

	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}

	origins := os.Getenv("ALLOWED_ORIGINS")
	if origins == "" {
		origins = "http://localhost:3000,http://127.0.0.1:3000"
	}

	appEnv := os.Getenv("APP_ENV")
	if appEnv == "" {
		appEnv = "development"
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = defaultJWTSecret
	}

	salt := os.Getenv("NEXUS_SEAL_SALT")
	if salt == "" {
		salt = defaultSealSalt
	}

	keyStr := os.Getenv("MASTER_KEY")
	if keyStr == "" {
		fmt.Fprintln(os.Stderr, "WARNING: MASTER_KEY not set; using development default. Do NOT run production erasures with this key.")
		keyStr = defaultMasterKey
	} else if len(keyStr) != 32 {
		fmt.Fprintf(os.Stderr, "WARNING: MASTER_KEY is %d bytes, not 32; it will be zero-padded or truncated.\n", len(keyStr))
	}

	return &Config{
		ServerHost:     host,
		ServerPort:     port,
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		AllowedOrigins: splitOrigins(origins),
		AppEnv:         appEnv,
		JWTSecret:      jwtSecret,
		SealSalt:       salt,
		MasterKey:      MasterKeyBytes(keyStr),
		ShredInventory: loadShredInventory(),
		RateLimitRPS:   envInt("RATE_LIMIT_RPS", 50),
		RateLimitBurst: envInt("RATE_LIMIT_BURST", 100),
		OTELEnabled:    os.Getenv("OTEL_ENABLED") == "true",
		OTLPEndpoint:   envDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
	}
}

// MasterKeyBytes converts key material into exactly 32 bytes:
// shorter inputs are right-zero-padded, longer inputs are truncated.
// This matches the key derivation used for all existing encrypted rows
// and must not change.
func MasterKeyBytes(s string) [32]byte {
	var key [32]byte
	copy(key[:], s)
	return key
}

// DefaultShredInventory is the erasure certificate inventory reported to
// clients when SHRED_INVENTORY is not configured.
func DefaultShredInventory() []ShredSource {
	return []ShredSource{
		{Source: "Main Database", Records: 2341, SizeMB: 4.5},
		{Source: "Analytics Store", Records: 8234, SizeMB: 112.3},
		{Source: "Backup Archive", Records: 1412, SizeMB: 7.2},
	}
}

func loadShredInventory() []ShredSource {
	raw := os.Getenv("SHRED_INVENTORY")
	if raw == "" {
		return DefaultShredInventory()
	}
	var inv []ShredSource
	if err := json.Unmarshal([]byte(raw), &inv); err != nil || len(inv) == 0 {
		fmt.Fprintf(os.Stderr, "WARNING: invalid SHRED_INVENTORY, using defaults: %v\n", err)
		return DefaultShredInventory()
	}
	return inv
}

func splitOrigins(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
