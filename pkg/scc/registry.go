// Package scc stores Standard Contractual Clauses (GDPR Art. 46) per
// (partner, destination country) pair.
package scc

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when revoking an absent or already-revoked entry.
var ErrNotFound = errors.New("scc: registry entry not found or already revoked")

// Entry is one registered SCC.
type Entry struct {
	ID                     string     `json:"id"`
	PartnerName            string     `json:"partnerName"`
	DestinationCountryCode string     `json:"destinationCountryCode"`
	Status                 string     `json:"status"`
	ExpiresAt              *time.Time `json:"expiresAt"`
	RegisteredBy           string     `json:"registeredBy"`
	RegisteredAt           time.Time  `json:"registeredAt"`
	Notes                  *string    `json:"notes"`
	CreatedAt              time.Time  `json:"createdAt"`
	UpdatedAt              time.Time  `json:"updatedAt"`
}

// Registry is the SCC store over database/sql (Postgres or SQLite).
type Registry struct {
	db *sql.DB
}

func NewRegistry(db *sql.DB) *Registry {
	return &Registry{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS scc_registries (
	id TEXT PRIMARY KEY,
	partner_name TEXT NOT NULL,
	destination_country_code TEXT NOT NULL,
	status TEXT NOT NULL,
	expires_at TIMESTAMP,
	registered_by TEXT,
	registered_at TIMESTAMP NOT NULL,
	notes TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_scc_partner_country ON scc_registries (partner_name, destination_country_code);
`

func (r *Registry) Init(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

// Register stores a new active SCC. The country code is uppercased.
func (r *Registry) Register(ctx context.Context, partnerName, countryCode string, expiresAt *time.Time, registeredBy string, notes string) (*Entry, error) {
	now := time.Now().UTC()
	entry := &Entry{
		ID:                     uuid.NewString(),
		PartnerName:            partnerName,
		DestinationCountryCode: strings.ToUpper(countryCode),
		Status:                 "active",
		ExpiresAt:              expiresAt,
		RegisteredBy:           registeredBy,
		RegisteredAt:           now,
		Notes:                  nullable(notes),
		CreatedAt:              now,
		UpdatedAt:              now,
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO scc_registries
			(id, partner_name, destination_country_code, status, expires_at,
			 registered_by, registered_at, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ID, entry.PartnerName, entry.DestinationCountryCode, entry.Status,
		entry.ExpiresAt, entry.RegisteredBy, entry.RegisteredAt, entry.Notes,
		entry.CreatedAt, entry.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("scc: register: %w", err)
	}
	return entry, nil
}

// List returns all entries, most recently registered first.
func (r *Registry) List(ctx context.Context) ([]Entry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, partner_name, destination_country_code, status, expires_at,
		       registered_by, registered_at, notes, created_at, updated_at
		FROM scc_registries ORDER BY registered_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("scc: list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := make([]Entry, 0)
	for rows.Next() {
		var (
			e            Entry
			expiresAt    sql.NullTime
			registeredBy sql.NullString
			notes        sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.PartnerName, &e.DestinationCountryCode, &e.Status,
			&expiresAt, &registeredBy, &e.RegisteredAt, &notes, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		if expiresAt.Valid {
			e.ExpiresAt = &expiresAt.Time
		}
		e.RegisteredBy = registeredBy.String
		if notes.Valid {
			e.Notes = &notes.String
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Revoke flips one active entry to revoked. Revoking an absent or
// already-revoked entry returns ErrNotFound.
func (r *Registry) Revoke(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE scc_registries SET status = 'revoked', updated_at = $1 WHERE id = $2 AND status = 'active'`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("scc: revoke: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("scc: revoke rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ActiveExists reports whether an active, unexpired SCC covers the given
// partner and destination country.
func (r *Registry) ActiveExists(ctx context.Context, partnerName, countryCode string) (bool, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM scc_registries
		WHERE partner_name = $1
		  AND destination_country_code = $2
		  AND status = 'active'
		  AND (expires_at IS NULL OR expires_at > $3)`,
		partnerName, strings.ToUpper(countryCode), time.Now().UTC(),
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("scc: active lookup: %w", err)
	}
	return count > 0, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
