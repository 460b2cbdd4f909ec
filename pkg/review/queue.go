// Package review implements the human oversight queue for transfers the
// decision engine could not resolve on its own (GDPR Art. 22).
package review

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/veridion/sovereign-shield/pkg/canonicalize"
	"github.com/veridion/sovereign-shield/pkg/evidence"
)

var (
	// ErrNotPending is returned when deciding a review that does not exist
	// or was already decided. Decisions are single-shot.
	ErrNotPending = errors.New("review not found or already decided")

	// ErrInvalidDecision is returned for decisions outside
	// ALLOW/APPROVE/BLOCK/REJECT.
	ErrInvalidDecision = errors.New("invalid decision")
)

// Item is one review as presented to reviewers. Field names follow the
// dashboard wire contract.
type Item struct {
	ID                string         `json:"id"`
	Created           time.Time      `json:"created"`
	AgentID           string         `json:"agentId"`
	Action            string         `json:"action"`
	Module            string         `json:"module"`
	SuggestedDecision string         `json:"suggestedDecision"`
	Context           map[string]any `json:"context"`
	Status            string         `json:"status"`
	EvidenceID        string         `json:"evidenceId"`
	DecidedBy         *string        `json:"decidedBy"`
	DecisionReason    *string        `json:"decisionReason"`
	FinalDecision     *string        `json:"finalDecision"`
	DecidedAt         *time.Time     `json:"decidedAt"`
	ExpiresAt         *time.Time     `json:"expiresAt"`
}

// CreateParams describes a new review. Context is hashed into the
// compliance record but not persisted verbatim.
type CreateParams struct {
	AgentID         string
	Action          string
	Context         map[string]any
	EvidenceEventID string
	RiskLevel       string
}

// Queue stores reviews and mirrors every decision into the evidence ledger.
type Queue struct {
	db     *sql.DB
	ledger *evidence.Store
	logger *slog.Logger
}

func NewQueue(db *sql.DB, ledger *evidence.Store, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{db: db, ledger: ledger, logger: logger}
}

const schema = `
CREATE TABLE IF NOT EXISTS compliance_records (
	id TEXT PRIMARY KEY,
	agent_id TEXT NOT NULL,
	action_summary TEXT NOT NULL,
	seal_id TEXT NOT NULL UNIQUE,
	status TEXT NOT NULL,
	human_oversight_status TEXT,
	risk_level TEXT,
	tx_id TEXT NOT NULL,
	payload_hash TEXT NOT NULL,
	evidence_event_id TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_compliance_evidence ON compliance_records (evidence_event_id);

CREATE TABLE IF NOT EXISTS human_oversight (
	id TEXT PRIMARY KEY,
	seal_id TEXT NOT NULL UNIQUE,
	status TEXT NOT NULL,
	reviewer_id TEXT,
	decided_at TIMESTAMP,
	comments TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
`

func (q *Queue) Init(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, schema)
	return err
}

// Create opens a review and returns its seal ID. Creating a second review
// for the same evidence event returns the existing seal ID instead, so a
// transfer is only ever reviewed once.
func (q *Queue) Create(ctx context.Context, p CreateParams) (string, error) {
	if existing, err := q.existingSeal(ctx, p.EvidenceEventID); err != nil {
		return "", err
	} else if existing != "" {
		return existing, nil
	}

	sealID := "SEAL-" + strings.ToUpper(compactUUID()[:16])
	txID := "TX-" + strings.ToUpper(compactUUID()[:12])
	payloadHash, err := canonicalize.CanonicalHash(p.Context)
	if err != nil {
		return "", fmt.Errorf("review: hash context: %w", err)
	}
	now := time.Now().UTC()

	// Both rows or neither; the oversight entry is strictly 1:1 with the
	// compliance record.
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("review: begin create: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO compliance_records
			(id, agent_id, action_summary, seal_id, status, human_oversight_status,
			 risk_level, tx_id, payload_hash, evidence_event_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'PENDING_REVIEW', 'PENDING', $5, $6, $7, $8, $9, $10)`,
		uuid.NewString(), p.AgentID, p.Action, sealID, nullable(p.RiskLevel),
		txID, payloadHash, nullable(p.EvidenceEventID), now, now)
	if err != nil {
		_ = tx.Rollback()
		// A concurrent Create for the same evidence event may have won the
		// unique-index race; its seal is the canonical one.
		if existing, selErr := q.existingSeal(ctx, p.EvidenceEventID); selErr == nil && existing != "" {
			return existing, nil
		}
		return "", fmt.Errorf("review: create compliance record: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO human_oversight (id, seal_id, status, created_at, updated_at)
		VALUES ($1, $2, 'PENDING', $3, $4)`,
		uuid.NewString(), sealID, now, now)
	if err != nil {
		_ = tx.Rollback()
		return "", fmt.Errorf("review: create oversight entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("review: commit create: %w", err)
	}
	return sealID, nil
}

func (q *Queue) existingSeal(ctx context.Context, evidenceEventID string) (string, error) {
	if evidenceEventID == "" {
		return "", nil
	}
	var sealID string
	err := q.db.QueryRowContext(ctx,
		`SELECT seal_id FROM compliance_records WHERE evidence_event_id = $1 LIMIT 1`,
		evidenceEventID).Scan(&sealID)
	switch {
	case err == nil:
		return sealID, nil
	case errors.Is(err, sql.ErrNoRows):
		return "", nil
	}
	return "", fmt.Errorf("review: check existing: %w", err)
}

// Decide resolves a pending review. ALLOW/APPROVE approve it, BLOCK/REJECT
// reject it. The decision is mirrored into the evidence ledger; a ledger
// failure is logged but does not fail the decision.
func (q *Queue) Decide(ctx context.Context, sealID, decision, reviewerID, comments string) error {
	var status string
	switch decision {
	case "ALLOW", "APPROVE":
		status = "APPROVED"
	case "BLOCK", "REJECT":
		status = "REJECTED"
	default:
		return fmt.Errorf("%w: %s", ErrInvalidDecision, decision)
	}

	now := time.Now().UTC()
	res, err := q.db.ExecContext(ctx, `
		UPDATE human_oversight
		SET status = $1, reviewer_id = $2, decided_at = $3, comments = $4, updated_at = $3
		WHERE seal_id = $5 AND status = 'PENDING'`,
		status, reviewerID, now, comments, sealID)
	if err != nil {
		return fmt.Errorf("review: update oversight: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("review: decide rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotPending
	}

	_, err = q.db.ExecContext(ctx,
		`UPDATE compliance_records SET human_oversight_status = $1, updated_at = $2 WHERE seal_id = $3`,
		status, now, sealID)
	if err != nil {
		return fmt.Errorf("review: update compliance record: %w", err)
	}

	_, err = q.ledger.Append(ctx, evidence.AppendParams{
		EventType:      "HUMAN_OVERSIGHT_" + status,
		Severity:       evidence.SeverityL2,
		SourceSystem:   "human-oversight",
		RegulatoryTags: []string{"GDPR"},
		Articles:       []string{"GDPR Art. 22"},
		Payload: map[string]any{
			"seal_id":     sealID,
			"decision":    status,
			"reviewer_id": reviewerID,
			"comments":    comments,
		},
		CorrelationID: sealID,
	})
	if err != nil {
		q.logger.Error("failed to record review decision in evidence ledger",
			"seal_id", sealID, "error", err)
	}

	return nil
}

// List returns reviews joined with their oversight state, newest first.
// status filters on the raw oversight status (PENDING, APPROVED, REJECTED);
// empty means all.
func (q *Queue) List(ctx context.Context, status string) ([]Item, error) {
	query := `
		SELECT cr.seal_id, cr.created_at, cr.agent_id, cr.action_summary,
		       cr.risk_level, cr.tx_id, cr.evidence_event_id,
		       ho.status, ho.reviewer_id, ho.decided_at, ho.comments
		FROM compliance_records cr
		JOIN human_oversight ho ON ho.seal_id = cr.seal_id`
	args := []any{}
	if status != "" {
		query += ` WHERE ho.status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY cr.created_at DESC`

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("review: list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	items := make([]Item, 0)
	for rows.Next() {
		var (
			it              Item
			riskLevel       sql.NullString
			txID            string
			evidenceEventID sql.NullString
			hoStatus        string
			reviewerID      sql.NullString
			decidedAt       sql.NullTime
			comments        sql.NullString
		)
		if err := rows.Scan(&it.ID, &it.Created, &it.AgentID, &it.Action,
			&riskLevel, &txID, &evidenceEventID,
			&hoStatus, &reviewerID, &decidedAt, &comments); err != nil {
			return nil, err
		}

		it.Module = "sovereign-shield"
		it.SuggestedDecision = "REVIEW"
		it.Context = map[string]any{
			"seal_id":    it.ID,
			"tx_id":      txID,
			"risk_level": nullStringPtr(riskLevel),
		}
		if evidenceEventID.Valid {
			it.Context["event_id"] = evidenceEventID.String
			it.Context["evidence_id"] = evidenceEventID.String
			it.EvidenceID = evidenceEventID.String
		} else {
			it.EvidenceID = it.ID
		}

		switch hoStatus {
		case "PENDING":
			it.Status = "PENDING"
		case "APPROVED":
			it.Status = "DECIDED"
			it.FinalDecision = strPtr("ALLOW")
		case "REJECTED":
			it.Status = "DECIDED"
			it.FinalDecision = strPtr("BLOCK")
		default:
			it.Status = hoStatus
		}
		it.DecidedBy = nullStringPtr(reviewerID)
		it.DecisionReason = nullStringPtr(comments)
		if decidedAt.Valid {
			t := decidedAt.Time
			it.DecidedAt = &t
		}

		items = append(items, it)
	}
	return items, rows.Err()
}

// CountPending returns the number of undecided reviews.
func (q *Queue) CountPending(ctx context.Context) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM human_oversight WHERE status = 'PENDING'`).Scan(&n)
	return n, err
}

// DecidedEvidenceEventIDs returns the evidence event IDs of all reviews
// already decided either way. Used to drop resolved transfers from the
// attention feed.
func (q *Queue) DecidedEvidenceEventIDs(ctx context.Context) (map[string]bool, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT DISTINCT cr.evidence_event_id
		FROM compliance_records cr
		JOIN human_oversight ho ON ho.seal_id = cr.seal_id
		WHERE ho.status IN ('APPROVED', 'REJECTED') AND cr.evidence_event_id IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("review: decided events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	decided := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		decided[id] = true
	}
	return decided, rows.Err()
}

// AutoApproveForCountry approves every pending review whose underlying
// transfer targets the given country. Called after an SCC registration so
// the paperwork immediately unblocks waiting transfers. Returns how many
// reviews were approved.
func (q *Queue) AutoApproveForCountry(ctx context.Context, countryCode string) (int, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT ho.seal_id
		FROM human_oversight ho
		JOIN compliance_records cr ON cr.seal_id = ho.seal_id
		JOIN evidence_events ee ON ee.event_id = cr.evidence_event_id
		WHERE ho.status = 'PENDING' AND UPPER(ee.destination_country_code) = $1`,
		strings.ToUpper(countryCode))
	if err != nil {
		return 0, fmt.Errorf("review: find matching pending reviews: %w", err)
	}

	sealIDs := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return 0, err
		}
		sealIDs = append(sealIDs, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return 0, err
	}
	_ = rows.Close()

	approved := 0
	for _, sealID := range sealIDs {
		err := q.Decide(ctx, sealID, "APPROVE", "scc-registration", "SCC registered for this destination")
		if err != nil {
			q.logger.Warn("auto-approval skipped", "seal_id", sealID, "error", err)
			continue
		}
		approved++
	}
	return approved, nil
}

func compactUUID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func strPtr(s string) *string { return &s }

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
