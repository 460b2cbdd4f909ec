package evidence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veridion/sovereign-shield/pkg/canonicalize"
)

// Flavor selects driver-specific behavior. The SQL itself is written with
// $N placeholders, which both lib/pq and modernc.org/sqlite accept.
type Flavor int

const (
	FlavorSQLite Flavor = iota
	FlavorPostgres
)

// Store is the ledger over database/sql. It supports Postgres and SQLite.
type Store struct {
	db     *sql.DB
	flavor Flavor
	salt   string

	mu     sync.Mutex
	chains map[string]*sync.Mutex
}

// NewPostgresStore creates a ledger backed by Postgres. Appends additionally
// take a transaction-scoped advisory lock on the chain name, so multiple
// replicas can share one database.
func NewPostgresStore(db *sql.DB, salt string) *Store {
	return &Store{db: db, flavor: FlavorPostgres, salt: salt, chains: make(map[string]*sync.Mutex)}
}

// NewSQLiteStore creates a ledger backed by SQLite (lite mode and tests).
func NewSQLiteStore(db *sql.DB, salt string) *Store {
	return &Store{db: db, flavor: FlavorSQLite, salt: salt, chains: make(map[string]*sync.Mutex)}
}

const schema = `
CREATE TABLE IF NOT EXISTS evidence_events (
	event_id TEXT PRIMARY KEY,
	correlation_id TEXT NOT NULL,
	causation_id TEXT,
	sequence_number BIGINT NOT NULL,
	occurred_at TIMESTAMP NOT NULL,
	recorded_at TIMESTAMP NOT NULL,
	event_type TEXT NOT NULL,
	severity TEXT NOT NULL,
	source_system TEXT NOT NULL,
	source_ip TEXT,
	source_user_agent TEXT,
	regulatory_tags TEXT NOT NULL,
	articles TEXT NOT NULL,
	payload TEXT NOT NULL,
	payload_hash TEXT NOT NULL,
	previous_hash TEXT NOT NULL,
	nexus_seal TEXT,
	verification_status TEXT,
	destination_country TEXT,
	destination_country_code TEXT,
	decision TEXT,
	country_status TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_evidence_chain ON evidence_events (source_system, sequence_number);
CREATE INDEX IF NOT EXISTS idx_evidence_created ON evidence_events (created_at);
`

func (s *Store) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// chainLock returns the in-process append lock for one source_system chain.
func (s *Store) chainLock(sourceSystem string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	mu, ok := s.chains[sourceSystem]
	if !ok {
		mu = &sync.Mutex{}
		s.chains[sourceSystem] = mu
	}
	return mu
}

// Append seals a new event onto its source_system chain.
//
// The read-tail/insert critical section is serialized per chain: an
// in-process mutex covers concurrent requests in one process, and on
// Postgres an advisory transaction lock on the chain name covers concurrent
// replicas. Sequence numbers are dense and strictly increasing from 1.
func (s *Store) Append(ctx context.Context, p AppendParams) (*Event, error) {
	if p.SourceSystem == "" {
		return nil, errors.New("evidence: source_system is required")
	}

	canonical, err := canonicalize.JCS(p.Payload)
	if err != nil {
		return nil, fmt.Errorf("evidence: canonicalize payload: %w", err)
	}
	payloadHash := canonicalize.HashBytes(canonical)

	mu := s.chainLock(p.SourceSystem)
	mu.Lock()
	defer mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("evidence: begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if s.flavor == FlavorPostgres {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, p.SourceSystem); err != nil {
			return nil, fmt.Errorf("evidence: acquire chain lock: %w", err)
		}
	}

	var (
		lastSeq  int64
		prevHash string
	)
	err = tx.QueryRowContext(ctx,
		`SELECT sequence_number, payload_hash FROM evidence_events
		 WHERE source_system = $1 ORDER BY sequence_number DESC LIMIT 1`,
		p.SourceSystem,
	).Scan(&lastSeq, &prevHash)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("evidence: read chain tail: %w", err)
	}

	seq := lastSeq + 1
	seal := ComputeNexusSeal(payloadHash, prevHash, s.salt)

	now := time.Now().UTC()
	eventID := uuid.NewString()
	correlationID := p.CorrelationID
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	tagsJSON, err := json.Marshal(nonNil(p.RegulatoryTags))
	if err != nil {
		return nil, fmt.Errorf("evidence: marshal regulatory tags: %w", err)
	}
	articlesJSON, err := json.Marshal(nonNil(p.Articles))
	if err != nil {
		return nil, fmt.Errorf("evidence: marshal articles: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO evidence_events
			(event_id, correlation_id, causation_id, sequence_number,
			 occurred_at, recorded_at, event_type, severity,
			 source_system, source_ip, source_user_agent,
			 regulatory_tags, articles, payload,
			 payload_hash, previous_hash, nexus_seal, verification_status,
			 destination_country, destination_country_code, decision, country_status,
			 created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		        $15, $16, $17, 'VERIFIED', $18, $19, $20, $21, $22, $23)`,
		eventID, correlationID, nullable(p.CausationID), seq,
		now, now, p.EventType, p.Severity,
		p.SourceSystem, nullable(p.SourceIP), nullable(p.SourceUserAgent),
		string(tagsJSON), string(articlesJSON), string(canonical),
		payloadHash, prevHash, seal,
		payloadString(p.Payload, "destination_country"),
		payloadString(p.Payload, "destination_country_code"),
		payloadString(p.Payload, "decision"),
		payloadString(p.Payload, "country_status"),
		now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("evidence: insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("evidence: commit append: %w", err)
	}

	return &Event{
		ID:                 eventID,
		EventID:            eventID,
		CorrelationID:      correlationID,
		CausationID:        nullable(p.CausationID),
		SequenceNumber:     seq,
		OccurredAt:         now,
		RecordedAt:         now,
		EventType:          p.EventType,
		Severity:           p.Severity,
		SourceSystem:       p.SourceSystem,
		SourceIP:           nullable(p.SourceIP),
		SourceUserAgent:    nullable(p.SourceUserAgent),
		RegulatoryTags:     nonNil(p.RegulatoryTags),
		Articles:           nonNil(p.Articles),
		Payload:            p.Payload,
		PayloadHash:        payloadHash,
		PreviousHash:       prevHash,
		NexusSeal:          seal,
		VerificationStatus: "VERIFIED",
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

// Verify replays one chain in sequence order, recomputing the payload hash,
// the nexus seal and the previous-hash link of every event. It returns
// (false, description) on the first mismatch.
func (s *Store) Verify(ctx context.Context, sourceSystem string) (bool, string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_id, payload, payload_hash, previous_hash, nexus_seal
		FROM evidence_events WHERE source_system = $1
		ORDER BY sequence_number ASC`, sourceSystem)
	if err != nil {
		return false, "", fmt.Errorf("evidence: load chain: %w", err)
	}
	defer func() { _ = rows.Close() }()

	type link struct {
		eventID      string
		payload      string
		payloadHash  string
		previousHash string
		nexusSeal    sql.NullString
	}

	var chain []link
	for rows.Next() {
		var l link
		if err := rows.Scan(&l.eventID, &l.payload, &l.payloadHash, &l.previousHash, &l.nexusSeal); err != nil {
			return false, "", fmt.Errorf("evidence: scan chain row: %w", err)
		}
		chain = append(chain, l)
	}
	if err := rows.Err(); err != nil {
		return false, "", err
	}

	if len(chain) == 0 {
		return true, "No events to verify", nil
	}

	for i, l := range chain {
		canonical, err := canonicalize.Transform([]byte(l.payload))
		if err != nil {
			return false, fmt.Sprintf("Event %s payload hash mismatch", l.eventID), nil
		}
		if canonicalize.HashBytes(canonical) != l.payloadHash {
			return false, fmt.Sprintf("Event %s payload hash mismatch", l.eventID), nil
		}
		if l.nexusSeal.Valid && l.nexusSeal.String != "" {
			if ComputeNexusSeal(l.payloadHash, l.previousHash, s.salt) != l.nexusSeal.String {
				return false, fmt.Sprintf("Event %s nexus seal mismatch", l.eventID), nil
			}
		}
		if i > 0 && l.previousHash != chain[i-1].payloadHash {
			return false, fmt.Sprintf("Event %s chain break: previous_hash does not match", l.eventID), nil
		}
	}

	return true, fmt.Sprintf("Chain verified: %d events", len(chain)), nil
}

const eventColumns = `event_id, correlation_id, causation_id, sequence_number,
	occurred_at, recorded_at, event_type, severity, source_system,
	source_ip, source_user_agent, regulatory_tags, articles, payload,
	payload_hash, previous_hash, nexus_seal, verification_status,
	created_at, updated_at`

// List returns filtered events, newest first, plus the unfiltered-by-limit
// total count.
func (s *Store) List(ctx context.Context, f Filter) ([]Event, int64, error) {
	where := "1=1"
	args := []any{}
	n := 0

	add := func(clause string, value any) {
		n++
		where += " AND " + fmt.Sprintf(clause, n)
		args = append(args, value)
	}

	if f.Severity != "" {
		add("severity = $%d", f.Severity)
	}
	if f.EventType != "" {
		add("event_type = $%d", f.EventType)
	}
	if f.Search != "" {
		n++
		where += fmt.Sprintf(` AND (LOWER(event_id) LIKE '%%' || LOWER($%d) || '%%'
			OR LOWER(correlation_id) LIKE '%%' || LOWER($%d) || '%%'
			OR LOWER(event_type) LIKE '%%' || LOWER($%d) || '%%'
			OR LOWER(payload) LIKE '%%' || LOWER($%d) || '%%')`, n, n, n, n)
		args = append(args, f.Search)
	}
	if f.DestinationCountry != "" {
		n++
		where += fmt.Sprintf(` AND LOWER(destination_country) LIKE '%%' || LOWER($%d) || '%%'`, n)
		args = append(args, f.DestinationCountry)
	}

	var total int64
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM evidence_events WHERE "+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("evidence: count events: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(
		"SELECT %s FROM evidence_events WHERE %s ORDER BY created_at DESC, sequence_number DESC LIMIT $%d OFFSET $%d",
		eventColumns, where, n+1, n+2)
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("evidence: list events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	events := make([]Event, 0)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, 0, err
		}
		events = append(events, *ev)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return events, total, nil
}

// GetByEventID fetches one event, or nil when absent.
func (s *Store) GetByEventID(ctx context.Context, eventID string) (*Event, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT %s FROM evidence_events WHERE event_id = $1", eventColumns), eventID)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return ev, err
}

// CountSealedChains counts distinct source_system chains that carry at least
// one sealed event. The HTTP layer reports this as "merkleRoots" for API
// compatibility with existing clients, although it is a chain count.
func (s *Store) CountSealedChains(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT source_system) FROM evidence_events
		 WHERE nexus_seal IS NOT NULL AND nexus_seal != ''`,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("evidence: count sealed chains: %w", err)
	}
	return count, nil
}

// CountBySource counts all events in one chain.
func (s *Store) CountBySource(ctx context.Context, sourceSystem string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM evidence_events WHERE source_system = $1`, sourceSystem,
	).Scan(&count)
	return count, err
}

// CountByTypeSince counts events of one type recorded at or after cutoff.
func (s *Store) CountByTypeSince(ctx context.Context, sourceSystem, eventType string, cutoff time.Time) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM evidence_events
		 WHERE source_system = $1 AND event_type = $2 AND created_at >= $3`,
		sourceSystem, eventType, cutoff,
	).Scan(&count)
	return count, err
}

// CountActiveSources counts distinct reporting source IPs seen since cutoff.
func (s *Store) CountActiveSources(ctx context.Context, sourceSystem string, cutoff time.Time) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT source_ip) FROM evidence_events
		 WHERE source_system = $1 AND source_ip IS NOT NULL AND created_at >= $2`,
		sourceSystem, cutoff,
	).Scan(&count)
	return count, err
}

// AttentionGroup is one (destination, decision) cluster of blocked or
// review-pending transfers.
type AttentionGroup struct {
	DestinationCountryCode string
	Decision               string
	OccurrenceCount        int64
	FirstSeen              time.Time
	LastSeen               time.Time
	EventID                string
	SystemName             string
}

// AttentionGroups clusters blocked and review events by destination and
// decision, most frequent first.
func (s *Store) AttentionGroups(ctx context.Context, sourceSystem string, limit int64) ([]AttentionGroup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(destination_country_code, ''),
		       COALESCE(decision, ''),
		       COUNT(*),
		       MIN(created_at), MAX(created_at),
		       MIN(event_id),
		       COALESCE(MIN(source_ip), 'unknown')
		FROM evidence_events
		WHERE source_system = $1
		  AND event_type IN ('DATA_TRANSFER_BLOCKED', 'DATA_TRANSFER_REVIEW')
		GROUP BY destination_country_code, decision
		ORDER BY COUNT(*) DESC
		LIMIT $2`, sourceSystem, limit)
	if err != nil {
		return nil, fmt.Errorf("evidence: attention groups: %w", err)
	}
	defer func() { _ = rows.Close() }()

	groups := make([]AttentionGroup, 0)
	for rows.Next() {
		var (
			g                 AttentionGroup
			firstRaw, lastRaw any
		)
		if err := rows.Scan(&g.DestinationCountryCode, &g.Decision, &g.OccurrenceCount,
			&firstRaw, &lastRaw, &g.EventID, &g.SystemName); err != nil {
			return nil, err
		}
		if g.FirstSeen, err = aggregateTime(firstRaw); err != nil {
			return nil, err
		}
		if g.LastSeen, err = aggregateTime(lastRaw); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// Aggregates like MIN(created_at) lose the column's declared type, so the
// SQLite driver returns the raw stored string instead of a time.Time.
var aggregateTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999 -0700 MST",
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
}

func aggregateTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		return parseAggregateTime(t)
	case []byte:
		return parseAggregateTime(string(t))
	case nil:
		return time.Time{}, nil
	}
	return time.Time{}, fmt.Errorf("evidence: cannot scan %T as timestamp", v)
}

func parseAggregateTime(s string) (time.Time, error) {
	for _, layout := range aggregateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("evidence: unrecognized timestamp %q", s)
}

// DestinationCount is the transfer volume toward one destination country.
type DestinationCount struct {
	Destination   string
	CountryStatus string
	Count         int64
}

// DestinationCounts groups chain events by destination country and
// classification, most frequent first.
func (s *Store) DestinationCounts(ctx context.Context, sourceSystem string, limit int64) ([]DestinationCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT destination_country, COALESCE(country_status, ''), COUNT(*)
		FROM evidence_events
		WHERE source_system = $1 AND destination_country IS NOT NULL
		GROUP BY destination_country, country_status
		ORDER BY COUNT(*) DESC
		LIMIT $2`, sourceSystem, limit)
	if err != nil {
		return nil, fmt.Errorf("evidence: destination counts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]DestinationCount, 0)
	for rows.Next() {
		var d DestinationCount
		if err := rows.Scan(&d.Destination, &d.CountryStatus, &d.Count); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// CountryCounts returns per-country-code transfer counts for one chain.
func (s *Store) CountryCounts(ctx context.Context, sourceSystem string) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT destination_country_code, COUNT(*)
		FROM evidence_events
		WHERE source_system = $1 AND destination_country_code IS NOT NULL
		GROUP BY destination_country_code`, sourceSystem)
	if err != nil {
		return nil, fmt.Errorf("evidence: country counts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]int64)
	for rows.Next() {
		var code string
		var count int64
		if err := rows.Scan(&code, &count); err != nil {
			return nil, err
		}
		out[code] = count
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(r rowScanner) (*Event, error) {
	var (
		ev                               Event
		causationID, sourceIP, userAgent sql.NullString
		nexusSeal, verification          sql.NullString
		tagsJSON, articlesJSON, payload  string
	)
	err := r.Scan(&ev.EventID, &ev.CorrelationID, &causationID, &ev.SequenceNumber,
		&ev.OccurredAt, &ev.RecordedAt, &ev.EventType, &ev.Severity, &ev.SourceSystem,
		&sourceIP, &userAgent, &tagsJSON, &articlesJSON, &payload,
		&ev.PayloadHash, &ev.PreviousHash, &nexusSeal, &verification,
		&ev.CreatedAt, &ev.UpdatedAt)
	if err != nil {
		return nil, err
	}

	ev.ID = ev.EventID
	ev.CausationID = nullStringPtr(causationID)
	ev.SourceIP = nullStringPtr(sourceIP)
	ev.SourceUserAgent = nullStringPtr(userAgent)
	ev.NexusSeal = nexusSeal.String
	ev.VerificationStatus = verification.String

	if err := json.Unmarshal([]byte(tagsJSON), &ev.RegulatoryTags); err != nil {
		return nil, fmt.Errorf("evidence: corrupt regulatory_tags for %s: %w", ev.EventID, err)
	}
	if err := json.Unmarshal([]byte(articlesJSON), &ev.Articles); err != nil {
		return nil, fmt.Errorf("evidence: corrupt articles for %s: %w", ev.EventID, err)
	}
	if err := json.Unmarshal([]byte(payload), &ev.Payload); err != nil {
		return nil, fmt.Errorf("evidence: corrupt payload for %s: %w", ev.EventID, err)
	}
	return &ev, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func payloadString(payload map[string]any, key string) *string {
	if payload == nil {
		return nil
	}
	if v, ok := payload[key].(string); ok && v != "" {
		return &v
	}
	return nil
}
