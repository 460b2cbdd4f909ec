// Package evidence implements the hash-chained, append-only compliance
// ledger.
//
// Events are chained per source_system: each event stores the SHA-256 of its
// canonical payload, the payload hash of the previous event in the chain, and
// a nexus seal binding the two together with a deployment salt. Verification
// replays the chain and recomputes every hash.
package evidence

import (
	"time"

	"github.com/veridion/sovereign-shield/pkg/canonicalize"
)

// Severity levels, in increasing compliance impact. L4 is reserved for
// irreversible regulatory acts such as erasure.
const (
	SeverityL1 = "L1"
	SeverityL2 = "L2"
	SeverityL3 = "L3"
	SeverityL4 = "L4"
)

// Event is one immutable entry in a compliance chain.
type Event struct {
	ID                 string         `json:"id"`
	EventID            string         `json:"event_id"`
	CorrelationID      string         `json:"correlation_id"`
	CausationID        *string        `json:"causation_id"`
	SequenceNumber     int64          `json:"sequence_number"`
	OccurredAt         time.Time      `json:"occurred_at"`
	RecordedAt         time.Time      `json:"recorded_at"`
	EventType          string         `json:"event_type"`
	Severity           string         `json:"severity"`
	SourceSystem       string         `json:"source_system"`
	SourceIP           *string        `json:"source_ip"`
	SourceUserAgent    *string        `json:"source_user_agent"`
	RegulatoryTags     []string       `json:"regulatory_tags"`
	Articles           []string       `json:"articles"`
	Payload            map[string]any `json:"payload"`
	PayloadHash        string         `json:"payload_hash"`
	PreviousHash       string         `json:"previous_hash"`
	NexusSeal          string         `json:"nexus_seal"`
	VerificationStatus string         `json:"verification_status"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`
}

// AppendParams describes a new event to be sealed into a chain.
type AppendParams struct {
	EventType       string
	Severity        string
	SourceSystem    string
	RegulatoryTags  []string
	Articles        []string
	Payload         map[string]any
	CorrelationID   string
	CausationID     string
	SourceIP        string
	SourceUserAgent string
}

// Filter narrows List results. Zero values mean "no constraint".
// Search matches case-insensitive substrings over event_id, correlation_id,
// event_type and the serialized payload.
type Filter struct {
	Severity           string
	EventType          string
	Search             string
	DestinationCountry string
	Limit              int64
	Offset             int64
}

// ComputePayloadHash returns the SHA-256 hex digest of the canonical
// serialization of payload.
func ComputePayloadHash(payload map[string]any) (string, error) {
	return canonicalize.CanonicalHash(payload)
}

// ComputeNexusSeal binds a payload hash to its chain predecessor under the
// deployment salt.
func ComputeNexusSeal(payloadHash, previousHash, salt string) string {
	return canonicalize.HashString(payloadHash + previousHash + salt)
}
