package shield

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/veridion/sovereign-shield/pkg/evidence"
	"github.com/veridion/sovereign-shield/pkg/jurisdiction"
	"github.com/veridion/sovereign-shield/pkg/review"
)

// Service ties the decision engine to the evidence ledger, the review queue
// and the SCC registry. Every evaluation is recorded as evidence before the
// decision is returned; transfers landing in REVIEW additionally open a
// review item.
type Service struct {
	ledger  *evidence.Store
	reviews *review.Queue
	scc     SCCChecker
	logger  *slog.Logger
}

func NewService(ledger *evidence.Store, reviews *review.Queue, scc SCCChecker, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{ledger: ledger, reviews: reviews, scc: scc, logger: logger}
}

// SourceSystem is the evidence chain all shield decisions are sealed into.
const SourceSystem = "sovereign-shield"

// EvaluationResult is a recorded decision. ReviewID is set only when the
// decision was REVIEW and a review item was opened.
type EvaluationResult struct {
	Decision   TransferDecision
	EvidenceID string
	ReviewID   *string
	Timestamp  time.Time
}

// EvaluateAndRecord evaluates one transfer with SCC lookup and seals the
// outcome into the evidence chain. The evidence write is mandatory: if it
// fails, the evaluation fails.
func (s *Service) EvaluateAndRecord(ctx context.Context, tc TransferContext) (*EvaluationResult, error) {
	decision, err := EvaluateWithSCC(ctx, s.scc, tc)
	if err != nil {
		s.logger.Error("SCC lookup failed, falling back to review", "error", err)
	}
	return s.record(ctx, tc, decision)
}

// Ingest evaluates a batch of network log entries with the pure engine (no
// SCC lookup) and records each outcome. Entries whose evidence write fails
// are logged and skipped; the count of recorded entries is returned.
func (s *Service) Ingest(ctx context.Context, entries []TransferContext) int {
	processed := 0
	for _, tc := range entries {
		if _, err := s.record(ctx, tc, Evaluate(tc)); err != nil {
			s.logger.Error("failed to record ingested transfer", "error", err)
			continue
		}
		processed++
	}
	return processed
}

func (s *Service) record(ctx context.Context, tc TransferContext, decision TransferDecision) (*EvaluationResult, error) {
	destCode := tc.DestinationCountryCode
	destName := "Unknown"
	switch {
	case destCode != "":
		destName = jurisdiction.CountryName(destCode)
	case tc.DestinationCountry != "":
		destName = tc.DestinationCountry
	}

	payload := map[string]any{
		"destination_country":      destName,
		"destination_country_code": destCode,
		"country_status":           decision.CountryStatus,
		"decision":                 string(decision.Decision),
		"reason":                   decision.Reason,
		"data_categories":          tc.DataCategories,
		"data_size":                tc.DataSize,
		"source_ip":                nilIfEmpty(tc.SourceIP),
		"dest_ip":                  nilIfEmpty(tc.DestIP),
		"protocol":                 nilIfEmpty(tc.Protocol),
		"user_agent":               nilIfEmpty(tc.UserAgent),
		"request_path":             nilIfEmpty(tc.RequestPath),
		"partner_name":             nilIfEmpty(tc.PartnerName),
	}

	ev, err := s.ledger.Append(ctx, evidence.AppendParams{
		EventType:       decision.EventType,
		Severity:        decision.Severity,
		SourceSystem:    SourceSystem,
		RegulatoryTags:  []string{"GDPR"},
		Articles:        decision.Articles,
		Payload:         payload,
		SourceIP:        tc.SourceIP,
		SourceUserAgent: tc.UserAgent,
	})
	if err != nil {
		return nil, fmt.Errorf("shield: record evidence: %w", err)
	}

	var reviewID *string
	if decision.Decision == DecisionReview {
		action := "transfer_data_to_" + strings.ToLower(destCode)
		sealID, err := s.reviews.Create(ctx, review.CreateParams{
			AgentID: SourceSystem,
			Action:  action,
			Context: map[string]any{
				"destination":              destName,
				"destination_country_code": destCode,
				"data_categories":          tc.DataCategories,
				"reason":                   decision.Reason,
			},
			EvidenceEventID: ev.EventID,
			RiskLevel:       decision.Severity,
		})
		if err != nil {
			s.logger.Error("failed to create review for event", "event_id", ev.EventID, "error", err)
		} else {
			reviewID = &sealID
		}
	}

	return &EvaluationResult{
		Decision:   decision,
		EvidenceID: ev.EventID,
		ReviewID:   reviewID,
		Timestamp:  time.Now().UTC(),
	}, nil
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
