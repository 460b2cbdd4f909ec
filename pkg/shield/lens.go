package shield

import (
	"context"
	"fmt"
	"time"

	"github.com/veridion/sovereign-shield/pkg/jurisdiction"
)

// Dashboard projections over the shield evidence chain. Field names follow
// the dashboard wire contract.

type SCCCoverage struct {
	Percentage int `json:"percentage"`
	Trend      int `json:"trend"`
	Covered    int `json:"covered"`
	Total      int `json:"total"`
}

type AttentionItem struct {
	EventID                string    `json:"eventId"`
	DestinationCountry     string    `json:"destinationCountry"`
	DestinationCountryCode string    `json:"destinationCountryCode"`
	SystemName             string    `json:"systemName"`
	OccurrenceCount        int64     `json:"occurrenceCount"`
	FirstSeen              time.Time `json:"firstSeen"`
	LastSeen               time.Time `json:"lastSeen"`
	Decision               string    `json:"decision"`
}

// AttentionDetail is AttentionItem as served by the dedicated
// requires-attention endpoint.
type AttentionDetail struct {
	AttentionItem
	BlockedReason *string `json:"blockedReason"`
}

type Stats struct {
	TotalTransfers              int64           `json:"totalTransfers"`
	ActiveAdequateCount         int             `json:"activeAdequateCount"`
	TotalAdequateWhitelistCount int             `json:"totalAdequateWhitelistCount"`
	SCCCoverage                 SCCCoverage     `json:"sccCoverage"`
	BlockedToday                int64           `json:"blockedToday"`
	PendingApprovals            int64           `json:"pendingApprovals"`
	ExpiringSCCs                int             `json:"expiringSccs"`
	DataVolumeToday             int             `json:"dataVolumeToday"`
	HighRiskDestinations        int             `json:"highRiskDestinations"`
	ActiveAgents                int64           `json:"activeAgents"`
	RequiresAttention           []AttentionItem `json:"requiresAttention"`
}

type CountrySummary struct {
	Code       string `json:"code"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	Transfers  int64  `json:"transfers"`
	Mechanisms int    `json:"mechanisms"`
}

type DestinationSummary struct {
	Destination string `json:"destination"`
	Status      string `json:"status"`
	Count       int64  `json:"count"`
}

const attentionLimit = 20

// Stats aggregates the shield dashboard counters. "Today" is the current
// UTC day; active agents are distinct source IPs seen in the last 24 hours.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	now := time.Now().UTC()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	total, err := s.ledger.CountBySource(ctx, SourceSystem)
	if err != nil {
		return nil, fmt.Errorf("shield: total transfers: %w", err)
	}
	blockedToday, err := s.ledger.CountByTypeSince(ctx, SourceSystem, EventTransferBlocked, startOfDay)
	if err != nil {
		return nil, fmt.Errorf("shield: blocked today: %w", err)
	}
	pending, err := s.reviews.CountPending(ctx)
	if err != nil {
		return nil, fmt.Errorf("shield: pending reviews: %w", err)
	}
	activeAgents, err := s.ledger.CountActiveSources(ctx, SourceSystem, now.Add(-24*time.Hour))
	if err != nil {
		return nil, fmt.Errorf("shield: active agents: %w", err)
	}
	attention, err := s.attentionItems(ctx)
	if err != nil {
		return nil, err
	}

	return &Stats{
		TotalTransfers:              total,
		ActiveAdequateCount:         13,
		TotalAdequateWhitelistCount: 15,
		SCCCoverage:                 SCCCoverage{Total: 6},
		BlockedToday:                blockedToday,
		PendingApprovals:            pending,
		ActiveAgents:                activeAgents,
		RequiresAttention:           attention,
	}, nil
}

// RequiresAttention returns the grouped blocked and in-review transfers,
// most frequent first.
func (s *Service) RequiresAttention(ctx context.Context) ([]AttentionDetail, error) {
	items, err := s.attentionItems(ctx)
	if err != nil {
		return nil, err
	}
	details := make([]AttentionDetail, len(items))
	for i, it := range items {
		details[i] = AttentionDetail{AttentionItem: it}
	}
	return details, nil
}

func (s *Service) attentionItems(ctx context.Context) ([]AttentionItem, error) {
	groups, err := s.ledger.AttentionGroups(ctx, SourceSystem, attentionLimit)
	if err != nil {
		return nil, fmt.Errorf("shield: attention groups: %w", err)
	}
	items := make([]AttentionItem, len(groups))
	for i, g := range groups {
		items[i] = AttentionItem{
			EventID:                g.EventID,
			DestinationCountry:     jurisdiction.CountryName(g.DestinationCountryCode),
			DestinationCountryCode: g.DestinationCountryCode,
			SystemName:             g.SystemName,
			OccurrenceCount:        g.OccurrenceCount,
			FirstSeen:              g.FirstSeen,
			LastSeen:               g.LastSeen,
			Decision:               g.Decision,
		}
	}
	return items, nil
}

// Countries lists every classified country with its observed transfer count.
func (s *Service) Countries(ctx context.Context) ([]CountrySummary, error) {
	counts, err := s.ledger.CountryCounts(ctx, SourceSystem)
	if err != nil {
		return nil, fmt.Errorf("shield: country counts: %w", err)
	}
	all := jurisdiction.All()
	summaries := make([]CountrySummary, len(all))
	for i, c := range all {
		summaries[i] = CountrySummary{
			Code:      c.Code,
			Name:      c.Name,
			Status:    string(c.Status),
			Transfers: counts[c.Code],
		}
	}
	return summaries, nil
}

// TransfersByDestination groups transfers by destination country with a
// coarse status label.
func (s *Service) TransfersByDestination(ctx context.Context) ([]DestinationSummary, error) {
	rows, err := s.ledger.DestinationCounts(ctx, SourceSystem, attentionLimit)
	if err != nil {
		return nil, fmt.Errorf("shield: transfers by destination: %w", err)
	}
	summaries := make([]DestinationSummary, len(rows))
	for i, r := range rows {
		summaries[i] = DestinationSummary{
			Destination: r.Destination,
			Status:      statusLabel(r.CountryStatus),
			Count:       r.Count,
		}
	}
	return summaries, nil
}

func statusLabel(countryStatus string) string {
	switch jurisdiction.Status(countryStatus) {
	case jurisdiction.StatusAdequate, jurisdiction.StatusEUEEA:
		return "Adequate"
	case jurisdiction.StatusSCCRequired:
		return "SCC"
	case jurisdiction.StatusBlocked:
		return "Blocked"
	default:
		return "Unknown"
	}
}
