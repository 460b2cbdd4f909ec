package shield

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluate_MissingDestination(t *testing.T) {
	d := Evaluate(TransferContext{DataCategories: []string{"pii"}})
	assert.Equal(t, DecisionReview, d.Decision)
	assert.Equal(t, "Missing destination country — cannot evaluate transfer", d.Reason)
	assert.Equal(t, "L2", d.Severity)
	assert.Equal(t, []string{"GDPR Art. 44"}, d.Articles)
	assert.Equal(t, EventTransferReview, d.EventType)
	assert.Equal(t, "unknown", d.CountryStatus)
}

func TestEvaluate_MissingDataCategories(t *testing.T) {
	d := Evaluate(TransferContext{DestinationCountryCode: "US"})
	assert.Equal(t, DecisionReview, d.Decision)
	assert.Equal(t, "Missing data categories — cannot determine if personal data is involved", d.Reason)
	// The country is still classified even though the transfer is undecidable.
	assert.Equal(t, "scc_required", d.CountryStatus)
}

func TestEvaluate_DecisionTable(t *testing.T) {
	personal := []string{"personal_data"}
	none := []string{}

	tests := []struct {
		name       string
		code       string
		categories []string
		decision   Decision
		eventType  string
		severity   string
		status     string
		reason     string
		articles   []string
	}{
		{
			name: "eu_eea", code: "DE", categories: personal,
			decision: DecisionAllow, eventType: EventTransfer, severity: "L1",
			status: "eu_eea", reason: "Germany is EU/EEA — no transfer restrictions",
			articles: []string{},
		},
		{
			name: "adequate", code: "JP", categories: personal,
			decision: DecisionAllow, eventType: EventTransfer, severity: "L1",
			status: "adequate_protection", reason: "Japan has EU adequacy decision",
			articles: []string{"GDPR Art. 45"},
		},
		{
			name: "blocked", code: "CN", categories: personal,
			decision: DecisionBlock, eventType: EventTransferBlocked, severity: "L3",
			status: "blocked", reason: "China is blocked — no legal transfer mechanism available",
			articles: []string{"GDPR Art. 44", "GDPR Art. 46"},
		},
		{
			name: "scc required with personal data", code: "US", categories: personal,
			decision: DecisionReview, eventType: EventTransferReview, severity: "L2",
			status: "scc_required", reason: "United States requires SCC — human review needed to verify safeguards",
			articles: []string{"GDPR Art. 46"},
		},
		{
			name: "scc required without personal data", code: "US", categories: none,
			decision: DecisionAllow, eventType: EventTransfer, severity: "L1",
			status: "scc_required", reason: "Transfer to United States — no personal data involved",
			articles: []string{},
		},
		{
			name: "unknown with personal data", code: "XX", categories: personal,
			decision: DecisionReview, eventType: EventTransferReview, severity: "L2",
			status: "unknown", reason: "XX — unknown jurisdiction, requires human review",
			articles: []string{"GDPR Art. 44"},
		},
		{
			name: "unknown without personal data", code: "XX", categories: none,
			decision: DecisionAllow, eventType: EventTransfer, severity: "L1",
			status: "unknown", reason: "Transfer to XX — no personal data involved",
			articles: []string{},
		},
		{
			name: "blocked beats empty categories", code: "RU", categories: none,
			decision: DecisionBlock, eventType: EventTransferBlocked, severity: "L3",
			status: "blocked", reason: "Russia is blocked — no legal transfer mechanism available",
			articles: []string{"GDPR Art. 44", "GDPR Art. 46"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Evaluate(TransferContext{
				DestinationCountryCode: tt.code,
				DataCategories:         tt.categories,
			})
			assert.Equal(t, tt.decision, d.Decision)
			assert.Equal(t, tt.eventType, d.EventType)
			assert.Equal(t, tt.severity, d.Severity)
			assert.Equal(t, tt.status, d.CountryStatus)
			assert.Equal(t, tt.reason, d.Reason)
			assert.Equal(t, tt.articles, d.Articles)
		})
	}
}

func TestEvaluate_LowercaseCode(t *testing.T) {
	d := Evaluate(TransferContext{DestinationCountryCode: "de", DataCategories: []string{"pii"}})
	assert.Equal(t, DecisionAllow, d.Decision)
	assert.Equal(t, "eu_eea", d.CountryStatus)
}

type fakeChecker struct {
	exists bool
	err    error

	partner string
	country string
}

func (f *fakeChecker) ActiveExists(_ context.Context, partnerName, countryCode string) (bool, error) {
	f.partner = partnerName
	f.country = countryCode
	return f.exists, f.err
}

func TestEvaluateWithSCC_ValidSCC(t *testing.T) {
	checker := &fakeChecker{exists: true}
	d, err := EvaluateWithSCC(context.Background(), checker, TransferContext{
		DestinationCountryCode: "US",
		DataCategories:         []string{"pii"},
		PartnerName:            "Acme Corp",
	})
	require.NoError(t, err)
	assert.Equal(t, DecisionAllow, d.Decision)
	assert.Equal(t, "Transfer to United States — valid SCC in place for Acme Corp", d.Reason)
	assert.Equal(t, []string{"GDPR Art. 46"}, d.Articles)
	assert.Equal(t, EventTransfer, d.EventType)
	assert.Equal(t, "Acme Corp", checker.partner)
	assert.Equal(t, "US", checker.country)
}

func TestEvaluateWithSCC_NoActiveSCC(t *testing.T) {
	d, err := EvaluateWithSCC(context.Background(), &fakeChecker{exists: false}, TransferContext{
		DestinationCountryCode: "US",
		DataCategories:         []string{"pii"},
		PartnerName:            "Acme Corp",
	})
	require.NoError(t, err)
	assert.Equal(t, DecisionReview, d.Decision)
	assert.Equal(t, "United States requires SCC — no active SCC found for Acme Corp", d.Reason)
}

func TestEvaluateWithSCC_MissingPartner(t *testing.T) {
	checker := &fakeChecker{exists: true}
	d, err := EvaluateWithSCC(context.Background(), checker, TransferContext{
		DestinationCountryCode: "US",
		DataCategories:         []string{"pii"},
	})
	require.NoError(t, err)
	assert.Equal(t, DecisionReview, d.Decision)
	assert.Equal(t, "United States requires SCC — partner name required to verify SCC", d.Reason)
	// The registry is never consulted without a partner name.
	assert.Empty(t, checker.partner)
}

func TestEvaluateWithSCC_LookupFailureFailsSafe(t *testing.T) {
	d, err := EvaluateWithSCC(context.Background(), &fakeChecker{err: errors.New("db down")}, TransferContext{
		DestinationCountryCode: "US",
		DataCategories:         []string{"pii"},
		PartnerName:            "Acme Corp",
	})
	require.Error(t, err)
	assert.Equal(t, DecisionReview, d.Decision)
	assert.Equal(t, "United States requires SCC — unable to verify SCC status", d.Reason)
}

func TestEvaluateWithSCC_NonSCCCountriesSkipRegistry(t *testing.T) {
	checker := &fakeChecker{exists: true}
	for _, code := range []string{"DE", "JP", "CN", "XX"} {
		_, err := EvaluateWithSCC(context.Background(), checker, TransferContext{
			DestinationCountryCode: code,
			DataCategories:         []string{"pii"},
			PartnerName:            "Acme Corp",
		})
		require.NoError(t, err)
	}
	assert.Empty(t, checker.partner)
}
