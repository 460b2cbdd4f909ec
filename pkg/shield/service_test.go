package shield

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/veridion/sovereign-shield/pkg/evidence"
	"github.com/veridion/sovereign-shield/pkg/review"
	"github.com/veridion/sovereign-shield/pkg/scc"
)

type fixture struct {
	svc      *Service
	ledger   *evidence.Store
	reviews  *review.Queue
	registry *scc.Registry
}

func setupService(t *testing.T) fixture {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	logger := slog.New(slog.DiscardHandler)

	ledger := evidence.NewSQLiteStore(db, "TEST_SEAL_SALT")
	require.NoError(t, ledger.Init(ctx))
	reviews := review.NewQueue(db, ledger, logger)
	require.NoError(t, reviews.Init(ctx))
	registry := scc.NewRegistry(db)
	require.NoError(t, registry.Init(ctx))

	return fixture{
		svc:      NewService(ledger, reviews, registry, logger),
		ledger:   ledger,
		reviews:  reviews,
		registry: registry,
	}
}

func TestEvaluateAndRecord_AllowSealsEvidence(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	res, err := f.svc.EvaluateAndRecord(ctx, TransferContext{
		DestinationCountryCode: "DE",
		DataCategories:         []string{"personal_data"},
		SourceIP:               "10.0.0.1",
	})
	require.NoError(t, err)
	assert.Equal(t, DecisionAllow, res.Decision.Decision)
	assert.NotEmpty(t, res.EvidenceID)
	assert.Nil(t, res.ReviewID)

	ev, err := f.ledger.GetByEventID(ctx, res.EvidenceID)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, EventTransfer, ev.EventType)
	assert.Equal(t, SourceSystem, ev.SourceSystem)
	assert.Equal(t, []string{"GDPR"}, ev.RegulatoryTags)
	assert.Equal(t, "Germany", ev.Payload["destination_country"])
	assert.Equal(t, "ALLOW", ev.Payload["decision"])
	require.NotNil(t, ev.SourceIP)
	assert.Equal(t, "10.0.0.1", *ev.SourceIP)

	ok, msg, err := f.ledger.Verify(ctx, SourceSystem)
	require.NoError(t, err)
	assert.True(t, ok, msg)
}

func TestEvaluateAndRecord_ReviewOpensQueueItem(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	res, err := f.svc.EvaluateAndRecord(ctx, TransferContext{
		DestinationCountryCode: "US",
		DataCategories:         []string{"personal_data"},
		PartnerName:            "Acme Corp",
	})
	require.NoError(t, err)
	assert.Equal(t, DecisionReview, res.Decision.Decision)
	require.NotNil(t, res.ReviewID)
	assert.True(t, strings.HasPrefix(*res.ReviewID, "SEAL-"))

	items, err := f.reviews.List(ctx, "PENDING")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, *res.ReviewID, items[0].ID)
	assert.Equal(t, "transfer_data_to_us", items[0].Action)
	assert.Equal(t, res.EvidenceID, items[0].EvidenceID)
}

func TestEvaluateAndRecord_SCCAllowsTransfer(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	_, err := f.registry.Register(ctx, "Acme Corp", "US", nil, "admin", "")
	require.NoError(t, err)

	res, err := f.svc.EvaluateAndRecord(ctx, TransferContext{
		DestinationCountryCode: "US",
		DataCategories:         []string{"personal_data"},
		PartnerName:            "Acme Corp",
	})
	require.NoError(t, err)
	assert.Equal(t, DecisionAllow, res.Decision.Decision)
	assert.Equal(t, "Transfer to United States — valid SCC in place for Acme Corp", res.Decision.Reason)
	assert.Nil(t, res.ReviewID)
}

func TestEvaluateAndRecord_BlockedDestination(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	res, err := f.svc.EvaluateAndRecord(ctx, TransferContext{
		DestinationCountryCode: "CN",
		DataCategories:         []string{"personal_data"},
	})
	require.NoError(t, err)
	assert.Equal(t, DecisionBlock, res.Decision.Decision)
	assert.Nil(t, res.ReviewID)

	ev, err := f.ledger.GetByEventID(ctx, res.EvidenceID)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, EventTransferBlocked, ev.EventType)
	assert.Equal(t, evidence.SeverityL3, ev.Severity)
}

func TestIngest_ProcessesBatchWithoutSCC(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	// An SCC exists, but ingest uses the pure engine and must still land
	// the US transfer in review.
	_, err := f.registry.Register(ctx, "Acme Corp", "US", nil, "admin", "")
	require.NoError(t, err)

	processed := f.svc.Ingest(ctx, []TransferContext{
		{DestinationCountryCode: "DE", DataCategories: []string{"pii"}},
		{DestinationCountryCode: "US", DataCategories: []string{"pii"}, PartnerName: "Acme Corp"},
		{DestinationCountryCode: "CN", DataCategories: []string{"pii"}},
	})
	assert.Equal(t, 3, processed)

	total, err := f.ledger.CountBySource(ctx, SourceSystem)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)

	pending, err := f.reviews.CountPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)
}

func TestStats(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	categories := []string{"personal_data"}
	for _, code := range []string{"DE", "CN", "CN", "US"} {
		_, err := f.svc.EvaluateAndRecord(ctx, TransferContext{
			DestinationCountryCode: code,
			DataCategories:         categories,
			SourceIP:               "10.0.0.1",
		})
		require.NoError(t, err)
	}

	stats, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.TotalTransfers)
	assert.Equal(t, int64(2), stats.BlockedToday)
	assert.Equal(t, int64(1), stats.PendingApprovals)
	assert.Equal(t, int64(1), stats.ActiveAgents)
	assert.Equal(t, 13, stats.ActiveAdequateCount)
	assert.Equal(t, 15, stats.TotalAdequateWhitelistCount)
	assert.Equal(t, 6, stats.SCCCoverage.Total)
	require.NotEmpty(t, stats.RequiresAttention)
	// CN occurs twice and must lead the attention list.
	top := stats.RequiresAttention[0]
	assert.Equal(t, "CN", top.DestinationCountryCode)
	assert.Equal(t, "China", top.DestinationCountry)
	assert.Equal(t, int64(2), top.OccurrenceCount)
	assert.Equal(t, "BLOCK", top.Decision)
}

func TestCountries_IncludesTransferCounts(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := f.svc.EvaluateAndRecord(ctx, TransferContext{
			DestinationCountryCode: "DE",
			DataCategories:         []string{"pii"},
		})
		require.NoError(t, err)
	}

	countries, err := f.svc.Countries(ctx)
	require.NoError(t, err)
	// 30 EU/EEA + 14 adequate + 6 SCC + 7 blocked.
	assert.Len(t, countries, 57)

	var germany *CountrySummary
	for i := range countries {
		if countries[i].Code == "DE" {
			germany = &countries[i]
			break
		}
	}
	require.NotNil(t, germany)
	assert.Equal(t, "Germany", germany.Name)
	assert.Equal(t, "eu_eea", germany.Status)
	assert.Equal(t, int64(2), germany.Transfers)
	assert.Equal(t, 0, germany.Mechanisms)
}

func TestTransfersByDestination(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	for _, code := range []string{"DE", "DE", "CN", "US"} {
		_, err := f.svc.EvaluateAndRecord(ctx, TransferContext{
			DestinationCountryCode: code,
			DataCategories:         []string{"pii"},
		})
		require.NoError(t, err)
	}

	rows, err := f.svc.TransfersByDestination(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, DestinationSummary{Destination: "Germany", Status: "Adequate", Count: 2}, rows[0])

	labels := map[string]string{}
	for _, r := range rows {
		labels[r.Destination] = r.Status
	}
	assert.Equal(t, "Blocked", labels["China"])
	assert.Equal(t, "SCC", labels["United States"])
}

func TestStats_BlockedTodayIgnoresOldEvents(t *testing.T) {
	f := setupService(t)
	ctx := context.Background()

	_, err := f.svc.EvaluateAndRecord(ctx, TransferContext{
		DestinationCountryCode: "CN",
		DataCategories:         []string{"pii"},
	})
	require.NoError(t, err)

	cutoff := time.Now().UTC().Add(time.Hour)
	n, err := f.ledger.CountByTypeSince(ctx, SourceSystem, EventTransferBlocked, cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}
