package evidence

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

const testSalt = "TEST_SEAL_SALT"

func setupStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	// A single connection keeps the in-memory database alive and shared.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	store := NewSQLiteStore(db, testSalt)
	require.NoError(t, store.Init(context.Background()))
	return store, db
}

func appendN(t *testing.T, store *Store, source string, n int) []*Event {
	t.Helper()
	events := make([]*Event, 0, n)
	for i := 0; i < n; i++ {
		ev, err := store.Append(context.Background(), AppendParams{
			EventType:    "DATA_TRANSFER",
			Severity:     SeverityL1,
			SourceSystem: source,
			Payload:      map[string]any{"n": i, "destination_country_code": "DE"},
		})
		require.NoError(t, err)
		events = append(events, ev)
	}
	return events
}

func TestAppend_ChainDensityAndLinkage(t *testing.T) {
	store, _ := setupStore(t)
	events := appendN(t, store, "chain-a", 5)

	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.SequenceNumber)
		if i == 0 {
			assert.Empty(t, ev.PreviousHash)
		} else {
			assert.Equal(t, events[i-1].PayloadHash, ev.PreviousHash)
		}
		assert.Equal(t, ComputeNexusSeal(ev.PayloadHash, ev.PreviousHash, testSalt), ev.NexusSeal)
		assert.Equal(t, "VERIFIED", ev.VerificationStatus)
	}
}

func TestAppend_IndependentChains(t *testing.T) {
	store, _ := setupStore(t)
	appendN(t, store, "chain-a", 3)
	b := appendN(t, store, "chain-b", 2)

	assert.Equal(t, int64(1), b[0].SequenceNumber)
	assert.Empty(t, b[0].PreviousHash)
}

func TestAppend_DefaultsCorrelationID(t *testing.T) {
	store, _ := setupStore(t)
	ev, err := store.Append(context.Background(), AppendParams{
		EventType:    "DATA_TRANSFER",
		Severity:     SeverityL1,
		SourceSystem: "chain-a",
		Payload:      map[string]any{"k": "v"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, ev.CorrelationID)
	assert.NotEqual(t, ev.EventID, ev.CorrelationID)
}

func TestAppend_ConcurrentDensity(t *testing.T) {
	store, db := setupStore(t)

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := store.Append(context.Background(), AppendParams{
				EventType:    "DATA_TRANSFER",
				Severity:     SeverityL1,
				SourceSystem: "hot-chain",
				Payload:      map[string]any{"worker": i},
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	// The chain must be dense 1..N with intact linkage.
	ok, msg, err := store.Verify(context.Background(), "hot-chain")
	require.NoError(t, err)
	assert.True(t, ok, msg)
	assert.Equal(t, fmt.Sprintf("Chain verified: %d events", workers), msg)

	rows, err := db.Query(`SELECT sequence_number FROM evidence_events WHERE source_system = 'hot-chain' ORDER BY sequence_number`)
	require.NoError(t, err)
	defer rows.Close()
	want := int64(1)
	for rows.Next() {
		var got int64
		require.NoError(t, rows.Scan(&got))
		assert.Equal(t, want, got)
		want++
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, int64(workers+1), want)
}

func TestVerify_EmptyChain(t *testing.T) {
	store, _ := setupStore(t)
	ok, msg, err := store.Verify(context.Background(), "nothing-here")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "No events to verify", msg)
}

func TestVerify_DetectsPayloadTamper(t *testing.T) {
	store, db := setupStore(t)
	events := appendN(t, store, "chain-x", 3)

	_, err := db.Exec(`UPDATE evidence_events SET payload = '{"n":999}' WHERE event_id = $1`, events[1].EventID)
	require.NoError(t, err)

	ok, msg, err := store.Verify(context.Background(), "chain-x")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, fmt.Sprintf("Event %s payload hash mismatch", events[1].EventID), msg)
}

func TestVerify_DetectsSealTamper(t *testing.T) {
	store, db := setupStore(t)
	events := appendN(t, store, "chain-x", 2)

	_, err := db.Exec(`UPDATE evidence_events SET nexus_seal = 'forged' WHERE event_id = $1`, events[0].EventID)
	require.NoError(t, err)

	ok, msg, err := store.Verify(context.Background(), "chain-x")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, fmt.Sprintf("Event %s nexus seal mismatch", events[0].EventID), msg)
}

func TestVerify_DetectsChainBreak(t *testing.T) {
	store, db := setupStore(t)
	events := appendN(t, store, "chain-x", 3)

	// Rewrite event 2's stored hashes consistently with its payload but not
	// with its predecessor, so only the linkage check can catch it.
	forgedPrev := "0000000000000000000000000000000000000000000000000000000000000000"
	forgedSeal := ComputeNexusSeal(events[1].PayloadHash, forgedPrev, testSalt)
	_, err := db.Exec(`UPDATE evidence_events SET previous_hash = $1, nexus_seal = $2 WHERE event_id = $3`,
		forgedPrev, forgedSeal, events[1].EventID)
	require.NoError(t, err)

	ok, msg, err := store.Verify(context.Background(), "chain-x")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, fmt.Sprintf("Event %s chain break: previous_hash does not match", events[1].EventID), msg)
}

func TestList_Filters(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	_, err := store.Append(ctx, AppendParams{
		EventType: "DATA_TRANSFER", Severity: SeverityL1, SourceSystem: "sovereign-shield",
		Payload: map[string]any{"destination_country": "Germany", "destination_country_code": "DE"},
	})
	require.NoError(t, err)
	_, err = store.Append(ctx, AppendParams{
		EventType: "DATA_TRANSFER_BLOCKED", Severity: SeverityL3, SourceSystem: "sovereign-shield",
		Payload: map[string]any{"destination_country": "China", "destination_country_code": "CN"},
	})
	require.NoError(t, err)

	events, total, err := store.List(ctx, Filter{Severity: SeverityL3})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, events, 1)
	assert.Equal(t, "DATA_TRANSFER_BLOCKED", events[0].EventType)

	events, total, err = store.List(ctx, Filter{EventType: "DATA_TRANSFER"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, events, 1)

	events, total, err = store.List(ctx, Filter{DestinationCountry: "germ"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, events, 1)
	assert.Equal(t, "Germany", events[0].Payload["destination_country"])

	events, total, err = store.List(ctx, Filter{Search: "china"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, events, 1)
	assert.Equal(t, "DATA_TRANSFER_BLOCKED", events[0].EventType)
}

func TestList_LimitAndOffset(t *testing.T) {
	store, _ := setupStore(t)
	appendN(t, store, "chain-a", 5)

	events, total, err := store.List(context.Background(), Filter{Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, events, 2)

	events, _, err = store.List(context.Background(), Filter{Limit: 2, Offset: 4})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestCountSealedChains(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	count, err := store.CountSealedChains(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)

	appendN(t, store, "chain-a", 2)
	appendN(t, store, "chain-b", 1)

	count, err = store.CountSealedChains(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestGetByEventID(t *testing.T) {
	store, _ := setupStore(t)
	events := appendN(t, store, "chain-a", 1)

	got, err := store.GetByEventID(context.Background(), events[0].EventID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, events[0].PayloadHash, got.PayloadHash)
	assert.Equal(t, events[0].EventID, got.ID)

	missing, err := store.GetByEventID(context.Background(), "no-such-event")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestAttentionGroups(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.Append(ctx, AppendParams{
			EventType: "DATA_TRANSFER_BLOCKED", Severity: SeverityL3, SourceSystem: "sovereign-shield",
			SourceIP: "10.0.0.1",
			Payload:  map[string]any{"destination_country_code": "CN", "decision": "BLOCK"},
		})
		require.NoError(t, err)
	}
	_, err := store.Append(ctx, AppendParams{
		EventType: "DATA_TRANSFER_REVIEW", Severity: SeverityL2, SourceSystem: "sovereign-shield",
		Payload: map[string]any{"destination_country_code": "US", "decision": "REVIEW"},
	})
	require.NoError(t, err)
	// ALLOW events never need attention.
	_, err = store.Append(ctx, AppendParams{
		EventType: "DATA_TRANSFER", Severity: SeverityL1, SourceSystem: "sovereign-shield",
		Payload: map[string]any{"destination_country_code": "DE", "decision": "ALLOW"},
	})
	require.NoError(t, err)

	groups, err := store.AttentionGroups(ctx, "sovereign-shield", 20)
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "CN", groups[0].DestinationCountryCode)
	assert.Equal(t, int64(3), groups[0].OccurrenceCount)
	assert.Equal(t, "10.0.0.1", groups[0].SystemName)
	assert.Equal(t, "US", groups[1].DestinationCountryCode)

	// MIN/MAX aggregates come back as raw strings from SQLite and must
	// still parse into real timestamps.
	for _, g := range groups {
		assert.False(t, g.FirstSeen.IsZero())
		assert.False(t, g.LastSeen.IsZero())
		assert.False(t, g.LastSeen.Before(g.FirstSeen))
		assert.WithinDuration(t, time.Now().UTC(), g.LastSeen, time.Minute)
	}
}

func TestDestinationCounts(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := store.Append(ctx, AppendParams{
			EventType: "DATA_TRANSFER", Severity: SeverityL1, SourceSystem: "sovereign-shield",
			Payload: map[string]any{"destination_country": "Germany", "country_status": "eu_eea"},
		})
		require.NoError(t, err)
	}

	counts, err := store.DestinationCounts(ctx, "sovereign-shield", 20)
	require.NoError(t, err)
	require.Len(t, counts, 1)
	assert.Equal(t, "Germany", counts[0].Destination)
	assert.Equal(t, "eu_eea", counts[0].CountryStatus)
	assert.Equal(t, int64(2), counts[0].Count)
}

func TestCountryCounts(t *testing.T) {
	store, _ := setupStore(t)
	ctx := context.Background()
	appendN(t, store, "sovereign-shield", 2)

	counts, err := store.CountryCounts(ctx, "sovereign-shield")
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts["DE"])
}

func TestComputePayloadHash_Stability(t *testing.T) {
	a := map[string]any{"x": 1, "y": "z"}
	b := map[string]any{"y": "z", "x": 1}

	ha, err := ComputePayloadHash(a)
	require.NoError(t, err)
	hb, err := ComputePayloadHash(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}
