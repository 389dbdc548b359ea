package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatmem/internal/model"
)

func newTestStore(t *testing.T) *TierStore {
	t.Helper()
	ts, err := New(context.Background(), Config{
		WorkingTTL:   time.Hour,
		ShortTermTTL: 7 * 24 * time.Hour,
		LongTermTTL:  90 * 24 * time.Hour,
		LongTermPath: filepath.Join(t.TempDir(), "longterm.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { ts.Close() })
	return ts
}

func TestIngestCreatesWorkingRecord(t *testing.T) {
	ts := newTestStore(t)
	now := time.Now()

	rec, err := ts.Ingest(context.Background(), "t-1", "bruteforce from 203.0.113.9", model.SeverityHigh, nil, now)
	require.NoError(t, err)
	assert.Equal(t, model.TierWorking, rec.CurrentTier())

	tier, ok := ts.TierOf(context.Background(), "t-1", now)
	require.True(t, ok)
	assert.Equal(t, model.TierWorking, tier)
}

func TestIngestRejectsInvalid(t *testing.T) {
	ts := newTestStore(t)
	now := time.Now()

	_, err := ts.Ingest(context.Background(), "", "content", model.SeverityHigh, nil, now)
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = ts.Ingest(context.Background(), "t-1", "content", model.Severity("WILD"), nil, now)
	assert.ErrorIs(t, err, model.ErrValidation)

	// Nothing was stored.
	_, _, err = ts.Resolve(context.Background(), "t-1", now)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestReingestIsUpdateNotDuplicate(t *testing.T) {
	ts := newTestStore(t)
	now := time.Now()

	first, err := ts.Ingest(context.Background(), "t-1", "original", model.SeverityLow, nil, now)
	require.NoError(t, err)
	first.RecordAction("a1", model.ActionView, now)

	second, err := ts.Ingest(context.Background(), "t-1", "updated wording", model.SeverityHigh, nil, now)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, "updated wording", second.Snapshot().Content)
	assert.Equal(t, model.SeverityHigh, second.Snapshot().Severity)
	assert.EqualValues(t, 1, second.ViewCount(), "counters survive a re-ingest")
	assert.EqualValues(t, 2, second.Consolidations(), "re-ingest counts as a recurrence")
}

func TestMoveIsExclusive(t *testing.T) {
	ts := newTestStore(t)
	now := time.Now()

	rec, err := ts.Ingest(context.Background(), "t-1", "content", model.SeverityHigh, nil, now)
	require.NoError(t, err)

	require.NoError(t, ts.Move("t-1", model.TierWorking, model.TierShortTerm, now))
	assert.Equal(t, model.TierShortTerm, rec.CurrentTier())

	_, err = ts.Get(context.Background(), model.TierWorking, "t-1", now)
	assert.ErrorIs(t, err, model.ErrNotFound)
	got, err := ts.Get(context.Background(), model.TierShortTerm, "t-1", now)
	require.NoError(t, err)
	assert.Same(t, rec, got)

	// Moving again is a no-op failure, not a duplicate.
	err = ts.Move("t-1", model.TierWorking, model.TierShortTerm, now)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestResolveWarmsFasterTiers(t *testing.T) {
	ts := newTestStore(t)
	now := time.Now()

	rec, err := ts.Ingest(context.Background(), "t-1", "content", model.SeverityHigh, nil, now)
	require.NoError(t, err)
	require.NoError(t, ts.Move("t-1", model.TierWorking, model.TierShortTerm, now))

	got, foundIn, err := ts.Resolve(context.Background(), "t-1", now)
	require.NoError(t, err)
	assert.Same(t, rec, got)
	assert.Equal(t, model.TierShortTerm, foundIn)

	// The warm-up copy answers the next lookup from Working, but the
	// record's authoritative tier is unchanged.
	_, foundIn, err = ts.Resolve(context.Background(), "t-1", now)
	require.NoError(t, err)
	assert.Equal(t, model.TierWorking, foundIn)
	assert.Equal(t, model.TierShortTerm, rec.CurrentTier())

	tier, ok := ts.TierOf(context.Background(), "t-1", now)
	require.True(t, ok)
	assert.Equal(t, model.TierShortTerm, tier, "cached copies never count as membership")
}

func TestResolveUnknownIDShortCircuits(t *testing.T) {
	ts := newTestStore(t)
	_, _, err := ts.Resolve(context.Background(), "never-seen", time.Now())
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestWorkingTTLExpiry(t *testing.T) {
	ts := newTestStore(t)
	now := time.Now()

	_, err := ts.Ingest(context.Background(), "t-1", "content", model.SeverityLow, nil, now)
	require.NoError(t, err)

	later := now.Add(2 * time.Hour)
	_, _, err = ts.Resolve(context.Background(), "t-1", later)
	assert.ErrorIs(t, err, model.ErrNotFound)

	expired, err := ts.ExpireSweep(context.Background(), later)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, "t-1", expired[0].ID)

	// Sweeping again finds nothing: sweeps are idempotent.
	expired, err = ts.ExpireSweep(context.Background(), later)
	require.NoError(t, err)
	assert.Empty(t, expired)
}

func TestWriteRefreshesTTLButReadDoesNot(t *testing.T) {
	ts := newTestStore(t)
	now := time.Now()

	_, err := ts.Ingest(context.Background(), "t-1", "content", model.SeverityLow, nil, now)
	require.NoError(t, err)

	// A read 40 minutes in does not extend the window.
	mid := now.Add(40 * time.Minute)
	_, _, err = ts.Resolve(context.Background(), "t-1", mid)
	require.NoError(t, err)
	_, _, err = ts.Resolve(context.Background(), "t-1", now.Add(70*time.Minute))
	assert.ErrorIs(t, err, model.ErrNotFound)

	// A write does.
	_, err = ts.Ingest(context.Background(), "t-2", "content", model.SeverityLow, nil, now)
	require.NoError(t, err)
	_, err = ts.Ingest(context.Background(), "t-2", "content again", model.SeverityLow, nil, mid)
	require.NoError(t, err)
	_, _, err = ts.Resolve(context.Background(), "t-2", now.Add(70*time.Minute))
	assert.NoError(t, err)
}

func TestPromoteToLongTermAndResolve(t *testing.T) {
	ts := newTestStore(t)
	now := time.Now()

	rec, err := ts.Ingest(context.Background(), "t-1", "persistent phishing kit", model.SeverityCritical,
		map[string]string{"industry": "finance"}, now)
	require.NoError(t, err)
	require.NoError(t, ts.Move("t-1", model.TierWorking, model.TierShortTerm, now))
	rec.SetScore(0.9)

	mem := &model.LongTermMemory{
		MemoryID:           ts.LongTerm().NewMemoryID(),
		SourceThreatID:     "t-1",
		Content:            "persistent phishing kit",
		Severity:           model.SeverityCritical,
		Metadata:           map[string]string{"industry": "finance"},
		Score:              0.9,
		Confidence:         0.85,
		ConsolidationCount: 3,
		MemoryType:         model.MemoryPattern,
		ValidFrom:          now,
		Industry:           "finance",
		ExportPending:      true,
	}
	require.NoError(t, ts.PromoteToLongTerm(context.Background(), rec, mem, now))
	assert.Equal(t, model.TierLongTerm, rec.CurrentTier())

	tier, ok := ts.TierOf(context.Background(), "t-1", now)
	require.True(t, ok)
	assert.Equal(t, model.TierLongTerm, tier)

	got, foundIn, err := ts.Resolve(context.Background(), "t-1", now)
	require.NoError(t, err)
	assert.Equal(t, model.TierLongTerm, foundIn)
	assert.Equal(t, 0.85, got.Confidence())

	pending, err := ts.LongTerm().PendingExports(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, mem.MemoryID, pending[0].MemoryID)

	require.NoError(t, ts.LongTerm().MarkExported(context.Background(), mem.MemoryID))
	pending, err = ts.LongTerm().PendingExports(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pending)

	assert.ErrorIs(t, ts.LongTerm().MarkExported(context.Background(), "no-such-memory"), model.ErrNotFound)
}

func TestReingestOfLongTermReconsolidates(t *testing.T) {
	ts := newTestStore(t)
	now := time.Now()

	rec, err := ts.Ingest(context.Background(), "t-1", "recurring loader", model.SeverityHigh, nil, now)
	require.NoError(t, err)
	require.NoError(t, ts.Move("t-1", model.TierWorking, model.TierShortTerm, now))
	mem := &model.LongTermMemory{
		MemoryID:           ts.LongTerm().NewMemoryID(),
		SourceThreatID:     "t-1",
		Content:            "recurring loader",
		Severity:           model.SeverityHigh,
		Confidence:         0.82,
		ConsolidationCount: 3,
		MemoryType:         model.MemoryPattern,
		ValidFrom:          now,
	}
	require.NoError(t, ts.PromoteToLongTerm(context.Background(), rec, mem, now))
	require.NoError(t, ts.LongTerm().MarkExported(context.Background(), mem.MemoryID))

	_, err = ts.Ingest(context.Background(), "t-1", "recurring loader, new infra", model.SeverityHigh, nil, now)
	require.NoError(t, err)

	got, err := ts.LongTerm().Get(context.Background(), "t-1")
	require.NoError(t, err)
	assert.Equal(t, 4, got.ConsolidationCount)
	assert.Equal(t, "recurring loader, new infra", got.Content)
	assert.True(t, got.ExportPending, "a recurrence re-queues the memory for export")

	tier, ok := ts.TierOf(context.Background(), "t-1", now)
	require.True(t, ok)
	assert.Equal(t, model.TierLongTerm, tier, "long-term stays authoritative for a recurring id")
}

func TestListActiveUsesFilters(t *testing.T) {
	ts := newTestStore(t)
	now := time.Now()

	_, err := ts.Ingest(context.Background(), "t-1", "a", model.SeverityHigh, map[string]string{"industry": "finance"}, now)
	require.NoError(t, err)
	_, err = ts.Ingest(context.Background(), "t-2", "b", model.SeverityLow, map[string]string{"industry": "energy"}, now)
	require.NoError(t, err)
	_, err = ts.Ingest(context.Background(), "t-3", "c", model.SeverityHigh, map[string]string{"industry": "finance"}, now)
	require.NoError(t, err)

	finance := ts.ListActive(model.TierWorking, Filter{Industry: "finance"}, now)
	assert.Len(t, finance, 2)

	high := ts.ListActive(model.TierWorking, Filter{Severity: model.SeverityHigh}, now)
	assert.Len(t, high, 2)

	both := ts.ListActive(model.TierWorking, Filter{Industry: "energy", Severity: model.SeverityHigh}, now)
	assert.Empty(t, both)
}

func TestHotThreatsOrderedByScore(t *testing.T) {
	ts := newTestStore(t)
	now := time.Now()

	cold, err := ts.Ingest(context.Background(), "t-cold", "a", model.SeverityLow, nil, now)
	require.NoError(t, err)
	warm, err := ts.Ingest(context.Background(), "t-warm", "b", model.SeverityHigh, nil, now)
	require.NoError(t, err)
	hot, err := ts.Ingest(context.Background(), "t-hot", "c", model.SeverityCritical, nil, now)
	require.NoError(t, err)

	for _, rec := range []*model.ThreatRecord{warm, hot} {
		rec.RecordAction("a1", model.ActionEscalate, now)
	}
	cold.SetScore(0.1)
	warm.SetScore(0.5)
	hot.SetScore(0.9)

	got := ts.HotThreats(1, now)
	require.Len(t, got, 2)
	assert.Equal(t, "t-hot", got[0].ID)
	assert.Equal(t, "t-warm", got[1].ID)
}
