package promote

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatmem/internal/model"
	"threatmem/internal/scoring"
	"threatmem/internal/store"
)

// testClock is a settable clock for the controller's Now seam.
type testClock struct{ t time.Time }

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestController(t *testing.T, mutate func(*Config)) (*Controller, *store.TierStore, *testClock) {
	t.Helper()
	ts, err := store.New(context.Background(), store.Config{
		WorkingTTL:   time.Hour,
		ShortTermTTL: 7 * 24 * time.Hour,
		LongTermTTL:  90 * 24 * time.Hour,
		LongTermPath: filepath.Join(t.TempDir(), "longterm.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { ts.Close() })

	clock := &testClock{t: time.Now()}
	cfg := DefaultConfig()
	cfg.Now = clock.now
	if mutate != nil {
		mutate(&cfg)
	}
	return New(ts, scoring.New(scoring.DefaultEscalationWeight), cfg), ts, clock
}

func TestSweepPromotesEscalatedCritical(t *testing.T) {
	c, ts, clock := newTestController(t, nil)
	ctx := context.Background()

	rec, err := ts.Ingest(ctx, "t-1", "ransomware staging on dc01", model.SeverityCritical, nil, clock.now())
	require.NoError(t, err)
	for _, analyst := range []string{"alice", "bob", "carol"} {
		rec.RecordAction(analyst, model.ActionEscalate, clock.now())
	}

	c.Sweep(ctx)

	tier, ok := ts.TierOf(ctx, "t-1", clock.now())
	require.True(t, ok)
	assert.Equal(t, model.TierShortTerm, tier)
	assert.GreaterOrEqual(t, rec.Score(), 0.7)
	assert.Equal(t, 3, rec.UniqueAnalysts())
}

func TestSweepRequiresMultipleAnalysts(t *testing.T) {
	c, ts, clock := newTestController(t, nil)
	ctx := context.Background()

	rec, err := ts.Ingest(ctx, "t-1", "same payload, one pair of eyes", model.SeverityCritical, nil, clock.now())
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		rec.RecordAction("alice", model.ActionEscalate, clock.now())
	}

	c.Sweep(ctx)

	tier, ok := ts.TierOf(ctx, "t-1", clock.now())
	require.True(t, ok)
	assert.Equal(t, model.TierWorking, tier, "one analyst escalating is not corroboration")
}

func TestSweepLeavesQuietLowThreatToExpire(t *testing.T) {
	c, ts, clock := newTestController(t, nil)
	ctx := context.Background()

	rec, err := ts.Ingest(ctx, "t-1", "port scan from a cloud range", model.SeverityLow, nil, clock.now())
	require.NoError(t, err)
	rec.RecordAction("alice", model.ActionView, clock.now())

	c.Sweep(ctx)
	tier, ok := ts.TierOf(ctx, "t-1", clock.now())
	require.True(t, ok)
	assert.Equal(t, model.TierWorking, tier)

	clock.advance(2 * time.Hour)
	c.Sweep(ctx)

	_, ok = ts.TierOf(ctx, "t-1", clock.now())
	assert.False(t, ok)
	_, _, err = ts.Resolve(ctx, "t-1", clock.now())
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestSweepConsolidatesRecurringPattern(t *testing.T) {
	c, ts, clock := newTestController(t, nil)
	ctx := context.Background()

	meta := map[string]string{"memory_type": "CAMPAIGN", "industry": "finance"}
	var rec *model.ThreatRecord
	for i := 0; i < 3; i++ {
		var err error
		rec, err = ts.Ingest(ctx, "t-1", "cobalt strike beacon profile", model.SeverityCritical, meta, clock.now())
		require.NoError(t, err)
	}
	require.EqualValues(t, 3, rec.Consolidations())

	rec.RecordAction("alice", model.ActionEscalate, clock.now())
	rec.RecordAction("bob", model.ActionEscalate, clock.now())
	rec.RecordAction("alice", model.ActionEscalate, clock.now())
	rec.RecordAction("bob", model.ActionEscalate, clock.now())

	c.Sweep(ctx)

	tier, ok := ts.TierOf(ctx, "t-1", clock.now())
	require.True(t, ok)
	assert.Equal(t, model.TierLongTerm, tier)

	mem, err := ts.LongTerm().Get(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, model.MemoryCampaign, mem.MemoryType)
	assert.Equal(t, "finance", mem.Industry)
	assert.Equal(t, 3, mem.ConsolidationCount)
	assert.True(t, mem.ExportPending, "a fresh memory is queued for export")
	assert.False(t, mem.DecayExempt)
	assert.GreaterOrEqual(t, mem.Confidence, 0.8)

	// The in-memory tiers no longer own it.
	_, err = ts.Get(ctx, model.TierShortTerm, "t-1", clock.now())
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestValidatedMemoryIsDecayExempt(t *testing.T) {
	c, ts, clock := newTestController(t, nil)
	ctx := context.Background()

	meta := map[string]string{"memory_type": "VALIDATED"}
	rec, err := ts.Ingest(ctx, "t-1", "confirmed intrusion set", model.SeverityCritical, meta, clock.now())
	require.NoError(t, err)

	mem := c.buildMemory(rec, clock.now())
	assert.Equal(t, model.MemoryValidated, mem.MemoryType)
	assert.True(t, mem.DecayExempt)

	rec.Metadata = map[string]string{"validated": "true"}
	mem = c.buildMemory(rec, clock.now())
	assert.Equal(t, model.MemoryPattern, mem.MemoryType)
	assert.True(t, mem.DecayExempt, "the validated flag alone exempts a memory")
}

func seedMemory(t *testing.T, ts *store.TierStore, id string, confidence float64, exempt bool, now time.Time) string {
	t.Helper()
	memID := ts.LongTerm().NewMemoryID()
	err := ts.LongTerm().Upsert(context.Background(), &model.LongTermMemory{
		MemoryID:           memID,
		SourceThreatID:     id,
		Content:            "seeded memory",
		Severity:           model.SeverityHigh,
		Confidence:         confidence,
		ConsolidationCount: 3,
		MemoryType:         model.MemoryPattern,
		DecayExempt:        exempt,
		ValidFrom:          now,
	}, now)
	require.NoError(t, err)
	return memID
}

func TestDecayReducesConfidenceByElapsedDays(t *testing.T) {
	c, ts, clock := newTestController(t, nil)
	ctx := context.Background()

	memID := seedMemory(t, ts, "t-1", 0.9, false, clock.now())

	clock.advance(10 * 24 * time.Hour)
	c.sweepDecay(ctx, clock.now())

	mem, err := ts.LongTerm().GetByMemoryID(ctx, memID)
	require.NoError(t, err)
	assert.InDelta(t, DecayStep(0.9, 0.01, 10), mem.Confidence, 1e-9)

	// Re-running at the same instant is a no-op: decay is anchored to the
	// last sweep, not recomputed from scratch.
	before := mem.Confidence
	c.sweepDecay(ctx, clock.now())
	mem, err = ts.LongTerm().GetByMemoryID(ctx, memID)
	require.NoError(t, err)
	assert.Equal(t, before, mem.Confidence)
}

func TestDecayExemptConfidenceNeverMoves(t *testing.T) {
	c, ts, clock := newTestController(t, nil)
	ctx := context.Background()

	memID := seedMemory(t, ts, "t-1", 0.95, true, clock.now())

	for i := 0; i < 100; i++ {
		clock.advance(24 * time.Hour)
		c.sweepDecay(ctx, clock.now())
	}

	mem, err := ts.LongTerm().GetByMemoryID(ctx, memID)
	require.NoError(t, err)
	assert.Equal(t, 0.95, mem.Confidence, "an exempt memory is bit-for-bit untouched")
}

func TestDecayBelowFloorArchives(t *testing.T) {
	c, ts, clock := newTestController(t, func(cfg *Config) {
		cfg.DecayRatePerDay = 0.05
	})
	ctx := context.Background()

	seedMemory(t, ts, "t-1", 0.31, false, clock.now())

	clock.advance(24 * time.Hour)
	c.sweepDecay(ctx, clock.now())

	_, err := ts.LongTerm().Get(ctx, "t-1")
	assert.ErrorIs(t, err, model.ErrNotFound, "archived memories leave the active set")

	top, err := ts.LongTerm().TopByScore(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, top)
}

func TestLongTermRetentionExpiry(t *testing.T) {
	c, ts, clock := newTestController(t, nil)
	ctx := context.Background()

	seedMemory(t, ts, "t-1", 0.9, true, clock.now())

	clock.advance(91 * 24 * time.Hour)
	c.Sweep(ctx)

	_, err := ts.LongTerm().Get(ctx, "t-1")
	assert.ErrorIs(t, err, model.ErrNotFound, "retention wins even over decay exemption")
}

func TestDecayStep(t *testing.T) {
	assert.Equal(t, 0.5, DecayStep(0.5, 0.01, 0), "no elapsed time, no decay")
	assert.InDelta(t, 0.99, DecayStep(1.0, 0.01, 1), 1e-12)
	assert.InDelta(t, 0.9*0.99*0.99, DecayStep(0.9, 0.01, 2), 1e-12)
	assert.Less(t, DecayStep(0.9, 0.01, 365), 0.9*0.7, "a year of neglect roughly thirds the confidence")
}
