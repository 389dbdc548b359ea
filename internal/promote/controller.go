// Package promote runs the background maintenance path: threshold
// promotion between tiers, long-term confidence decay and TTL expiry.
// Sweeps are periodic, idempotent and never block the ingest or
// interaction fast path; they talk to the rest of the engine only through
// the shared tier store.
package promote

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"threatmem/internal/metrics"
	"threatmem/internal/model"
	"threatmem/internal/scoring"
	"threatmem/internal/store"
)

// Config carries the sweep cadence and the promotion/decay thresholds.
type Config struct {
	Interval      time.Duration
	RecordTimeout time.Duration

	// Working -> Short-Term criteria.
	PromoteScore   float64
	MinAnalysts    int
	MinEscalations int64

	// Short-Term -> Long-Term criteria.
	ConsolidateConfidence float64
	MinConsolidations     int64

	// Long-term decay.
	DecayRatePerDay float64
	ArchiveFloor    float64

	// Now is a clock seam for tests; nil means time.Now.
	Now func() time.Time
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		Interval:              time.Minute,
		RecordTimeout:         2 * time.Second,
		PromoteScore:          0.7,
		MinAnalysts:           2,
		MinEscalations:        2,
		ConsolidateConfidence: 0.8,
		MinConsolidations:     3,
		DecayRatePerDay:       0.01,
		ArchiveFloor:          0.3,
	}
}

// Controller owns all tier transitions. Nothing else moves records.
type Controller struct {
	store  *store.TierStore
	scorer *scoring.Scorer
	cfg    Config

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a controller over the shared store.
func New(ts *store.TierStore, scorer *scoring.Scorer, cfg Config) *Controller {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Controller{store: ts, scorer: scorer, cfg: cfg}
}

// Start launches the periodic sweep loop.
func (c *Controller) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Sweep(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for the current sweep to finish.
func (c *Controller) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
}

// Sweep runs one full maintenance pass. A failure on one record is
// logged, counted and retried next interval; it never aborts the batch.
func (c *Controller) Sweep(ctx context.Context) {
	now := c.cfg.Now()
	c.sweepWorking(ctx, now)
	c.sweepShortTerm(ctx, now)
	c.sweepDecay(ctx, now)
	c.sweepExpiry(ctx, now)
	c.store.UpdateTierGauges(ctx)
}

func (c *Controller) sweepWorking(ctx context.Context, now time.Time) {
	timer := time.Now()
	defer func() {
		metrics.SweepDuration.WithLabelValues("working").Observe(time.Since(timer).Seconds())
	}()

	for _, rec := range c.store.ListActive(model.TierWorking, store.Filter{}, now) {
		rec := rec
		err := c.evalRecord(ctx, func(ctx context.Context) error {
			score := c.scorer.Score(rec, now)
			rec.SetScore(score)
			rec.RaiseConfidence(score)

			if !c.promotable(rec, score) {
				return nil
			}
			if err := c.store.Move(rec.ID, model.TierWorking, model.TierShortTerm, now); err != nil {
				return err
			}
			metrics.PromotionsTotal.WithLabelValues("working_to_short_term").Inc()
			slog.Info("promoted to short-term", "threat_id", rec.ID, "score", score)
			return nil
		})
		if err != nil {
			metrics.SweepErrorsTotal.WithLabelValues("working").Inc()
			slog.Error("working sweep: record skipped", "threat_id", rec.ID, "err", err)
		}
	}
}

// promotable applies the Working -> Short-Term criteria.
func (c *Controller) promotable(rec *model.ThreatRecord, score float64) bool {
	if score < c.cfg.PromoteScore {
		return false
	}
	if rec.UniqueAnalysts() < c.cfg.MinAnalysts {
		return false
	}
	if rec.EscalationCount() >= c.cfg.MinEscalations {
		return true
	}
	return rec.Severity == model.SeverityCritical || rec.Severity == model.SeverityHigh
}

func (c *Controller) sweepShortTerm(ctx context.Context, now time.Time) {
	timer := time.Now()
	defer func() {
		metrics.SweepDuration.WithLabelValues("short_term").Observe(time.Since(timer).Seconds())
	}()

	for _, rec := range c.store.ListActive(model.TierShortTerm, store.Filter{}, now) {
		rec := rec
		err := c.evalRecord(ctx, func(ctx context.Context) error {
			score := c.scorer.Score(rec, now)
			rec.SetScore(score)
			rec.RaiseConfidence(score)

			if rec.Confidence() < c.cfg.ConsolidateConfidence || rec.Consolidations() < c.cfg.MinConsolidations {
				return nil
			}
			mem := c.buildMemory(rec, now)
			if err := c.store.PromoteToLongTerm(ctx, rec, mem, now); err != nil {
				return err
			}
			metrics.PromotionsTotal.WithLabelValues("short_term_to_long_term").Inc()
			slog.Info("consolidated to long-term", "threat_id", rec.ID,
				"memory_id", mem.MemoryID, "confidence", mem.Confidence,
				"memory_type", mem.MemoryType)
			return nil
		})
		if err != nil {
			metrics.SweepErrorsTotal.WithLabelValues("short_term").Inc()
			slog.Error("short-term sweep: record skipped", "threat_id", rec.ID, "err", err)
		}
	}
}

// buildMemory shapes the consolidated long-term form of a record. Memory
// type comes from the metadata bag (default PATTERN); validated memories
// are exempt from decay.
func (c *Controller) buildMemory(rec *model.ThreatRecord, now time.Time) *model.LongTermMemory {
	snap := rec.Snapshot()

	memType := model.MemoryPattern
	if raw, ok := snap.Metadata["memory_type"]; ok && model.ValidMemoryTypes[model.MemoryType(raw)] {
		memType = model.MemoryType(raw)
	}
	exempt := memType == model.MemoryValidated || snap.Metadata["validated"] == "true"

	return &model.LongTermMemory{
		MemoryID:           c.store.LongTerm().NewMemoryID(),
		SourceThreatID:     snap.ID,
		Content:            snap.Content,
		Severity:           snap.Severity,
		Metadata:           snap.Metadata,
		Score:              snap.Score,
		Confidence:         snap.Confidence,
		ConsolidationCount: int(snap.Consolidations),
		MemoryType:         memType,
		DecayExempt:        exempt,
		ValidFrom:          now,
		Industry:           snap.Metadata["industry"],
		ExportPending:      true,
	}
}

func (c *Controller) sweepDecay(ctx context.Context, now time.Time) {
	timer := time.Now()
	defer func() {
		metrics.SweepDuration.WithLabelValues("decay").Observe(time.Since(timer).Seconds())
	}()

	// Decayable never returns exempt memories, so a validated record's
	// confidence is untouchable here by construction.
	memories, err := c.store.LongTerm().Decayable(ctx)
	if err != nil {
		slog.Error("decay sweep: list failed", "err", err)
		return
	}
	lt := c.store.LongTerm()
	for _, mem := range memories {
		mem := mem
		err := c.evalRecord(ctx, func(ctx context.Context) error {
			elapsedDays := now.Sub(mem.LastDecayAt).Hours() / 24
			if elapsedDays <= 0 {
				return nil
			}
			decayed := DecayStep(mem.Confidence, c.cfg.DecayRatePerDay, elapsedDays)
			if err := lt.SetConfidence(ctx, mem.MemoryID, decayed, now); err != nil {
				return err
			}
			if decayed < c.cfg.ArchiveFloor {
				if err := lt.Archive(ctx, mem.MemoryID, now); err != nil {
					return err
				}
				metrics.ArchivedTotal.Inc()
				slog.Info("memory archived by decay", "memory_id", mem.MemoryID,
					"confidence", decayed)
			}
			return nil
		})
		if err != nil {
			metrics.SweepErrorsTotal.WithLabelValues("decay").Inc()
			slog.Error("decay sweep: memory skipped", "memory_id", mem.MemoryID, "err", err)
		}
	}
}

func (c *Controller) sweepExpiry(ctx context.Context, now time.Time) {
	timer := time.Now()
	defer func() {
		metrics.SweepDuration.WithLabelValues("expiry").Observe(time.Since(timer).Seconds())
	}()

	expired, err := c.store.ExpireSweep(ctx, now)
	if err != nil {
		slog.Error("expiry sweep: long-term pass failed", "err", err)
	}
	for _, rec := range expired {
		slog.Info("record expired", "threat_id", rec.ID, "tier", rec.CurrentTier())
	}
}

// evalRecord runs one record's evaluation under the per-record timeout.
// Panics and timeouts both degrade to skip-and-retry.
func (c *Controller) evalRecord(ctx context.Context, fn func(context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, c.cfg.RecordTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("record evaluation panicked: %v", r)
			}
		}()
		done <- fn(cctx)
	}()

	select {
	case err := <-done:
		return err
	case <-cctx.Done():
		return cctx.Err()
	}
}

// DecayStep applies confidence * (1-rate)^elapsedDays. Pure so the decay
// curve is testable on its own.
func DecayStep(confidence, ratePerDay, elapsedDays float64) float64 {
	if elapsedDays <= 0 {
		return confidence
	}
	return confidence * math.Pow(1-ratePerDay, elapsedDays)
}
