// Package store implements the three-level tier store: mutex-guarded
// in-memory Working and Short-Term tiers and a SQLite-backed Long-Term
// tier. All tier transitions and counter-bearing records flow through it.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/willf/bloom"

	"threatmem/internal/metrics"
	"threatmem/internal/model"
)

// bloom filter sizing: ~1% false positives at the expected id volume.
const (
	bloomSize   = 1 << 20
	bloomHashes = 5
)

// Filter narrows ListActive and HotThreats results.
type Filter struct {
	Industry        string
	Severity        model.Severity
	MinInteractions int64
}

func (f Filter) matches(rec *model.ThreatRecord) bool {
	if f.Industry != "" && rec.Industry() != f.Industry {
		return false
	}
	if f.Severity != "" && rec.Severity != f.Severity {
		return false
	}
	if f.MinInteractions > 0 && rec.Interactions() < f.MinInteractions {
		return false
	}
	return true
}

// TierStore is the single shared mutable resource of the engine. One
// RWMutex guards both in-memory tiers together, which is what makes a
// Move visible to readers as a single transition.
type TierStore struct {
	mu        sync.RWMutex
	working   *memTier
	shortTerm *memTier
	longTerm  *LongTermStore

	bloomMu sync.Mutex
	seen    *bloom.BloomFilter
}

// Config carries the per-tier retention windows.
type Config struct {
	WorkingTTL   time.Duration
	ShortTermTTL time.Duration
	LongTermTTL  time.Duration
	LongTermPath string
}

// New opens the tier store. The bloom filter over known ids is seeded
// from the long-term database so restarts do not turn stored memories
// into false negatives.
func New(ctx context.Context, cfg Config) (*TierStore, error) {
	lt, err := NewLongTermStore(cfg.LongTermPath, cfg.LongTermTTL)
	if err != nil {
		return nil, err
	}
	s := &TierStore{
		working:   newMemTier(model.TierWorking, cfg.WorkingTTL),
		shortTerm: newMemTier(model.TierShortTerm, cfg.ShortTermTTL),
		longTerm:  lt,
		seen:      bloom.New(bloomSize, bloomHashes),
	}
	ids, err := lt.SourceIDs(ctx)
	if err != nil {
		lt.Close()
		return nil, err
	}
	for _, id := range ids {
		s.seen.Add([]byte(id))
	}
	return s, nil
}

// Close releases the long-term database.
func (s *TierStore) Close() error { return s.longTerm.Close() }

// LongTerm exposes the long-term tier to the promotion controller and the
// export boundary.
func (s *TierStore) LongTerm() *LongTermStore { return s.longTerm }

func (s *TierStore) markSeen(id string) {
	s.bloomMu.Lock()
	s.seen.Add([]byte(id))
	s.bloomMu.Unlock()
}

func (s *TierStore) maybeSeen(id string) bool {
	s.bloomMu.Lock()
	defer s.bloomMu.Unlock()
	return s.seen.Test([]byte(id))
}

// Ingest creates a Working-tier record, or updates the record wherever it
// already lives: a re-ingested id is an update and a pattern recurrence,
// never a duplicate insert.
func (s *TierStore) Ingest(ctx context.Context, id, content string, severity model.Severity, metadata map[string]string, now time.Time) (*model.ThreatRecord, error) {
	s.mu.Lock()
	for _, tier := range []*memTier{s.working, s.shortTerm} {
		if e, ok := tier.getLocked(id, now); ok && !e.cached {
			rec := e.rec
			if err := rec.Update(content, severity, metadata, now); err != nil {
				s.mu.Unlock()
				return nil, err
			}
			rec.Consolidate()
			tier.putLocked(rec, false, now)
			s.mu.Unlock()
			return rec, nil
		}
	}
	s.mu.Unlock()

	// A recurrence of a pattern that already graduated reconsolidates the
	// memory; the long-term tier stays authoritative for the id.
	if s.maybeSeen(id) {
		if mem, err := s.longTerm.Get(ctx, id); err == nil {
			if err := s.reconsolidate(ctx, mem, content, severity, metadata, now); err != nil {
				return nil, err
			}
			return model.RecordFromMemory(mem, now), nil
		} else if errors.Is(err, model.ErrStorageUnavailable) {
			return nil, err
		}
	}

	rec, err := model.NewThreatRecord(id, content, severity, metadata, now)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.working.putLocked(rec, false, now)
	s.mu.Unlock()
	s.markSeen(id)
	metrics.IngestsTotal.WithLabelValues(string(severity)).Inc()
	return rec, nil
}

func (s *TierStore) reconsolidate(ctx context.Context, mem *model.LongTermMemory, content string, severity model.Severity, metadata map[string]string, now time.Time) error {
	update := &model.LongTermMemory{
		MemoryID:           mem.MemoryID,
		SourceThreatID:     mem.SourceThreatID,
		Content:            content,
		Severity:           severity,
		Metadata:           metadata,
		Score:              mem.Score,
		Confidence:         mem.Confidence,
		ConsolidationCount: mem.ConsolidationCount,
		MemoryType:         mem.MemoryType,
		DecayExempt:        mem.DecayExempt,
		ValidFrom:          mem.ValidFrom,
		Industry:           mem.Industry,
	}
	if err := s.longTerm.Upsert(ctx, update, now); err != nil {
		return err
	}
	mem.ConsolidationCount++
	mem.Content = content
	mem.ExportPending = true
	return nil
}

// Get returns the authoritative record held by one specific tier.
func (s *TierStore) Get(ctx context.Context, tier model.Tier, id string, now time.Time) (*model.ThreatRecord, error) {
	switch tier {
	case model.TierWorking, model.TierShortTerm:
		s.mu.RLock()
		defer s.mu.RUnlock()
		if e, ok := s.memTierOf(tier).getLocked(id, now); ok && !e.cached {
			return e.rec, nil
		}
		return nil, model.ErrNotFound
	case model.TierLongTerm:
		mem, err := s.longTerm.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		return model.RecordFromMemory(mem, now), nil
	default:
		return nil, fmt.Errorf("%w: unknown tier %q", model.ErrValidation, tier)
	}
}

func (s *TierStore) memTierOf(tier model.Tier) *memTier {
	if tier == model.TierShortTerm {
		return s.shortTerm
	}
	return s.working
}

// Move transfers authority of a record between the in-memory tiers as one
// atomic transition: readers observe it in exactly one tier throughout.
func (s *TierStore) Move(id string, from, to model.Tier, now time.Time) error {
	if from == model.TierLongTerm || to == model.TierLongTerm {
		return fmt.Errorf("%w: long-term moves go through PromoteToLongTerm", model.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	src, dst := s.memTierOf(from), s.memTierOf(to)
	e, ok := src.getLocked(id, now)
	if !ok || e.cached {
		return model.ErrNotFound
	}
	src.removeLocked(id)
	dst.putLocked(e.rec, false, now)
	e.rec.SetTier(to)
	return nil
}

// PromoteToLongTerm consolidates a Short-Term record into the long-term
// store and then retires the in-memory copy. The write happens before the
// removal, so a failure leaves the record in Short-Term for the next
// sweep; lookups go fastest-tier-first and never observe a gap.
func (s *TierStore) PromoteToLongTerm(ctx context.Context, rec *model.ThreatRecord, mem *model.LongTermMemory, now time.Time) error {
	if err := s.longTerm.Upsert(ctx, mem, now); err != nil {
		return err
	}
	s.mu.Lock()
	s.shortTerm.removeLocked(rec.ID)
	s.working.removeLocked(rec.ID)
	s.mu.Unlock()
	rec.SetTier(model.TierLongTerm)
	return nil
}

// Resolve looks the id up Working → Short-Term → Long-Term and warms the
// faster tiers with non-authoritative copies on a lower-tier hit. This is
// cache warm-up only; it never changes which tier owns the record.
func (s *TierStore) Resolve(ctx context.Context, id string, now time.Time) (*model.ThreatRecord, model.Tier, error) {
	if !s.maybeSeen(id) {
		return nil, "", model.ErrNotFound
	}

	s.mu.RLock()
	if e, ok := s.working.getLocked(id, now); ok {
		s.mu.RUnlock()
		metrics.ResolveHits.WithLabelValues(string(model.TierWorking)).Inc()
		return e.rec, model.TierWorking, nil
	}
	if e, ok := s.shortTerm.getLocked(id, now); ok && !e.cached {
		rec := e.rec
		s.mu.RUnlock()
		s.mu.Lock()
		if _, ok := s.working.getLocked(id, now); !ok {
			s.working.putLocked(rec, true, now)
		}
		s.mu.Unlock()
		metrics.ResolveHits.WithLabelValues(string(model.TierShortTerm)).Inc()
		return rec, model.TierShortTerm, nil
	}
	s.mu.RUnlock()

	mem, err := s.longTerm.Get(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrStorageUnavailable) {
			return nil, "", err
		}
		return nil, "", model.ErrNotFound
	}
	rec := model.RecordFromMemory(mem, now)
	s.mu.Lock()
	if _, ok := s.working.getLocked(id, now); !ok {
		s.working.putLocked(rec, true, now)
	}
	if e, ok := s.shortTerm.getLocked(id, now); !ok || e.cached {
		s.shortTerm.putLocked(rec, true, now)
	}
	s.mu.Unlock()
	metrics.ResolveHits.WithLabelValues(string(model.TierLongTerm)).Inc()
	return rec, model.TierLongTerm, nil
}

// TierOf reports which tier currently owns the id, if any.
func (s *TierStore) TierOf(ctx context.Context, id string, now time.Time) (model.Tier, bool) {
	s.mu.RLock()
	if e, ok := s.working.getLocked(id, now); ok && !e.cached {
		s.mu.RUnlock()
		return model.TierWorking, true
	}
	if e, ok := s.shortTerm.getLocked(id, now); ok && !e.cached {
		s.mu.RUnlock()
		return model.TierShortTerm, true
	}
	s.mu.RUnlock()
	if _, err := s.longTerm.Get(ctx, id); err == nil {
		return model.TierLongTerm, true
	}
	return "", false
}

// ListActive returns authoritative records in one in-memory tier.
func (s *TierStore) ListActive(tier model.Tier, f Filter, now time.Time) []*model.ThreatRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.memTierOf(tier).activeLocked(f, now)
}

// HotThreats returns Working and Short-Term records with at least
// minInteractions interactions, highest score first.
func (s *TierStore) HotThreats(minInteractions int64, now time.Time) []*model.ThreatRecord {
	f := Filter{MinInteractions: minInteractions}
	s.mu.RLock()
	out := s.working.activeLocked(f, now)
	out = append(out, s.shortTerm.activeLocked(f, now)...)
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Score() > out[j].Score() })
	return out
}

// ExpireSweep reclaims expired entries in every tier and returns the
// authoritative records dropped from the in-memory tiers.
func (s *TierStore) ExpireSweep(ctx context.Context, now time.Time) ([]*model.ThreatRecord, error) {
	s.mu.Lock()
	expired := s.working.expireLocked(now)
	expired = append(expired, s.shortTerm.expireLocked(now)...)
	s.mu.Unlock()

	_, err := s.longTerm.ExpireSweep(ctx, now)
	return expired, err
}

// UpdateTierGauges refreshes the per-tier size metrics.
func (s *TierStore) UpdateTierGauges(ctx context.Context) {
	s.mu.RLock()
	working := s.working.lenLocked()
	short := s.shortTerm.lenLocked()
	s.mu.RUnlock()
	metrics.TierSize.WithLabelValues(string(model.TierWorking)).Set(float64(working))
	metrics.TierSize.WithLabelValues(string(model.TierShortTerm)).Set(float64(short))
	if n, err := s.longTerm.CountActive(ctx); err == nil {
		metrics.TierSize.WithLabelValues(string(model.TierLongTerm)).Set(float64(n))
	}
}

// Stats summarizes tier occupancy.
type Stats struct {
	Working   int `json:"working"`
	ShortTerm int `json:"short_term"`
	LongTerm  int `json:"long_term"`
}

// TierStats counts authoritative records per tier.
func (s *TierStore) TierStats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	st := Stats{Working: s.working.lenLocked(), ShortTerm: s.shortTerm.lenLocked()}
	s.mu.RUnlock()
	n, err := s.longTerm.CountActive(ctx)
	if err != nil {
		return st, err
	}
	st.LongTerm = n
	return st, nil
}
