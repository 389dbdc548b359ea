// Package ledger records analyst interactions. Counters on the record are
// bumped with atomic increments; the ledger itself is an append-only log,
// aggregated but never rewritten.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"threatmem/internal/metrics"
	"threatmem/internal/model"
	"threatmem/internal/scoring"
	"threatmem/internal/store"
)

// defaultMaxPerAnalyst bounds the in-memory action log per analyst; the
// predictive engine only ever looks at recent history.
const defaultMaxPerAnalyst = 500

// Ledger is the only component allowed to mutate interaction counters.
type Ledger struct {
	store  *store.TierStore
	scorer *scoring.Scorer

	mu        sync.RWMutex
	byAnalyst map[string][]model.Interaction
	total     int64
	maxKept   int
}

// New builds a ledger over the shared tier store.
func New(ts *store.TierStore, scorer *scoring.Scorer) *Ledger {
	return &Ledger{
		store:     ts,
		scorer:    scorer,
		byAnalyst: make(map[string][]model.Interaction),
		maxKept:   defaultMaxPerAnalyst,
	}
}

// Record applies one analyst action to the threat, appends it to the log
// and returns the recomputed composite score.
func (l *Ledger) Record(ctx context.Context, threatID, analystID string, action model.ActionType, timeSpentSeconds int, now time.Time) (float64, error) {
	if strings.TrimSpace(analystID) == "" {
		return 0, fmt.Errorf("%w: empty analyst id", model.ErrValidation)
	}
	if !model.ValidActions[action] {
		return 0, fmt.Errorf("%w: unknown action %q", model.ErrValidation, action)
	}

	rec, _, err := l.store.Resolve(ctx, threatID, now)
	if err != nil {
		return 0, err
	}

	rec.RecordAction(analystID, action, now)

	score := l.scorer.Score(rec, now)
	rec.SetScore(score)
	rec.RaiseConfidence(score)

	in := model.Interaction{
		AnalystID:        analystID,
		ThreatID:         threatID,
		Action:           action,
		Timestamp:        now,
		TimeSpentSeconds: timeSpentSeconds,
		Industry:         rec.Industry(),
		Severity:         rec.Severity,
	}
	l.mu.Lock()
	log := append(l.byAnalyst[analystID], in)
	if len(log) > l.maxKept {
		log = log[len(log)-l.maxKept:]
	}
	l.byAnalyst[analystID] = log
	l.total++
	l.mu.Unlock()

	metrics.InteractionsTotal.WithLabelValues(string(action)).Inc()
	return score, nil
}

// AnalystHistory returns a copy of the analyst's recent actions, oldest
// first.
func (l *Ledger) AnalystHistory(analystID string) []model.Interaction {
	l.mu.RLock()
	defer l.mu.RUnlock()
	log := l.byAnalyst[analystID]
	out := make([]model.Interaction, len(log))
	copy(out, log)
	return out
}

// Total reports how many interactions have been recorded.
func (l *Ledger) Total() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total
}
