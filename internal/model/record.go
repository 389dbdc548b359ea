package model

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ThreatRecord is the authoritative form of a threat while it lives in the
// Working or Short-Term tier. Interaction counters are updated with atomic
// increments so concurrent analyst actions never lose updates; the analyst
// map and derived score are guarded by the record mutex.
type ThreatRecord struct {
	ID        string
	Content   string
	Severity  Severity
	Metadata  map[string]string
	Tier      Tier
	CreatedAt time.Time

	viewCount       int64
	escalationCount int64
	dismissCount    int64
	consolidations  int64
	lastActivityNS  int64

	mu         sync.Mutex
	score      float64
	confidence float64
	analysts   map[string]ActionType
}

// NewThreatRecord validates the ingestion fields and builds a record in the
// Working tier. Returns ErrValidation-wrapped errors on bad input.
func NewThreatRecord(id, content string, severity Severity, metadata map[string]string, now time.Time) (*ThreatRecord, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: empty threat id", ErrValidation)
	}
	if strings.TrimSpace(content) == "" {
		return nil, fmt.Errorf("%w: empty content", ErrValidation)
	}
	if !ValidSeverities[severity] {
		return nil, fmt.Errorf("%w: unknown severity %q", ErrValidation, severity)
	}
	if metadata == nil {
		metadata = map[string]string{}
	}
	r := &ThreatRecord{
		ID:        id,
		Content:   content,
		Severity:  severity,
		Metadata:  metadata,
		Tier:      TierWorking,
		CreatedAt: now,
		analysts:  make(map[string]ActionType),
	}
	atomic.StoreInt64(&r.lastActivityNS, now.UnixNano())
	atomic.StoreInt64(&r.consolidations, 1)
	return r, nil
}

// RecordFromMemory derives a non-authoritative ThreatRecord from a
// consolidated memory, used for promotion-on-access warm-up copies.
func RecordFromMemory(mem *LongTermMemory, now time.Time) *ThreatRecord {
	metadata := make(map[string]string, len(mem.Metadata))
	for k, v := range mem.Metadata {
		metadata[k] = v
	}
	r := &ThreatRecord{
		ID:         mem.SourceThreatID,
		Content:    mem.Content,
		Severity:   mem.Severity,
		Metadata:   metadata,
		Tier:       TierLongTerm,
		CreatedAt:  mem.ValidFrom,
		score:      mem.Score,
		confidence: mem.Confidence,
		analysts:   make(map[string]ActionType),
	}
	atomic.StoreInt64(&r.lastActivityNS, now.UnixNano())
	atomic.StoreInt64(&r.consolidations, int64(mem.ConsolidationCount))
	return r
}

// Update replaces the mutable ingestion fields; counters and the analyst
// history survive a re-ingest of the same id.
func (r *ThreatRecord) Update(content string, severity Severity, metadata map[string]string, now time.Time) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: empty content", ErrValidation)
	}
	if !ValidSeverities[severity] {
		return fmt.Errorf("%w: unknown severity %q", ErrValidation, severity)
	}
	r.mu.Lock()
	r.Content = content
	r.Severity = severity
	if metadata != nil {
		r.Metadata = metadata
	}
	r.mu.Unlock()
	atomic.StoreInt64(&r.lastActivityNS, now.UnixNano())
	return nil
}

// RecordAction applies one analyst interaction to the counters and the
// per-analyst last-action map.
func (r *ThreatRecord) RecordAction(analystID string, action ActionType, now time.Time) {
	switch action {
	case ActionView:
		atomic.AddInt64(&r.viewCount, 1)
	case ActionEscalate:
		atomic.AddInt64(&r.escalationCount, 1)
	case ActionDismiss:
		atomic.AddInt64(&r.dismissCount, 1)
	}
	atomic.StoreInt64(&r.lastActivityNS, now.UnixNano())

	r.mu.Lock()
	r.analysts[analystID] = action
	r.mu.Unlock()
}

func (r *ThreatRecord) ViewCount() int64       { return atomic.LoadInt64(&r.viewCount) }
func (r *ThreatRecord) EscalationCount() int64 { return atomic.LoadInt64(&r.escalationCount) }
func (r *ThreatRecord) DismissCount() int64    { return atomic.LoadInt64(&r.dismissCount) }

// Interactions returns the total interaction count across all actions.
func (r *ThreatRecord) Interactions() int64 {
	return r.ViewCount() + r.EscalationCount() + r.DismissCount()
}

// Consolidations reports how often this underlying pattern has recurred.
func (r *ThreatRecord) Consolidations() int64 { return atomic.LoadInt64(&r.consolidations) }

// Consolidate registers one recurrence of the pattern.
func (r *ThreatRecord) Consolidate() { atomic.AddInt64(&r.consolidations, 1) }

// Confidence returns the accumulated confidence of the record.
func (r *ThreatRecord) Confidence() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.confidence
}

// RaiseConfidence lifts the confidence to v if v is higher; confidence of
// an in-memory record never falls.
func (r *ThreatRecord) RaiseConfidence(v float64) {
	r.mu.Lock()
	if v > r.confidence {
		r.confidence = v
	}
	r.mu.Unlock()
}

// LastActivity returns the time of the most recent write or interaction.
func (r *ThreatRecord) LastActivity() time.Time {
	return time.Unix(0, atomic.LoadInt64(&r.lastActivityNS))
}

// UniqueAnalysts returns the number of distinct analysts that acted on the
// record.
func (r *ThreatRecord) UniqueAnalysts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.analysts)
}

// SetTier records the authoritative tier. Only the tier store calls this.
func (r *ThreatRecord) SetTier(t Tier) {
	r.mu.Lock()
	r.Tier = t
	r.mu.Unlock()
}

// CurrentTier returns the authoritative tier.
func (r *ThreatRecord) CurrentTier() Tier {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Tier
}

// SetScore stores the derived composite score.
func (r *ThreatRecord) SetScore(s float64) {
	r.mu.Lock()
	r.score = s
	r.mu.Unlock()
}

// Score returns the last derived composite score.
func (r *ThreatRecord) Score() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.score
}

// Industry returns the industry tag from the metadata bag, if present.
func (r *ThreatRecord) Industry() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Metadata["industry"]
}

// ThreatSnapshot is the wire form of a ThreatRecord.
type ThreatSnapshot struct {
	ID              string                `json:"id"`
	Content         string                `json:"content"`
	Severity        Severity              `json:"severity"`
	Metadata        map[string]string     `json:"metadata,omitempty"`
	Score           float64               `json:"score"`
	Tier            Tier                  `json:"tier"`
	CreatedAt       time.Time             `json:"created_at"`
	LastActivityAt  time.Time             `json:"last_activity_at"`
	ViewCount       int64                 `json:"view_count"`
	EscalationCount int64                 `json:"escalation_count"`
	DismissCount    int64                 `json:"dismiss_count"`
	Consolidations  int64                 `json:"consolidation_count"`
	Confidence      float64               `json:"confidence"`
	UniqueAnalysts  int                   `json:"unique_analysts"`
	AnalystActions  map[string]ActionType `json:"analyst_last_action,omitempty"`
}

// Snapshot captures a consistent wire view of the record.
func (r *ThreatRecord) Snapshot() ThreatSnapshot {
	snap := ThreatSnapshot{
		ID:              r.ID,
		CreatedAt:       r.CreatedAt,
		LastActivityAt:  r.LastActivity(),
		ViewCount:       r.ViewCount(),
		EscalationCount: r.EscalationCount(),
		DismissCount:    r.DismissCount(),
		Consolidations:  r.Consolidations(),
	}
	r.mu.Lock()
	snap.Content = r.Content
	snap.Severity = r.Severity
	snap.Tier = r.Tier
	snap.Score = r.score
	snap.Confidence = r.confidence
	snap.Metadata = make(map[string]string, len(r.Metadata))
	for k, v := range r.Metadata {
		snap.Metadata[k] = v
	}
	snap.UniqueAnalysts = len(r.analysts)
	snap.AnalystActions = make(map[string]ActionType, len(r.analysts))
	for k, v := range r.analysts {
		snap.AnalystActions[k] = v
	}
	r.mu.Unlock()
	return snap
}
