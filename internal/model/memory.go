package model

import "time"

// LongTermMemory is the consolidated form of a threat, created only when a
// Short-Term record crosses the promotion thresholds. If DecayExempt is
// true the decay process never touches Confidence; only explicit
// reconsolidation may change it.
type LongTermMemory struct {
	MemoryID           string            `json:"memory_id"`
	SourceThreatID     string            `json:"source_threat_id"`
	Content            string            `json:"content"`
	Severity           Severity          `json:"severity"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	Score              float64           `json:"score"`
	Confidence         float64           `json:"confidence"`
	ConsolidationCount int               `json:"consolidation_count"`
	MemoryType         MemoryType        `json:"memory_type"`
	DecayExempt        bool              `json:"decay_exempt"`
	ValidFrom          time.Time         `json:"valid_from"`
	ValidTo            *time.Time        `json:"valid_to,omitempty"`
	Industry           string            `json:"industry,omitempty"`
	ExportPending      bool              `json:"export_pending"`

	// LastDecayAt anchors the next decay step; the decay multiplier covers
	// only the time elapsed since it, which makes back-to-back sweeps on
	// unchanged data a no-op.
	LastDecayAt time.Time `json:"-"`
}

// Interaction is one analyst action against a threat. Append-only.
type Interaction struct {
	AnalystID        string     `json:"analyst_id"`
	ThreatID         string     `json:"threat_id"`
	Action           ActionType `json:"action_type"`
	Timestamp        time.Time  `json:"timestamp"`
	TimeSpentSeconds int        `json:"time_spent_seconds,omitempty"`

	// Denormalized from the record at interaction time so analyst history
	// queries do not need the record to still exist.
	Industry string   `json:"industry,omitempty"`
	Severity Severity `json:"severity,omitempty"`
}

// PredictionResult is the explainable output of the predictive ensemble.
// Ephemeral: recomputed on demand, cached only with a short TTL.
type PredictionResult struct {
	AnalystID         string             `json:"analyst_id"`
	ThreatID          string             `json:"threat_id"`
	PredictedPriority float64            `json:"predicted_priority"`
	Confidence        float64            `json:"confidence"`
	ComponentScores   map[string]float64 `json:"component_scores"`
	Reasons           []string           `json:"reasons"`
	Recommendation    Recommendation     `json:"recommendation"`
	GeneratedAt       time.Time          `json:"generated_at"`
}
