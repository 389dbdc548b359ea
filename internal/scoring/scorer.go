// Package scoring computes the composite threat score. The scorer is a
// pure function of the record state and the supplied clock reading: no
// hidden state, identical inputs give bit-identical output.
package scoring

import (
	"math"
	"strconv"
	"time"

	"threatmem/internal/model"
)

// Component weights of the composite score.
const (
	weightSeverity = 0.3
	weightEngage   = 0.3
	weightRecency  = 0.2
	weightMetadata = 0.2

	// engagementSaturation is the view-equivalent count at which the
	// engagement component saturates at 1.0.
	engagementSaturation = 10.0

	// recencyHalfLifeMinutes drives the exponential recency falloff.
	recencyHalfLifeMinutes = 30.0

	// DefaultEscalationWeight is how many plain views one escalation is
	// worth inside the engagement component. Tunable, see Config.
	DefaultEscalationWeight = 3.0

	// defaultMetadataSignal is used for any metadata key that is absent
	// or unparseable.
	defaultMetadataSignal = 0.5
)

var severityWeights = map[model.Severity]float64{
	model.SeverityCritical: 1.0,
	model.SeverityHigh:     0.7,
	model.SeverityMedium:   0.4,
	model.SeverityLow:      0.1,
}

// Scorer holds the tunables of the composite score.
type Scorer struct {
	escalationWeight float64
}

// New builds a scorer. An escalationWeight <= 0 falls back to the default.
func New(escalationWeight float64) *Scorer {
	if escalationWeight <= 0 {
		escalationWeight = DefaultEscalationWeight
	}
	return &Scorer{escalationWeight: escalationWeight}
}

// Score computes the 0-1 composite score of a record as of now. It works
// on a snapshot so a concurrent re-ingest cannot tear the inputs.
func (s *Scorer) Score(r *model.ThreatRecord, now time.Time) float64 {
	snap := r.Snapshot()
	sev := severityWeights[snap.Severity]

	viewEquivalents := float64(snap.ViewCount) + s.escalationWeight*float64(snap.EscalationCount)
	engagement := math.Min(1.0, viewEquivalents/engagementSaturation)

	ageMinutes := now.Sub(snap.LastActivityAt).Minutes()
	if ageMinutes < 0 {
		ageMinutes = 0
	}
	recency := math.Exp(-ageMinutes / recencyHalfLifeMinutes)

	meta := MetadataSignal(snap.Metadata)

	score := weightSeverity*sev + weightEngage*engagement + weightRecency*recency + weightMetadata*meta
	return clamp01(score)
}

// MetadataSignal combines source reliability, asset criticality and
// privilege level from the metadata bag. Missing or malformed values
// default to 0.5 each.
func MetadataSignal(metadata map[string]string) float64 {
	reliability := metadataFloat(metadata, "source_reliability")
	criticality := metadataFloat(metadata, "asset_criticality")
	privilege := metadataFloat(metadata, "privilege_level")
	return (reliability + criticality + privilege) / 3.0
}

func metadataFloat(metadata map[string]string, key string) float64 {
	raw, ok := metadata[key]
	if !ok {
		return defaultMetadataSignal
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 || v > 1 {
		return defaultMetadataSignal
	}
	return v
}

// SeverityWeight exposes the severity component on its own; the predictive
// engine reuses it.
func SeverityWeight(sev model.Severity) float64 {
	return severityWeights[sev]
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
