package predict

import (
	"threatmem/internal/model"
	"threatmem/internal/scoring"
)

// Profile summarizes an analyst's interaction history for the affinity
// scorer. Built per prediction from the ledger; never persisted.
type Profile struct {
	AnalystID       string
	SampleSize      int
	EscalationCount int
	// IndustryFocus is the normalized share of the analyst's actions per
	// industry; EscalationFocus the share of escalations per severity.
	IndustryFocus    map[string]float64
	EscalationFocus  map[model.Severity]float64
	DominantIndustry string
	// MeanEscalatedSeverity is the average severity weight of the
	// analyst's escalations, used for specialization alignment.
	MeanEscalatedSeverity float64
}

// BuildProfile aggregates an interaction log into a profile.
func BuildProfile(analystID string, history []model.Interaction) *Profile {
	p := &Profile{
		AnalystID:       analystID,
		SampleSize:      len(history),
		IndustryFocus:   make(map[string]float64),
		EscalationFocus: make(map[model.Severity]float64),
	}
	if len(history) == 0 {
		return p
	}

	industryCounts := make(map[string]int)
	severityCounts := make(map[model.Severity]int)
	var severitySum float64
	for _, in := range history {
		if in.Industry != "" {
			industryCounts[in.Industry]++
		}
		if in.Action == model.ActionEscalate {
			p.EscalationCount++
			severityCounts[in.Severity]++
			severitySum += scoring.SeverityWeight(in.Severity)
		}
	}

	var industryTotal int
	for _, n := range industryCounts {
		industryTotal += n
	}
	best := 0
	for ind, n := range industryCounts {
		p.IndustryFocus[ind] = float64(n) / float64(industryTotal)
		if n > best {
			best = n
			p.DominantIndustry = ind
		}
	}
	if p.EscalationCount > 0 {
		for sev, n := range severityCounts {
			p.EscalationFocus[sev] = float64(n) / float64(p.EscalationCount)
		}
		p.MeanEscalatedSeverity = severitySum / float64(p.EscalationCount)
	}
	return p
}

// EscalationRate is the share of the analyst's actions that escalated.
func (p *Profile) EscalationRate() float64 {
	if p.SampleSize == 0 {
		return 0
	}
	return float64(p.EscalationCount) / float64(p.SampleSize)
}
