package predict

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"threatmem/internal/model"
	"threatmem/internal/scoring"
)

// Ensemble weights, one per scorer.
const (
	weightAffinity        = 0.40
	weightCharacteristics = 0.30
	weightTemporal        = 0.20
	weightOrganizational  = 0.10

	// temporalLambda is the per-day exponential falloff of the temporal
	// relevance scorer.
	temporalLambda = 0.1
)

// scorerInput is the shared read-only view handed to every sub-scorer.
// Scorers run concurrently and must not mutate it.
type scorerInput struct {
	profile *Profile
	threat  model.ThreatSnapshot
	now     time.Time

	// Organization context, from configuration.
	orgIndustries      map[string]bool
	incidentIndustries map[string]bool
}

// subScore is one scorer's contribution.
type subScore struct {
	name    string
	weight  float64
	score   float64
	reason  string
	hasData bool
}

type scorerFunc func(ctx context.Context, in *scorerInput) subScore

var scorers = []struct {
	name   string
	weight float64
	fn     scorerFunc
}{
	{"analyst_affinity", weightAffinity, scoreAnalystAffinity},
	{"threat_characteristics", weightCharacteristics, scoreThreatCharacteristics},
	{"temporal_relevance", weightTemporal, scoreTemporalRelevance},
	{"organizational_context", weightOrganizational, scoreOrganizationalContext},
}

// scoreAnalystAffinity measures how well the threat fits the analyst's
// historical focus: industry match, similarity to past escalations and
// specialization alignment.
func scoreAnalystAffinity(_ context.Context, in *scorerInput) subScore {
	out := subScore{name: "analyst_affinity", weight: weightAffinity}
	if in.profile.SampleSize == 0 {
		out.score = 0.5
		out.reason = "no analyst history available"
		return out
	}
	out.hasData = true

	industry := in.threat.Metadata["industry"]
	industryMatch := in.profile.IndustryFocus[industry]

	escalationSimilarity := in.profile.EscalationFocus[in.threat.Severity]

	sevWeight := scoring.SeverityWeight(in.threat.Severity)
	specialization := 1 - math.Abs(in.profile.MeanEscalatedSeverity-sevWeight)
	if in.profile.EscalationCount == 0 {
		specialization = 0.5
	}

	out.score = 0.4*industryMatch + 0.3*escalationSimilarity + 0.3*specialization
	switch {
	case industry != "" && industry == in.profile.DominantIndustry:
		out.reason = fmt.Sprintf("matches analyst's dominant industry focus (%s)", industry)
	case escalationSimilarity > 0.5:
		out.reason = fmt.Sprintf("analyst frequently escalates %s threats", in.threat.Severity)
	default:
		out.reason = "partial overlap with analyst's historical focus"
	}
	return out
}

// scoreThreatCharacteristics is analyst-agnostic: severity times
// confidence, source reliability and recency.
func scoreThreatCharacteristics(_ context.Context, in *scorerInput) subScore {
	out := subScore{name: "threat_characteristics", weight: weightCharacteristics}

	sevConfidence := scoring.SeverityWeight(in.threat.Severity) * in.threat.Confidence

	reliability := 0.5
	if raw, ok := in.threat.Metadata["source_reliability"]; ok {
		if v, err := strconv.ParseFloat(raw, 64); err == nil && v >= 0 && v <= 1 {
			reliability = v
			out.hasData = true
		}
	}
	if in.threat.Confidence > 0 {
		out.hasData = true
	}

	ageDays := in.now.Sub(in.threat.CreatedAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	recency := math.Exp(-temporalLambda * ageDays)

	out.score = 0.5*sevConfidence + 0.3*reliability + 0.2*recency
	switch {
	case sevConfidence >= 0.6:
		out.reason = fmt.Sprintf("high-confidence %s severity threat", in.threat.Severity)
	case reliability >= 0.8:
		out.reason = "reported by a highly reliable source"
	default:
		out.reason = "moderate intrinsic threat characteristics"
	}
	return out
}

// evolutionStages maps the metadata evolution stage to a relevance value.
var evolutionStages = map[string]float64{
	"emerging":  1.0,
	"active":    0.8,
	"mature":    0.5,
	"declining": 0.2,
}

// scoreTemporalRelevance weighs campaign membership, evolution stage and
// exponential time decay.
func scoreTemporalRelevance(_ context.Context, in *scorerInput) subScore {
	out := subScore{name: "temporal_relevance", weight: weightTemporal}

	campaign := 0.0
	if in.threat.Metadata["campaign_id"] != "" {
		campaign = 1.0
		out.hasData = true
	}

	stage := 0.5
	if raw, ok := in.threat.Metadata["evolution_stage"]; ok {
		if v, ok := evolutionStages[raw]; ok {
			stage = v
			out.hasData = true
		}
	}

	ageDays := in.now.Sub(in.threat.LastActivityAt).Hours() / 24
	if ageDays < 0 {
		ageDays = 0
	}
	decay := math.Exp(-temporalLambda * ageDays)

	out.score = 0.4*campaign + 0.3*stage + 0.3*decay
	switch {
	case campaign == 1.0:
		out.reason = "part of an active campaign"
	case stage >= 0.8:
		out.reason = "threat is in an early evolution stage"
	default:
		out.reason = "limited temporal signals"
	}
	return out
}

// scoreOrganizationalContext checks whether the threat targets the
// organization's industries or correlates with past incidents.
func scoreOrganizationalContext(_ context.Context, in *scorerInput) subScore {
	out := subScore{name: "organizational_context", weight: weightOrganizational}
	if len(in.orgIndustries) == 0 && len(in.incidentIndustries) == 0 {
		out.score = 0.5
		out.reason = "no organizational context configured"
		return out
	}
	out.hasData = true

	industry := in.threat.Metadata["industry"]
	targeting := 0.0
	if in.orgIndustries[industry] {
		targeting = 1.0
	}
	correlation := 0.0
	if in.incidentIndustries[industry] {
		correlation = 1.0
	}

	out.score = 0.6*targeting + 0.4*correlation
	switch {
	case targeting == 1.0:
		out.reason = fmt.Sprintf("targets the organization's %s sector", industry)
	case correlation == 1.0:
		out.reason = "correlates with past incidents"
	default:
		out.reason = "outside the organization's threat surface"
	}
	return out
}
