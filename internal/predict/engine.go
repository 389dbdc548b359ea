// Package predict ranks incoming threats per analyst with a four-scorer
// weighted ensemble. Scorers share no mutable state and run concurrently;
// a scorer that misses the request deadline is dropped and the remaining
// weights renormalized instead of failing the prediction.
package predict

import (
	"context"
	"math"
	"sort"
	"time"

	"threatmem/internal/ledger"
	"threatmem/internal/metrics"
	"threatmem/internal/model"
	"threatmem/internal/store"
)

// Recommendation thresholds.
const (
	immediateAlertPriority   = 0.9
	immediateAlertConfidence = 0.8
	priorityReviewPriority   = 0.7
)

// Config tunes the prediction engine.
type Config struct {
	// Timeout bounds one prediction; individual scorers that do not
	// finish inside it are dropped from the ensemble.
	Timeout  time.Duration
	CacheTTL time.Duration
	// OrgIndustries and IncidentIndustries feed the organizational
	// context scorer.
	OrgIndustries      []string
	IncidentIndustries []string
}

// DefaultConfig returns the production prediction settings.
func DefaultConfig() Config {
	return Config{
		Timeout:  5 * time.Second,
		CacheTTL: 30 * time.Second,
	}
}

// Engine computes per-analyst priority estimates.
type Engine struct {
	store  *store.TierStore
	ledger *ledger.Ledger
	cfg    Config
	cache  *resultCache

	orgIndustries      map[string]bool
	incidentIndustries map[string]bool
}

// New builds the engine over the shared store and ledger.
func New(ts *store.TierStore, lg *ledger.Ledger, cfg Config) *Engine {
	e := &Engine{
		store:              ts,
		ledger:             lg,
		cfg:                cfg,
		cache:              newResultCache(4096, cfg.CacheTTL),
		orgIndustries:      make(map[string]bool),
		incidentIndustries: make(map[string]bool),
	}
	for _, ind := range cfg.OrgIndustries {
		e.orgIndustries[ind] = true
	}
	for _, ind := range cfg.IncidentIndustries {
		e.incidentIndustries[ind] = true
	}
	return e
}

// Predict scores one threat for one analyst. The caller's context bounds
// the whole request; cfg.Timeout applies when the caller sets no earlier
// deadline.
func (e *Engine) Predict(ctx context.Context, analystID, threatID string) (*model.PredictionResult, error) {
	cacheKey := analystID + "\x00" + threatID
	if res, ok := e.cache.get(cacheKey); ok {
		return res, nil
	}

	now := time.Now()
	rec, _, err := e.store.Resolve(ctx, threatID, now)
	if err != nil {
		return nil, err
	}

	res := e.predictRecord(ctx, analystID, rec, now)
	e.cache.set(cacheKey, res)
	return res, nil
}

// PredictRecord scores an inline threat that may not be stored yet.
func (e *Engine) PredictRecord(ctx context.Context, analystID string, rec *model.ThreatRecord) *model.PredictionResult {
	return e.predictRecord(ctx, analystID, rec, time.Now())
}

func (e *Engine) predictRecord(ctx context.Context, analystID string, rec *model.ThreatRecord, now time.Time) *model.PredictionResult {
	timer := time.Now()
	defer func() {
		metrics.PredictionDuration.Observe(time.Since(timer).Seconds())
	}()

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	in := &scorerInput{
		profile:            BuildProfile(analystID, e.ledger.AnalystHistory(analystID)),
		threat:             rec.Snapshot(),
		now:                now,
		orgIndustries:      e.orgIndustries,
		incidentIndustries: e.incidentIndustries,
	}

	// Fan out, fan in: each scorer is independent, so a straggler only
	// costs its own slot.
	results := make(chan subScore, len(scorers))
	for _, sc := range scorers {
		sc := sc
		go func() {
			results <- sc.fn(ctx, in)
		}()
	}

	var completed []subScore
	for range scorers {
		select {
		case s := <-results:
			completed = append(completed, s)
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	if missed := len(scorers) - len(completed); missed > 0 {
		metrics.ScorerTimeoutsTotal.WithLabelValues("ensemble").Add(float64(missed))
	}

	return assemble(analystID, in.threat.ID, completed, len(scorers), now)
}

// assemble folds completed sub-scores into the final result. Weights are
// renormalized over the scorers that finished; confidence combines data
// completeness with inter-scorer agreement and is cut for every scorer
// that missed the deadline.
func assemble(analystID, threatID string, completed []subScore, total int, now time.Time) *model.PredictionResult {
	res := &model.PredictionResult{
		AnalystID:       analystID,
		ThreatID:        threatID,
		ComponentScores: make(map[string]float64, len(completed)),
		GeneratedAt:     now,
	}
	if len(completed) == 0 {
		res.Recommendation = model.RecommendStandardQueue
		res.Reasons = []string{"no scorers completed in time"}
		return res
	}

	var weightSum, prioritySum float64
	withData := 0
	for _, s := range completed {
		res.ComponentScores[s.name] = s.score
		weightSum += s.weight
		prioritySum += s.weight * s.score
		if s.hasData {
			withData++
		}
	}
	res.PredictedPriority = prioritySum / weightSum

	completeness := float64(withData) / float64(total)
	agreement := 1 - scoreVariance(completed)*4
	if agreement < 0 {
		agreement = 0
	}
	coverage := float64(len(completed)) / float64(total)
	res.Confidence = clamp01((0.6*completeness + 0.4*agreement) * coverage)

	// Reasons in descending order of contribution to the priority.
	ordered := make([]subScore, len(completed))
	copy(ordered, completed)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].weight*ordered[i].score > ordered[j].weight*ordered[j].score
	})
	for _, s := range ordered {
		res.Reasons = append(res.Reasons, s.reason)
	}

	res.Recommendation = Bucket(res.PredictedPriority, res.Confidence)
	return res
}

// Bucket maps a priority/confidence pair onto the discrete recommendation.
func Bucket(priority, confidence float64) model.Recommendation {
	switch {
	case priority >= immediateAlertPriority && confidence >= immediateAlertConfidence:
		return model.RecommendImmediateAlert
	case priority >= priorityReviewPriority:
		return model.RecommendPriorityReview
	default:
		return model.RecommendStandardQueue
	}
}

// WeightedPriority is the bare ensemble fold, exposed for verification.
func WeightedPriority(scores, weights []float64) float64 {
	var sum, wsum float64
	for i := range scores {
		sum += scores[i] * weights[i]
		wsum += weights[i]
	}
	if wsum == 0 {
		return 0
	}
	return sum / wsum
}

func scoreVariance(ss []subScore) float64 {
	if len(ss) < 2 {
		return 0
	}
	var mean float64
	for _, s := range ss {
		mean += s.score
	}
	mean /= float64(len(ss))
	var v float64
	for _, s := range ss {
		v += (s.score - mean) * (s.score - mean)
	}
	return v / float64(len(ss))
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}
