// Package fraud screens applications against known fraud: profile
// similarity to the fraud corpus and document image similarity to known
// forged templates. The two screens are independent.
package fraud

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/vectorcm/credit-memory/engine/domain"
	"github.com/vectorcm/credit-memory/engine/features"
	"github.com/vectorcm/credit-memory/engine/policy"
	"github.com/vectorcm/credit-memory/engine/semantic"
	"github.com/vectorcm/credit-memory/pkg/metrics"
)

// Alert levels of the profile screen.
const (
	LevelNone     = "none"
	LevelLow      = "low"
	LevelMedium   = "medium"
	LevelHigh     = "high"
	LevelCritical = "critical"
)

// Number of matches and indicators reported with a result.
const (
	maxSimilarReported    = 3
	maxIndicatorsReported = 3
)

// Encoder abstracts the profile feature encoder.
type Encoder interface {
	Encode(ctx context.Context, r domain.ApplicantRecord) features.Embedding
}

// Querier abstracts k-NN retrieval.
type Querier interface {
	Query(ctx context.Context, collection string, vector []float32, k int) ([]semantic.Neighbor, error)
}

// SimilarFraud summarises one matching fraud case.
type SimilarFraud struct {
	FraudID         string  `json:"fraud_id"`
	FraudType       string  `json:"fraud_type"`
	Similarity      float64 `json:"similarity"`
	DebtRatio       float64 `json:"debt_ratio"`
	IncomeStability float64 `json:"income_stability"`
}

// ProfileResult is the outcome of a profile fraud screen.
type ProfileResult struct {
	IsSuspicious   bool           `json:"is_suspicious"`
	FraudScore     float64        `json:"fraud_score"`
	RawScore       float64        `json:"raw_score"`
	AlertLevel     string         `json:"alert_level"`
	FraudType      string         `json:"fraud_type"`
	Indicators     []string       `json:"fraud_indicators"`
	Similar        []SimilarFraud `json:"similar_frauds"`
	Recommendation string         `json:"recommendation"`
}

// Options configures a Screen.
type Options struct {
	Thresholds policy.Thresholds
	Collection string
	Logger     *slog.Logger
	Metrics    *metrics.Manager
}

// DefaultOptions returns the production configuration.
func DefaultOptions() Options {
	return Options{Thresholds: policy.Default(), Collection: semantic.CollectionFraud}
}

// Screen compares applicant profiles with the fraud corpus.
type Screen struct {
	enc     Encoder
	index   Querier
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Manager
}

// NewScreen creates a profile Screen.
func NewScreen(enc Encoder, index Querier, opts Options) *Screen {
	if opts.Collection == "" {
		opts.Collection = semantic.CollectionFraud
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Screen{enc: enc, index: index, opts: opts, logger: logger, metrics: opts.Metrics}
}

// Check screens r against its nearest fraud cases.
func (s *Screen) Check(ctx context.Context, r domain.ApplicantRecord) (ProfileResult, error) {
	vec := s.enc.Encode(ctx, r)
	start := time.Now()
	neighbors, err := s.index.Query(ctx, s.opts.Collection, vec, s.opts.Thresholds.FraudK)
	s.metrics.ObserveIndex(s.opts.Collection, "query", start, err)
	if err != nil {
		return ProfileResult{}, fmt.Errorf("fraud: query %s: %w: %w", s.opts.Collection, domain.ErrIndexUnavailable, err)
	}
	res := Evaluate(s.opts.Thresholds, neighbors)
	s.metrics.RecordFraudCheck(res.AlertLevel)
	s.logger.Info("fraud check", "client_id", r.ClientID, "score", res.FraudScore, "level", res.AlertLevel)
	return res, nil
}

// Calibrate applies the penalty to raw scores under the penalty threshold,
// flooring at zero.
func Calibrate(fb policy.FraudBands, raw float64) float64 {
	if raw < fb.PenaltyBelow {
		return math.Max(0, raw-fb.Penalty)
	}
	return raw
}

// Level maps a calibrated score to its alert level.
func Level(fb policy.FraudBands, score float64) string {
	switch {
	case score >= fb.Critical:
		return LevelCritical
	case score >= fb.High:
		return LevelHigh
	case score >= fb.Medium:
		return LevelMedium
	}
	return LevelLow
}

// Evaluate is the pure part of Check: the top match decides the score.
func Evaluate(th policy.Thresholds, neighbors []semantic.Neighbor) ProfileResult {
	if len(neighbors) == 0 {
		return ProfileResult{
			AlertLevel:     LevelNone,
			FraudType:      "none",
			Indicators:     []string{},
			Similar:        []SimilarFraud{},
			Recommendation: recommendation(LevelNone),
		}
	}

	top := neighbors[0]
	score := Calibrate(th.Fraud, top.Score)
	level := Level(th.Fraud, score)
	pattern := domain.FraudFromPayload(top.Payload)

	indicators := pattern.Indicators
	if len(indicators) > maxIndicatorsReported {
		indicators = indicators[:maxIndicatorsReported]
	}
	if indicators == nil {
		indicators = []string{}
	}

	n := min(len(neighbors), maxSimilarReported)
	similar := make([]SimilarFraud, n)
	for i := 0; i < n; i++ {
		f := domain.FraudFromPayload(neighbors[i].Payload)
		similar[i] = SimilarFraud{
			FraudID:         f.FraudID,
			FraudType:       f.FraudType,
			Similarity:      neighbors[i].Score,
			DebtRatio:       f.DebtRatio,
			IncomeStability: f.IncomeStability,
		}
	}

	return ProfileResult{
		IsSuspicious:   level != LevelLow,
		FraudScore:     score,
		RawScore:       top.Score,
		AlertLevel:     level,
		FraudType:      pattern.FraudType,
		Indicators:     indicators,
		Similar:        similar,
		Recommendation: recommendation(level),
	}
}

func recommendation(level string) string {
	switch level {
	case LevelCritical:
		return "HIGH FRAUD RISK: extremely similar to known fraud patterns. Manual review and verification required."
	case LevelHigh:
		return "MODERATE FRAUD RISK: similar to known fraud patterns. Additional verification recommended."
	case LevelMedium:
		return "LOW FRAUD RISK: some similarity to fraud patterns. Consider extra due diligence."
	case LevelLow:
		return "MINIMAL FRAUD RISK: profile does not match known fraud patterns."
	}
	return "No fraud patterns detected. Profile appears legitimate."
}
