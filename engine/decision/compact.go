package decision

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vectorcm/credit-memory/engine/domain"
	"github.com/vectorcm/credit-memory/engine/features"
	"github.com/vectorcm/credit-memory/engine/policy"
	"github.com/vectorcm/credit-memory/engine/semantic"
	"github.com/vectorcm/credit-memory/pkg/metrics"
)

// QuickResult is a decision over the compact collection. Credit neighbours
// drive the decision; fraud neighbours are reported beside it.
type QuickResult struct {
	Decision
	Similar      []Similar `json:"similar_clients"`
	FraudMatches int       `json:"fraud_matches"`
	FraudScore   float64   `json:"fraud_score"`
	FraudAlert   bool      `json:"fraud_alert"`
}

// CompactScreen scores applicants on the 12-feature numeric vector. It
// needs no text or image encoder, so it works when those are offline.
type CompactScreen struct {
	index   Querier
	th      policy.Thresholds
	logger  *slog.Logger
	metrics *metrics.Manager
}

// NewCompactScreen creates a CompactScreen over the compact collection.
func NewCompactScreen(index Querier, opts Options) *CompactScreen {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &CompactScreen{index: index, th: opts.Thresholds, logger: logger, metrics: opts.Metrics}
}

// Assess retrieves the DecisionK nearest compact records of r.
func (c *CompactScreen) Assess(ctx context.Context, r domain.ApplicantRecord) (QuickResult, error) {
	coll := semantic.CollectionCompact
	start := time.Now()
	neighbors, err := c.index.Query(ctx, coll, features.Compact(r, false), c.th.DecisionK)
	c.metrics.ObserveIndex(coll, "query", start, err)
	if err != nil {
		return QuickResult{}, fmt.Errorf("decision: query %s: %w: %w", coll, domain.ErrIndexUnavailable, err)
	}

	var res QuickResult
	credit := make([]semantic.Neighbor, 0, len(neighbors))
	for _, n := range neighbors {
		if isFraud(n.Payload) {
			res.FraudMatches++
			res.FraudScore = max(res.FraudScore, n.Score)
			continue
		}
		credit = append(credit, n)
	}
	res.Decision = Decide(c.th, credit)
	res.Similar = Summarize(credit)
	res.FraudAlert = res.FraudScore >= c.th.Fraud.High
	c.metrics.RecordDecision(res.Tier, res.Approval)
	c.logger.Info("quick decision",
		"client_id", r.ClientID,
		"confidence", res.Confidence,
		"tier", res.Tier,
		"fraud_matches", res.FraudMatches,
	)
	return res, nil
}

func isFraud(p map[string]any) bool {
	switch v := p["is_fraud"].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	}
	return false
}
