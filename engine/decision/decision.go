// Package decision turns the outcomes of an applicant's nearest historical
// neighbours into a confidence, a risk tier and an approval band.
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

// Tier and approval labels used when no neighbour was found.
const (
	TierUnknown    = "UNKNOWN"
	ApprovalReview = "review"
)

// Encoder abstracts the feature encoder.
type Encoder interface {
	Encode(ctx context.Context, r domain.ApplicantRecord) features.Embedding
}

// DocumentEncoder is implemented by encoders that can fold document images
// into the profile embedding.
type DocumentEncoder interface {
	EncodeWithDocuments(ctx context.Context, r domain.ApplicantRecord, images [][]byte) features.Embedding
}

// Querier abstracts k-NN retrieval.
type Querier interface {
	Query(ctx context.Context, collection string, vector []float32, k int) ([]semantic.Neighbor, error)
}

// Decision is the outcome of classifying a neighbour set.
type Decision struct {
	Confidence     float64 `json:"confidence"`
	Tier           string  `json:"risk_level"`
	Approval       string  `json:"approval"`
	Positive       int     `json:"repaid_count"`
	Total          int     `json:"total_count"`
	Recommendation string  `json:"recommendation"`
}

// Similar is a neighbour summarised for display.
type Similar struct {
	ClientID        string         `json:"client_id"`
	Similarity      float64        `json:"similarity"`
	Outcome         domain.Outcome `json:"outcome"`
	LoanSource      string         `json:"loan_source,omitempty"`
	DebtRatio       float64        `json:"debt_ratio"`
	SeniorityMonths float64        `json:"seniority_months"`
}

// Assessment is a Decision with the neighbours that produced it.
type Assessment struct {
	Decision
	Similar   []Similar           `json:"similar_clients"`
	Neighbors []semantic.Neighbor `json:"-"`
}

// Options configures an Engine.
type Options struct {
	Thresholds policy.Thresholds
	Collection string
	Logger     *slog.Logger
	Metrics    *metrics.Manager
}

// DefaultOptions returns the production configuration.
func DefaultOptions() Options {
	return Options{
		Thresholds: policy.Default(),
		Collection: semantic.CollectionCredit,
	}
}

// Engine classifies applicants against the credit outcome corpus.
type Engine struct {
	enc     Encoder
	index   Querier
	opts    Options
	logger  *slog.Logger
	metrics *metrics.Manager
}

// New creates an Engine.
func New(enc Encoder, index Querier, opts Options) *Engine {
	if opts.Collection == "" {
		opts.Collection = semantic.CollectionCredit
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{enc: enc, index: index, opts: opts, logger: logger, metrics: opts.Metrics}
}

// Thresholds returns the thresholds the engine classifies with.
func (e *Engine) Thresholds() policy.Thresholds { return e.opts.Thresholds }

// Decide classifies a neighbour set. Confidence is the fraction of
// neighbours whose outcome is positive; an empty set yields the no-data
// decision.
func (e *Engine) Decide(neighbors []semantic.Neighbor) Decision {
	return Decide(e.opts.Thresholds, neighbors)
}

// Decide is the pure classification used by Engine.Decide.
func Decide(th policy.Thresholds, neighbors []semantic.Neighbor) Decision {
	total := len(neighbors)
	if total == 0 {
		return Decision{
			Tier:           TierUnknown,
			Approval:       ApprovalReview,
			Recommendation: "REVIEW REQUIRED: no comparable historical clients found",
		}
	}
	positive := 0
	for _, n := range neighbors {
		if domain.OutcomeFromPayload(n.Payload).Positive() {
			positive++
		}
	}
	confidence := float64(positive) / float64(total)
	d := Decision{
		Confidence: confidence,
		Tier:       th.RiskTier(confidence),
		Approval:   th.ApprovalBand(confidence),
		Positive:   positive,
		Total:      total,
	}
	if d.Approval == "approve" {
		d.Recommendation = fmt.Sprintf("APPROVE: %d/%d similar clients repaid successfully", positive, total)
	} else {
		d.Recommendation = fmt.Sprintf("REVIEW REQUIRED: only %d/%d similar clients repaid", positive, total)
	}
	return d
}

// Assess encodes r, retrieves its neighbours and classifies them.
func (e *Engine) Assess(ctx context.Context, r domain.ApplicantRecord) (Assessment, error) {
	return e.assess(ctx, r, e.enc.Encode(ctx, r))
}

// AssessWithDocuments is Assess with the applicant's document images folded
// into the embedding. The images only count when the collection layout has
// a document block; otherwise the result equals Assess.
func (e *Engine) AssessWithDocuments(ctx context.Context, r domain.ApplicantRecord, images [][]byte) (Assessment, error) {
	de, ok := e.enc.(DocumentEncoder)
	if !ok || len(images) == 0 {
		return e.Assess(ctx, r)
	}
	return e.assess(ctx, r, de.EncodeWithDocuments(ctx, r, images))
}

func (e *Engine) assess(ctx context.Context, r domain.ApplicantRecord, vec []float32) (Assessment, error) {
	neighbors, err := e.query(ctx, vec, e.opts.Thresholds.DecisionK)
	if err != nil {
		return Assessment{}, err
	}
	d := e.Decide(neighbors)
	e.metrics.RecordDecision(d.Tier, d.Approval)
	e.logger.Info("decision", "client_id", r.ClientID, "confidence", d.Confidence, "tier", d.Tier, "neighbors", d.Total)
	return Assessment{Decision: d, Similar: Summarize(neighbors), Neighbors: neighbors}, nil
}

// Neighbors returns the k nearest historical clients of r.
func (e *Engine) Neighbors(ctx context.Context, r domain.ApplicantRecord, k int) ([]semantic.Neighbor, error) {
	return e.query(ctx, e.enc.Encode(ctx, r), k)
}

func (e *Engine) query(ctx context.Context, vec []float32, k int) ([]semantic.Neighbor, error) {
	start := time.Now()
	neighbors, err := e.index.Query(ctx, e.opts.Collection, vec, k)
	e.metrics.ObserveIndex(e.opts.Collection, "query", start, err)
	if err != nil {
		return nil, fmt.Errorf("decision: query %s: %w: %w", e.opts.Collection, domain.ErrIndexUnavailable, err)
	}
	return neighbors, nil
}

// Summarize converts neighbours into display rows.
func Summarize(neighbors []semantic.Neighbor) []Similar {
	out := make([]Similar, len(neighbors))
	for i, n := range neighbors {
		c := domain.ClientFromPayload(n.Payload)
		id := c.ClientID
		if id == "" {
			id = n.ID
		}
		out[i] = Similar{
			ClientID:        id,
			Similarity:      n.Score,
			Outcome:         c.Outcome,
			LoanSource:      c.LoanSource,
			DebtRatio:       c.DebtRatio,
			SeniorityMonths: c.SeniorityMonths,
		}
	}
	return out
}
