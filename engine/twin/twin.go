// Package twin finds an applicant's success twin (the most similar
// historical client who repaid) and plans the gaps between the two.
package twin

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

// Encoder abstracts the feature encoder.
type Encoder interface {
	Encode(ctx context.Context, r domain.ApplicantRecord) features.Embedding
}

// Querier abstracts k-NN retrieval.
type Querier interface {
	Query(ctx context.Context, collection string, vector []float32, k int) ([]semantic.Neighbor, error)
}

// Twin is the selected success twin.
type Twin struct {
	ID         string              `json:"id"`
	Similarity float64             `json:"similarity"`
	Record     domain.ClientRecord `json:"record"`
}

// Options configures a Finder.
type Options struct {
	Thresholds policy.Thresholds
	Collection string
	Logger     *slog.Logger
	Metrics    *metrics.Manager
}

// Finder retrieves success twins from the outcome corpus.
type Finder struct {
	enc     Encoder
	index   Querier
	coll    string
	pool    int
	logger  *slog.Logger
	metrics *metrics.Manager
}

// NewFinder creates a Finder.
func NewFinder(enc Encoder, index Querier, opts Options) *Finder {
	coll := opts.Collection
	if coll == "" {
		coll = semantic.CollectionCredit
	}
	pool := opts.Thresholds.Twin.Pool
	if pool <= 0 {
		pool = policy.Default().Twin.Pool
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Finder{enc: enc, index: index, coll: coll, pool: pool, logger: logger, metrics: opts.Metrics}
}

// Find returns the most similar positive-outcome neighbour of r whose
// similarity is at least minSimilarity. A nil Twin with a nil error means
// no neighbour cleared the floor.
func (f *Finder) Find(ctx context.Context, r domain.ApplicantRecord, minSimilarity float64) (*Twin, error) {
	vec := f.enc.Encode(ctx, r)
	start := time.Now()
	neighbors, err := f.index.Query(ctx, f.coll, vec, f.pool)
	f.metrics.ObserveIndex(f.coll, "query", start, err)
	if err != nil {
		return nil, fmt.Errorf("twin: query %s: %w: %w", f.coll, domain.ErrIndexUnavailable, err)
	}
	t := Select(neighbors, minSimilarity)
	f.metrics.RecordTwinLookup(t != nil)
	if t == nil {
		f.logger.Info("no success twin", "client_id", r.ClientID, "min_similarity", minSimilarity)
		return nil, nil
	}
	f.logger.Info("success twin", "client_id", r.ClientID, "twin", t.Record.ClientID, "similarity", t.Similarity)
	return t, nil
}

// Select picks the first positive neighbour at or above the floor.
// Neighbours are expected in descending score order.
func Select(neighbors []semantic.Neighbor, minSimilarity float64) *Twin {
	for _, n := range neighbors {
		if n.Score < minSimilarity {
			continue
		}
		c := domain.ClientFromPayload(n.Payload)
		if !c.Outcome.Positive() {
			continue
		}
		return &Twin{ID: n.ID, Similarity: n.Score, Record: c}
	}
	return nil
}
