package fraud

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

// Document verdicts.
const (
	VerdictFraud      = "fraud"
	VerdictSuspicious = "suspicious"
	VerdictClean      = "clean"
)

// ImageEncoder embeds a document image.
type ImageEncoder interface {
	EncodeImage(ctx context.Context, img []byte) (features.Embedding, error)
}

// TemplateStore holds the vectors of known forged templates.
type TemplateStore interface {
	Querier
	Upsert(ctx context.Context, collection string, points []semantic.Point) error
}

// DocumentResult is the outcome of a document screen.
type DocumentResult struct {
	Verdict    string  `json:"verdict"`
	Score      float64 `json:"score"`
	TemplateID string  `json:"template_id,omitempty"`
	Message    string  `json:"message"`
}

// DocumentScreen compares document images with registered forgeries.
type DocumentScreen struct {
	enc     ImageEncoder
	store   TemplateStore
	th      policy.DocumentBands
	coll    string
	logger  *slog.Logger
	metrics *metrics.Manager
}

// NewDocumentScreen creates a DocumentScreen. Options.Collection defaults to
// the document template collection.
func NewDocumentScreen(enc ImageEncoder, store TemplateStore, opts Options) *DocumentScreen {
	coll := opts.Collection
	if coll == "" || coll == semantic.CollectionFraud {
		coll = semantic.CollectionDocuments
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentScreen{
		enc:     enc,
		store:   store,
		th:      opts.Thresholds.Document,
		coll:    coll,
		logger:  logger,
		metrics: opts.Metrics,
	}
}

// Register stores img as a known forged template under id.
func (d *DocumentScreen) Register(ctx context.Context, id string, img []byte) error {
	vec, err := d.enc.EncodeImage(ctx, img)
	if err != nil {
		return fmt.Errorf("fraud: register template %s: %w", id, err)
	}
	start := time.Now()
	err = d.store.Upsert(ctx, d.coll, []semantic.Point{{
		ID:      semantic.PointID(d.coll, id),
		Vector:  vec,
		Payload: map[string]any{"template_id": id, "label": "fake"},
	}})
	d.metrics.ObserveIndex(d.coll, "upsert", start, err)
	if err != nil {
		return fmt.Errorf("fraud: register template %s: %w: %w", id, domain.ErrIndexUnavailable, err)
	}
	return nil
}

// Check classifies img by its closest registered template.
func (d *DocumentScreen) Check(ctx context.Context, img []byte) (DocumentResult, error) {
	vec, err := d.enc.EncodeImage(ctx, img)
	if err != nil {
		return DocumentResult{}, fmt.Errorf("fraud: document: %w", err)
	}
	start := time.Now()
	neighbors, err := d.store.Query(ctx, d.coll, vec, 1)
	d.metrics.ObserveIndex(d.coll, "query", start, err)
	if err != nil {
		return DocumentResult{}, fmt.Errorf("fraud: document query: %w: %w", domain.ErrIndexUnavailable, err)
	}
	res := ClassifyDocument(d.th, neighbors)
	d.metrics.RecordDocumentCheck(res.Verdict)
	d.logger.Info("document check", "verdict", res.Verdict, "score", res.Score)
	return res, nil
}

// ClassifyDocument maps the best template match to a verdict.
func ClassifyDocument(th policy.DocumentBands, neighbors []semantic.Neighbor) DocumentResult {
	if len(neighbors) == 0 {
		return DocumentResult{Verdict: VerdictClean, Message: "No forged templates registered."}
	}
	top := neighbors[0]
	id, _ := top.Payload["template_id"].(string)
	res := DocumentResult{Score: top.Score, TemplateID: id}
	switch {
	case top.Score >= th.Fraud:
		res.Verdict = VerdictFraud
		res.Message = fmt.Sprintf("Near duplicate of known forged template %s.", id)
	case top.Score >= th.Suspicious:
		res.Verdict = VerdictSuspicious
		res.Message = fmt.Sprintf("Layout similar to known forged template %s.", id)
	default:
		res.Verdict = VerdictClean
		res.TemplateID = ""
		res.Message = "Document appears authentic."
	}
	return res
}
