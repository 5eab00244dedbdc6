// Package features builds the fixed-layout embedding of an applicant: a
// semantic text block, a normalised financial block, a behavioural block and
// an optional document image block, L2-normalised as a whole.
package features

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"

	"github.com/vectorcm/credit-memory/engine/domain"
	"github.com/vectorcm/credit-memory/pkg/metrics"
)

// MaxDocumentImages bounds the images averaged into the document block.
const MaxDocumentImages = 5

// Embedding is a fixed-width, unit-norm vector (or all zeros).
type Embedding []float32

// Options configures an Encoder.
type Options struct {
	Layout  Layout
	Text    *LazyText
	Images  ImageEncoder
	Logger  *slog.Logger
	Metrics *metrics.Manager
}

// DefaultOptions returns options for the default layout with no encoders.
func DefaultOptions() Options {
	return Options{Layout: DefaultLayout()}
}

// Encoder builds embeddings. It is safe for concurrent use.
type Encoder struct {
	layout  Layout
	text    *LazyText
	images  ImageEncoder
	logger  *slog.Logger
	metrics *metrics.Manager

	mu   sync.RWMutex
	memo map[string][]float32
}

// New creates an Encoder.
func New(opts Options) *Encoder {
	if opts.Layout.Dim() == 0 {
		opts.Layout = DefaultLayout()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Encoder{
		layout:  opts.Layout,
		text:    opts.Text,
		images:  opts.Images,
		logger:  logger,
		metrics: opts.Metrics,
		memo:    make(map[string][]float32),
	}
}

// Layout returns the encoder's block layout.
func (e *Encoder) Layout() Layout { return e.layout }

// Dim is the width of every embedding produced.
func (e *Encoder) Dim() int { return e.layout.Dim() }

// Encode builds the profile embedding of r. It never fails: an unusable text
// encoder leaves the text block zero.
func (e *Encoder) Encode(ctx context.Context, r domain.ApplicantRecord) Embedding {
	v := make([]float32, e.layout.Dim())
	e.writeBlocks(ctx, v, r)
	return normalize(v)
}

// EncodeWithDocuments additionally fills the document block with the mean of
// up to MaxDocumentImages image embeddings. Failed images are skipped; when
// all fail the block stays zero.
func (e *Encoder) EncodeWithDocuments(ctx context.Context, r domain.ApplicantRecord, images [][]byte) Embedding {
	v := make([]float32, e.layout.Dim())
	e.writeBlocks(ctx, v, r)
	if e.layout.Document > 0 && e.images != nil && len(images) > 0 {
		if len(images) > MaxDocumentImages {
			images = images[:MaxDocumentImages]
		}
		if avg := e.averageImages(ctx, images); avg != nil {
			copy(v[e.layout.documentOffset():], fit(avg, e.layout.Document))
		}
	}
	return normalize(v)
}

// EncodeImage embeds a single document image into a vector as wide as the
// document block, for the document template collection.
func (e *Encoder) EncodeImage(ctx context.Context, img []byte) (Embedding, error) {
	if e.images == nil {
		return nil, fmt.Errorf("features: encode image: %w", domain.ErrEncoding)
	}
	width := e.layout.Document
	if width == 0 {
		width = MultimodalLayout().Document
	}
	vec, err := e.images.EmbedImage(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("features: encode image: %w: %v", domain.ErrEncoding, err)
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("features: encode image: %w: empty vector", domain.ErrEncoding)
	}
	return normalize(fit(vec, width)), nil
}

func (e *Encoder) writeBlocks(ctx context.Context, v []float32, r domain.ApplicantRecord) {
	if e.layout.Text > 0 {
		copy(v[:e.layout.Text], e.textBlock(ctx, r))
	}
	if e.layout.Financial > 0 {
		copy(v[e.layout.financialOffset():], fit(financial(r), e.layout.Financial))
	}
	if e.layout.Behavioral > 0 {
		copy(v[e.layout.behavioralOffset():], fit(behavioral(r), e.layout.Behavioral))
	}
}

func (e *Encoder) textBlock(ctx context.Context, r domain.ApplicantRecord) []float32 {
	phrase := Phrase(r)
	if vec, ok := e.memoGet(phrase); ok {
		return fit(vec, e.layout.Text)
	}

	enc, err := e.text.Get(ctx)
	if err != nil {
		e.fallback("text", err)
		return make([]float32, e.layout.Text)
	}
	vec, err := enc.Embed(ctx, phrase)
	if err != nil {
		e.fallback("text", err)
		return make([]float32, e.layout.Text)
	}
	if len(vec) == 0 {
		e.fallback("text", fmt.Errorf("empty vector"))
		return make([]float32, e.layout.Text)
	}
	e.memoPut(phrase, vec)
	return fit(vec, e.layout.Text)
}

func (e *Encoder) averageImages(ctx context.Context, images [][]byte) []float32 {
	var sum []float64
	n := 0
	for i, img := range images {
		vec, err := e.images.EmbedImage(ctx, img)
		if err != nil || len(vec) == 0 {
			e.logger.Warn("document image skipped", "index", i, "err", err)
			continue
		}
		vec = fit(vec, e.layout.Document)
		if sum == nil {
			sum = make([]float64, len(vec))
		}
		for j, x := range vec {
			sum[j] += float64(x)
		}
		n++
	}
	if n == 0 {
		e.fallback("document", fmt.Errorf("all %d images failed", len(images)))
		return nil
	}
	out := make([]float32, len(sum))
	for j, s := range sum {
		out[j] = float32(s / float64(n))
	}
	return out
}

func (e *Encoder) fallback(block string, err error) {
	e.logger.Warn("feature block zero-filled", "block", block, "err", err)
	e.metrics.RecordEncodeFallback(block)
}

func (e *Encoder) memoGet(key string) ([]float32, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.memo[key]
	return v, ok
}

func (e *Encoder) memoPut(key string, v []float32) {
	c := make([]float32, len(v))
	copy(c, v)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.memo[key] = c
}

// Phrase is the natural-language description embedded in the text block.
func Phrase(r domain.ApplicantRecord) string {
	archetype := strings.TrimSpace(r.Archetype)
	if archetype == "" {
		archetype = domain.DefaultArchetype
	}
	var b strings.Builder
	b.WriteString(r.EmploymentType.Phrase())
	b.WriteByte(' ')
	b.WriteString(archetype)
	b.WriteString(" business")
	if n := strings.TrimSpace(r.Narrative); n != "" {
		b.WriteString(": ")
		b.WriteString(n)
	}
	return strings.ToLower(norm.NFKC.String(b.String()))
}

func financial(r domain.ApplicantRecord) []float32 {
	return []float32{
		clamp(r.Income / 5000),
		clamp(r.Expenses / 5000),
		clamp(r.Debt / 10000),
		clamp(r.Age / 100),
		clamp(r.SeniorityMonths / 120),
		clamp(r.PaymentConsistency),
		clamp(r.LoanAmount / 15000),
		float32(r.EmploymentType.Scale()),
		clamp(r.MobilePaymentRatio),
		clamp(r.LedgerQuality),
		clamp(r.IncomeStability),
		clamp(r.DebtRatio),
	}
}

// BehavioralRisk is the heuristic risk carried in the behavioural block,
// clamped to [0,1]. A non-numeric input yields 0.
func BehavioralRisk(r domain.ApplicantRecord) float64 {
	risk := 0.4*r.DebtRatio + 0.3*(1-r.IncomeStability) + 0.3*(1-r.PaymentConsistency)
	if math.IsNaN(risk) {
		return 0
	}
	return math.Max(0, math.Min(1, risk))
}

func behavioral(r domain.ApplicantRecord) []float32 {
	var expenseRatio, loanBurden float64
	if r.Income > 0 {
		expenseRatio = r.Expenses / r.Income
		loanBurden = r.LoanAmount / (12 * r.Income)
	} else {
		if r.Expenses > 0 {
			expenseRatio = 1
		}
		if r.LoanAmount > 0 {
			loanBurden = 1
		}
	}
	return []float32{
		float32(BehavioralRisk(r)),
		clamp(r.IncomeStability * r.PaymentConsistency),
		clamp(expenseRatio),
		clamp(loanBurden),
	}
}

// fit zero-pads or truncates v to width n.
func fit(v []float32, n int) []float32 {
	out := make([]float32, n)
	copy(out, v)
	return out
}

func clamp(x float64) float32 {
	switch {
	case math.IsNaN(x), x < 0:
		return 0
	case x > 1:
		return 1
	}
	return float32(x)
}

func normalize(v []float32) Embedding {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	n := math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) / n)
	}
	return v
}
