// Package ingest loads the historical corpora into the similarity index:
// decode, validate, embed and store, in parallel batches with retried
// upserts. Credit records are mirrored into the trust graph when one is
// configured.
package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vectorcm/credit-memory/engine/domain"
	"github.com/vectorcm/credit-memory/engine/features"
	"github.com/vectorcm/credit-memory/engine/semantic"
	"github.com/vectorcm/credit-memory/engine/temporal"
	"github.com/vectorcm/credit-memory/pkg/fn"
	"github.com/vectorcm/credit-memory/pkg/metrics"
)

const (
	// DefaultBatchSize is the number of points per upsert.
	DefaultBatchSize = 100
	// maxLine bounds a single JSON line.
	maxLine = 4 << 20
)

// Encoder embeds profiles and document images.
type Encoder interface {
	Encode(ctx context.Context, r domain.ApplicantRecord) features.Embedding
	EncodeImage(ctx context.Context, img []byte) (features.Embedding, error)
}

// Upserter writes points to a collection.
type Upserter interface {
	Upsert(ctx context.Context, collection string, points []semantic.Point) error
}

// GraphMirror receives credit records for the trust graph.
type GraphMirror interface {
	SaveBatch(ctx context.Context, clients []domain.ClientRecord) error
}

// Deps holds the external dependencies of a Loader.
type Deps struct {
	Store   Upserter
	Encoder Encoder
	// Graph is optional.
	Graph GraphMirror
	// Compact also writes credit and fraud records to the compact
	// collection.
	Compact   bool
	BatchSize int
	Workers   int
	Retry     fn.RetryOpts
	Logger    *slog.Logger
	Metrics   *metrics.Manager
}

// Loader runs the ingestion pipeline.
type Loader struct {
	deps   Deps
	logger *slog.Logger
}

// New creates a Loader.
func New(deps Deps) *Loader {
	if deps.BatchSize <= 0 {
		deps.BatchSize = DefaultBatchSize
	}
	if deps.Workers <= 0 {
		deps.Workers = 1
	}
	if deps.Retry.MaxAttempts <= 0 {
		deps.Retry = fn.DefaultRetry
	}
	if deps.Retry.Retryable == nil {
		deps.Retry.Retryable = retryable
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{deps: deps, logger: logger}
}

// retryable rejects errors a second attempt cannot fix.
func retryable(err error) bool {
	return !errors.Is(err, semantic.ErrDimensionMismatch) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

// --- Pipeline Stages ---

// Decode parses one JSON line into a Record of the given kind.
func Decode(kind Kind) fn.Stage[Line, Record] {
	return func(_ context.Context, l Line) fn.Result[Record] {
		var raw map[string]any
		if err := json.Unmarshal(l.Data, &raw); err != nil {
			return fn.Err[Record](fmt.Errorf("ingest: line %d: %w", l.N, err))
		}
		rec := Record{Line: l.N}
		switch kind {
		case KindCredit:
			c := domain.ClientFromPayload(raw)
			rec.Key, rec.Applicant, rec.Payload, rec.Client = c.ClientID, c.ApplicantRecord, c.Payload(), &c
		case KindFraud:
			f := domain.FraudFromPayload(raw)
			if _, ok := raw[domain.KeyFraudID]; !ok && f.ClientID == "" {
				f.FraudID = ""
			}
			rec.Key, rec.Applicant, rec.Payload = f.FraudID, f.ApplicantRecord, f.Payload()
		case KindTemporal:
			s := domain.SnapshotFromPayload(raw)
			if s.ClientID != "" && s.Checkpoint != "" {
				rec.Key = s.ClientID + "/" + s.Checkpoint
			}
			rec.Applicant, rec.Payload = temporal.SnapshotRecord(s), s.Payload()
		default:
			return fn.Err[Record](fmt.Errorf("ingest: line %d: corpus %q is not JSON-lines", l.N, kind))
		}
		return fn.Ok(rec)
	}
}

// Validate rejects records without a key or with impossible attributes.
var Validate fn.Stage[Record, Record] = func(_ context.Context, r Record) fn.Result[Record] {
	if r.Key == "" {
		return fn.Err[Record](fmt.Errorf("ingest: line %d: missing identifier", r.Line))
	}
	if r.Image != nil {
		return fn.Ok(r)
	}
	if err := domain.ValidateApplicant(r.Applicant); err != nil {
		return fn.Err[Record](fmt.Errorf("ingest: line %d: %w", r.Line, err))
	}
	return fn.Ok(r)
}

// NewEmbed creates a stage that turns a batch of records into points.
func NewEmbed(enc Encoder, kind Kind) fn.Stage[[]Record, []semantic.Point] {
	coll := kind.Collection()
	return func(ctx context.Context, recs []Record) fn.Result[[]semantic.Point] {
		points := make([]semantic.Point, 0, len(recs))
		for _, r := range recs {
			var vec features.Embedding
			if r.Image != nil {
				v, err := enc.EncodeImage(ctx, r.Image)
				if err != nil {
					return fn.Err[[]semantic.Point](fmt.Errorf("ingest: embed %s: %w", r.Key, err))
				}
				vec = v
			} else {
				vec = enc.Encode(ctx, r.Applicant)
			}
			points = append(points, semantic.Point{
				ID:      semantic.PointID(coll, r.Key),
				Vector:  vec,
				Payload: r.Payload,
			})
		}
		return fn.Ok(points)
	}
}

// NewStore creates a stage that upserts points, retrying transient
// failures.
func NewStore(store Upserter, kind Kind, retry fn.RetryOpts, m *metrics.Manager) fn.Stage[[]semantic.Point, int] {
	coll := kind.Collection()
	return func(ctx context.Context, points []semantic.Point) fn.Result[int] {
		return fn.Retry(ctx, retry, func(ctx context.Context) fn.Result[int] {
			start := time.Now()
			err := store.Upsert(ctx, coll, points)
			m.ObserveIndex(coll, "upsert", start, err)
			if err != nil {
				return fn.Err[int](fmt.Errorf("ingest: upsert %s: %w: %w", coll, domain.ErrIndexUnavailable, err))
			}
			return fn.Ok(len(points))
		})
	}
}

// LoadJSONL reads a JSON-lines corpus and loads every valid line. Blank
// lines are ignored; undecodable or invalid lines are skipped and logged.
// The returned error joins the failures of every batch that could not be
// stored.
func (l *Loader) LoadJSONL(ctx context.Context, kind Kind, r io.Reader) (Stats, error) {
	decode := fn.Then(Decode(kind), Validate)

	var (
		stats Stats
		recs  []Record
	)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	n := 0
	for sc.Scan() {
		n++
		data := bytes.TrimSpace(sc.Bytes())
		if len(data) == 0 {
			continue
		}
		stats.Read++
		rec, err := decode(ctx, Line{N: n, Data: append([]byte(nil), data...)}).Unwrap()
		if err != nil {
			stats.Skipped++
			l.logger.Warn("ingest: skipping line", "corpus", kind, "err", err)
			continue
		}
		recs = append(recs, rec)
	}
	if err := sc.Err(); err != nil {
		return stats, fmt.Errorf("ingest: read %s: %w", kind, err)
	}

	loaded, err := l.Load(ctx, kind, recs)
	stats.add(loaded)
	return stats, err
}

// imageExts are the document formats the image encoders decode.
var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".gif": true}

// LoadImages registers every image of dir as a forged document template,
// keyed by file name without extension.
func (l *Loader) LoadImages(ctx context.Context, dir string) (Stats, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Stats{}, fmt.Errorf("ingest: read dir: %w", err)
	}
	var (
		stats Stats
		recs  []Record
	)
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || !imageExts[ext] {
			continue
		}
		stats.Read++
		img, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			stats.Skipped++
			l.logger.Warn("ingest: skipping image", "file", e.Name(), "err", err)
			continue
		}
		id := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		recs = append(recs, Record{
			Key:     id,
			Image:   img,
			Payload: map[string]any{"template_id": id, "label": "fake", "source": e.Name()},
		})
	}
	loaded, err := l.Load(ctx, KindDocuments, recs)
	stats.add(loaded)
	return stats, err
}

// Load embeds and stores already decoded records in parallel batches.
func (l *Loader) Load(ctx context.Context, kind Kind, recs []Record) (Stats, error) {
	pipeline := fn.Then(NewEmbed(l.deps.Encoder, kind), NewStore(l.deps.Store, kind, l.deps.Retry, l.deps.Metrics))
	batches := fn.Chunk(recs, l.deps.BatchSize)

	results := fn.ParMapResult(ctx, batches, l.deps.Workers, func(ctx context.Context, batch []Record) fn.Result[Stats] {
		stored, err := pipeline(ctx, batch).Unwrap()
		if err != nil {
			return fn.Err[Stats](err)
		}
		st := Stats{Stored: stored}
		if kind == KindCredit && l.deps.Graph != nil {
			st.Mirrored = l.mirror(ctx, batch)
		}
		if l.deps.Compact && (kind == KindCredit || kind == KindFraud) {
			st.Compact = l.compact(ctx, kind, batch)
		}
		return fn.Ok(st)
	})

	var (
		stats Stats
		errs  []error
	)
	for i, res := range results {
		st, err := res.Unwrap()
		if err != nil {
			stats.Failed += len(batches[i])
			errs = append(errs, err)
			continue
		}
		stats.add(st)
	}
	l.logger.Info("ingest: corpus loaded",
		"corpus", kind,
		"collection", kind.Collection(),
		"stored", stats.Stored,
		"failed", stats.Failed,
		"mirrored", stats.Mirrored,
		"compact", stats.Compact,
	)
	return stats, errors.Join(errs...)
}

// mirror saves a credit batch into the graph. The index is the system of
// record, so mirror failures are logged and not returned.
func (l *Loader) mirror(ctx context.Context, batch []Record) int {
	clients := make([]domain.ClientRecord, 0, len(batch))
	for _, r := range batch {
		if r.Client != nil {
			clients = append(clients, *r.Client)
		}
	}
	res := fn.Retry(ctx, l.deps.Retry, func(ctx context.Context) fn.Result[int] {
		return fn.FromPair(len(clients), l.deps.Graph.SaveBatch(ctx, clients))
	})
	n, err := res.Unwrap()
	if err != nil {
		l.logger.Warn("ingest: graph mirror failed", "clients", len(clients), "err", err)
		return 0
	}
	return n
}

// CompactPoints converts a batch into compact collection points. Keys are
// prefixed with the kind so credit and fraud records never collide.
func CompactPoints(kind Kind, batch []Record) []semantic.Point {
	points := make([]semantic.Point, 0, len(batch))
	for _, r := range batch {
		key := string(kind) + "/" + r.Key
		payload := make(map[string]any, len(r.Payload)+1)
		for k, v := range r.Payload {
			payload[k] = v
		}
		payload["is_fraud"] = kind == KindFraud
		points = append(points, semantic.Point{
			ID:      semantic.PointID(semantic.CollectionCompact, key),
			Vector:  features.Compact(r.Applicant, kind == KindFraud),
			Payload: payload,
		})
	}
	return points
}

// compact writes the compact copy of a stored batch. Like the graph mirror
// it is secondary, so failures are logged and not returned.
func (l *Loader) compact(ctx context.Context, kind Kind, batch []Record) int {
	points := CompactPoints(kind, batch)
	res := fn.Retry(ctx, l.deps.Retry, func(ctx context.Context) fn.Result[int] {
		start := time.Now()
		err := l.deps.Store.Upsert(ctx, semantic.CollectionCompact, points)
		l.deps.Metrics.ObserveIndex(semantic.CollectionCompact, "upsert", start, err)
		return fn.FromPair(len(points), err)
	})
	n, err := res.Unwrap()
	if err != nil {
		l.logger.Warn("ingest: compact copy failed", "corpus", kind, "points", len(points), "err", err)
		return 0
	}
	return n
}
