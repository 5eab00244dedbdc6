package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vectorcm/credit-memory/engine/domain"
	"github.com/vectorcm/credit-memory/engine/features"
	"github.com/vectorcm/credit-memory/engine/semantic"
	"github.com/vectorcm/credit-memory/pkg/metrics"
	"github.com/vectorcm/credit-memory/pkg/natsutil"
)

// StatusPending is the status of a freshly recorded application.
const StatusPending = "pending"

// Encoder abstracts the feature encoder.
type Encoder interface {
	Encode(ctx context.Context, r domain.ApplicantRecord) features.Embedding
}

// Store is the part of the index the recorder writes through.
type Store interface {
	semantic.Scroller
	Upsert(ctx context.Context, collection string, points []semantic.Point) error
}

// Publisher emits snapshot events. natsutil.Bus satisfies it.
type Publisher interface {
	Publish(ctx context.Context, subject string, v any) error
}

// RecorderOptions configures a Recorder.
type RecorderOptions struct {
	Collection string
	Publisher  Publisher
	Now        func() time.Time
	Logger     *slog.Logger
	Metrics    *metrics.Manager
}

// Recorder appends snapshots to the temporal collection.
type Recorder struct {
	store   Store
	enc     Encoder
	tracker *Tracker
	coll    string
	pub     Publisher
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Manager
}

// NewRecorder creates a Recorder.
func NewRecorder(store Store, enc Encoder, opts RecorderOptions) *Recorder {
	coll := opts.Collection
	if coll == "" {
		coll = semantic.CollectionTemporal
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		store:   store,
		enc:     enc,
		tracker: NewTracker(store, Options{Collection: coll, Logger: logger, Metrics: opts.Metrics}),
		coll:    coll,
		pub:     opts.Publisher,
		now:     now,
		logger:  logger,
		metrics: opts.Metrics,
	}
}

// ApplicationRisk is the heuristic risk of a new application:
// 0.6·debt_ratio + 0.2·(1−stability) + 0.2·(1−regularity), rounded to
// three decimals.
func ApplicationRisk(r domain.ApplicantRecord) float64 {
	risk := 0.6*r.DebtRatio + 0.2*(1-r.IncomeStability) + 0.2*(1-r.PaymentConsistency)
	return math.Round(risk*1000) / 1000
}

// NewClientID returns a fresh client identifier.
func NewClientID() string {
	return "CLIENT_" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// RecordApplication stores the application snapshot of r with status
// pending and publishes it. A missing client id is generated.
func (rc *Recorder) RecordApplication(ctx context.Context, r domain.ApplicantRecord) (domain.Snapshot, error) {
	if r.ClientID == "" {
		r.ClientID = NewClientID()
	}
	s := domain.Snapshot{
		ClientID:          r.ClientID,
		Checkpoint:        domain.CheckpointApplication,
		Date:              rc.now().Format(time.RFC3339),
		RiskScore:         ApplicationRisk(r),
		Status:            StatusPending,
		DebtRatio:         r.DebtRatio,
		IncomeStability:   r.IncomeStability,
		PaymentRegularity: r.PaymentConsistency,
	}
	if err := rc.write(ctx, s, rc.enc.Encode(ctx, r)); err != nil {
		return domain.Snapshot{}, err
	}
	return s, nil
}

// AppendCheckpoint stores a follow-up observation. The client must exist
// and s must come strictly after the latest stored checkpoint.
func (rc *Recorder) AppendCheckpoint(ctx context.Context, s domain.Snapshot) error {
	if domain.CheckpointOrder(s.Checkpoint) == domain.CheckpointOrder("") {
		return fmt.Errorf("temporal: unknown checkpoint %q: %w", s.Checkpoint, domain.ErrCheckpointOrder)
	}
	tr, err := rc.tracker.Trajectory(ctx, s.ClientID)
	if err != nil {
		return err
	}
	last := tr.Snapshots[len(tr.Snapshots)-1]
	if domain.CheckpointOrder(s.Checkpoint) <= domain.CheckpointOrder(last.Checkpoint) {
		return fmt.Errorf("temporal: %s after %s: %w", s.Checkpoint, last.Checkpoint, domain.ErrCheckpointOrder)
	}
	if s.Date == "" {
		s.Date = rc.now().Format(time.RFC3339)
	}
	if s.Status == "" {
		s.Status = "active"
	}
	s.Status = strings.ToLower(s.Status)
	return rc.write(ctx, s, rc.enc.Encode(ctx, SnapshotRecord(s)))
}

func (rc *Recorder) write(ctx context.Context, s domain.Snapshot, vec features.Embedding) error {
	start := time.Now()
	err := rc.store.Upsert(ctx, rc.coll, []semantic.Point{{
		ID:      semantic.PointID(rc.coll, s.ClientID+"/"+s.Checkpoint),
		Vector:  vec,
		Payload: s.Payload(),
	}})
	rc.metrics.ObserveIndex(rc.coll, "upsert", start, err)
	if err != nil {
		return fmt.Errorf("temporal: upsert %s: %w: %w", s.ClientID, domain.ErrIndexUnavailable, err)
	}
	rc.metrics.RecordSnapshot(s.Checkpoint)
	rc.logger.Info("snapshot recorded", "client_id", s.ClientID, "checkpoint", s.Checkpoint, "risk", s.RiskScore)

	if rc.pub != nil {
		if err := rc.pub.Publish(ctx, natsutil.SubjectSnapshotRecorded, s); err != nil {
			rc.logger.Warn("snapshot event not published", "client_id", s.ClientID, "err", err)
		}
	}
	return nil
}

// SnapshotRecord rebuilds the applicant view encoded for a follow-up
// snapshot.
func SnapshotRecord(s domain.Snapshot) domain.ApplicantRecord {
	r := domain.DefaultApplicant()
	r.ClientID = s.ClientID
	r.DebtRatio = s.DebtRatio
	r.IncomeStability = s.IncomeStability
	r.PaymentConsistency = s.PaymentRegularity
	return r
}
