// Package temporal tracks how a client's risk evolves across the fixed
// checkpoint schedule (application, three months, six months).
package temporal

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/vectorcm/credit-memory/engine/domain"
	"github.com/vectorcm/credit-memory/engine/semantic"
	"github.com/vectorcm/credit-memory/pkg/metrics"
)

// Trends of a trajectory.
const (
	TrendImproving     = "improving"
	TrendDeteriorating = "deteriorating"
	TrendStable        = "stable"
)

// trendBand is the risk delta below which a trajectory is stable.
const trendBand = 0.05

const scrollPage = 1000

// Trajectory is a client's snapshots in checkpoint order.
type Trajectory struct {
	ClientID  string            `json:"client_id"`
	Snapshots []domain.Snapshot `json:"snapshots"`
	RiskDelta float64           `json:"risk_delta"`
	Trend     string            `json:"trend"`
}

// Application is a client whose only snapshot is the application one.
type Application struct {
	ID string `json:"id"`
	domain.Snapshot
}

// Options configures a Tracker.
type Options struct {
	Collection string
	Logger     *slog.Logger
	Metrics    *metrics.Manager
}

// Tracker reads trajectories from the temporal collection.
type Tracker struct {
	index   semantic.Scroller
	coll    string
	logger  *slog.Logger
	metrics *metrics.Manager
}

// NewTracker creates a Tracker.
func NewTracker(index semantic.Scroller, opts Options) *Tracker {
	coll := opts.Collection
	if coll == "" {
		coll = semantic.CollectionTemporal
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{index: index, coll: coll, logger: logger, metrics: opts.Metrics}
}

// Trajectory returns every stored snapshot of clientID ordered T0 < T1 <
// T2, unknown labels last. Missing checkpoints are not synthesised.
func (t *Tracker) Trajectory(ctx context.Context, clientID string) (Trajectory, error) {
	points, err := t.scroll(ctx, map[string]string{domain.KeyClientID: clientID})
	if err != nil {
		return Trajectory{}, err
	}
	if len(points) == 0 {
		return Trajectory{}, fmt.Errorf("temporal: %s: %w", clientID, domain.ErrClientNotFound)
	}
	snaps := make([]domain.Snapshot, len(points))
	for i, p := range points {
		snaps[i] = domain.SnapshotFromPayload(p.Payload)
		if snaps[i].ClientID == "" {
			snaps[i].ClientID = clientID
		}
	}
	return Build(clientID, snaps), nil
}

// Build orders snaps and derives the trend. It does not touch the index.
func Build(clientID string, snaps []domain.Snapshot) Trajectory {
	sorted := make([]domain.Snapshot, len(snaps))
	copy(sorted, snaps)
	sort.SliceStable(sorted, func(i, j int) bool {
		return domain.CheckpointOrder(sorted[i].Checkpoint) < domain.CheckpointOrder(sorted[j].Checkpoint)
	})
	tr := Trajectory{ClientID: clientID, Snapshots: sorted, Trend: TrendStable}
	if len(sorted) < 2 {
		return tr
	}
	tr.RiskDelta = sorted[len(sorted)-1].RiskScore - sorted[0].RiskScore
	switch {
	case tr.RiskDelta < -trendBand:
		tr.Trend = TrendImproving
	case tr.RiskDelta > trendBand:
		tr.Trend = TrendDeteriorating
	}
	return tr
}

// PendingApplications lists clients with exactly one snapshot that is an
// application checkpoint, newest first. It returns at most limit entries
// (all when limit <= 0) together with the total count.
func (t *Tracker) PendingApplications(ctx context.Context, limit int) ([]Application, int, error) {
	points, err := t.scroll(ctx, nil)
	if err != nil {
		return nil, 0, err
	}

	byClient := make(map[string][]semantic.Point)
	var order []string
	for _, p := range points {
		cid, _ := p.Payload[domain.KeyClientID].(string)
		if cid == "" {
			continue
		}
		if _, seen := byClient[cid]; !seen {
			order = append(order, cid)
		}
		byClient[cid] = append(byClient[cid], p)
	}

	apps := []Application{}
	for _, cid := range order {
		pts := byClient[cid]
		if len(pts) != 1 {
			continue
		}
		s := domain.SnapshotFromPayload(pts[0].Payload)
		if !strings.HasPrefix(s.Checkpoint, "T0") {
			continue
		}
		apps = append(apps, Application{ID: pts[0].ID, Snapshot: s})
	}
	sort.SliceStable(apps, func(i, j int) bool { return apps[i].Date > apps[j].Date })

	total := len(apps)
	if limit > 0 && len(apps) > limit {
		apps = apps[:limit]
	}
	return apps, total, nil
}

func (t *Tracker) scroll(ctx context.Context, filter map[string]string) ([]semantic.Point, error) {
	start := time.Now()
	points, err := semantic.ScrollAll(ctx, t.index, t.coll, filter, scrollPage)
	t.metrics.ObserveIndex(t.coll, "scroll", start, err)
	if err != nil {
		return nil, fmt.Errorf("temporal: scroll %s: %w: %w", t.coll, domain.ErrIndexUnavailable, err)
	}
	return points, nil
}
