package trust

import (
	"context"
	"fmt"
	"time"

	"github.com/vectorcm/credit-memory/engine/domain"
	"github.com/vectorcm/credit-memory/engine/semantic"
	"github.com/vectorcm/credit-memory/pkg/metrics"
)

// Directory resolves client ids to their stored records. The bool is false
// when the client is unknown.
type Directory interface {
	Lookup(ctx context.Context, id string) (domain.ClientRecord, bool, error)
}

// IndexDirectory resolves clients by scrolling the credit collection.
type IndexDirectory struct {
	index   semantic.Scroller
	coll    string
	metrics *metrics.Manager
}

// NewIndexDirectory creates an IndexDirectory over collection; an empty
// collection means the credit history collection.
func NewIndexDirectory(index semantic.Scroller, collection string, m *metrics.Manager) *IndexDirectory {
	if collection == "" {
		collection = semantic.CollectionCredit
	}
	return &IndexDirectory{index: index, coll: collection, metrics: m}
}

func (d *IndexDirectory) Lookup(ctx context.Context, id string) (domain.ClientRecord, bool, error) {
	start := time.Now()
	page, err := d.index.Scroll(ctx, d.coll, semantic.ScrollRequest{
		Filter: map[string]string{domain.KeyClientID: id},
		Limit:  1,
	})
	d.metrics.ObserveIndex(d.coll, "scroll", start, err)
	if err != nil {
		return domain.ClientRecord{}, false, fmt.Errorf("trust: lookup %s: %w: %w", id, domain.ErrIndexUnavailable, err)
	}
	if len(page.Points) == 0 {
		return domain.ClientRecord{}, false, nil
	}
	c := domain.ClientFromPayload(page.Points[0].Payload)
	if c.ClientID == "" {
		c.ClientID = id
	}
	return c, true, nil
}
