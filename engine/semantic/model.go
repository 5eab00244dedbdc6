package semantic

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// Collection names of the historical corpora.
const (
	CollectionCredit    = "credit_history_memory"
	CollectionFraud     = "fraud_patterns"
	CollectionTemporal  = "temporal_risk_memory"
	CollectionDocuments = "document_templates"
	// CollectionCompact holds credit and fraud records as 12-feature
	// numeric vectors for quick screening.
	CollectionCompact = "client_states"
)

// ErrDimensionMismatch is returned when a vector's width differs from the
// collection's configured dimension.
var ErrDimensionMismatch = errors.New("semantic: vector dimension mismatch")

// Point is a vector with its payload, as stored in a collection.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// Neighbor is one k-NN hit. Score is cosine similarity.
type Neighbor struct {
	ID      string         `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

// ScrollRequest pages through a collection. Filter keys must match payload
// values exactly; an empty Offset starts from the beginning.
type ScrollRequest struct {
	Filter map[string]string
	Offset string
	Limit  int
}

// ScrollPage is one page of a scroll. Next is empty on the last page.
type ScrollPage struct {
	Points []Point
	Next   string
}

// Index is the similarity index contract used by every engine. Query
// returns neighbours ordered by non-increasing score.
type Index interface {
	Upsert(ctx context.Context, collection string, points []Point) error
	Query(ctx context.Context, collection string, vector []float32, k int) ([]Neighbor, error)
	Scroll(ctx context.Context, collection string, req ScrollRequest) (ScrollPage, error)
}

// Scroller pages through a collection.
type Scroller interface {
	Scroll(ctx context.Context, collection string, req ScrollRequest) (ScrollPage, error)
}

// PointID derives a stable UUID for a natural key, so re-ingesting the same
// record overwrites rather than duplicates it.
func PointID(collection, key string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(collection+"/"+key)).String()
}

// ScrollAll drains every page matching filter.
func ScrollAll(ctx context.Context, idx Scroller, collection string, filter map[string]string, pageSize int) ([]Point, error) {
	if pageSize <= 0 {
		pageSize = 256
	}
	var out []Point
	req := ScrollRequest{Filter: filter, Limit: pageSize}
	for {
		page, err := idx.Scroll(ctx, collection, req)
		if err != nil {
			return nil, err
		}
		out = append(out, page.Points...)
		if page.Next == "" || len(page.Points) == 0 {
			return out, nil
		}
		req.Offset = page.Next
	}
}
