package semantic

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryStore is a brute-force cosine index held in process memory. It
// implements Index for tests and single-node development runs.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
}

type memCollection struct {
	order  []string
	points map[string]Point
	dims   int
}

var _ Index = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]*memCollection)}
}

// Upsert inserts or replaces points. The first vector stored fixes the
// collection dimension.
func (m *MemoryStore) Upsert(_ context.Context, collection string, points []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[collection]
	if !ok {
		c = &memCollection{points: make(map[string]Point)}
		m.collections[collection] = c
	}
	for _, p := range points {
		if c.dims == 0 {
			c.dims = len(p.Vector)
		}
		if len(p.Vector) != c.dims {
			return fmt.Errorf("%w: %s expects %d, got %d", ErrDimensionMismatch, collection, c.dims, len(p.Vector))
		}
		if _, exists := c.points[p.ID]; !exists {
			c.order = append(c.order, p.ID)
		}
		vec := make([]float32, len(p.Vector))
		copy(vec, p.Vector)
		c.points[p.ID] = Point{ID: p.ID, Vector: vec, Payload: copyPayload(p.Payload)}
	}
	return nil
}

// Query returns the k most similar points. Equal scores keep insertion order.
func (m *MemoryStore) Query(_ context.Context, collection string, vector []float32, k int) ([]Neighbor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[collection]
	if !ok || k <= 0 {
		return nil, nil
	}
	if len(vector) != c.dims {
		return nil, fmt.Errorf("%w: %s expects %d, got %d", ErrDimensionMismatch, collection, c.dims, len(vector))
	}
	out := make([]Neighbor, 0, len(c.order))
	for _, id := range c.order {
		p := c.points[id]
		out = append(out, Neighbor{ID: id, Score: Cosine(vector, p.Vector), Payload: copyPayload(p.Payload)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// Scroll pages through points in insertion order.
func (m *MemoryStore) Scroll(_ context.Context, collection string, req ScrollRequest) (ScrollPage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[collection]
	if !ok {
		return ScrollPage{}, nil
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 100
	}
	started := req.Offset == ""
	var page ScrollPage
	for _, id := range c.order {
		if !started {
			if id != req.Offset {
				continue
			}
			started = true
		}
		p := c.points[id]
		if !matches(p.Payload, req.Filter) {
			continue
		}
		if len(page.Points) == limit {
			page.Next = id
			break
		}
		page.Points = append(page.Points, Point{ID: id, Payload: copyPayload(p.Payload)})
	}
	return page, nil
}

// Len reports the number of points in a collection.
func (m *MemoryStore) Len(collection string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if c, ok := m.collections[collection]; ok {
		return len(c.order)
	}
	return 0
}

// Cosine is the cosine similarity of a and b; zero vectors score 0.
func Cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		if i >= len(b) {
			break
		}
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func matches(payload map[string]any, filter map[string]string) bool {
	for k, want := range filter {
		v, ok := payload[k]
		if !ok || fmt.Sprint(v) != want {
			return false
		}
	}
	return true
}

func copyPayload(p map[string]any) map[string]any {
	out := make(map[string]any, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
