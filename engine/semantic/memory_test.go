package semantic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedMemory(t *testing.T) *MemoryStore {
	t.Helper()
	m := NewMemoryStore()
	err := m.Upsert(context.Background(), CollectionCredit, []Point{
		{ID: "a", Vector: []float32{1, 0}, Payload: map[string]any{"client_id": "a", "outcome": "repaid"}},
		{ID: "b", Vector: []float32{0.6, 0.8}, Payload: map[string]any{"client_id": "b", "outcome": "defaulted"}},
		{ID: "c", Vector: []float32{0, 1}, Payload: map[string]any{"client_id": "c", "outcome": "repaid"}},
		{ID: "d", Vector: []float32{1, 0}, Payload: map[string]any{"client_id": "d", "outcome": "repaid"}},
	})
	require.NoError(t, err)
	return m
}

func TestMemoryStore_QueryOrder(t *testing.T) {
	m := seedMemory(t)
	got, err := m.Query(context.Background(), CollectionCredit, []float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"a", "d", "b"}, []string{got[0].ID, got[1].ID, got[2].ID})
	assert.InDelta(t, 0.6, got[2].Score, 1e-6)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].Score, got[i].Score)
	}
}

func TestMemoryStore_UnknownCollection(t *testing.T) {
	got, err := NewMemoryStore().Query(context.Background(), "nope", []float32{1}, 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryStore_DimensionMismatch(t *testing.T) {
	m := seedMemory(t)
	_, err := m.Query(context.Background(), CollectionCredit, []float32{1, 0, 0}, 2)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	err = m.Upsert(context.Background(), CollectionCredit, []Point{{ID: "x", Vector: []float32{1}}})
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestMemoryStore_UpsertReplaces(t *testing.T) {
	m := seedMemory(t)
	require.NoError(t, m.Upsert(context.Background(), CollectionCredit, []Point{
		{ID: "a", Vector: []float32{0, 1}, Payload: map[string]any{"client_id": "a"}},
	}))
	assert.Equal(t, 4, m.Len(CollectionCredit))
}

func TestMemoryStore_ScrollPages(t *testing.T) {
	m := seedMemory(t)
	all, err := ScrollAll(context.Background(), m, CollectionCredit, map[string]string{"outcome": "repaid"}, 1)
	require.NoError(t, err)
	ids := make([]string, len(all))
	for i, p := range all {
		ids[i] = p.ID
	}
	assert.Equal(t, []string{"a", "c", "d"}, ids)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{2, 0}, []float32{1, 0}), 1e-9)
	assert.Equal(t, 0.0, Cosine([]float32{0, 0}, []float32{1, 0}))
}
