package decision

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vectorcm/credit-memory/engine/domain"
	"github.com/vectorcm/credit-memory/engine/features"
	"github.com/vectorcm/credit-memory/engine/policy"
	"github.com/vectorcm/credit-memory/engine/semantic"
)

type stubEncoder struct{}

func (stubEncoder) Encode(context.Context, domain.ApplicantRecord) features.Embedding {
	return features.Embedding{1, 0}
}

type docEncoder struct {
	stubEncoder
	images int
}

func (d *docEncoder) EncodeWithDocuments(_ context.Context, _ domain.ApplicantRecord, images [][]byte) features.Embedding {
	d.images = len(images)
	return features.Embedding{0, 1}
}

type stubIndex struct {
	neighbors []semantic.Neighbor
	err       error
	k         int
	vec       []float32
}

func (s *stubIndex) Query(_ context.Context, _ string, vec []float32, k int) ([]semantic.Neighbor, error) {
	s.k, s.vec = k, vec
	return s.neighbors, s.err
}

func neighbors(repaid, defaulted int) []semantic.Neighbor {
	var out []semantic.Neighbor
	for i := 0; i < repaid; i++ {
		out = append(out, semantic.Neighbor{ID: "r", Score: 0.9, Payload: map[string]any{"outcome": "repaid"}})
	}
	for i := 0; i < defaulted; i++ {
		out = append(out, semantic.Neighbor{ID: "d", Score: 0.8, Payload: map[string]any{"outcome": "defaulted"}})
	}
	return out
}

func TestDecide_Empty(t *testing.T) {
	d := Decide(policy.Default(), nil)
	assert.Equal(t, 0.0, d.Confidence)
	assert.Equal(t, TierUnknown, d.Tier)
	assert.Equal(t, ApprovalReview, d.Approval)
	assert.Zero(t, d.Total)
}

func TestDecide_EighteenOfTwenty(t *testing.T) {
	d := Decide(policy.Default(), neighbors(18, 2))
	assert.InDelta(t, 0.9, d.Confidence, 1e-12)
	assert.Equal(t, "LOW", d.Tier)
	assert.Equal(t, "approve", d.Approval)
	assert.Equal(t, 18, d.Positive)
	assert.Contains(t, d.Recommendation, "18/20")
}

func TestDecide_Bands(t *testing.T) {
	cases := []struct {
		repaid, defaulted int
		tier, approval    string
	}{
		{8, 2, "LOW", "approve"},
		{7, 3, "MEDIUM", "approve"},
		{6, 4, "MEDIUM", "borderline"},
		{4, 6, "HIGH", "borderline"},
		{3, 7, "CRITICAL", "reject"},
	}
	for _, c := range cases {
		d := Decide(policy.Default(), neighbors(c.repaid, c.defaulted))
		assert.Equal(t, c.tier, d.Tier, "%d/%d", c.repaid, c.repaid+c.defaulted)
		assert.Equal(t, c.approval, d.Approval, "%d/%d", c.repaid, c.repaid+c.defaulted)
	}
}

func TestDecide_ConfidenceMonotone(t *testing.T) {
	prev := -1.0
	for repaid := 0; repaid <= 10; repaid++ {
		d := Decide(policy.Default(), neighbors(repaid, 10-repaid))
		require.GreaterOrEqual(t, d.Confidence, prev)
		require.GreaterOrEqual(t, d.Confidence, 0.0)
		require.LessOrEqual(t, d.Confidence, 1.0)
		prev = d.Confidence
	}
}

func TestDecide_ApprovedAndLegacyOutcomes(t *testing.T) {
	ns := []semantic.Neighbor{
		{Payload: map[string]any{"outcome": "approved"}},
		{Payload: map[string]any{"outcome": int64(1)}},
		{Payload: map[string]any{"outcome": "repaid", "actual_outcome": "defaulted"}},
		{Payload: map[string]any{}},
	}
	d := Decide(policy.Default(), ns)
	assert.Equal(t, 2, d.Positive)
	assert.Equal(t, 4, d.Total)
}

func TestAssess(t *testing.T) {
	idx := &stubIndex{neighbors: neighbors(9, 1)}
	e := New(stubEncoder{}, idx, DefaultOptions())
	a, err := e.Assess(context.Background(), domain.DefaultApplicant())
	require.NoError(t, err)
	assert.Equal(t, 50, idx.k)
	assert.Equal(t, "LOW", a.Tier)
	require.Len(t, a.Similar, 10)
	assert.Equal(t, "r", a.Similar[0].ClientID)
	assert.Equal(t, domain.OutcomeRepaid, a.Similar[0].Outcome)
}

func TestAssessWithDocuments(t *testing.T) {
	idx := &stubIndex{neighbors: neighbors(3, 1)}
	enc := &docEncoder{}
	e := New(enc, idx, DefaultOptions())

	a, err := e.AssessWithDocuments(context.Background(), domain.DefaultApplicant(), [][]byte{{1}, {2}})
	require.NoError(t, err)
	assert.Equal(t, 2, enc.images)
	assert.Equal(t, []float32{0, 1}, idx.vec)
	assert.Equal(t, 4, a.Total)

	// No images falls back to the profile embedding.
	_, err = e.AssessWithDocuments(context.Background(), domain.DefaultApplicant(), nil)
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, idx.vec)

	// An encoder without a document path is used as is.
	plain := New(stubEncoder{}, idx, DefaultOptions())
	_, err = plain.AssessWithDocuments(context.Background(), domain.DefaultApplicant(), [][]byte{{1}})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, idx.vec)
}

func TestAssess_IndexUnavailable(t *testing.T) {
	cause := errors.New("connection refused")
	e := New(stubEncoder{}, &stubIndex{err: cause}, DefaultOptions())
	_, err := e.Assess(context.Background(), domain.DefaultApplicant())
	assert.ErrorIs(t, err, domain.ErrIndexUnavailable)
	assert.ErrorIs(t, err, cause)
}

func TestAssess_MemoryStore(t *testing.T) {
	store := semantic.NewMemoryStore()
	enc := features.New(features.Options{Layout: features.Layout{Financial: 16, Behavioral: 8}})
	ctx := context.Background()

	var points []semantic.Point
	for i := 0; i < 20; i++ {
		r := domain.DefaultApplicant()
		r.Income = 1000 + float64(i)*100
		c := domain.ClientRecord{ApplicantRecord: r, Outcome: domain.OutcomeRepaid}
		if i >= 18 {
			c.Outcome = domain.OutcomeDefaulted
		}
		c.ClientID = string(rune('a' + i))
		points = append(points, semantic.Point{
			ID:      semantic.PointID(semantic.CollectionCredit, c.ClientID),
			Vector:  enc.Encode(ctx, r),
			Payload: c.Payload(),
		})
	}
	require.NoError(t, store.Upsert(ctx, semantic.CollectionCredit, points))

	e := New(enc, store, DefaultOptions())
	a, err := e.Assess(ctx, domain.DefaultApplicant())
	require.NoError(t, err)
	assert.Equal(t, 20, a.Total)
	assert.InDelta(t, 0.9, a.Confidence, 1e-12)
	assert.Equal(t, "approve", a.Approval)
}
