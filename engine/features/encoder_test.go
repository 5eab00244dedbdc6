package features

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vectorcm/credit-memory/engine/domain"
)

type fakeText struct {
	calls atomic.Int32
	err   error
	dim   int
}

func (f *fakeText) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	v := make([]float32, f.dim)
	for i := range v {
		v[i] = float32((len(text)+i)%7) / 7
	}
	return v, nil
}

type fakeImages struct {
	n int
}

func (f *fakeImages) EmbedImage(_ context.Context, img []byte) ([]float32, error) {
	f.n++
	if len(img) == 0 {
		return nil, errors.New("bad image")
	}
	v := make([]float32, 512)
	for i := range v {
		v[i] = float32(img[0])
	}
	return v, nil
}

func norm2(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func TestEncode_UnitNormAndWidth(t *testing.T) {
	enc := New(Options{Text: StaticText(&fakeText{dim: 384})})
	v := enc.Encode(context.Background(), domain.DefaultApplicant())
	require.Len(t, v, 384)
	assert.InDelta(t, 1.0, norm2(v), 1e-5)
}

func TestEncode_Deterministic(t *testing.T) {
	ft := &fakeText{dim: 300}
	enc := New(Options{Text: StaticText(ft)})
	r := domain.DefaultApplicant()
	r.Archetype = "market vendor"
	a := enc.Encode(context.Background(), r)
	b := enc.Encode(context.Background(), r)
	assert.Equal(t, a, b)
	assert.Equal(t, int32(1), ft.calls.Load(), "phrase embedding should be memoised")
}

func TestEncode_TextFailureZeroBlock(t *testing.T) {
	enc := New(Options{Text: StaticText(&fakeText{err: errors.New("offline")})})
	v := enc.Encode(context.Background(), domain.DefaultApplicant())
	require.Len(t, v, 384)
	for i := 0; i < 128; i++ {
		require.Zero(t, v[i])
	}
	assert.InDelta(t, 1.0, norm2(v), 1e-5)
}

func TestEncode_NoTextEncoder(t *testing.T) {
	v := New(DefaultOptions()).Encode(context.Background(), domain.DefaultApplicant())
	assert.InDelta(t, 1.0, norm2(v), 1e-5)
}

func TestEncode_ZeroVector(t *testing.T) {
	enc := New(Options{Layout: Layout{Text: 4}})
	v := enc.Encode(context.Background(), domain.DefaultApplicant())
	assert.Equal(t, Embedding{0, 0, 0, 0}, v)
}

func TestEncode_ClampsOutOfRange(t *testing.T) {
	enc := New(Options{Layout: Layout{Financial: 12}})
	r := domain.DefaultApplicant()
	r.Income = 1e9
	r.Debt = -5
	v := enc.Encode(context.Background(), r)
	raw := financial(r)
	assert.Equal(t, float32(1), raw[0])
	assert.Equal(t, float32(0), raw[2])
	assert.InDelta(t, 1.0, norm2(v), 1e-5)
}

func TestEncode_NaNInputStaysFinite(t *testing.T) {
	enc := New(Options{})
	r := domain.ApplicantFromPayload(map[string]any{"debt_ratio": "NaN", "income": "+Inf"})
	require.True(t, math.IsNaN(r.DebtRatio))

	assert.Zero(t, BehavioralRisk(r))
	v := enc.Encode(context.Background(), r)
	for i, x := range v {
		require.False(t, math.IsNaN(float64(x)), "component %d is NaN", i)
	}
	assert.InDelta(t, 1.0, norm2(v), 1e-5)
}

func TestLazyText_RetriesFailedInit(t *testing.T) {
	attempts := 0
	lt := NewLazyText(func(context.Context) (TextEncoder, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("model missing")
		}
		return &fakeText{dim: 8}, nil
	})
	_, err := lt.Get(context.Background())
	require.Error(t, err)
	enc, err := lt.Get(context.Background())
	require.NoError(t, err)
	again, _ := lt.Get(context.Background())
	assert.Same(t, enc, again)
	assert.Equal(t, 2, attempts)
}

func TestEncodeWithDocuments(t *testing.T) {
	imgs := &fakeImages{}
	enc := New(Options{Layout: MultimodalLayout(), Images: imgs})
	require.Equal(t, 896, enc.Dim())

	images := [][]byte{{2}, {}, {4}, {4}, {4}, {4}, {4}}
	v := enc.EncodeWithDocuments(context.Background(), domain.DefaultApplicant(), images)
	require.Len(t, v, 896)
	assert.Equal(t, MaxDocumentImages, imgs.n)
	assert.NotZero(t, v[enc.Layout().documentOffset()])
	assert.InDelta(t, 1.0, norm2(v), 1e-5)
}

func TestEncodeWithDocuments_AllFail(t *testing.T) {
	enc := New(Options{Layout: MultimodalLayout(), Images: &fakeImages{}})
	v := enc.EncodeWithDocuments(context.Background(), domain.DefaultApplicant(), [][]byte{{}, {}})
	off := enc.Layout().documentOffset()
	for _, x := range v[off:] {
		require.Zero(t, x)
	}
}

func TestPhrase(t *testing.T) {
	r := domain.DefaultApplicant()
	r.Archetype = "Ｔailor"
	r.EmploymentType = domain.EmploymentFormal
	r.Narrative = "  sews uniforms "
	assert.Equal(t, "salaried formal tailor business: sews uniforms", Phrase(r))
}

func TestBehavioralRisk(t *testing.T) {
	r := domain.DefaultApplicant()
	r.DebtRatio, r.IncomeStability, r.PaymentConsistency = 0.5, 0.5, 0.5
	assert.InDelta(t, 0.5, BehavioralRisk(r), 1e-9)
	r.DebtRatio, r.IncomeStability, r.PaymentConsistency = 1, 0, 0
	assert.InDelta(t, 1.0, BehavioralRisk(r), 1e-9)
}

func TestCompact(t *testing.T) {
	r := domain.DefaultApplicant()
	r.EmploymentType = domain.EmploymentMixed
	v := Compact(r, true)
	require.Len(t, v, CompactDim)
	assert.Equal(t, float32(0.3), v[0])
	assert.Equal(t, float32(0.5), v[7])
	assert.Equal(t, float32(1), v[11])
}
