package fraud

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
	"github.com/vectorcm/credit-memory/pkg/imgembed"
)

func match(score float64, typ string, indicators any) semantic.Neighbor {
	return semantic.Neighbor{
		ID:    "f",
		Score: score,
		Payload: map[string]any{
			"fraud_id":         "FRAUD-" + typ,
			"fraud_type":       typ,
			"fraud_indicators": indicators,
			"debt_ratio":       0.9,
		},
	}
}

func TestEvaluate_Empty(t *testing.T) {
	r := Evaluate(policy.Default(), nil)
	assert.False(t, r.IsSuspicious)
	assert.Equal(t, 0.0, r.FraudScore)
	assert.Equal(t, LevelNone, r.AlertLevel)
	assert.Empty(t, r.Similar)
}

func TestCalibrate(t *testing.T) {
	fb := policy.Default().Fraud
	assert.InDelta(t, 0.55, Calibrate(fb, 0.75), 1e-12)
	assert.Equal(t, 0.85, Calibrate(fb, 0.85))
	assert.Equal(t, 0.8, Calibrate(fb, 0.8))
	assert.Equal(t, 0.0, Calibrate(fb, 0.1))
}

func TestEvaluate_Levels(t *testing.T) {
	cases := []struct {
		raw        float64
		level      string
		suspicious bool
	}{
		{0.95, LevelCritical, true},
		{0.9, LevelCritical, true},
		{0.85, LevelHigh, true},
		{0.8, LevelHigh, true},
		{0.79, LevelLow, false},
		{0.75, LevelLow, false},
		{0.3, LevelLow, false},
	}
	for _, c := range cases {
		r := Evaluate(policy.Default(), []semantic.Neighbor{match(c.raw, "identity_theft", "")})
		assert.Equal(t, c.level, r.AlertLevel, "raw %v", c.raw)
		assert.Equal(t, c.suspicious, r.IsSuspicious, "raw %v", c.raw)
		assert.Equal(t, c.raw, r.RawScore)
	}
}

func TestEvaluate_MediumAfterCustomPenalty(t *testing.T) {
	th := policy.Default()
	th.Fraud.PenaltyBelow = 0.7
	r := Evaluate(th, []semantic.Neighbor{match(0.72, "ghost_business", "")})
	assert.Equal(t, LevelMedium, r.AlertLevel)
	assert.True(t, r.IsSuspicious)
}

func TestEvaluate_IndicatorsAndSimilar(t *testing.T) {
	ns := []semantic.Neighbor{
		match(0.93, "identity_theft", "a, b ,c,d"),
		match(0.9, "loan_stacking", []any{"x"}),
		match(0.88, "ghost_business", ""),
		match(0.8, "ghost_business", ""),
	}
	r := Evaluate(policy.Default(), ns)
	assert.Equal(t, []string{"a", "b", "c"}, r.Indicators)
	assert.Equal(t, "identity_theft", r.FraudType)
	require.Len(t, r.Similar, 3)
	assert.Equal(t, "FRAUD-loan_stacking", r.Similar[1].FraudID)
	assert.Equal(t, 0.9, r.Similar[0].DebtRatio)
}

type stubEncoder struct{}

func (stubEncoder) Encode(context.Context, domain.ApplicantRecord) features.Embedding {
	return features.Embedding{1, 0}
}

type stubIndex struct {
	neighbors []semantic.Neighbor
	err       error
	k         int
}

func (s *stubIndex) Query(_ context.Context, _ string, _ []float32, k int) ([]semantic.Neighbor, error) {
	s.k = k
	return s.neighbors, s.err
}

func TestScreen_Check(t *testing.T) {
	idx := &stubIndex{neighbors: []semantic.Neighbor{match(0.91, "identity_theft", "")}}
	s := NewScreen(stubEncoder{}, idx, DefaultOptions())
	r, err := s.Check(context.Background(), domain.DefaultApplicant())
	require.NoError(t, err)
	assert.Equal(t, 5, idx.k)
	assert.Equal(t, LevelCritical, r.AlertLevel)
}

func TestScreen_IndexError(t *testing.T) {
	s := NewScreen(stubEncoder{}, &stubIndex{err: errors.New("down")}, DefaultOptions())
	_, err := s.Check(context.Background(), domain.DefaultApplicant())
	assert.ErrorIs(t, err, domain.ErrIndexUnavailable)
}

func fraudCase(id, typ string, r domain.ApplicantRecord, indicators ...string) domain.FraudPattern {
	return domain.FraudPattern{ApplicantRecord: r, FraudID: id, FraudType: typ, Indicators: indicators}
}

func profile(mutate func(*domain.ApplicantRecord)) domain.ApplicantRecord {
	r := domain.DefaultApplicant()
	mutate(&r)
	return r
}

// A brand-new business declaring a very high income, little debt and a
// perfect payment record lands among the inflated-income cases, while an
// established salaried applicant stays clear of every pattern.
func TestScreen_ImplausibleProfile(t *testing.T) {
	ctx := context.Background()
	enc := features.New(features.Options{Layout: features.Layout{Financial: 16, Behavioral: 8}})
	store := semantic.NewMemoryStore()

	corpus := []domain.FraudPattern{
		fraudCase("F-1", "income_inflation", profile(func(r *domain.ApplicantRecord) {
			r.Income, r.Expenses, r.Debt, r.SeniorityMonths, r.PaymentConsistency = 7500, 1400, 150, 3, 0.98
		}), "income_spike", "new_business"),
		fraudCase("F-2", "synthetic_identity", profile(func(r *domain.ApplicantRecord) {
			r.Income, r.Expenses, r.Debt, r.SeniorityMonths, r.PaymentConsistency = 9000, 1800, 50, 1, 1
			r.MobilePaymentRatio, r.LedgerQuality = 0.9, 0.9
		}), "thin_file"),
		fraudCase("F-3", "ghost_business", profile(func(r *domain.ApplicantRecord) {
			r.Income, r.Expenses, r.SeniorityMonths, r.PaymentConsistency, r.IncomeStability = 6500, 1200, 4, 0.97, 0.95
		}), "no_premises"),
		fraudCase("F-4", "loan_stacking", profile(func(r *domain.ApplicantRecord) {
			r.Income, r.Expenses, r.Debt, r.Age, r.SeniorityMonths = 900, 850, 9500, 45, 30
			r.PaymentConsistency, r.LoanAmount, r.DebtRatio, r.IncomeStability = 0.3, 15000, 0.95, 0.2
			r.EmploymentType = domain.EmploymentFormal
		}), "parallel_loans"),
		fraudCase("F-5", "bust_out", profile(func(r *domain.ApplicantRecord) {
			r.Income, r.Expenses, r.Debt, r.Age, r.SeniorityMonths = 2000, 1900, 8000, 60, 20
			r.PaymentConsistency, r.LoanAmount, r.DebtRatio, r.IncomeStability = 0.2, 12000, 0.9, 0.3
			r.EmploymentType = domain.EmploymentMixed
		}), "credit_maxed"),
	}
	points := make([]semantic.Point, len(corpus))
	for i, f := range corpus {
		points[i] = semantic.Point{ID: f.FraudID, Vector: enc.Encode(ctx, f.ApplicantRecord), Payload: f.Payload()}
	}
	require.NoError(t, store.Upsert(ctx, semantic.CollectionFraud, points))

	s := NewScreen(enc, store, DefaultOptions())

	implausible := profile(func(r *domain.ApplicantRecord) {
		r.Income, r.Expenses, r.Debt, r.SeniorityMonths, r.PaymentConsistency = 8000, 1500, 100, 2, 1.0
	})
	r, err := s.Check(ctx, implausible)
	require.NoError(t, err)
	assert.True(t, r.IsSuspicious)
	assert.Contains(t, []string{LevelMedium, LevelHigh, LevelCritical}, r.AlertLevel)
	assert.Equal(t, "income_inflation", r.FraudType)
	assert.Equal(t, []string{"income_spike", "new_business"}, r.Indicators)
	assert.Less(t, r.RawScore, 1.0)

	honest := profile(func(r *domain.ApplicantRecord) {
		r.Expenses, r.Debt, r.Age, r.LoanAmount, r.SeniorityMonths = 1100, 2500, 42, 4000, 96
		r.EmploymentType = domain.EmploymentFormal
	})
	h, err := s.Check(ctx, honest)
	require.NoError(t, err)
	assert.False(t, h.IsSuspicious)
	assert.Equal(t, LevelLow, h.AlertLevel)
	assert.Less(t, h.RawScore, policy.Default().Fraud.PenaltyBelow)
}

func TestClassifyDocument(t *testing.T) {
	th := policy.Default().Document
	n := func(score float64) []semantic.Neighbor {
		return []semantic.Neighbor{{Score: score, Payload: map[string]any{"template_id": "tpl-1"}}}
	}
	assert.Equal(t, VerdictClean, ClassifyDocument(th, nil).Verdict)
	assert.Equal(t, VerdictFraud, ClassifyDocument(th, n(0.97)).Verdict)
	r := ClassifyDocument(th, n(0.9))
	assert.Equal(t, VerdictSuspicious, r.Verdict)
	assert.Equal(t, "tpl-1", r.TemplateID)
	r = ClassifyDocument(th, n(0.5))
	assert.Equal(t, VerdictClean, r.Verdict)
	assert.Empty(t, r.TemplateID)
}

func TestDocumentScreen_RegisterAndCheck(t *testing.T) {
	ctx := context.Background()
	enc := features.New(features.Options{Layout: features.MultimodalLayout(), Images: imgembed.HashEncoder{}})
	screen := NewDocumentScreen(enc, semantic.NewMemoryStore(), DefaultOptions())

	forged := testPNG(t)
	require.NoError(t, screen.Register(ctx, "tpl-1", forged))

	r, err := screen.Check(ctx, forged)
	require.NoError(t, err)
	assert.Equal(t, VerdictFraud, r.Verdict)
	assert.Equal(t, "tpl-1", r.TemplateID)

	_, err = screen.Check(ctx, []byte("garbage"))
	assert.ErrorIs(t, err, domain.ErrEncoding)
}
