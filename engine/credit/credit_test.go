package credit

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vectorcm/credit-memory/engine/decision"
	"github.com/vectorcm/credit-memory/engine/domain"
	"github.com/vectorcm/credit-memory/engine/fraud"
	"github.com/vectorcm/credit-memory/engine/policy"
	"github.com/vectorcm/credit-memory/engine/twin"
)

type stubAssessor struct {
	d     decision.Decision
	err   error
	calls int32
}

func (a *stubAssessor) Assess(context.Context, domain.ApplicantRecord) (decision.Assessment, error) {
	atomic.AddInt32(&a.calls, 1)
	return decision.Assessment{Decision: a.d}, a.err
}

type stubScreener struct {
	res fraud.ProfileResult
	err error
}

func (s stubScreener) Check(context.Context, domain.ApplicantRecord) (fraud.ProfileResult, error) {
	return s.res, s.err
}

type stubTwins struct {
	twin *twin.Twin
	err  error
	min  float64
	hits int
}

func (f *stubTwins) Find(_ context.Context, _ domain.ApplicantRecord, minSimilarity float64) (*twin.Twin, error) {
	f.hits++
	f.min = minSimilarity
	return f.twin, f.err
}

type stubExplainer struct{}

func (stubExplainer) ExplainDecision(_ context.Context, _ domain.ApplicantRecord, d decision.Decision, _ []decision.Similar) string {
	return "explained " + d.Approval
}

func (stubExplainer) ExplainFraud(_ context.Context, res fraud.ProfileResult) string {
	return "alert " + res.AlertLevel
}

func decided(conf float64) decision.Decision {
	th := policy.Default()
	return decision.Decision{Confidence: conf, Tier: th.RiskTier(conf), Approval: th.ApprovalBand(conf), Positive: int(conf * 20), Total: 20, Recommendation: "rec"}
}

func successTwin() *twin.Twin {
	rec := domain.ClientRecord{ApplicantRecord: domain.DefaultApplicant(), Outcome: domain.OutcomeRepaid}
	rec.ClientID = "T-1"
	rec.Income = 2500
	return &twin.Twin{ID: "T-1", Similarity: 0.8, Record: rec}
}

func TestAssess_Approved(t *testing.T) {
	twins := &stubTwins{twin: successTwin()}
	svc := New(&stubAssessor{d: decided(0.9)}, Options{
		Thresholds: policy.Default(),
		Screener:   stubScreener{res: fraud.ProfileResult{AlertLevel: fraud.LevelLow}},
		Twins:      twins,
		Explainer:  stubExplainer{},
	})
	rep, err := svc.Assess(context.Background(), domain.DefaultApplicant())
	require.NoError(t, err)
	assert.Equal(t, "approve", rep.Decision.Approval)
	assert.Equal(t, "explained approve", rep.Explanation)
	assert.Nil(t, rep.Twin)
	assert.Zero(t, twins.hits)
	require.NotNil(t, rep.Fraud)
	assert.Empty(t, rep.FraudAlert)
}

func TestAssess_BorderlineGetsTwinAndGaps(t *testing.T) {
	twins := &stubTwins{twin: successTwin()}
	svc := New(&stubAssessor{d: decided(0.5)}, Options{Thresholds: policy.Default(), Twins: twins})
	rep, err := svc.Assess(context.Background(), domain.DefaultApplicant())
	require.NoError(t, err)

	require.NotNil(t, rep.Twin)
	assert.Equal(t, 0.5, twins.min)
	require.NotEmpty(t, rep.Gaps)
	assert.Equal(t, "Income", rep.Gaps[0].Factor)
	assert.Equal(t, "rec", rep.Explanation)
	assert.Nil(t, rep.Fraud)
}

func TestAssess_NoTwinIsNotAnError(t *testing.T) {
	svc := New(&stubAssessor{d: decided(0.2)}, Options{Thresholds: policy.Default(), Twins: &stubTwins{}})
	rep, err := svc.Assess(context.Background(), domain.DefaultApplicant())
	require.NoError(t, err)
	assert.Nil(t, rep.Twin)
	assert.Empty(t, rep.Gaps)
}

func TestAssess_NoDataSkipsTwin(t *testing.T) {
	twins := &stubTwins{twin: successTwin()}
	empty := decision.Decision{Tier: decision.TierUnknown, Approval: decision.ApprovalReview}
	_, err := New(&stubAssessor{d: empty}, Options{Thresholds: policy.Default(), Twins: twins}).Assess(context.Background(), domain.DefaultApplicant())
	require.NoError(t, err)
	assert.Zero(t, twins.hits)
}

func TestAssess_SuspiciousFraudGetsAlert(t *testing.T) {
	svc := New(&stubAssessor{d: decided(0.9)}, Options{
		Thresholds: policy.Default(),
		Screener:   stubScreener{res: fraud.ProfileResult{IsSuspicious: true, AlertLevel: fraud.LevelHigh}},
		Explainer:  stubExplainer{},
	})
	rep, err := svc.Assess(context.Background(), domain.DefaultApplicant())
	require.NoError(t, err)
	assert.Equal(t, "alert high", rep.FraudAlert)
}

func TestAssess_InvalidApplicant(t *testing.T) {
	a := &stubAssessor{d: decided(0.9)}
	r := domain.DefaultApplicant()
	r.Income = -5
	_, err := New(a, Options{Thresholds: policy.Default()}).Assess(context.Background(), r)
	assert.ErrorIs(t, err, domain.ErrNegativeAmount)
	assert.Zero(t, atomic.LoadInt32(&a.calls))
}

func TestAssess_Errors(t *testing.T) {
	idx := errors.New("qdrant down")
	_, err := New(&stubAssessor{err: idx}, Options{Thresholds: policy.Default()}).Assess(context.Background(), domain.DefaultApplicant())
	assert.ErrorIs(t, err, idx)

	_, err = New(&stubAssessor{d: decided(0.9)}, Options{
		Thresholds: policy.Default(),
		Screener:   stubScreener{err: domain.ErrIndexUnavailable},
	}).Assess(context.Background(), domain.DefaultApplicant())
	assert.ErrorIs(t, err, domain.ErrIndexUnavailable)

	_, err = New(&stubAssessor{d: decided(0.3)}, Options{
		Thresholds: policy.Default(),
		Twins:      &stubTwins{err: domain.ErrIndexUnavailable},
	}).Assess(context.Background(), domain.DefaultApplicant())
	assert.ErrorIs(t, err, domain.ErrIndexUnavailable)
}

// rendezvous blocks each side until the other has started, so it only
// completes when both run concurrently.
type rendezvous struct {
	a, b chan struct{}
}

type meetingAssessor struct{ r rendezvous }

func (m meetingAssessor) Assess(context.Context, domain.ApplicantRecord) (decision.Assessment, error) {
	close(m.r.a)
	select {
	case <-m.r.b:
		return decision.Assessment{Decision: decided(0.9)}, nil
	case <-time.After(2 * time.Second):
		return decision.Assessment{}, errors.New("screen never started")
	}
}

type meetingScreener struct{ r rendezvous }

func (m meetingScreener) Check(context.Context, domain.ApplicantRecord) (fraud.ProfileResult, error) {
	close(m.r.b)
	select {
	case <-m.r.a:
		return fraud.ProfileResult{AlertLevel: fraud.LevelNone}, nil
	case <-time.After(2 * time.Second):
		return fraud.ProfileResult{}, errors.New("decision never started")
	}
}

func TestAssess_ScreenAndDecisionRunConcurrently(t *testing.T) {
	r := rendezvous{a: make(chan struct{}), b: make(chan struct{})}
	svc := New(meetingAssessor{r}, Options{Thresholds: policy.Default(), Screener: meetingScreener{r}})
	_, err := svc.Assess(context.Background(), domain.DefaultApplicant())
	require.NoError(t, err)
}
