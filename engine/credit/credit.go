// Package credit runs a full application assessment: the fraud screen and
// the similarity decision in parallel, then the success twin and gap plan
// for applicants below the approval band, then the explanations.
package credit

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/vectorcm/credit-memory/engine/decision"
	"github.com/vectorcm/credit-memory/engine/domain"
	"github.com/vectorcm/credit-memory/engine/fraud"
	"github.com/vectorcm/credit-memory/engine/policy"
	"github.com/vectorcm/credit-memory/engine/twin"
	"github.com/vectorcm/credit-memory/pkg/fn"
)

// Assessor classifies an applicant against the outcome corpus.
type Assessor interface {
	Assess(ctx context.Context, r domain.ApplicantRecord) (decision.Assessment, error)
}

// Screener screens an applicant against the fraud corpus.
type Screener interface {
	Check(ctx context.Context, r domain.ApplicantRecord) (fraud.ProfileResult, error)
}

// TwinFinder retrieves the success twin of an applicant.
type TwinFinder interface {
	Find(ctx context.Context, r domain.ApplicantRecord, minSimilarity float64) (*twin.Twin, error)
}

// Explainer writes the decision and fraud explanations. It must not fail.
type Explainer interface {
	ExplainDecision(ctx context.Context, r domain.ApplicantRecord, d decision.Decision, similar []decision.Similar) string
	ExplainFraud(ctx context.Context, res fraud.ProfileResult) string
}

// Report is the outcome of a full assessment.
type Report struct {
	Applicant   domain.ApplicantRecord `json:"applicant"`
	Decision    decision.Assessment    `json:"decision"`
	Fraud       *fraud.ProfileResult   `json:"fraud_check,omitempty"`
	Twin        *twin.Twin             `json:"success_twin,omitempty"`
	Gaps        []twin.Gap             `json:"gap_analysis,omitempty"`
	Explanation string                 `json:"explanation"`
	FraudAlert  string                 `json:"fraud_alert,omitempty"`
}

// Options configures a Service. Screener, Twins and Explainer are optional.
type Options struct {
	Thresholds policy.Thresholds
	Screener   Screener
	Twins      TwinFinder
	Explainer  Explainer
	Logger     *slog.Logger
}

// Service orchestrates the engines for one application.
type Service struct {
	assessor Assessor
	opts     Options
	logger   *slog.Logger
}

// New creates a Service.
func New(assessor Assessor, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{assessor: assessor, opts: opts, logger: logger}
}

// Assess validates r and runs every configured engine on it.
func (s *Service) Assess(ctx context.Context, r domain.ApplicantRecord) (Report, error) {
	attrs := []attribute.KeyValue{attribute.String("client_id", r.ClientID)}
	pipeline := fn.Then(
		fn.TracedStage("credit.validate", fn.Stage[domain.ApplicantRecord, domain.ApplicantRecord](validate), attrs...),
		fn.Then(
			fn.TracedStage("credit.screen", fn.Stage[domain.ApplicantRecord, Report](s.screen), attrs...),
			fn.Then(
				fn.TracedStage("credit.twin", fn.Stage[Report, Report](s.findTwin), attrs...),
				fn.TracedStage("credit.explain", fn.Stage[Report, Report](s.explain), attrs...),
			),
		),
	)
	rep, err := pipeline(ctx, r).Unwrap()
	if err != nil {
		return Report{}, err
	}
	s.logger.Info("assessment complete",
		"client_id", r.ClientID,
		"tier", rep.Decision.Tier,
		"approval", rep.Decision.Approval,
		"twin", rep.Twin != nil,
		"gaps", len(rep.Gaps),
	)
	return rep, nil
}

func validate(_ context.Context, r domain.ApplicantRecord) fn.Result[domain.ApplicantRecord] {
	if err := domain.ValidateApplicant(r); err != nil {
		return fn.Err[domain.ApplicantRecord](fmt.Errorf("credit: %w", err))
	}
	return fn.Ok(r)
}

// screen runs the decision and the fraud screen concurrently.
func (s *Service) screen(ctx context.Context, r domain.ApplicantRecord) fn.Result[Report] {
	parts := fn.FanOutResult(
		func() fn.Result[Report] {
			a, err := s.assessor.Assess(ctx, r)
			if err != nil {
				return fn.Err[Report](fmt.Errorf("credit: assess: %w", err))
			}
			return fn.Ok(Report{Decision: a})
		},
		func() fn.Result[Report] {
			if s.opts.Screener == nil {
				return fn.Ok(Report{})
			}
			res, err := s.opts.Screener.Check(ctx, r)
			if err != nil {
				return fn.Err[Report](fmt.Errorf("credit: fraud screen: %w", err))
			}
			return fn.Ok(Report{Fraud: &res})
		},
	)
	return fn.FromPair(merge(r, parts))
}

func merge(r domain.ApplicantRecord, parts fn.Result[[]Report]) (Report, error) {
	all, err := parts.Unwrap()
	if err != nil {
		return Report{}, err
	}
	return Report{Applicant: r, Decision: all[0].Decision, Fraud: all[1].Fraud}, nil
}

// findTwin looks for a success twin when the applicant falls short of the
// approval band.
func (s *Service) findTwin(ctx context.Context, rep Report) fn.Result[Report] {
	d := rep.Decision
	if s.opts.Twins == nil || d.Total == 0 || d.Confidence >= s.opts.Thresholds.Approval.Approve {
		return fn.Ok(rep)
	}
	t, err := s.opts.Twins.Find(ctx, rep.Applicant, s.opts.Thresholds.Twin.MinSimilarity)
	if err != nil {
		return fn.Err[Report](fmt.Errorf("credit: success twin: %w", err))
	}
	if t != nil {
		rep.Twin = t
		rep.Gaps = twin.PlanGaps(rep.Applicant, t.Record.ApplicantRecord, s.opts.Thresholds.Materiality)
	}
	return fn.Ok(rep)
}

func (s *Service) explain(ctx context.Context, rep Report) fn.Result[Report] {
	if s.opts.Explainer == nil {
		rep.Explanation = rep.Decision.Recommendation
		return fn.Ok(rep)
	}
	rep.Explanation = s.opts.Explainer.ExplainDecision(ctx, rep.Applicant, rep.Decision.Decision, rep.Decision.Similar)
	if rep.Fraud != nil && rep.Fraud.IsSuspicious {
		rep.FraudAlert = s.opts.Explainer.ExplainFraud(ctx, *rep.Fraud)
	}
	return fn.Ok(rep)
}
