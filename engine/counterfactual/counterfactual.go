// Package counterfactual answers what-if questions: it applies attribute
// modifications to an applicant, reruns the decision pipeline and reports
// how confidence and risk tier move.
package counterfactual

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/vectorcm/credit-memory/engine/decision"
	"github.com/vectorcm/credit-memory/engine/domain"
	"github.com/vectorcm/credit-memory/engine/policy"
	"github.com/vectorcm/credit-memory/pkg/metrics"
)

// Verdicts.
const (
	VerdictImproved  = "improved"
	VerdictWorsened  = "worsened"
	VerdictUnchanged = "unchanged"
)

// Assessor runs encode, query and decide for one applicant.
type Assessor interface {
	Assess(ctx context.Context, r domain.ApplicantRecord) (decision.Assessment, error)
}

// Narrator turns the plan into prose. It must not fail.
type Narrator interface {
	ImprovementPath(ctx context.Context, r domain.ApplicantRecord, steps []string, fromTier, toTier string) string
}

// Change is one modification as it was actually applied.
type Change struct {
	Attribute string  `json:"attribute"`
	Before    float64 `json:"before"`
	After     float64 `json:"after"`
}

// Delta is the signed effective change.
func (c Change) Delta() float64 { return c.After - c.Before }

// Result is the outcome of a simulation.
type Result struct {
	OriginalRisk     string   `json:"original_risk"`
	ModifiedRisk     string   `json:"modified_risk"`
	ConfidenceBefore float64  `json:"confidence_before"`
	ConfidenceAfter  float64  `json:"confidence_after"`
	Delta            float64  `json:"confidence_delta"`
	Verdict          string   `json:"risk_change"`
	Significant      bool     `json:"significant"`
	Changes          []Change `json:"changes"`
	Steps            []string `json:"improvement_path"`
	Ignored          []string `json:"ignored,omitempty"`
	Narrative        string   `json:"narrative,omitempty"`
}

// Options configures a Simulator.
type Options struct {
	Thresholds policy.Thresholds
	Narrator   Narrator
	Logger     *slog.Logger
	Metrics    *metrics.Manager
}

// Simulator runs counterfactual simulations.
type Simulator struct {
	assessor Assessor
	th       policy.Thresholds
	narrator Narrator
	logger   *slog.Logger
	metrics  *metrics.Manager
}

// New creates a Simulator.
func New(assessor Assessor, opts Options) *Simulator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Simulator{
		assessor: assessor,
		th:       opts.Thresholds,
		narrator: opts.Narrator,
		logger:   logger,
		metrics:  opts.Metrics,
	}
}

// Simulate applies mods to r and compares both decisions. A modification
// with |delta| < 1 is relative (new = old + old*delta), otherwise absolute.
// Unknown attributes are ignored and listed in Result.Ignored.
func (s *Simulator) Simulate(ctx context.Context, r domain.ApplicantRecord, mods map[string]float64) (Result, error) {
	modified, changes, ignored := Apply(r, mods)
	for _, k := range ignored {
		s.logger.Debug("counterfactual: modification ignored", "attribute", k, "err", domain.ErrInvalidModification)
	}

	before, err := s.assessor.Assess(ctx, r)
	if err != nil {
		return Result{}, fmt.Errorf("counterfactual: original: %w", err)
	}
	after := before
	if len(changes) > 0 {
		after, err = s.assessor.Assess(ctx, modified)
		if err != nil {
			return Result{}, fmt.Errorf("counterfactual: modified: %w", err)
		}
	}

	res := Compare(s.th.Counterfactual, before.Decision, after.Decision)
	res.Changes = changes
	res.Ignored = ignored
	res.Steps = Steps(changes, before.Tier, after.Tier)
	if s.narrator != nil {
		res.Narrative = s.narrator.ImprovementPath(ctx, r, res.Steps, res.OriginalRisk, res.ModifiedRisk)
	}

	s.metrics.RecordCounterfactual(res.Verdict)
	s.logger.Info("counterfactual",
		"client_id", r.ClientID,
		"from", res.OriginalRisk,
		"to", res.ModifiedRisk,
		"delta", res.Delta,
		"verdict", res.Verdict,
	)
	return res, nil
}

// Apply returns a modified copy of r. Keys are processed in sorted order so
// that aliases of the same field resolve deterministically. Changes lists
// only attributes whose stored value actually moved.
func Apply(r domain.ApplicantRecord, mods map[string]float64) (domain.ApplicantRecord, []Change, []string) {
	keys := make([]string, 0, len(mods))
	for k := range mods {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var (
		changes []Change
		ignored []string
	)
	for _, k := range keys {
		attr, ok := domain.LookupAttribute(k)
		if !ok || math.IsNaN(mods[k]) || math.IsInf(mods[k], 0) {
			ignored = append(ignored, k)
			continue
		}
		old := attr.Get(r)
		got := attr.Set(&r, shift(old, mods[k]))
		if got == old {
			continue
		}
		changes = append(changes, Change{Attribute: attr.Name, Before: old, After: got})
	}
	return r, changes, ignored
}

func shift(old, delta float64) float64 {
	if math.Abs(delta) < 1 {
		return old + old*delta
	}
	return old + delta
}

// Compare derives the verdict from two decisions. |delta| within the
// verdict band is unchanged; beyond the significant band it is flagged.
func Compare(b policy.CounterfactualBands, before, after decision.Decision) Result {
	delta := after.Confidence - before.Confidence
	verdict := VerdictUnchanged
	switch {
	case delta > b.Verdict:
		verdict = VerdictImproved
	case delta < -b.Verdict:
		verdict = VerdictWorsened
	}
	return Result{
		OriginalRisk:     before.Tier,
		ModifiedRisk:     after.Tier,
		ConfidenceBefore: before.Confidence,
		ConfidenceAfter:  after.Confidence,
		Delta:            delta,
		Verdict:          verdict,
		Significant:      math.Abs(delta) > b.Significant,
	}
}

var tierRank = map[string]int{"LOW": 0, "MEDIUM": 1, "HIGH": 2, "CRITICAL": 3}

func rank(tier string) int {
	if r, ok := tierRank[tier]; ok {
		return r
	}
	return len(tierRank)
}

// Steps renders one remediation phrase per change followed by the tier
// movement summary.
func Steps(changes []Change, fromTier, toTier string) []string {
	steps := make([]string, 0, len(changes)+1)
	for _, c := range changes {
		steps = append(steps, phrase(c))
	}
	switch fr, tr := rank(fromTier), rank(toTier); {
	case tr < fr:
		steps = append(steps, fmt.Sprintf("These changes would improve risk level from %s to %s", fromTier, toTier))
	case tr > fr:
		steps = append(steps, fmt.Sprintf("These changes would worsen risk level from %s to %s", fromTier, toTier))
	default:
		steps = append(steps, fmt.Sprintf("Risk level remains %s", fromTier))
	}
	return steps
}

func phrase(c Change) string {
	attr, _ := domain.LookupAttribute(c.Attribute)
	d := c.Delta()
	mag := math.Abs(d)
	switch c.Attribute {
	case "years_active":
		if d > 0 {
			return fmt.Sprintf("Continue stable business operations for %.1f more years", mag)
		}
		return fmt.Sprintf("Business seniority drops by %.1f years", mag)
	case "seniority_months":
		if d > 0 {
			return fmt.Sprintf("Continue stable business operations for %.0f more months", mag)
		}
		return fmt.Sprintf("Business seniority drops by %.0f months", mag)
	case "debt_ratio":
		if d < 0 {
			return fmt.Sprintf("Reduce debt ratio by %.0f%% (from %.0f%% to %.0f%%)", mag*100, c.Before*100, c.After*100)
		}
		return fmt.Sprintf("Debt ratio rises by %.0f%% (from %.0f%% to %.0f%%)", mag*100, c.Before*100, c.After*100)
	case "income_stability":
		if d > 0 {
			return fmt.Sprintf("Improve income consistency by %.0f%% (reduce month-to-month variance)", mag*100)
		}
		return fmt.Sprintf("Income consistency falls by %.0f%%", mag*100)
	case "payment_consistency", "payment_regularity":
		if d > 0 {
			return fmt.Sprintf("Increase on-time payment rate to %.0f%%", c.After*100)
		}
		return fmt.Sprintf("On-time payment rate falls to %.0f%%", c.After*100)
	}

	verb := "Increase"
	if d < 0 {
		verb = "Reduce"
	}
	if attr.Kind == domain.KindRatio {
		return fmt.Sprintf("%s %s by %.0f%% (to %.0f%%)", verb, strings.ToLower(attr.Label), mag*100, c.After*100)
	}
	return fmt.Sprintf("%s %s by %s (to %s)", verb, strings.ToLower(attr.Label), amount(mag), amount(c.After))
}

func amount(v float64) string {
	if v == math.Trunc(v) {
		return fmt.Sprintf("%.0f", v)
	}
	return fmt.Sprintf("%.2f", v)
}
