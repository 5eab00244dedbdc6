// Package policy holds the decision thresholds shared by every engine so
// that risk tiers, approval bands and fraud levels are derived from one
// place.
package policy

import (
	"errors"
	"fmt"
)

// Thresholds is the single source of truth for numeric decision cut-offs.
type Thresholds struct {
	Risk           RiskBands           `koanf:"risk" json:"risk"`
	Approval       ApprovalBands       `koanf:"approval" json:"approval"`
	Fraud          FraudBands          `koanf:"fraud" json:"fraud"`
	Document       DocumentBands       `koanf:"document" json:"document"`
	Counterfactual CounterfactualBands `koanf:"counterfactual" json:"counterfactual"`
	Twin           TwinPolicy          `koanf:"twin" json:"twin"`
	Materiality    Materiality         `koanf:"materiality" json:"materiality"`
	DecisionK      int                 `koanf:"decision_k" json:"decision_k"`
	FraudK         int                 `koanf:"fraud_k" json:"fraud_k"`
}

// RiskBands are the lower bounds of the LOW, MEDIUM and HIGH tiers.
type RiskBands struct {
	Low    float64 `koanf:"low" json:"low"`
	Medium float64 `koanf:"medium" json:"medium"`
	High   float64 `koanf:"high" json:"high"`
}

// ApprovalBands drive the approve/borderline/reject classification.
type ApprovalBands struct {
	Approve    float64 `koanf:"approve" json:"approve"`
	Borderline float64 `koanf:"borderline" json:"borderline"`
}

// FraudBands classify a calibrated fraud score. Scores below
// PenaltyBelow lose Penalty before classification.
type FraudBands struct {
	Critical     float64 `koanf:"critical" json:"critical"`
	High         float64 `koanf:"high" json:"high"`
	Medium       float64 `koanf:"medium" json:"medium"`
	PenaltyBelow float64 `koanf:"penalty_below" json:"penalty_below"`
	Penalty      float64 `koanf:"penalty" json:"penalty"`
}

// DocumentBands classify document image similarity to known forgeries.
type DocumentBands struct {
	Fraud      float64 `koanf:"fraud" json:"fraud"`
	Suspicious float64 `koanf:"suspicious" json:"suspicious"`
}

// CounterfactualBands are the dead-bands around a zero confidence delta.
type CounterfactualBands struct {
	Verdict     float64 `koanf:"verdict" json:"verdict"`
	Significant float64 `koanf:"significant" json:"significant"`
}

// TwinPolicy configures success twin retrieval.
type TwinPolicy struct {
	MinSimilarity float64 `koanf:"min_similarity" json:"min_similarity"`
	Pool          int     `koanf:"pool" json:"pool"`
}

// Materiality is the per-factor gap below which no action is planned.
type Materiality struct {
	Income             float64 `koanf:"income" json:"income"`
	Debt               float64 `koanf:"debt" json:"debt"`
	SeniorityMonths    float64 `koanf:"seniority_months" json:"seniority_months"`
	PaymentConsistency float64 `koanf:"payment_consistency" json:"payment_consistency"`
	IncomeStability    float64 `koanf:"income_stability" json:"income_stability"`
	DebtRatio          float64 `koanf:"debt_ratio" json:"debt_ratio"`
	Expenses           float64 `koanf:"expenses" json:"expenses"`
}

// Default returns the production thresholds.
func Default() Thresholds {
	return Thresholds{
		Risk:     RiskBands{Low: 0.8, Medium: 0.6, High: 0.4},
		Approval: ApprovalBands{Approve: 0.7, Borderline: 0.4},
		Fraud: FraudBands{
			Critical:     0.9,
			High:         0.8,
			Medium:       0.7,
			PenaltyBelow: 0.8,
			Penalty:      0.2,
		},
		Document:       DocumentBands{Fraud: 0.95, Suspicious: 0.85},
		Counterfactual: CounterfactualBands{Verdict: 0.1, Significant: 0.15},
		Twin:           TwinPolicy{MinSimilarity: 0.5, Pool: 50},
		Materiality: Materiality{
			Income:             100,
			Debt:               200,
			SeniorityMonths:    3,
			PaymentConsistency: 0.1,
			IncomeStability:    0.1,
			DebtRatio:          0.1,
			Expenses:           100,
		},
		DecisionK: 50,
		FraudK:    5,
	}
}

var errOrder = errors.New("thresholds out of order")

// Validate checks that every band is inside [0,1] and strictly ordered.
func (t Thresholds) Validate() error {
	check := func(name string, vals ...float64) error {
		for i, v := range vals {
			if v < 0 || v > 1 {
				return fmt.Errorf("policy: %s: value %v outside [0,1]", name, v)
			}
			if i > 0 && vals[i-1] <= v {
				return fmt.Errorf("policy: %s: %w", name, errOrder)
			}
		}
		return nil
	}
	if err := check("risk", t.Risk.Low, t.Risk.Medium, t.Risk.High); err != nil {
		return err
	}
	if err := check("approval", t.Approval.Approve, t.Approval.Borderline); err != nil {
		return err
	}
	if err := check("fraud", t.Fraud.Critical, t.Fraud.High, t.Fraud.Medium); err != nil {
		return err
	}
	if err := check("document", t.Document.Fraud, t.Document.Suspicious); err != nil {
		return err
	}
	for _, v := range []float64{t.Fraud.PenaltyBelow, t.Fraud.Penalty} {
		if err := check("fraud penalty", v); err != nil {
			return err
		}
	}
	if err := check("twin", t.Twin.MinSimilarity); err != nil {
		return err
	}
	if t.Counterfactual.Verdict < 0 || t.Counterfactual.Significant < t.Counterfactual.Verdict {
		return fmt.Errorf("policy: counterfactual: %w", errOrder)
	}
	if t.DecisionK < 1 || t.FraudK < 1 || t.Twin.Pool < 1 {
		return errors.New("policy: query sizes must be positive")
	}
	return nil
}

// RiskTier maps a confidence to its risk tier.
func (t Thresholds) RiskTier(confidence float64) string {
	switch {
	case confidence >= t.Risk.Low:
		return "LOW"
	case confidence >= t.Risk.Medium:
		return "MEDIUM"
	case confidence >= t.Risk.High:
		return "HIGH"
	}
	return "CRITICAL"
}

// ApprovalBand maps a confidence to approve, borderline or reject.
func (t Thresholds) ApprovalBand(confidence float64) string {
	switch {
	case confidence >= t.Approval.Approve:
		return "approve"
	case confidence >= t.Approval.Borderline:
		return "borderline"
	}
	return "reject"
}
