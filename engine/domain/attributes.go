package domain

import (
	"math"
	"sort"
	"strings"
)

// AttributeKind decides how a modified value is clamped.
type AttributeKind int

const (
	// KindAmount is a money, count or duration value: non-negative.
	KindAmount AttributeKind = iota
	// KindRatio is a fraction in [0,1].
	KindRatio
)

// Attribute is a named, modifiable numeric field of an ApplicantRecord.
// Unit converts the caller's unit into the stored one (years_active is
// expressed in years but stored as seniority months).
type Attribute struct {
	Name  string
	Label string
	Kind  AttributeKind
	Unit  float64

	get func(*ApplicantRecord) float64
	set func(*ApplicantRecord, float64)
}

// Get returns the attribute value in the caller's unit.
func (a Attribute) Get(r ApplicantRecord) float64 {
	return a.get(&r) / a.Unit
}

// Set stores v (caller's unit) into r after clamping to the attribute's
// valid range. It returns the value actually stored, in the caller's unit.
func (a Attribute) Set(r *ApplicantRecord, v float64) float64 {
	v = a.Clamp(v)
	a.set(r, v*a.Unit)
	return v
}

// Clamp bounds v to the attribute's valid range.
func (a Attribute) Clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	switch a.Kind {
	case KindRatio:
		return clamp01(v)
	default:
		if v < 0 {
			return 0
		}
		return v
	}
}

var attributes = map[string]Attribute{}

func register(name, label string, kind AttributeKind, unit float64, f func(*ApplicantRecord) *float64) {
	attributes[name] = Attribute{
		Name:  name,
		Label: label,
		Kind:  kind,
		Unit:  unit,
		get:   func(r *ApplicantRecord) float64 { return *f(r) },
		set:   func(r *ApplicantRecord, v float64) { *f(r) = v },
	}
}

func init() {
	register("income", "Income", KindAmount, 1, func(r *ApplicantRecord) *float64 { return &r.Income })
	register("monthly_income", "Income", KindAmount, 1, func(r *ApplicantRecord) *float64 { return &r.Income })
	register("expenses", "Expenses", KindAmount, 1, func(r *ApplicantRecord) *float64 { return &r.Expenses })
	register("debt", "Debt", KindAmount, 1, func(r *ApplicantRecord) *float64 { return &r.Debt })
	register("age", "Age", KindAmount, 1, func(r *ApplicantRecord) *float64 { return &r.Age })
	register("seniority_months", "Business Seniority", KindAmount, 1, func(r *ApplicantRecord) *float64 { return &r.SeniorityMonths })
	register("years_active", "Business Seniority", KindAmount, 12, func(r *ApplicantRecord) *float64 { return &r.SeniorityMonths })
	register("loan_amount", "Loan Amount", KindAmount, 1, func(r *ApplicantRecord) *float64 { return &r.LoanAmount })
	register("payment_consistency", "Payment Consistency", KindRatio, 1, func(r *ApplicantRecord) *float64 { return &r.PaymentConsistency })
	register("payment_regularity", "Payment Consistency", KindRatio, 1, func(r *ApplicantRecord) *float64 { return &r.PaymentConsistency })
	register("income_stability", "Income Stability", KindRatio, 1, func(r *ApplicantRecord) *float64 { return &r.IncomeStability })
	register("debt_ratio", "Debt Ratio", KindRatio, 1, func(r *ApplicantRecord) *float64 { return &r.DebtRatio })
	register("mobile_payment_ratio", "Mobile Payment Ratio", KindRatio, 1, func(r *ApplicantRecord) *float64 { return &r.MobilePaymentRatio })
	register("ledger_quality_score", "Ledger Quality", KindRatio, 1, func(r *ApplicantRecord) *float64 { return &r.LedgerQuality })
}

// LookupAttribute resolves a modifiable attribute by payload key.
func LookupAttribute(name string) (Attribute, bool) {
	a, ok := attributes[strings.ToLower(strings.TrimSpace(name))]
	return a, ok
}

// AttributeNames lists every accepted key, sorted.
func AttributeNames() []string {
	names := make([]string, 0, len(attributes))
	for n := range attributes {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
