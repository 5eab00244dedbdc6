package domain

import (
	"math"
	"strconv"
)

// ValidateApplicant checks an incoming application before it enters the
// engines. The engines themselves clamp out-of-range values; validation is
// the stricter gate used at request boundaries.
func ValidateApplicant(r ApplicantRecord) error {
	amounts := []struct {
		field string
		v     float64
	}{
		{"income", r.Income},
		{"expenses", r.Expenses},
		{"debt", r.Debt},
		{"age", r.Age},
		{"seniority_months", r.SeniorityMonths},
		{"loan_amount", r.LoanAmount},
	}
	for _, a := range amounts {
		if !finite(a.v) {
			return NewValidationError(a.field, formatFloat(a.v), ErrNotFinite)
		}
		if a.v < 0 {
			return NewValidationError(a.field, formatFloat(a.v), ErrNegativeAmount)
		}
	}

	ratios := []struct {
		field string
		v     float64
	}{
		{"payment_consistency", r.PaymentConsistency},
		{"income_stability", r.IncomeStability},
		{"debt_ratio", r.DebtRatio},
		{"mobile_payment_ratio", r.MobilePaymentRatio},
		{"ledger_quality_score", r.LedgerQuality},
	}
	for _, a := range ratios {
		if !finite(a.v) {
			return NewValidationError(a.field, formatFloat(a.v), ErrNotFinite)
		}
		if a.v < 0 || a.v > 1 {
			return NewValidationError(a.field, formatFloat(a.v), ErrRatioOutOfRange)
		}
	}

	switch r.EmploymentType {
	case EmploymentInformal, EmploymentMixed, EmploymentFormal:
	default:
		return NewValidationError("employment_type", string(r.EmploymentType), ErrUnknownEmployment)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
