// Package domain defines the applicant, outcome, and payload types shared by
// every decision engine, together with their documented defaults. It is the
// typed contract between the similarity index payloads and the engines.
package domain

import (
	"encoding/json"
	"strings"
)

// Outcome is the ground-truth result stored with a historical record.
type Outcome string

const (
	OutcomeRepaid    Outcome = "repaid"
	OutcomeDefaulted Outcome = "defaulted"
	OutcomePending   Outcome = "pending"
	OutcomeRejected  Outcome = "rejected"
	OutcomeApproved  Outcome = "approved"
	OutcomeUnknown   Outcome = "unknown"
)

// Positive reports whether the outcome counts toward confidence.
func (o Outcome) Positive() bool {
	return o == OutcomeRepaid || o == OutcomeApproved
}

// ParseOutcome maps a stored value to an Outcome. Strings are matched
// case-insensitively; the legacy integer encoding uses 1 for repaid,
// 0 for defaulted and anything else for unknown.
func ParseOutcome(v any) Outcome {
	switch tv := v.(type) {
	case string:
		switch o := Outcome(strings.ToLower(strings.TrimSpace(tv))); o {
		case OutcomeRepaid, OutcomeDefaulted, OutcomePending, OutcomeRejected, OutcomeApproved:
			return o
		case "default":
			return OutcomeDefaulted
		}
		return OutcomeUnknown
	case bool:
		if tv {
			return OutcomeRepaid
		}
		return OutcomeDefaulted
	}
	if f, ok := toFloat(v); ok {
		switch f {
		case 1:
			return OutcomeRepaid
		case 0:
			return OutcomeDefaulted
		}
	}
	return OutcomeUnknown
}

// EmploymentType is the applicant's declared employment category.
type EmploymentType string

const (
	EmploymentInformal EmploymentType = "informal"
	EmploymentMixed    EmploymentType = "mixed"
	EmploymentFormal   EmploymentType = "formal"
)

// ParseEmployment normalises free-form employment strings. Anything that is
// neither formal nor mixed is informal.
func ParseEmployment(s string) EmploymentType {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case s == "formal" || s == "salaried":
		return EmploymentFormal
	case strings.Contains(s, "mixed"):
		return EmploymentMixed
	case strings.Contains(s, "informal"), s == "":
		return EmploymentInformal
	case strings.Contains(s, "formal"):
		return EmploymentFormal
	}
	return EmploymentInformal
}

// Scale maps the category onto [0,1].
func (e EmploymentType) Scale() float64 {
	switch e {
	case EmploymentFormal:
		return 1.0
	case EmploymentMixed:
		return 0.5
	}
	return 0.0
}

// Phrase is the short description used for the semantic text block.
func (e EmploymentType) Phrase() string {
	switch e {
	case EmploymentFormal:
		return "salaried formal"
	case EmploymentMixed:
		return "partly formal"
	}
	return "informal self-employed"
}

// Default attribute values applied whenever an attribute is missing.
const (
	DefaultArchetype          = "unknown"
	DefaultIncome             = 1500.0
	DefaultSeniorityMonths    = 60.0
	DefaultPaymentConsistency = 0.8
	DefaultIncomeStability    = 0.7
	DefaultDebtRatio          = 0.5
	DefaultMobilePaymentRatio = 0.5
	DefaultLedgerQuality      = 0.5
)

// ApplicantRecord is the raw attribute set of one applicant. Monetary values
// are monthly amounts in the lender's currency. Treat a record as immutable
// once it has been embedded; use Clone for what-if copies.
type ApplicantRecord struct {
	ClientID           string         `json:"client_id,omitempty"`
	Name               string         `json:"name,omitempty"`
	Archetype          string         `json:"archetype"`
	EmploymentType     EmploymentType `json:"employment_type"`
	Income             float64        `json:"income"`
	Expenses           float64        `json:"expenses"`
	Debt               float64        `json:"debt"`
	Age                float64        `json:"age"`
	SeniorityMonths    float64        `json:"seniority_months"`
	PaymentConsistency float64        `json:"payment_consistency"`
	LoanAmount         float64        `json:"loan_amount"`
	IncomeStability    float64        `json:"income_stability"`
	DebtRatio          float64        `json:"debt_ratio"`
	MobilePaymentRatio float64        `json:"mobile_payment_ratio"`
	LedgerQuality      float64        `json:"ledger_quality_score"`
	Narrative          string         `json:"narrative,omitempty"`
}

// DefaultApplicant returns a record with every attribute at its default.
func DefaultApplicant() ApplicantRecord {
	return ApplicantRecord{
		Archetype:          DefaultArchetype,
		EmploymentType:     EmploymentInformal,
		Income:             DefaultIncome,
		SeniorityMonths:    DefaultSeniorityMonths,
		PaymentConsistency: DefaultPaymentConsistency,
		IncomeStability:    DefaultIncomeStability,
		DebtRatio:          DefaultDebtRatio,
		MobilePaymentRatio: DefaultMobilePaymentRatio,
		LedgerQuality:      DefaultLedgerQuality,
	}
}

// Clone returns an independent copy.
func (r ApplicantRecord) Clone() ApplicantRecord { return r }

// UnmarshalJSON decodes on top of DefaultApplicant so that absent keys keep
// their documented defaults. Alias keys used by older payloads are honoured.
func (r *ApplicantRecord) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*r = ApplicantFromPayload(raw)
	return nil
}
