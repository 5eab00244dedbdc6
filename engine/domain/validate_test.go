package domain

import (
	"errors"
	"math"
	"testing"
)

func TestValidateApplicant_Valid(t *testing.T) {
	cases := []ApplicantRecord{
		DefaultApplicant(),
		{EmploymentType: EmploymentFormal, Income: 4200, DebtRatio: 1, IncomeStability: 0},
		{EmploymentType: EmploymentMixed},
	}
	for _, r := range cases {
		if err := ValidateApplicant(r); err != nil {
			t.Errorf("expected valid for %+v, got %v", r, err)
		}
	}
}

func TestValidateApplicant_NegativeAmount(t *testing.T) {
	r := DefaultApplicant()
	r.Debt = -10
	err := ValidateApplicant(r)
	if !errors.Is(err, ErrNegativeAmount) {
		t.Fatalf("expected ErrNegativeAmount, got %v", err)
	}
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatal("expected *ValidationError")
	}
	if ve.Field != "debt" || ve.Value != "-10" {
		t.Errorf("unexpected field/value: %q %q", ve.Field, ve.Value)
	}
}

func TestValidateApplicant_RatioOutOfRange(t *testing.T) {
	r := DefaultApplicant()
	r.PaymentConsistency = 1.2
	if err := ValidateApplicant(r); !errors.Is(err, ErrRatioOutOfRange) {
		t.Errorf("expected ErrRatioOutOfRange, got %v", err)
	}
}

func TestValidateApplicant_NotFinite(t *testing.T) {
	cases := map[string]func(*ApplicantRecord){
		"nan ratio":     func(r *ApplicantRecord) { r.DebtRatio = math.NaN() },
		"inf amount":    func(r *ApplicantRecord) { r.Income = math.Inf(1) },
		"nan amount":    func(r *ApplicantRecord) { r.LoanAmount = math.NaN() },
		"-inf ratio":    func(r *ApplicantRecord) { r.LedgerQuality = math.Inf(-1) },
		"nan stability": func(r *ApplicantRecord) { r.IncomeStability = math.NaN() },
	}
	for name, mutate := range cases {
		r := DefaultApplicant()
		mutate(&r)
		if err := ValidateApplicant(r); !errors.Is(err, ErrNotFinite) {
			t.Errorf("%s: expected ErrNotFinite, got %v", name, err)
		}
	}

	// A numeric string "NaN" decodes to NaN and must not pass.
	r := ApplicantFromPayload(map[string]any{"debt_ratio": "NaN"})
	if err := ValidateApplicant(r); !errors.Is(err, ErrNotFinite) {
		t.Errorf("payload NaN: expected ErrNotFinite, got %v", err)
	}
}

func TestValidateApplicant_UnknownEmployment(t *testing.T) {
	r := DefaultApplicant()
	r.EmploymentType = "freelance"
	if err := ValidateApplicant(r); !errors.Is(err, ErrUnknownEmployment) {
		t.Errorf("expected ErrUnknownEmployment, got %v", err)
	}
}

func TestValidationError_Message(t *testing.T) {
	e := NewValidationError("income", "-1", ErrNegativeAmount)
	want := `validation: amount must not be negative: income (value="-1")`
	if e.Error() != want {
		t.Errorf("got %q, want %q", e.Error(), want)
	}
}
