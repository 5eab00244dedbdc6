package features

import "github.com/vectorcm/credit-memory/engine/domain"

// CompactDim is the width of the compact numeric vector.
const CompactDim = 12

// Compact returns the 12-feature numeric vector stored in the compact
// collection. Feature order: income, expenses, debt, age, seniority,
// payment consistency, loan amount, employment scale, mobile payment ratio,
// ledger quality, behavioural risk, fraud flag. The vector is not
// normalised; the index compares by cosine.
func Compact(r domain.ApplicantRecord, fraud bool) []float32 {
	f := financial(r)
	out := make([]float32, 0, CompactDim)
	out = append(out, f[:10]...)
	out = append(out, float32(BehavioralRisk(r)))
	if fraud {
		out = append(out, 1)
	} else {
		out = append(out, 0)
	}
	return out
}
