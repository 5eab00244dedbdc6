package domain

import "strings"

// Checkpoint labels of the observation schedule.
const (
	CheckpointApplication = "T0_application"
	CheckpointThreeMonths = "T1_3months"
	CheckpointSixMonths   = "T2_6months"
)

// CheckpointOrder returns the ordinal of a checkpoint label. Unknown labels
// sort after every known one.
func CheckpointOrder(label string) int {
	switch label {
	case CheckpointApplication:
		return 0
	case CheckpointThreeMonths:
		return 1
	case CheckpointSixMonths:
		return 2
	}
	return 999
}

// Snapshot is one observation of a client at a checkpoint.
type Snapshot struct {
	ClientID          string  `json:"client_id"`
	Checkpoint        string  `json:"timestamp"`
	Date              string  `json:"date"`
	RiskScore         float64 `json:"risk_score"`
	Status            string  `json:"status"`
	DebtRatio         float64 `json:"debt_ratio"`
	IncomeStability   float64 `json:"income_stability"`
	PaymentRegularity float64 `json:"payment_regularity"`
}

// SnapshotFromPayload decodes a temporal collection payload.
func SnapshotFromPayload(p map[string]any) Snapshot {
	return Snapshot{
		ClientID:          stringOr(p, KeyClientID, ""),
		Checkpoint:        stringOr(p, KeyCheckpoint, ""),
		Date:              stringOr(p, "date", ""),
		RiskScore:         floatOr(p, "risk_score", 0),
		Status:            strings.ToLower(stringOr(p, "status", "unknown")),
		DebtRatio:         floatOr(p, "debt_ratio", DefaultDebtRatio),
		IncomeStability:   floatOr(p, "income_stability", DefaultIncomeStability),
		PaymentRegularity: floatOr(p, "payment_regularity", floatOr(p, "payment_consistency", DefaultPaymentConsistency)),
	}
}

// Payload flattens the snapshot for the temporal collection.
func (s Snapshot) Payload() map[string]any {
	return map[string]any{
		KeyClientID:          s.ClientID,
		KeyCheckpoint:        s.Checkpoint,
		"date":               s.Date,
		"risk_score":         s.RiskScore,
		"status":             s.Status,
		"debt_ratio":         s.DebtRatio,
		"income_stability":   s.IncomeStability,
		"payment_regularity": s.PaymentRegularity,
	}
}
