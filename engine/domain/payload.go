package domain

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Payload keys referenced by the engines.
const (
	KeyClientID       = "client_id"
	KeyOutcome        = "outcome"
	KeyActualOutcome  = "actual_outcome"
	KeySocialNetwork  = "social_network"
	KeyCheckpoint     = "timestamp"
	KeyFraudID        = "fraud_id"
	KeyFraudType      = "fraud_type"
	KeyFraudIndicator = "fraud_indicators"
)

// ApplicantFromPayload decodes applicant attributes from a stored payload,
// applying DefaultApplicant for every missing key.
func ApplicantFromPayload(p map[string]any) ApplicantRecord {
	r := DefaultApplicant()
	r.ClientID = stringOr(p, "client_id", "")
	r.Name = stringOr(p, "name", "")
	r.Archetype = stringOr(p, "archetype", stringOr(p, "business_type", r.Archetype))
	if v, ok := p["employment_type"]; ok {
		r.EmploymentType = ParseEmployment(stringOf(v))
	}
	r.Income = floatOr(p, "income", floatOr(p, "monthly_income", r.Income))
	r.Expenses = floatOr(p, "expenses", r.Expenses)
	r.Debt = floatOr(p, "debt", r.Debt)
	r.Age = floatOr(p, "age", r.Age)
	if v, ok := lookupFloat(p, "seniority_months"); ok {
		r.SeniorityMonths = v
	} else if v, ok := lookupFloat(p, "years_active"); ok {
		r.SeniorityMonths = v * 12
	}
	r.PaymentConsistency = floatOr(p, "payment_consistency", floatOr(p, "payment_regularity", r.PaymentConsistency))
	r.LoanAmount = floatOr(p, "loan_amount", r.LoanAmount)
	r.IncomeStability = floatOr(p, "income_stability", r.IncomeStability)
	r.DebtRatio = floatOr(p, "debt_ratio", r.DebtRatio)
	r.MobilePaymentRatio = floatOr(p, "mobile_payment_ratio", r.MobilePaymentRatio)
	r.LedgerQuality = floatOr(p, "ledger_quality_score", r.LedgerQuality)
	r.Narrative = stringOr(p, "narrative", stringOr(p, "story", ""))
	return r
}

// Payload flattens the record into index payload form.
func (r ApplicantRecord) Payload() map[string]any {
	p := map[string]any{
		"archetype":            r.Archetype,
		"employment_type":      string(r.EmploymentType),
		"income":               r.Income,
		"expenses":             r.Expenses,
		"debt":                 r.Debt,
		"age":                  r.Age,
		"seniority_months":     r.SeniorityMonths,
		"payment_consistency":  r.PaymentConsistency,
		"loan_amount":          r.LoanAmount,
		"income_stability":     r.IncomeStability,
		"debt_ratio":           r.DebtRatio,
		"mobile_payment_ratio": r.MobilePaymentRatio,
		"ledger_quality_score": r.LedgerQuality,
	}
	if r.ClientID != "" {
		p["client_id"] = r.ClientID
	}
	if r.Name != "" {
		p["name"] = r.Name
	}
	if r.Narrative != "" {
		p["narrative"] = r.Narrative
	}
	return p
}

// Connection is one declared, directed trust edge.
type Connection struct {
	Source   string  `json:"source,omitempty"`
	Target   string  `json:"connection_id"`
	Type     string  `json:"type"`
	Strength float64 `json:"strength"`
}

// ClientRecord is a historical credit record from the outcome corpus.
type ClientRecord struct {
	ApplicantRecord
	Outcome    Outcome      `json:"outcome"`
	LoanSource string       `json:"loan_source,omitempty"`
	Location   string       `json:"location,omitempty"`
	Network    []Connection `json:"social_network,omitempty"`
}

// ClientFromPayload decodes a historical credit record. actual_outcome wins
// over outcome when both exist; a malformed social network decodes empty.
func ClientFromPayload(p map[string]any) ClientRecord {
	c := ClientRecord{
		ApplicantRecord: ApplicantFromPayload(p),
		Outcome:         OutcomeFromPayload(p),
		LoanSource:      stringOr(p, "loan_source", ""),
		Location:        stringOr(p, "location", ""),
	}
	c.Network = DecodeConnections(c.ClientID, p[KeySocialNetwork])
	return c
}

// UnmarshalJSON decodes through the payload form so defaults and aliases
// apply to the embedded applicant as well.
func (c *ClientRecord) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = ClientFromPayload(raw)
	return nil
}

// Payload flattens the client record, encoding the network as JSON text.
func (c ClientRecord) Payload() map[string]any {
	p := c.ApplicantRecord.Payload()
	p[KeyOutcome] = string(c.Outcome)
	p[KeyActualOutcome] = string(c.Outcome)
	if c.LoanSource != "" {
		p["loan_source"] = c.LoanSource
	}
	if c.Location != "" {
		p["location"] = c.Location
	}
	p[KeySocialNetwork] = EncodeConnections(c.Network)
	return p
}

// OutcomeFromPayload reads the ground-truth outcome of a payload.
func OutcomeFromPayload(p map[string]any) Outcome {
	if v, ok := p[KeyActualOutcome]; ok {
		if o := ParseOutcome(v); o != OutcomeUnknown {
			return o
		}
	}
	if v, ok := p[KeyOutcome]; ok {
		return ParseOutcome(v)
	}
	return OutcomeUnknown
}

// DecodeConnections accepts the JSON-encoded edge list stored in payloads,
// or an already decoded list. Strengths are clamped to [0,1] and default to
// 0.5 when absent.
func DecodeConnections(source string, v any) []Connection {
	var items []map[string]any
	switch tv := v.(type) {
	case nil:
		return nil
	case string:
		if strings.TrimSpace(tv) == "" {
			return nil
		}
		if err := json.Unmarshal([]byte(tv), &items); err != nil {
			return nil
		}
	case []any:
		for _, it := range tv {
			if m, ok := it.(map[string]any); ok {
				items = append(items, m)
			}
		}
	case []Connection:
		return tv
	default:
		return nil
	}

	out := make([]Connection, 0, len(items))
	for _, m := range items {
		target := stringOr(m, "connection_id", stringOr(m, "target", ""))
		if target == "" {
			continue
		}
		out = append(out, Connection{
			Source:   source,
			Target:   target,
			Type:     stringOr(m, "type", "unknown"),
			Strength: clamp01(floatOr(m, "strength", 0.5)),
		})
	}
	return out
}

// EncodeConnections renders the JSON text form stored in payloads.
func EncodeConnections(cs []Connection) string {
	if len(cs) == 0 {
		return "[]"
	}
	type wire struct {
		Target   string  `json:"connection_id"`
		Type     string  `json:"type"`
		Strength float64 `json:"strength"`
	}
	ws := make([]wire, len(cs))
	for i, c := range cs {
		ws[i] = wire{Target: c.Target, Type: c.Type, Strength: c.Strength}
	}
	b, _ := json.Marshal(ws)
	return string(b)
}

// FraudPattern is a known fraud case from the fraud corpus.
type FraudPattern struct {
	ApplicantRecord
	FraudID    string   `json:"fraud_id"`
	FraudType  string   `json:"fraud_type"`
	Indicators []string `json:"fraud_indicators"`
	Story      string   `json:"fraud_narrative,omitempty"`
}

// FraudFromPayload decodes a fraud corpus payload. Indicators may be stored
// as a comma separated string or as a list.
func FraudFromPayload(p map[string]any) FraudPattern {
	f := FraudPattern{
		ApplicantRecord: ApplicantFromPayload(p),
		FraudID:         stringOr(p, KeyFraudID, stringOr(p, "client_id", "unknown")),
		FraudType:       stringOr(p, KeyFraudType, "unknown"),
		Story:           stringOr(p, "fraud_narrative", ""),
	}
	switch tv := p[KeyFraudIndicator].(type) {
	case string:
		for _, s := range strings.Split(tv, ",") {
			if s = strings.TrimSpace(s); s != "" {
				f.Indicators = append(f.Indicators, s)
			}
		}
	case []any:
		for _, s := range tv {
			if str := strings.TrimSpace(stringOf(s)); str != "" {
				f.Indicators = append(f.Indicators, str)
			}
		}
	case []string:
		f.Indicators = tv
	}
	return f
}

func (f *FraudPattern) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*f = FraudFromPayload(raw)
	return nil
}

// Payload flattens the fraud pattern.
func (f FraudPattern) Payload() map[string]any {
	p := f.ApplicantRecord.Payload()
	p[KeyFraudID] = f.FraudID
	p[KeyFraudType] = f.FraudType
	p[KeyFraudIndicator] = strings.Join(f.Indicators, ",")
	p["is_fraud"] = true
	if f.Story != "" {
		p["fraud_narrative"] = f.Story
	}
	return p
}

func lookupFloat(p map[string]any, key string) (float64, bool) {
	v, ok := p[key]
	if !ok || v == nil {
		return 0, false
	}
	return toFloat(v)
}

func floatOr(p map[string]any, key string, def float64) float64 {
	if v, ok := lookupFloat(p, key); ok {
		return v
	}
	return def
}

func stringOr(p map[string]any, key, def string) string {
	v, ok := p[key]
	if !ok || v == nil {
		return def
	}
	if s := stringOf(v); s != "" {
		return s
	}
	return def
}

func stringOf(v any) string {
	switch tv := v.(type) {
	case string:
		return tv
	case []byte:
		return string(tv)
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(tv, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(tv, 10)
	case int:
		return strconv.Itoa(tv)
	case bool:
		return strconv.FormatBool(tv)
	}
	return ""
}

func toFloat(v any) (float64, bool) {
	switch tv := v.(type) {
	case float64:
		return tv, true
	case float32:
		return float64(tv), true
	case int:
		return float64(tv), true
	case int64:
		return float64(tv), true
	case int32:
		return float64(tv), true
	case uint64:
		return float64(tv), true
	case json.Number:
		f, err := tv.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(tv), 64)
		return f, err == nil
	case bool:
		if tv {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
