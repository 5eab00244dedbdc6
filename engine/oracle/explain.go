package oracle

import (
	"context"
	"fmt"
	"strings"

	"github.com/vectorcm/credit-memory/engine/decision"
	"github.com/vectorcm/credit-memory/engine/domain"
	"github.com/vectorcm/credit-memory/engine/fraud"
)

// maxContextClients bounds the similar clients quoted in a prompt.
const maxContextClients = 5

// ExplainDecision explains d to the applicant, citing the similar clients
// that produced it.
func (o *Oracle) ExplainDecision(ctx context.Context, r domain.ApplicantRecord, d decision.Decision, similar []decision.Similar) string {
	var b strings.Builder
	b.WriteString("APPLICANT PROFILE:\n")
	fmt.Fprintf(&b, "- Occupation: %s\n", humanize(r.Archetype))
	fmt.Fprintf(&b, "- Employment type: %s\n", r.EmploymentType)
	fmt.Fprintf(&b, "- Years active: %.1f\n", r.SeniorityMonths/12)
	fmt.Fprintf(&b, "- Debt ratio: %.1f%%\n", r.DebtRatio*100)
	fmt.Fprintf(&b, "- Similar past cases: %d repaid, %d not repaid out of %d\n", d.Positive, d.Total-d.Positive, d.Total)
	if len(similar) > 0 {
		b.WriteString("\nCLOSEST PAST CLIENTS:\n")
		for _, s := range similar[:min(len(similar), maxContextClients)] {
			fmt.Fprintf(&b, "- [%s] outcome: %s, similarity: %.3f, debt ratio: %.0f%%\n",
				s.ClientID, s.Outcome, s.Similarity, s.DebtRatio*100)
		}
	}
	fmt.Fprintf(&b, "\nDECISION: %s\nConfidence: %.1f%%\n", strings.ToUpper(d.Approval), d.Confidence*100)
	b.WriteString(`
Write 2 short sentences that explain the decision using the similar past
cases. If the application is not approved, offer hope and concrete next steps.`)

	if text, ok := o.generate(ctx, KindDecision, b.String()); ok {
		return text
	}
	return DecisionTemplate(d)
}

// DecisionTemplate is the explanation used without a language model.
func DecisionTemplate(d decision.Decision) string {
	switch {
	case d.Total == 0:
		return "We could not find comparable clients in our records, so a credit officer will review your application personally."
	case d.Approval == "approve":
		return fmt.Sprintf("We're pleased with your application. Based on %d out of %d similar clients in our records who repaid, you meet our lending criteria. Your payment history and income stability give us confidence in approving your request.", d.Positive, d.Total)
	case d.Positive > 0:
		return fmt.Sprintf("Thank you for your application. While %d of %d similar clients in our records were successful, we'd like to see stronger financial indicators. We recommend improving your income stability or reducing your debt ratio, and we're ready to help you achieve that.", d.Positive, d.Total)
	}
	return "We need to see stronger financial indicators before approval, and we're ready to help you improve. Consider reducing your debt or stabilizing your income, and reapply soon."
}

// ExplainFraud writes a short analyst alert for a profile screen.
func (o *Oracle) ExplainFraud(ctx context.Context, res fraud.ProfileResult) string {
	if res.AlertLevel == fraud.LevelNone {
		return FraudTemplate(res)
	}
	indicators := "unusual patterns"
	if len(res.Indicators) > 0 {
		indicators = strings.Join(res.Indicators, ", ")
	}
	prompt := fmt.Sprintf(`You are a professional fraud analyst.

Fraud score: %.1f%%
Alert level: %s
Pattern type: %s
Similar fraud cases: %d
Key indicators: %s

Write a 2 sentence professional alert that explains the concern, mentions the
red flags and recommends verification steps. Be firm but not accusatory.`,
		res.FraudScore*100, res.AlertLevel, humanize(res.FraudType), len(res.Similar), indicators)

	if text, ok := o.generate(ctx, KindFraud, prompt); ok {
		return text
	}
	return FraudTemplate(res)
}

// FraudTemplate is the alert used without a language model.
func FraudTemplate(res fraud.ProfileResult) string {
	switch {
	case res.AlertLevel == fraud.LevelNone:
		return "No fraud patterns detected. Profile appears legitimate."
	case res.FraudScore > 0.9:
		return fmt.Sprintf("High fraud risk detected matching known %s patterns.", humanize(res.FraudType))
	case res.AlertLevel == fraud.LevelLow:
		return "Profile does not closely match known fraud patterns."
	}
	return "Potential fraud pattern detected. Additional verification is required."
}

// ImprovementPath narrates an improvement plan moving r from one risk tier
// to another.
func (o *Oracle) ImprovementPath(ctx context.Context, r domain.ApplicantRecord, steps []string, fromTier, toTier string) string {
	var b strings.Builder
	b.WriteString("You are a financial advisor helping an informal worker qualify for credit.\n\n")
	fmt.Fprintf(&b, "Current debt ratio: %.1f%%\n", r.DebtRatio*100)
	fmt.Fprintf(&b, "Years active: %.1f\n", r.SeniorityMonths/12)
	fmt.Fprintf(&b, "Income stability: %.1f%%\n", r.IncomeStability*100)
	fmt.Fprintf(&b, "Risk change: %s -> %s\n\nRequired improvements:\n", fromTier, toTier)
	for _, s := range steps {
		fmt.Fprintf(&b, "- %s\n", s)
	}
	b.WriteString(`
Give 3 to 4 numbered steps. Each step must be realistic for an informal
worker, include a timeline and be concrete and measurable.`)

	if text, ok := o.generate(ctx, KindImprovement, b.String()); ok {
		return text
	}
	return ImprovementTemplate(steps)
}

// ImprovementTemplate numbers the plan's steps.
func ImprovementTemplate(steps []string) string {
	if len(steps) == 0 {
		return "Continue building your financial history."
	}
	lines := make([]string, len(steps))
	for i, s := range steps {
		lines[i] = fmt.Sprintf("%d. %s", i+1, s)
	}
	return strings.Join(lines, "\n")
}
