package twin

import (
	"fmt"
	"math"

	"github.com/vectorcm/credit-memory/engine/domain"
	"github.com/vectorcm/credit-memory/engine/policy"
)

// Gap is one material difference between an applicant and their twin.
type Gap struct {
	Factor  string  `json:"factor"`
	Current float64 `json:"current"`
	Target  float64 `json:"target"`
	Gap     float64 `json:"gap"`
	Display string  `json:"display"`
	Action  string  `json:"action"`
}

// PlanGaps compares r with the twin factor by factor. A factor is listed
// only when its absolute gap is strictly greater than its materiality.
func PlanGaps(r, twin domain.ApplicantRecord, m policy.Materiality) []Gap {
	gaps := []Gap{}

	if g := twin.Income - r.Income; math.Abs(g) > m.Income {
		gaps = append(gaps, Gap{
			Factor:  "Income",
			Current: r.Income,
			Target:  twin.Income,
			Gap:     g,
			Display: fmt.Sprintf("$%.0f → $%.0f", r.Income, twin.Income),
			Action:  fmt.Sprintf("%s income by $%.0f", pick(g > 0, "Increase", "Decrease"), math.Abs(g)),
		})
	}
	if g := r.Debt - twin.Debt; math.Abs(g) > m.Debt {
		gaps = append(gaps, Gap{
			Factor:  "Debt",
			Current: r.Debt,
			Target:  twin.Debt,
			Gap:     g,
			Display: fmt.Sprintf("$%.0f → $%.0f", r.Debt, twin.Debt),
			Action:  fmt.Sprintf("%s debt by $%.0f", pick(g > 0, "Reduce", "Increase"), math.Abs(g)),
		})
	}
	if g := twin.SeniorityMonths - r.SeniorityMonths; math.Abs(g) > m.SeniorityMonths {
		action := fmt.Sprintf("Build %.0f more months of track record", g)
		if g < 0 {
			action = fmt.Sprintf("Track record already exceeds twin by %.0f months", -g)
		}
		gaps = append(gaps, Gap{
			Factor:  "Business Seniority",
			Current: r.SeniorityMonths,
			Target:  twin.SeniorityMonths,
			Gap:     g,
			Display: fmt.Sprintf("%.0f → %.0f months", r.SeniorityMonths, twin.SeniorityMonths),
			Action:  action,
		})
	}
	if g := twin.PaymentConsistency - r.PaymentConsistency; math.Abs(g) > m.PaymentConsistency {
		gaps = append(gaps, ratioGap("Payment Consistency", "consistency", r.PaymentConsistency, twin.PaymentConsistency, g))
	}
	if g := twin.IncomeStability - r.IncomeStability; math.Abs(g) > m.IncomeStability {
		gaps = append(gaps, ratioGap("Income Stability", "income stability", r.IncomeStability, twin.IncomeStability, g))
	}
	if g := r.DebtRatio - twin.DebtRatio; math.Abs(g) > m.DebtRatio {
		gaps = append(gaps, Gap{
			Factor:  "Debt Ratio",
			Current: r.DebtRatio,
			Target:  twin.DebtRatio,
			Gap:     g,
			Display: fmt.Sprintf("%.0f%% → %.0f%%", r.DebtRatio*100, twin.DebtRatio*100),
			Action:  fmt.Sprintf("%s debt ratio by %.0f%%", pick(g > 0, "Reduce", "Increase"), math.Abs(g)*100),
		})
	}
	if g := r.Expenses - twin.Expenses; math.Abs(g) > m.Expenses {
		gaps = append(gaps, Gap{
			Factor:  "Expenses",
			Current: r.Expenses,
			Target:  twin.Expenses,
			Gap:     g,
			Display: fmt.Sprintf("$%.0f → $%.0f", r.Expenses, twin.Expenses),
			Action:  fmt.Sprintf("%s monthly expenses by $%.0f", pick(g > 0, "Reduce", "Increase"), math.Abs(g)),
		})
	}
	return gaps
}

func ratioGap(factor, noun string, current, target, g float64) Gap {
	action := fmt.Sprintf("Improve %s by %.0f%%", noun, g*100)
	if g < 0 {
		action = fmt.Sprintf("%s already exceeds twin by %.0f%%", factor, -g*100)
	}
	return Gap{
		Factor:  factor,
		Current: current,
		Target:  target,
		Gap:     g,
		Display: fmt.Sprintf("%.0f%% → %.0f%%", current*100, target*100),
		Action:  action,
	}
}

func pick(cond bool, a, b string) string {
	if cond {
		return a
	}
	return b
}
