package decision

import (
	"github.com/shopspring/decimal"

	"github.com/SophieXueZhang/medicare-claims-auditor/internal/domain"
)

// Financials splits cost between patient and insurer, rounded to cents:
//
//	deductible applied = min(deductible, cost)
//	coinsurance        = max(0, cost - deductible) * rate
//	patient            = deductible applied + coinsurance
//	insurer            = max(0, cost - patient)
func Financials(cost decimal.Decimal, limits domain.CostLimits) *domain.FinancialBreakdown {
	deductible := decimal.Min(limits.Deductible, cost).Round(2)
	remaining := decimal.Max(decimal.Zero, cost.Sub(limits.Deductible))
	coinsurance := remaining.Mul(limits.CoinsuranceRate).Round(2)
	patient := deductible.Add(coinsurance)
	insurer := decimal.Max(decimal.Zero, cost.Sub(patient)).Round(2)

	return &domain.FinancialBreakdown{
		TotalCost:             cost.Round(2),
		DeductibleApplied:     deductible,
		CoinsuranceRate:       limits.CoinsuranceRate,
		Coinsurance:           coinsurance,
		PatientResponsibility: patient,
		InsurancePayment:      insurer,
	}
}

// CostCompliance scores the insurer payment: 1.0 up to the normal
// threshold, falling linearly to 0.5 at the high threshold and to 0.0 at the
// ultra-high threshold. An exceeded rule ceiling caps the score.
func CostCompliance(payment decimal.Decimal, limits domain.CostLimits, ceilingExceeded bool) float64 {
	p := payment.InexactFloat64()
	normal := limits.NormalCostThreshold.InexactFloat64()
	high := limits.HighCostThreshold.InexactFloat64()
	ultra := limits.UltraHighCostThreshold.InexactFloat64()

	var score float64
	switch {
	case p <= normal:
		score = 1.0
	case p <= high:
		score = 1.0 - 0.5*(p-normal)/(high-normal)
	case p <= ultra:
		score = 0.5 - 0.5*(p-high)/(ultra-high)
	default:
		score = 0
	}

	if ceilingExceeded && score > limits.CeilingExceededScore {
		score = limits.CeilingExceededScore
	}
	return score
}
