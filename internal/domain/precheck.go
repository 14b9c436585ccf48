package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// TriggerThresholds son los umbrales que debe superar una oportunidad para disparar un rebalanceo.
type TriggerThresholds struct {
	MinPortfolioUSD float64 // por debajo nunca se rebalancea
	MinRatio        float64 // opportunityApy / portfolioApy
	MinDiffPP       float64 // opportunityApy - portfolioApy, en puntos porcentuales
}

// DefaultTriggerThresholds devuelve ratio ≥ 1.10 y diferencia ≥ 2pp.
func DefaultTriggerThresholds() TriggerThresholds {
	return TriggerThresholds{MinPortfolioUSD: 50, MinRatio: 1.10, MinDiffPP: 2.0}
}

// ShouldTrigger decide si la mejora de APY justifica rebalancear.
//
// Una cartera sin rendimiento (portfolioApy == 0) siempre dispara si supera el mínimo en USD.
func ShouldTrigger(portfolioApy, opportunityApy float64, totalAssetsUSD decimal.Decimal, th TriggerThresholds) (bool, string) {
	if totalAssetsUSD.LessThan(decimal.NewFromFloat(th.MinPortfolioUSD)) {
		return false, fmt.Sprintf("portfolio $%s below minimum $%.2f", totalAssetsUSD.StringFixed(2), th.MinPortfolioUSD)
	}
	if portfolioApy == 0 {
		return true, fmt.Sprintf("idle portfolio, opportunity %.2f%%", opportunityApy)
	}

	ratio := opportunityApy / portfolioApy
	diff := opportunityApy - portfolioApy
	if ratio >= th.MinRatio && diff >= th.MinDiffPP {
		return true, fmt.Sprintf("opportunity %.2f%% vs portfolio %.2f%% (x%.2f, +%.2fpp)", opportunityApy, portfolioApy, ratio, diff)
	}
	return false, fmt.Sprintf("improvement too small: x%.2f, +%.2fpp", ratio, diff)
}
