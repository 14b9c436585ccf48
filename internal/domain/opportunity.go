package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// OpportunityKind distingue préstamo (supply) de liquidez concentrada (LP).
type OpportunityKind int

const (
	KindSupply OpportunityKind = iota
	KindLP
)

func (k OpportunityKind) String() string {
	switch k {
	case KindSupply:
		return "supply"
	case KindLP:
		return "lp"
	default:
		return "unknown"
	}
}

// ParseOpportunityKind es la inversa de String. Devuelve false si no reconoce el valor.
func ParseOpportunityKind(s string) (OpportunityKind, bool) {
	switch s {
	case "supply":
		return KindSupply, true
	case "lp":
		return KindLP, true
	default:
		return KindSupply, false
	}
}

// APYCurve predice el APY (en %) que rendiría una cantidad desplegada en una oportunidad.
// Estimate es síncrono y barato; Real puede consultar al proveedor y nunca falla:
// ante cualquier error degrada a Estimate.
type APYCurve interface {
	Estimate(amountUSD decimal.Decimal) float64
	Real(ctx context.Context, amountUSD decimal.Decimal) float64
}

// Opportunity es un destino de capital candidato con su curva de APY.
type Opportunity struct {
	ID       string
	Kind     OpportunityKind
	Protocol string
	Chain    string

	// MaxAmount es la capacidad máxima en USD que el optimizador puede asignar.
	MaxAmount decimal.Decimal

	// TargetTokens: un token para supply, dos para LP.
	TargetTokens []string
	// TokenRatios: fracción USD por token; suma 1. Vacío en supply (100% del único token).
	TokenRatios map[string]float64

	// Solo LP.
	PoolAddress      string
	TickLower        int
	TickUpper        int
	PoolLiquidityUSD float64

	// Punto en el que el proveedor cotizó BaseAPY.
	BaseAmount decimal.Decimal
	BaseAPY    float64

	RiskFlags []RiskFlag

	Curve APYCurve
}

// IsLP devuelve true si la oportunidad es de liquidez concentrada.
func (o Opportunity) IsLP() bool {
	return o.Kind == KindLP
}

// Ratio devuelve la fracción USD que corresponde al token dado.
func (o Opportunity) Ratio(token string) float64 {
	if len(o.TokenRatios) == 0 {
		if len(o.TargetTokens) == 1 && o.TargetTokens[0] == token {
			return 1
		}
		if len(o.TargetTokens) == 0 {
			return 0
		}
		// Sin ratios explícitos se reparte a partes iguales.
		for _, t := range o.TargetTokens {
			if t == token {
				return 1 / float64(len(o.TargetTokens))
			}
		}
		return 0
	}
	return o.TokenRatios[token]
}

// TokenNeeds reparte un incremento USD entre los tokens objetivo según sus ratios.
func (o Opportunity) TokenNeeds(increment decimal.Decimal) map[string]decimal.Decimal {
	needs := make(map[string]decimal.Decimal, len(o.TargetTokens))
	for _, t := range o.TargetTokens {
		r := o.Ratio(t)
		if r <= 0 {
			continue
		}
		needs[t] = increment.Mul(decimal.NewFromFloat(r))
	}
	return needs
}
