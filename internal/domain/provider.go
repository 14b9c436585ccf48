package domain

import "github.com/shopspring/decimal"

// DexPool es un pool de liquidez concentrada tal como lo describe el proveedor.
type DexPool struct {
	Address            string
	Protocol           string
	Token0             string
	Token1             string
	TVLUSD             float64
	FeeAPY             float64
	CurrentTick        int
	SuggestedTickLower int
	SuggestedTickUpper int
}

// InRange indica si el precio actual cae dentro del rango sugerido.
func (p DexPool) InRange() bool {
	return p.CurrentTick >= p.SuggestedTickLower && p.CurrentTick < p.SuggestedTickUpper
}

// LPSimulationRequest pide al proveedor simular una posición LP de AmountUSD.
type LPSimulationRequest struct {
	Chain       string
	PoolAddress string
	AmountUSD   decimal.Decimal
	TickLower   int
	TickUpper   int
}

// RequiredToken es la parte de un token necesaria para una posición LP simulada.
type RequiredToken struct {
	Amount    decimal.Decimal
	AmountUSD decimal.Decimal
}

// LPSimulation es la respuesta a una LPSimulationRequest.
type LPSimulation struct {
	PoolAddress    string
	ExpectedAPY    float64
	RequiredTokens map[string]RequiredToken
}

// Ratios devuelve la fracción USD de cada token requerido.
func (s LPSimulation) Ratios() map[string]float64 {
	total := decimal.Zero
	for _, rt := range s.RequiredTokens {
		total = total.Add(rt.AmountUSD)
	}
	out := make(map[string]float64, len(s.RequiredTokens))
	if !total.IsPositive() {
		return out
	}
	for token, rt := range s.RequiredTokens {
		out[token] = rt.AmountUSD.Div(total).InexactFloat64()
	}
	return out
}

// SupplyQuote es el resultado de simular un depósito en un mercado de préstamo.
type SupplyQuote struct {
	Protocol       string
	Asset          string
	APYBefore      float64
	APYAfter       float64
	TotalSupplyUSD float64
	Utilization    float64
}

// SwapCostRequest pide el coste de cambiar AmountUSD de TokenIn a TokenOut.
type SwapCostRequest struct {
	Chain     string
	TokenIn   string
	TokenOut  string
	AmountUSD decimal.Decimal
}
