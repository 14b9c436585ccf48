package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// YieldPosition es una posición productiva (supply o LP) valorada en USD.
type YieldPosition struct {
	Kind     OpportunityKind
	Protocol string
	Tokens   []string
	ValueUSD decimal.Decimal
	APY      float64
}

// IdleBalance es un saldo sin desplegar.
type IdleBalance struct {
	Token    string
	Amount   decimal.Decimal // unidades humanas
	ValueUSD decimal.Decimal
}

// YieldSummary es la foto de la cartera que devuelve el proveedor de portfolio.
type YieldSummary struct {
	DeploymentID   string
	Chain          string
	TotalAssetsUSD decimal.Decimal
	Idle           []IdleBalance
	Positions      []YieldPosition
	Tokens         TokenRegistry
	Current        PositionSet
	FetchedAt      time.Time
}

// IsEmpty devuelve true si no hay activos que gestionar.
func (y *YieldSummary) IsEmpty() bool {
	return y == nil || !y.TotalAssetsUSD.IsPositive()
}

// PortfolioAPY es la media ponderada por valor de las posiciones productivas.
// El capital ocioso cuenta en el denominador con rendimiento cero.
func (y *YieldSummary) PortfolioAPY() float64 {
	if y.IsEmpty() {
		return 0
	}
	weighted := 0.0
	for _, p := range y.Positions {
		weighted += p.APY * p.ValueUSD.InexactFloat64()
	}
	return weighted / y.TotalAssetsUSD.InexactFloat64()
}

// HoldingsUSD agrega todo el capital (ocioso y desplegado) por token, en USD.
// Las posiciones LP reparten su valor a partes iguales entre sus tokens.
func (y *YieldSummary) HoldingsUSD() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	if y == nil {
		return out
	}
	for _, b := range y.Idle {
		out[b.Token] = out[b.Token].Add(b.ValueUSD)
	}
	for _, p := range y.Positions {
		if len(p.Tokens) == 0 {
			continue
		}
		share := p.ValueUSD.Div(decimal.NewFromInt(int64(len(p.Tokens))))
		for _, t := range p.Tokens {
			out[t] = out[t].Add(share)
		}
	}
	return out
}
