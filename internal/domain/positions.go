package domain

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// TokenBalance es un saldo libre en unidades humanas (string decimal).
type TokenBalance struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

// SupplyPosition es un depósito en un protocolo de préstamo.
type SupplyPosition struct {
	Protocol string `json:"protocol"`
	Token    string `json:"token"`
	Amount   string `json:"amount"`
}

// LPPosition es una posición de liquidez concentrada.
type LPPosition struct {
	Protocol    string `json:"protocol"`
	PoolAddress string `json:"poolAddress"`
	PositionID  string `json:"positionId,omitempty"`
	TickLower   int    `json:"tickLower"`
	TickUpper   int    `json:"tickUpper"`
	Token0      string `json:"token0"`
	Token1      string `json:"token1"`
	Amount0     string `json:"amount0"`
	Amount1     string `json:"amount1"`
}

// MatchKey identifica una posición LP por pool y rango.
func (p LPPosition) MatchKey() string {
	return strings.ToLower(p.PoolAddress) + "|" + strconv.Itoa(p.TickLower) + "|" + strconv.Itoa(p.TickUpper)
}

// PositionSet describe el estado completo (actual u objetivo) de una cartera.
type PositionSet struct {
	Balances []TokenBalance   `json:"balances"`
	Supplies []SupplyPosition `json:"supplies"`
	LPs      []LPPosition     `json:"lps"`
}

// TokenInfo es la metadata necesaria para convertir unidades humanas a unidades mínimas.
type TokenInfo struct {
	Symbol   string          `json:"symbol"`
	Address  string          `json:"address,omitempty"`
	Decimals uint8           `json:"decimals"`
	PriceUSD decimal.Decimal `json:"priceUsd"`
}

// TokenRegistry indexa TokenInfo por símbolo.
type TokenRegistry map[string]TokenInfo

// Lookup busca un token ignorando mayúsculas.
func (r TokenRegistry) Lookup(symbol string) (TokenInfo, bool) {
	if t, ok := r[symbol]; ok {
		return t, true
	}
	for k, t := range r {
		if strings.EqualFold(k, symbol) {
			return t, true
		}
	}
	return TokenInfo{}, false
}
