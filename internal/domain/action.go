package domain

import (
	"encoding/json"

	"github.com/holiman/uint256"
)

// ActionKind es el tipo de operación on-chain de un plan.
type ActionKind string

const (
	ActionBurn     ActionKind = "burn"
	ActionWithdraw ActionKind = "withdraw"
	ActionSwap     ActionKind = "swap"
	ActionMint     ActionKind = "mint"
	ActionSupply   ActionKind = "supply"
)

// Action es un paso del plan de rebalanceo. Las cantidades están en unidades mínimas del token.
type Action struct {
	Kind     ActionKind
	Protocol string

	// burn / mint
	PoolAddress string
	PositionID  string
	TickLower   int
	TickUpper   int
	Token0      string
	Token1      string
	Amount0     *uint256.Int
	Amount1     *uint256.Int
	Amount0Min  *uint256.Int
	Amount1Min  *uint256.Int

	// withdraw / supply
	Token  string
	Amount *uint256.Int
	Max    bool // withdraw completo: el ejecutor retira todo el saldo

	// swap
	TokenIn      string
	TokenOut     string
	AmountIn     *uint256.Int
	AmountOutMin *uint256.Int
}

type actionJSON struct {
	Kind         ActionKind `json:"kind"`
	Protocol     string     `json:"protocol,omitempty"`
	PoolAddress  string     `json:"poolAddress,omitempty"`
	PositionID   string     `json:"positionId,omitempty"`
	TickLower    *int       `json:"tickLower,omitempty"`
	TickUpper    *int       `json:"tickUpper,omitempty"`
	Token0       string     `json:"token0,omitempty"`
	Token1       string     `json:"token1,omitempty"`
	Amount0      string     `json:"amount0,omitempty"`
	Amount1      string     `json:"amount1,omitempty"`
	Amount0Min   string     `json:"amount0Min,omitempty"`
	Amount1Min   string     `json:"amount1Min,omitempty"`
	Token        string     `json:"token,omitempty"`
	Amount       string     `json:"amount,omitempty"`
	Max          bool       `json:"max,omitempty"`
	TokenIn      string     `json:"tokenIn,omitempty"`
	TokenOut     string     `json:"tokenOut,omitempty"`
	AmountIn     string     `json:"amountIn,omitempty"`
	AmountOutMin string     `json:"amountOutMin,omitempty"`
}

// MarshalJSON serializa las cantidades como enteros decimales en string.
func (a Action) MarshalJSON() ([]byte, error) {
	out := actionJSON{
		Kind:         a.Kind,
		Protocol:     a.Protocol,
		PoolAddress:  a.PoolAddress,
		PositionID:   a.PositionID,
		Token0:       a.Token0,
		Token1:       a.Token1,
		Amount0:      dec(a.Amount0),
		Amount1:      dec(a.Amount1),
		Amount0Min:   dec(a.Amount0Min),
		Amount1Min:   dec(a.Amount1Min),
		Token:        a.Token,
		Amount:       dec(a.Amount),
		Max:          a.Max,
		TokenIn:      a.TokenIn,
		TokenOut:     a.TokenOut,
		AmountIn:     dec(a.AmountIn),
		AmountOutMin: dec(a.AmountOutMin),
	}
	if a.Kind == ActionBurn || a.Kind == ActionMint {
		lo, hi := a.TickLower, a.TickUpper
		out.TickLower, out.TickUpper = &lo, &hi
	}
	return json.Marshal(out)
}

func dec(v *uint256.Int) string {
	if v == nil {
		return ""
	}
	return v.Dec()
}
