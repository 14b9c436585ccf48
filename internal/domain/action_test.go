package domain_test

import (
	"encoding/json"
	"testing"

	"github.com/alejandrodnm/yieldpilot/internal/domain"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAction_MarshalJSON_AmountsAsDecimalStrings(t *testing.T) {
	a := domain.Action{
		Kind:         domain.ActionSwap,
		TokenIn:      "USDT",
		TokenOut:     "USDC",
		AmountIn:     uint256.NewInt(200_000_000),
		AmountOutMin: uint256.NewInt(199_000_000),
	}
	raw, err := json.Marshal(a)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, "swap", out["kind"])
	assert.Equal(t, "200000000", out["amountIn"])
	assert.Equal(t, "199000000", out["amountOutMin"])
	assert.NotContains(t, out, "tickLower")
	assert.NotContains(t, out, "amount")
}

func TestAction_MarshalJSON_MintKeepsZeroTicks(t *testing.T) {
	a := domain.Action{
		Kind:        domain.ActionMint,
		PoolAddress: "0xpool",
		TickLower:   0,
		TickUpper:   60,
		Amount0:     uint256.NewInt(1),
		Amount1:     uint256.NewInt(2),
	}
	raw, err := json.Marshal(a)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"tickLower":0`)
	assert.Contains(t, string(raw), `"tickUpper":60`)
}

func TestAction_MarshalJSON_WithdrawMax(t *testing.T) {
	raw, err := json.Marshal(domain.Action{Kind: domain.ActionWithdraw, Protocol: "aave-v3", Token: "USDC", Amount: uint256.NewInt(500_000_000), Max: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"withdraw","protocol":"aave-v3","token":"USDC","amount":"500000000","max":true}`, string(raw))
}
