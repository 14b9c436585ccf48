package txbuilder_test

import (
	"context"
	"testing"

	"github.com/alejandrodnm/yieldpilot/internal/application/txbuilder"
	"github.com/alejandrodnm/yieldpilot/internal/domain"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tokens = domain.TokenRegistry{
	"USDC": {Symbol: "USDC", Decimals: 6, PriceUSD: decimal.NewFromInt(1)},
	"USDT": {Symbol: "USDT", Decimals: 6, PriceUSD: decimal.NewFromInt(1)},
	"WETH": {Symbol: "WETH", Decimals: 18, PriceUSD: decimal.NewFromInt(3000)},
}

func units(s string) *uint256.Int {
	u, err := uint256.FromDecimal(s)
	if err != nil {
		panic(err)
	}
	return u
}

func kinds(actions []domain.Action) []domain.ActionKind {
	out := make([]domain.ActionKind, len(actions))
	for i, a := range actions {
		out[i] = a.Kind
	}
	return out
}

func lp(pool string, weth, usdc string) domain.LPPosition {
	return domain.LPPosition{
		Protocol:    "uniswap-v3",
		PoolAddress: pool,
		TickLower:   -200,
		TickUpper:   200,
		Token0:      "WETH",
		Token1:      "USDC",
		Amount0:     weth,
		Amount1:     usdc,
	}
}

func reconcile(current, target domain.PositionSet) []domain.Action {
	return txbuilder.Reconcile(context.Background(), current, target, tokens, txbuilder.DefaultOptions())
}

func TestReconcile_IdenticalProducesNoActions(t *testing.T) {
	set := domain.PositionSet{
		Balances: []domain.TokenBalance{{Token: "USDT", Amount: "200"}},
		Supplies: []domain.SupplyPosition{{Protocol: "aave-v3", Token: "USDC", Amount: "500"}},
		LPs:      []domain.LPPosition{lp("0xA", "0.1", "300")},
	}
	assert.Empty(t, reconcile(set, set))
}

func TestReconcile_DustDriftIgnored(t *testing.T) {
	current := domain.PositionSet{Supplies: []domain.SupplyPosition{{Protocol: "aave-v3", Token: "WETH", Amount: "1.0000000001"}}}
	target := domain.PositionSet{Supplies: []domain.SupplyPosition{{Protocol: "aave-v3", Token: "WETH", Amount: "1"}}}
	assert.Empty(t, reconcile(current, target))
}

func TestReconcile_FullPlanOrderAndBookkeeping(t *testing.T) {
	current := domain.PositionSet{
		Balances: []domain.TokenBalance{{Token: "USDT", Amount: "200"}},
		Supplies: []domain.SupplyPosition{{Protocol: "aave-v3", Token: "USDC", Amount: "500"}},
		LPs:      []domain.LPPosition{lp("0xA", "0.1", "300")},
	}
	target := domain.PositionSet{
		Supplies: []domain.SupplyPosition{{Protocol: "compound", Token: "USDC", Amount: "700"}},
		LPs:      []domain.LPPosition{lp("0xB", "0.1", "300")},
	}

	actions := reconcile(current, target)
	require.Equal(t, []domain.ActionKind{
		domain.ActionBurn,
		domain.ActionWithdraw,
		domain.ActionSwap,
		domain.ActionMint,
		domain.ActionSupply,
	}, kinds(actions))

	burn := actions[0]
	assert.Equal(t, "0xA", burn.PoolAddress)
	assert.Equal(t, units("100000000000000000"), burn.Amount0)
	assert.Equal(t, units("99000000000000000"), burn.Amount0Min, "1% de margen al retirar liquidez")
	assert.Equal(t, units("297000000"), burn.Amount1Min)

	withdraw := actions[1]
	assert.True(t, withdraw.Max)
	assert.Equal(t, units("500000000"), withdraw.Amount)

	swap := actions[2]
	assert.Equal(t, "USDT", swap.TokenIn)
	assert.Equal(t, "USDC", swap.TokenOut)
	assert.Equal(t, units("200000000"), swap.AmountIn, "el swap se limita al excedente")
	assert.Equal(t, units("199000000"), swap.AmountOutMin)

	mint := actions[3]
	assert.Equal(t, "0xB", mint.PoolAddress)
	assert.Equal(t, units("99000000000000000"), mint.Amount0, "truncado a lo disponible tras el burn")
	assert.Equal(t, units("300000000"), mint.Amount1)

	supply := actions[4]
	assert.Equal(t, "compound", supply.Protocol)
	// 297 + 500 + 199 - 300
	assert.Equal(t, units("696000000"), supply.Amount)
}

func TestReconcile_PartialWithdraw(t *testing.T) {
	current := domain.PositionSet{Supplies: []domain.SupplyPosition{{Protocol: "aave-v3", Token: "USDC", Amount: "1000"}}}
	target := domain.PositionSet{Supplies: []domain.SupplyPosition{{Protocol: "aave-v3", Token: "USDC", Amount: "400"}}}

	actions := reconcile(current, target)
	require.Len(t, actions, 1)
	assert.Equal(t, domain.ActionWithdraw, actions[0].Kind)
	assert.False(t, actions[0].Max)
	assert.Equal(t, units("600000000"), actions[0].Amount)
}

func TestReconcile_NearFullWithdrawSnapsToMax(t *testing.T) {
	current := domain.PositionSet{Supplies: []domain.SupplyPosition{{Protocol: "aave-v3", Token: "USDC", Amount: "1000"}}}
	target := domain.PositionSet{Supplies: []domain.SupplyPosition{{Protocol: "AAVE-V3", Token: "USDC", Amount: "0.5"}}}

	actions := reconcile(current, target)
	require.Equal(t, []domain.ActionKind{domain.ActionWithdraw, domain.ActionSupply}, kinds(actions))
	assert.True(t, actions[0].Max)
	assert.Equal(t, units("1000000000"), actions[0].Amount)
	assert.Equal(t, units("500000"), actions[1].Amount)
}

func TestReconcile_ChangedLPIsBurnedAndReminted(t *testing.T) {
	current := domain.PositionSet{LPs: []domain.LPPosition{lp("0xA", "0.1", "300")}}
	target := domain.PositionSet{LPs: []domain.LPPosition{lp("0xa", "0.2", "600")}}

	actions := reconcile(current, target)
	require.Equal(t, []domain.ActionKind{domain.ActionBurn, domain.ActionMint}, kinds(actions))

	mint := actions[1]
	assert.Equal(t, units("99000000000000000"), mint.Amount0)
	assert.Equal(t, units("297000000"), mint.Amount1)
	assert.Equal(t, -200, mint.TickLower)
	assert.Equal(t, 200, mint.TickUpper)
}

func TestReconcile_CrossPriceSwapCoversDeficit(t *testing.T) {
	current := domain.PositionSet{Balances: []domain.TokenBalance{{Token: "WETH", Amount: "1"}}}
	target := domain.PositionSet{Supplies: []domain.SupplyPosition{{Protocol: "aave-v3", Token: "USDC", Amount: "1000"}}}

	actions := reconcile(current, target)
	require.Equal(t, []domain.ActionKind{domain.ActionSwap, domain.ActionSupply}, kinds(actions))

	swap := actions[0]
	assert.Equal(t, "WETH", swap.TokenIn)
	assert.True(t, swap.AmountIn.Lt(units("1000000000000000000")))
	assert.False(t, swap.AmountOutMin.Lt(units("1000000000")), "el mínimo recibido cubre el déficit")

	assert.Equal(t, units("1000000000"), actions[1].Amount)
}

func TestReconcile_UnderFundedSupplyIsTruncated(t *testing.T) {
	current := domain.PositionSet{Balances: []domain.TokenBalance{{Token: "USDC", Amount: "50"}}}
	target := domain.PositionSet{Supplies: []domain.SupplyPosition{{Protocol: "aave-v3", Token: "USDC", Amount: "80"}}}

	actions := reconcile(current, target)
	require.Len(t, actions, 1)
	assert.Equal(t, domain.ActionSupply, actions[0].Kind)
	assert.Equal(t, units("50000000"), actions[0].Amount)
}

func TestReconcile_TargetReserveIsNotSpent(t *testing.T) {
	current := domain.PositionSet{Balances: []domain.TokenBalance{
		{Token: "USDC", Amount: "100"},
		{Token: "USDT", Amount: "100"},
	}}
	target := domain.PositionSet{
		Balances: []domain.TokenBalance{{Token: "USDT", Amount: "100"}},
		Supplies: []domain.SupplyPosition{{Protocol: "aave-v3", Token: "USDC", Amount: "150"}},
	}

	actions := reconcile(current, target)
	require.Equal(t, []domain.ActionKind{domain.ActionSupply}, kinds(actions), "USDT está reservado: no hay swap")
	assert.Equal(t, units("100000000"), actions[0].Amount)
}

func TestReconcile_UnknownTokenIgnored(t *testing.T) {
	current := domain.PositionSet{Balances: []domain.TokenBalance{{Token: "PEPE", Amount: "1000"}}}
	target := domain.PositionSet{Supplies: []domain.SupplyPosition{{Protocol: "aave-v3", Token: "PEPE", Amount: "1000"}}}
	assert.Empty(t, reconcile(current, target))
}

func TestReconcile_SymbolCaseSharesBalance(t *testing.T) {
	current := domain.PositionSet{Balances: []domain.TokenBalance{{Token: "usdc", Amount: "500"}}}
	target := domain.PositionSet{Supplies: []domain.SupplyPosition{{Protocol: "aave-v3", Token: "USDC", Amount: "500"}}}

	actions := reconcile(current, target)
	require.Equal(t, []domain.ActionKind{domain.ActionSupply}, kinds(actions))
	assert.Equal(t, units("500000000"), actions[0].Amount)
}

func TestReconcile_MixedCaseSupplyNotWithdrawn(t *testing.T) {
	set := domain.PositionSet{Supplies: []domain.SupplyPosition{{Protocol: "aave-v3", Token: "usdc", Amount: "500"}}}
	target := domain.PositionSet{Supplies: []domain.SupplyPosition{{Protocol: "Aave-V3", Token: "USDC", Amount: "500"}}}
	assert.Empty(t, reconcile(set, target))
}
