package txbuilder

import (
	"testing"

	"github.com/alejandrodnm/yieldpilot/internal/domain"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	weth = domain.TokenInfo{Symbol: "WETH", Decimals: 18, PriceUSD: decimal.NewFromInt(3000)}
	usdc = domain.TokenInfo{Symbol: "USDC", Decimals: 6, PriceUSD: decimal.NewFromInt(1)}
)

func TestToUnits_TruncatesDust(t *testing.T) {
	assert.Equal(t, "1000000000000000000", toUnits("1.0000001234", weth, 6).Dec())
	assert.Equal(t, "1234567", toUnits("1.2345678", usdc, 6).Dec())
	assert.True(t, toUnits("0.0000001", weth, 6).IsZero())
}

func TestToUnits_InvalidIsZero(t *testing.T) {
	assert.True(t, toUnits("", usdc, 6).IsZero())
	assert.True(t, toUnits("abc", usdc, 6).IsZero())
	assert.True(t, toUnits("-5", usdc, 6).IsZero())
}

func TestConvert_ByUSDPrice(t *testing.T) {
	oneEth := toUnits("1", weth, 6)
	out, ok := convert(oneEth, weth, usdc)
	require.True(t, ok)
	assert.Equal(t, "3000000000", out.Dec())

	_, ok = convert(oneEth, weth, domain.TokenInfo{Symbol: "X", Decimals: 18})
	assert.False(t, ok, "sin precio no hay conversión")
}

func TestGrossUp_RoundsUp(t *testing.T) {
	v := uint256.NewInt(100_000_000)
	up := grossUp(v, 50)
	assert.Equal(t, "100502513", up.Dec())
	assert.False(t, applyBps(up, 50).Lt(v))
}

func TestLedger_DebitNeverNegative(t *testing.T) {
	l := make(ledger)
	l.credit("USDC", uint256.NewInt(10))
	got := l.debit("USDC", uint256.NewInt(25))
	assert.Equal(t, uint64(10), got.Uint64())
	assert.True(t, l.get("USDC").IsZero())
	assert.True(t, l.debit("USDC", uint256.NewInt(1)).IsZero())
}
