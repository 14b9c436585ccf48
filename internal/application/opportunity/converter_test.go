package opportunity_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/alejandrodnm/yieldpilot/internal/application/curve"
	"github.com/alejandrodnm/yieldpilot/internal/application/opportunity"
	"github.com/alejandrodnm/yieldpilot/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func usd(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

type fakeProvider struct {
	mu        sync.Mutex
	pools     []domain.DexPool
	poolsErr  error
	supply    []domain.SupplyQuote
	supplyErr error
	sims      map[string]domain.LPSimulation
	simReqs   []domain.LPSimulationRequest
}

func (f *fakeProvider) GetDexPools(context.Context, string) ([]domain.DexPool, error) {
	return f.pools, f.poolsErr
}

func (f *fakeProvider) SimulateLPBatch(_ context.Context, reqs []domain.LPSimulationRequest) ([]domain.LPSimulation, error) {
	f.mu.Lock()
	f.simReqs = append(f.simReqs, reqs...)
	f.mu.Unlock()
	out := make([]domain.LPSimulation, len(reqs))
	for i, r := range reqs {
		out[i] = f.sims[r.PoolAddress]
	}
	return out, nil
}

func (f *fakeProvider) GetSupplyOpportunities(context.Context, string, decimal.Decimal) ([]domain.SupplyQuote, error) {
	return f.supply, f.supplyErr
}

func (f *fakeProvider) SwapCostBatch(context.Context, []domain.SwapCostRequest) ([]decimal.Decimal, error) {
	return nil, nil
}

var registry = domain.TokenRegistry{
	"USDC": {Symbol: "USDC", Decimals: 6, PriceUSD: usd(1)},
	"WETH": {Symbol: "WETH", Decimals: 18, PriceUSD: usd(3000)},
}

func newConverter(p *fakeProvider) *opportunity.Converter {
	return opportunity.New(p, curve.NewBuilder(p, curve.DefaultConfig()), opportunity.Config{
		MinPoolTVLUSD:        10_000,
		MaxPerOpportunityPct: 0.5,
	})
}

func pool(addr string, tvl float64, tick int) domain.DexPool {
	return domain.DexPool{
		Address:            addr,
		Protocol:           "uniswap-v3",
		Token0:             "WETH",
		Token1:             "USDC",
		TVLUSD:             tvl,
		CurrentTick:        tick,
		SuggestedTickLower: -200,
		SuggestedTickUpper: 200,
	}
}

func TestFromSupply(t *testing.T) {
	c := newConverter(&fakeProvider{})
	quotes := []domain.SupplyQuote{
		{Protocol: "Aave-V3", Asset: "USDC", APYBefore: 5.1, APYAfter: 5.03},
		{Protocol: "compound", Asset: "DAI", APYAfter: 4.0},
		{Protocol: "morpho", Asset: "USDC", APYAfter: 0},
	}

	opps := c.FromSupply("base", usd(1000), quotes, registry)
	require.Len(t, opps, 2, "mercados sin rendimiento se descartan")

	aave := opps[0]
	assert.Equal(t, "supply:aave-v3:USDC", aave.ID)
	assert.Equal(t, domain.KindSupply, aave.Kind)
	assert.Equal(t, "base", aave.Chain)
	assert.InDelta(t, 5.03, aave.BaseAPY, 1e-12)
	assert.True(t, aave.MaxAmount.Equal(usd(500)))
	assert.True(t, aave.BaseAmount.Equal(usd(1000)))
	require.NotNil(t, aave.Curve)
	assert.InDelta(t, 5.03, aave.Curve.Estimate(usd(800)), 1e-12)
	assert.Empty(t, aave.RiskFlags)

	dai := opps[1]
	require.Len(t, dai.RiskFlags, 1)
	assert.Equal(t, opportunity.FlagUnknownToken, dai.RiskFlags[0].Code)
	assert.Equal(t, domain.SeverityCritical, dai.RiskFlags[0].Severity)
}

func TestFromPools(t *testing.T) {
	p := &fakeProvider{
		sims: map[string]domain.LPSimulation{
			"0xAAA": {
				PoolAddress: "0xAAA",
				ExpectedAPY: 31.29,
				RequiredTokens: map[string]domain.RequiredToken{
					"WETH": {AmountUSD: usd(300)},
					"USDC": {AmountUSD: usd(700)},
				},
			},
			"0xBBB": {PoolAddress: "0xBBB", ExpectedAPY: 12},
		},
	}
	c := newConverter(p)
	pools := []domain.DexPool{
		pool("0xAAA", 2_000_000, 0),
		pool("0xBBB", 50_000, 500),
		pool("0xCCC", 100, 0),
	}

	opps, err := c.FromPools(context.Background(), "base", usd(1000), pools, registry)
	require.NoError(t, err)
	require.Len(t, opps, 2)

	require.Len(t, p.simReqs, 2, "el pool por debajo del TVL mínimo no se simula")
	assert.Equal(t, -200, p.simReqs[0].TickLower)
	assert.Equal(t, 200, p.simReqs[0].TickUpper)
	assert.True(t, p.simReqs[0].AmountUSD.Equal(usd(1000)))

	a := opps[0]
	assert.Equal(t, "lp:0xaaa", a.ID)
	assert.Equal(t, domain.KindLP, a.Kind)
	assert.Equal(t, []string{"WETH", "USDC"}, a.TargetTokens)
	assert.InDelta(t, 0.3, a.TokenRatios["WETH"], 1e-9)
	assert.InDelta(t, 0.7, a.TokenRatios["USDC"], 1e-9)
	assert.InDelta(t, 2_000_000, a.PoolLiquidityUSD, 1e-9)
	assert.InDelta(t, 31.29, a.BaseAPY, 1e-12)
	assert.Empty(t, a.RiskFlags)
	require.NotNil(t, a.Curve)

	b := opps[1]
	assert.InDelta(t, 0.5, b.TokenRatios["WETH"], 1e-9, "sin requiredTokens se reparte 50/50")
	require.Len(t, b.RiskFlags, 1)
	assert.Equal(t, opportunity.FlagOutOfRange, b.RiskFlags[0].Code)
	assert.Equal(t, domain.SeverityWarning, b.RiskFlags[0].Severity)
}

func TestFromPools_NoneEligible(t *testing.T) {
	p := &fakeProvider{}
	opps, err := newConverter(p).FromPools(context.Background(), "base", usd(1000), []domain.DexPool{pool("0x1", 5, 0)}, registry)
	require.NoError(t, err)
	assert.Empty(t, opps)
	assert.Empty(t, p.simReqs)
}

func TestCollect_SortedAndTolerant(t *testing.T) {
	p := &fakeProvider{
		supply:   []domain.SupplyQuote{{Protocol: "aave-v3", Asset: "USDC", APYAfter: 5}},
		poolsErr: errors.New("provider down"),
	}
	opps, err := newConverter(p).Collect(context.Background(), "base", usd(1000), registry)
	require.NoError(t, err)
	require.Len(t, opps, 1)
	assert.Equal(t, "supply:aave-v3:USDC", opps[0].ID)

	p.pools = []domain.DexPool{pool("0xAAA", 2_000_000, 0)}
	p.poolsErr = nil
	p.sims = map[string]domain.LPSimulation{"0xAAA": {ExpectedAPY: 20}}
	opps, err = newConverter(p).Collect(context.Background(), "base", usd(1000), registry)
	require.NoError(t, err)
	require.Len(t, opps, 2)
	assert.Equal(t, "lp:0xaaa", opps[0].ID)
	assert.Equal(t, "supply:aave-v3:USDC", opps[1].ID)
}

func TestCollect_BothSourcesFail(t *testing.T) {
	p := &fakeProvider{supplyErr: errors.New("a"), poolsErr: errors.New("b")}
	_, err := newConverter(p).Collect(context.Background(), "base", usd(1000), registry)
	require.Error(t, err)
}
