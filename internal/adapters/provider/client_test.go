package provider_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alejandrodnm/yieldpilot/internal/adapters/provider"
	"github.com/alejandrodnm/yieldpilot/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(srv *httptest.Server) *provider.Client {
	return provider.NewClient(srv.URL,
		provider.WithRate(1000, 100),
		provider.WithRetryWait(time.Millisecond),
	)
}

func serveJSON(t *testing.T, path, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/"+path, r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
}

func TestGetDexPools_KeyedObject(t *testing.T) {
	srv := serveJSON(t, "get_dex_pools", `{
		"pools": {
			"0xbbb": {
				"protocol": "uniswap-v3",
				"currentSnapshot": {"token0": {"symbol": "WETH"}, "token1": {"symbol": "USDC"}, "tvlUsd": 1500000, "feeApy": 31.29},
				"pricePosition": {"currentTick": 100, "suggestedTickLower": 60, "suggestedTickUpper": 120}
			},
			"0xaaa": {
				"protocol": "aerodrome",
				"currentSnapshot": {"token0": {"symbol": "USDC"}, "token1": {"symbol": "USDT"}, "tvlUsd": 900000, "feeApy": 4.1},
				"pricePosition": {"currentTick": 0, "suggestedTickLower": -10, "suggestedTickUpper": 10}
			}
		}
	}`)
	defer srv.Close()

	pools, err := newTestClient(srv).GetDexPools(context.Background(), "base")
	require.NoError(t, err)
	require.Len(t, pools, 2)

	assert.Equal(t, "0xaaa", pools[0].Address)
	assert.Equal(t, "0xbbb", pools[1].Address)
	assert.Equal(t, "WETH", pools[1].Token0)
	assert.InDelta(t, 1500000, pools[1].TVLUSD, 0.1)
	assert.True(t, pools[1].InRange())
}

func TestSimulateLPBatch_OrderFollowsIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Requests []map[string]any `json:"requests"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Len(t, body.Requests, 2)

		w.Write([]byte(`{"results": {
			"1": {"pool": {"address": "0xp2"}, "summary": {"totalExpectedApy": 4.5, "requiredTokens": {"USDC": {"amount": "50", "amountUsd": 50}}}},
			"0": {"pool": {"address": "0xp1"}, "summary": {"totalExpectedApy": 7.83, "requiredTokens": {
				"WETH": {"amount": "0.02", "amountUsd": 60}, "USDC": {"amount": "40", "amountUsd": 40}}}}
		}}`))
	}))
	defer srv.Close()

	sims, err := newTestClient(srv).SimulateLPBatch(context.Background(), []domain.LPSimulationRequest{
		{Chain: "base", PoolAddress: "0xp1", AmountUSD: decimal.NewFromInt(100)},
		{Chain: "base", PoolAddress: "0xp2", AmountUSD: decimal.NewFromInt(100)},
	})
	require.NoError(t, err)
	require.Len(t, sims, 2)

	assert.Equal(t, "0xp1", sims[0].PoolAddress)
	assert.InDelta(t, 7.83, sims[0].ExpectedAPY, 1e-9)
	ratios := sims[0].Ratios()
	assert.InDelta(t, 0.6, ratios["WETH"], 1e-9)
	assert.InDelta(t, 0.4, ratios["USDC"], 1e-9)
	assert.Equal(t, "0xp2", sims[1].PoolAddress)
}

func TestSimulateLPBatch_CountMismatch(t *testing.T) {
	srv := serveJSON(t, "get_lp_simulate_batch", `{"results": []}`)
	defer srv.Close()

	_, err := newTestClient(srv).SimulateLPBatch(context.Background(), []domain.LPSimulationRequest{
		{Chain: "base", PoolAddress: "0xp1", AmountUSD: decimal.NewFromInt(100)},
	})
	assert.Error(t, err)
}

func TestGetSupplyOpportunities(t *testing.T) {
	srv := serveJSON(t, "get_supply_opportunities", `{"opportunities": [
		{"protocol": "aave-v3", "asset": "USDC", "before": {"supplyApy": 5.1, "totalSupplyUsd": 12000000}, "after": {"supplyApy": 5.03, "utilization": 0.81}}
	]}`)
	defer srv.Close()

	quotes, err := newTestClient(srv).GetSupplyOpportunities(context.Background(), "base", decimal.NewFromInt(500))
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Equal(t, "aave-v3", quotes[0].Protocol)
	assert.InDelta(t, 5.03, quotes[0].APYAfter, 1e-9)
	assert.InDelta(t, 12000000, quotes[0].TotalSupplyUSD, 0.1)
}

func TestSwapCostBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string][]map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body["processed_args_batch"], 2)
		assert.Equal(t, "USDT", body["processed_args_batch"][0]["tokenIn"])
		w.Write([]byte(`{"results": [{"fee": "1.2"}, {"fee": 0.8}]}`))
	}))
	defer srv.Close()

	fees, err := newTestClient(srv).SwapCostBatch(context.Background(), []domain.SwapCostRequest{
		{Chain: "base", TokenIn: "USDT", TokenOut: "USDC", AmountUSD: decimal.NewFromInt(10000)},
		{Chain: "base", TokenIn: "USDC", TokenOut: "USDT", AmountUSD: decimal.NewFromInt(10000)},
	})
	require.NoError(t, err)
	require.Len(t, fees, 2)
	assert.Equal(t, "1.2", fees[0].String())
	assert.Equal(t, "0.8", fees[1].String())
}

func TestGetYieldSummary_BuildsCurrentPositions(t *testing.T) {
	srv := serveJSON(t, "get_yield_summary", `{
		"totalAssetsUsd": "989.9438",
		"idle": [{"token": "USDT", "amount": "494.97", "valueUsd": "494.97"}],
		"supplies": [{"protocol": "aave-v3", "token": "USDC", "amount": "494.9738", "valueUsd": "494.9738", "apy": 15.64}],
		"lps": [],
		"tokens": {"USDC": {"address": "0xA0", "decimals": 6, "priceUsd": "1"}, "USDT": {"decimals": 6, "priceUsd": "1"}}
	}`)
	defer srv.Close()

	dep := domain.Deployment{ID: "dep-1", Chain: "base", SafeAddress: "0xsafe"}
	y, err := newTestClient(srv).GetYieldSummary(context.Background(), dep)
	require.NoError(t, err)

	assert.Equal(t, "989.9438", y.TotalAssetsUSD.String())
	assert.InDelta(t, 7.82, y.PortfolioAPY(), 0.01)
	require.Len(t, y.Current.Supplies, 1)
	assert.Equal(t, "494.9738", y.Current.Supplies[0].Amount)
	assert.Equal(t, uint8(6), y.Tokens["USDC"].Decimals)
	assert.Equal(t, "0xa0", y.Tokens["USDC"].Address)
}

func TestClient_RetriesOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"pools": []}`))
	}))
	defer srv.Close()

	pools, err := newTestClient(srv).GetDexPools(context.Background(), "base")
	require.NoError(t, err)
	assert.Empty(t, pools)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad chain", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).GetDexPools(context.Background(), "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Equal(t, int32(1), calls.Load())
}
