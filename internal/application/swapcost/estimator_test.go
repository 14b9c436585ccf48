package swapcost_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alejandrodnm/yieldpilot/internal/application/swapcost"
	"github.com/alejandrodnm/yieldpilot/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func usd(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

type fakeProvider struct {
	calls   atomic.Int32
	fee     func(req domain.SwapCostRequest) decimal.Decimal
	err     error
	delay   time.Duration
	lastReq []domain.SwapCostRequest
	mu      sync.Mutex
}

func (f *fakeProvider) GetDexPools(context.Context, string) ([]domain.DexPool, error) { return nil, nil }
func (f *fakeProvider) SimulateLPBatch(context.Context, []domain.LPSimulationRequest) ([]domain.LPSimulation, error) {
	return nil, nil
}
func (f *fakeProvider) GetSupplyOpportunities(context.Context, string, decimal.Decimal) ([]domain.SupplyQuote, error) {
	return nil, nil
}

func (f *fakeProvider) SwapCostBatch(_ context.Context, reqs []domain.SwapCostRequest) ([]decimal.Decimal, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	f.lastReq = reqs
	f.mu.Unlock()
	out := make([]decimal.Decimal, len(reqs))
	for i, r := range reqs {
		out[i] = f.fee(r)
	}
	return out, nil
}

func flatFee(v float64) func(domain.SwapCostRequest) decimal.Decimal {
	return func(domain.SwapCostRequest) decimal.Decimal { return usd(v) }
}

func newEstimator(p *fakeProvider) *swapcost.Estimator {
	cfg := swapcost.DefaultConfig()
	cfg.Stables = map[string][]string{"base": {"USDC", "USDT", "DAI"}}
	return swapcost.New(p, cfg)
}

func TestRefresh_QuotesEveryOrderedPair(t *testing.T) {
	p := &fakeProvider{fee: flatFee(2)}
	e := newEstimator(p)

	require.NoError(t, e.Refresh(context.Background(), "base"))
	require.Len(t, p.lastReq, 6)
	for _, r := range p.lastReq {
		assert.NotEqual(t, r.TokenIn, r.TokenOut)
		assert.Equal(t, "10000", r.AmountUSD.String())
	}
}

func TestEstimateCost_ScalesLinearlyFromLargestStable(t *testing.T) {
	p := &fakeProvider{fee: func(r domain.SwapCostRequest) decimal.Decimal {
		if r.TokenIn == "USDT" && r.TokenOut == "USDC" {
			return usd(1.5)
		}
		return usd(9)
	}}
	e := newEstimator(p)
	require.NoError(t, e.Refresh(context.Background(), "base"))

	avail := map[string]decimal.Decimal{"USDT": usd(800), "DAI": usd(300), "USDC": usd(5000)}
	q := e.EstimateCost(context.Background(), "base", "USDC", usd(500), avail)

	assert.True(t, q.UsedDynamic)
	assert.Equal(t, "USDT", q.Source)
	// 1.5 × 500 / 10000 = 0.075
	assert.Equal(t, "0.075", q.Cost.String())
}

func TestEstimateCost_NegativeCostClamped(t *testing.T) {
	p := &fakeProvider{fee: flatFee(-3)}
	e := newEstimator(p)
	require.NoError(t, e.Refresh(context.Background(), "base"))

	q := e.EstimateCost(context.Background(), "base", "USDC", usd(1000), map[string]decimal.Decimal{"DAI": usd(2000)})
	assert.True(t, q.Cost.IsZero())
	assert.Equal(t, "DAI", q.Source)
}

func TestEstimateCost_StaticFallbackForNonStableTarget(t *testing.T) {
	p := &fakeProvider{fee: flatFee(1)}
	e := newEstimator(p)
	require.NoError(t, e.Refresh(context.Background(), "base"))

	q := e.EstimateCost(context.Background(), "base", "WETH", usd(10_000), map[string]decimal.Decimal{"USDC": usd(20_000)})
	assert.False(t, q.UsedDynamic)
	assert.Equal(t, "USDC", q.Source)
	// 10000 × (0.0001 + 0.002 × 0.1) = 3
	assert.InDelta(t, 3.0, q.Cost.InexactFloat64(), 1e-9)
}

func TestEstimateCost_StaticSlippageCapped(t *testing.T) {
	e := swapcost.New(nil, swapcost.DefaultConfig())
	q := e.EstimateCost(context.Background(), "base", "USDC", usd(500_000), map[string]decimal.Decimal{"USDT": usd(600_000)})
	// 500000 × (0.0001 + 0.002) = 1050
	assert.InDelta(t, 1050.0, q.Cost.InexactFloat64(), 1e-6)
}

func TestEstimateCost_NoCacheUsesStatic(t *testing.T) {
	p := &fakeProvider{fee: flatFee(1)}
	e := newEstimator(p) // sin Refresh

	q := e.EstimateCost(context.Background(), "base", "USDC", usd(100), map[string]decimal.Decimal{"USDT": usd(100)})
	assert.False(t, q.UsedDynamic)
	assert.True(t, q.Cost.IsPositive())
}

func TestEstimateCost_ZeroAmount(t *testing.T) {
	e := swapcost.New(nil, swapcost.DefaultConfig())
	q := e.EstimateCost(context.Background(), "base", "USDC", decimal.Zero, nil)
	assert.True(t, q.Cost.IsZero())
}

func TestRefresh_SkipsWhenFresh(t *testing.T) {
	p := &fakeProvider{fee: flatFee(1)}
	e := newEstimator(p)
	now := time.Now()
	e.SetNow(func() time.Time { return now })

	require.NoError(t, e.Refresh(context.Background(), "base"))
	require.NoError(t, e.Refresh(context.Background(), "base"))
	assert.Equal(t, int32(1), p.calls.Load())

	now = now.Add(16 * time.Minute)
	require.NoError(t, e.Refresh(context.Background(), "base"))
	assert.Equal(t, int32(2), p.calls.Load())
}

func TestRefresh_ConcurrentCallersShareOneRequest(t *testing.T) {
	p := &fakeProvider{fee: flatFee(1), delay: 50 * time.Millisecond}
	e := newEstimator(p)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, e.Refresh(context.Background(), "base"))
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), p.calls.Load())
}

func TestRefresh_FailureKeepsPreviousMatrix(t *testing.T) {
	p := &fakeProvider{fee: flatFee(2)}
	e := newEstimator(p)
	now := time.Now()
	e.SetNow(func() time.Time { return now })
	require.NoError(t, e.Refresh(context.Background(), "base"))

	p.err = errors.New("provider down")
	now = now.Add(time.Hour)
	assert.Error(t, e.Refresh(context.Background(), "base"))

	q := e.EstimateCost(context.Background(), "base", "USDC", usd(10_000), map[string]decimal.Decimal{"USDT": usd(10_000)})
	assert.True(t, q.UsedDynamic)
	assert.Equal(t, "2", q.Cost.String())
}

func TestStart_StopsWithContext(t *testing.T) {
	p := &fakeProvider{fee: flatFee(1)}
	e := newEstimator(p)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		e.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return p.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
