// Package swapcost estima lo que cuesta convertir holdings en el token que
// necesita una oportunidad, a partir de una matriz de costes entre stables
// refrescada en segundo plano.
package swapcost

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/alejandrodnm/yieldpilot/internal/domain"
	"github.com/alejandrodnm/yieldpilot/internal/logctx"
	"github.com/alejandrodnm/yieldpilot/internal/ports"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// Config controla la matriz y el fallback estático.
type Config struct {
	// Stables por cadena; solo los pares entre ellos se cotizan.
	Stables         map[string][]string
	BaseNotionalUSD decimal.Decimal
	RefreshInterval time.Duration

	// Fallback: amount·(FeeRate + MaxSlippage·min(1, amount/SlippageScaleUSD))
	FeeRate          float64
	MaxSlippage      float64
	SlippageScaleUSD float64
}

// DefaultConfig devuelve $10,000 de nocional, 15 minutos, 0.01% fee y hasta 0.2% de slippage.
func DefaultConfig() Config {
	return Config{
		Stables:          map[string][]string{},
		BaseNotionalUSD:  decimal.NewFromInt(10_000),
		RefreshInterval:  15 * time.Minute,
		FeeRate:          0.0001,
		MaxSlippage:      0.002,
		SlippageScaleUSD: 100_000,
	}
}

type pair struct {
	from, to string
}

type chainMatrix struct {
	costs     map[pair]decimal.Decimal // coste USD a BaseNotionalUSD
	updatedAt time.Time
}

// Estimator implementa el puerto que usa el optimizador para cotizar déficits.
type Estimator struct {
	provider ports.YieldProvider
	cfg      Config
	now      func() time.Time

	mu       sync.RWMutex
	matrices map[string]chainMatrix

	refreshes singleflight.Group
}

// New crea un Estimator. provider puede ser nil: solo fallback estático.
func New(provider ports.YieldProvider, cfg Config) *Estimator {
	def := DefaultConfig()
	if !cfg.BaseNotionalUSD.IsPositive() {
		cfg.BaseNotionalUSD = def.BaseNotionalUSD
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = def.RefreshInterval
	}
	if cfg.FeeRate <= 0 {
		cfg.FeeRate = def.FeeRate
	}
	if cfg.MaxSlippage <= 0 {
		cfg.MaxSlippage = def.MaxSlippage
	}
	if cfg.SlippageScaleUSD <= 0 {
		cfg.SlippageScaleUSD = def.SlippageScaleUSD
	}
	if cfg.Stables == nil {
		cfg.Stables = map[string][]string{}
	}
	return &Estimator{
		provider: provider,
		cfg:      cfg,
		now:      time.Now,
		matrices: make(map[string]chainMatrix),
	}
}

// Start refresca todas las cadenas ahora y luego cada RefreshInterval hasta que ctx termine.
func (e *Estimator) Start(ctx context.Context) {
	e.refreshAll(ctx)

	ticker := time.NewTicker(e.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.refreshAll(ctx)
		}
	}
}

func (e *Estimator) refreshAll(ctx context.Context) {
	chains := make([]string, 0, len(e.cfg.Stables))
	for chain := range e.cfg.Stables {
		chains = append(chains, chain)
	}
	sort.Strings(chains)
	for _, chain := range chains {
		if err := e.Refresh(ctx, chain); err != nil {
			logctx.From(ctx).Warn("swapcost: refresh failed, keeping previous matrix", "chain", chain, "err", err)
		}
	}
}

// Refresh recarga la matriz de una cadena si está vencida. Las llamadas
// concurrentes para la misma cadena comparten una única petición.
func (e *Estimator) Refresh(ctx context.Context, chain string) error {
	if e.fresh(chain) {
		return nil
	}
	_, err, _ := e.refreshes.Do(chain, func() (any, error) {
		if e.fresh(chain) {
			return nil, nil
		}
		return nil, e.load(ctx, chain)
	})
	return err
}

func (e *Estimator) fresh(chain string) bool {
	e.mu.RLock()
	m, ok := e.matrices[chain]
	e.mu.RUnlock()
	return ok && e.now().Sub(m.updatedAt) < e.cfg.RefreshInterval
}

func (e *Estimator) load(ctx context.Context, chain string) error {
	if e.provider == nil {
		return nil
	}
	stables := e.cfg.Stables[chain]
	if len(stables) < 2 {
		return nil
	}

	var pairs []pair
	var reqs []domain.SwapCostRequest
	for _, from := range stables {
		for _, to := range stables {
			if from == to {
				continue
			}
			pairs = append(pairs, pair{from: from, to: to})
			reqs = append(reqs, domain.SwapCostRequest{
				Chain:     chain,
				TokenIn:   from,
				TokenOut:  to,
				AmountUSD: e.cfg.BaseNotionalUSD,
			})
		}
	}

	costs, err := e.provider.SwapCostBatch(ctx, reqs)
	if err != nil {
		return fmt.Errorf("swapcost.Refresh: %w", err)
	}
	if len(costs) != len(pairs) {
		return fmt.Errorf("swapcost.Refresh: got %d costs for %d pairs", len(costs), len(pairs))
	}

	m := chainMatrix{costs: make(map[pair]decimal.Decimal, len(pairs)), updatedAt: e.now()}
	for i, p := range pairs {
		m.costs[p] = costs[i]
	}

	e.mu.Lock()
	e.matrices[chain] = m
	e.mu.Unlock()

	logctx.From(ctx).Debug("swapcost: matrix refreshed", "chain", chain, "pairs", len(pairs))
	return nil
}

// EstimateCost cotiza convertir amountUSD hacia target. El origen es el stable
// (distinto de target) con más saldo libre en available.
func (e *Estimator) EstimateCost(ctx context.Context, chain, target string, amountUSD decimal.Decimal, available map[string]decimal.Decimal) domain.SwapQuote {
	if !amountUSD.IsPositive() {
		return domain.SwapQuote{Cost: decimal.Zero}
	}

	stables := e.cfg.Stables[chain]
	source := largestStable(stables, target, available)

	if len(stables) < 2 || !contains(stables, target) || source == "" {
		if source == "" {
			source = largestAny(target, available)
		}
		return domain.SwapQuote{Cost: e.static(amountUSD), Source: source}
	}

	e.mu.RLock()
	base, ok := e.matrices[chain].costs[pair{from: source, to: target}]
	e.mu.RUnlock()
	if !ok {
		return domain.SwapQuote{Cost: e.static(amountUSD), Source: source}
	}

	cost := base.Mul(amountUSD).Div(e.cfg.BaseNotionalUSD)
	if cost.IsNegative() {
		logctx.From(ctx).Warn("swapcost: negative cost clamped to zero",
			"chain", chain, "from", source, "to", target, "cost", cost.String())
		cost = decimal.Zero
	}
	return domain.SwapQuote{Cost: cost, Source: source, UsedDynamic: true}
}

// static es el coste de fallback: fee fija más slippage que crece con el tamaño.
func (e *Estimator) static(amountUSD decimal.Decimal) decimal.Decimal {
	a := amountUSD.InexactFloat64()
	rate := e.cfg.FeeRate + e.cfg.MaxSlippage*math.Min(1, a/e.cfg.SlippageScaleUSD)
	return amountUSD.Mul(decimal.NewFromFloat(rate))
}

func largestStable(stables []string, target string, available map[string]decimal.Decimal) string {
	best := ""
	bestAmt := decimal.Zero
	for _, s := range stables {
		if strings.EqualFold(s, target) {
			continue
		}
		amt := available[s]
		if amt.GreaterThan(bestAmt) || (amt.Equal(bestAmt) && amt.IsPositive() && s < best) {
			best, bestAmt = s, amt
		}
	}
	return best
}

func largestAny(target string, available map[string]decimal.Decimal) string {
	keys := make([]string, 0, len(available))
	for k := range available {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	best := ""
	bestAmt := decimal.Zero
	for _, k := range keys {
		if strings.EqualFold(k, target) {
			continue
		}
		if available[k].GreaterThan(bestAmt) {
			best, bestAmt = k, available[k]
		}
	}
	return best
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
