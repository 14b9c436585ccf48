// Package opportunity convierte las respuestas del proveedor (mercados de
// préstamo y pools de liquidez) en las oportunidades que consume el optimizador.
package opportunity

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/alejandrodnm/yieldpilot/internal/application/curve"
	"github.com/alejandrodnm/yieldpilot/internal/domain"
	"github.com/alejandrodnm/yieldpilot/internal/logctx"
	"github.com/alejandrodnm/yieldpilot/internal/ports"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const (
	FlagOutOfRange   = "out_of_range"
	FlagUnknownToken = "unknown_token"
)

// Config controla qué pools se consideran y cuánto capital admite cada oportunidad.
type Config struct {
	MinPoolTVLUSD        float64
	MaxPerOpportunityPct float64 // fracción del capital; 0 = sin tope
}

// Converter construye oportunidades con su curva de APY ya adjunta.
type Converter struct {
	provider ports.YieldProvider
	curves   *curve.Builder
	cfg      Config
}

// New crea un Converter.
func New(provider ports.YieldProvider, curves *curve.Builder, cfg Config) *Converter {
	if curves == nil {
		curves = curve.NewBuilder(provider, curve.DefaultConfig())
	}
	return &Converter{provider: provider, curves: curves, cfg: cfg}
}

// Collect pide supply y pools en paralelo y devuelve todas las oportunidades
// ordenadas por ID. Si falla una de las dos fuentes se sigue con la otra;
// solo devuelve error si fallan ambas.
func (c *Converter) Collect(ctx context.Context, chain string, amount decimal.Decimal, tokens domain.TokenRegistry) ([]domain.Opportunity, error) {
	var (
		supplies          []domain.Opportunity
		pools             []domain.Opportunity
		supplyErr, lpsErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		quotes, err := c.provider.GetSupplyOpportunities(gctx, chain, amount)
		if err != nil {
			supplyErr = err
			return nil
		}
		supplies = c.FromSupply(chain, amount, quotes, tokens)
		return nil
	})
	g.Go(func() error {
		dexPools, err := c.provider.GetDexPools(gctx, chain)
		if err != nil {
			lpsErr = err
			return nil
		}
		pools, lpsErr = c.FromPools(gctx, chain, amount, dexPools, tokens)
		return nil
	})
	_ = g.Wait()

	if supplyErr != nil && lpsErr != nil {
		return nil, fmt.Errorf("opportunity.Collect: supply: %v; pools: %w", supplyErr, lpsErr)
	}
	log := logctx.From(ctx)
	if supplyErr != nil {
		log.Warn("supply opportunities unavailable", "chain", chain, "err", supplyErr)
	}
	if lpsErr != nil {
		log.Warn("lp opportunities unavailable", "chain", chain, "err", lpsErr)
	}

	out := append(supplies, pools...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// FromSupply convierte la tabla de mercados de préstamo. El APY base es el
// APY tras depositar amount.
func (c *Converter) FromSupply(chain string, amount decimal.Decimal, quotes []domain.SupplyQuote, tokens domain.TokenRegistry) []domain.Opportunity {
	out := make([]domain.Opportunity, 0, len(quotes))
	for _, q := range quotes {
		if q.APYAfter <= 0 {
			slog.Debug("skipping supply market without yield", "protocol", q.Protocol, "asset", q.Asset)
			continue
		}
		opp := domain.Opportunity{
			ID:           "supply:" + strings.ToLower(q.Protocol) + ":" + q.Asset,
			Kind:         domain.KindSupply,
			Protocol:     q.Protocol,
			Chain:        chain,
			MaxAmount:    c.maxAmount(amount),
			TargetTokens: []string{q.Asset},
			BaseAPY:      q.APYAfter,
		}
		opp.RiskFlags = append(opp.RiskFlags, unknownTokenFlags(tokens, q.Asset)...)
		c.curves.Build(&opp, amount, chain)
		out = append(out, opp)
	}
	return out
}

// FromPools simula una posición de amount en cada pool (en una sola llamada
// batch) sobre su rango sugerido y convierte el resultado.
func (c *Converter) FromPools(ctx context.Context, chain string, amount decimal.Decimal, pools []domain.DexPool, tokens domain.TokenRegistry) ([]domain.Opportunity, error) {
	var eligible []domain.DexPool
	for _, p := range pools {
		if p.TVLUSD < c.cfg.MinPoolTVLUSD {
			logctx.From(ctx).Debug("pool below min tvl", "pool", p.Address, "tvl_usd", p.TVLUSD)
			continue
		}
		eligible = append(eligible, p)
	}
	if len(eligible) == 0 {
		return nil, nil
	}

	reqs := make([]domain.LPSimulationRequest, len(eligible))
	for i, p := range eligible {
		reqs[i] = domain.LPSimulationRequest{
			Chain:       chain,
			PoolAddress: p.Address,
			AmountUSD:   amount,
			TickLower:   p.SuggestedTickLower,
			TickUpper:   p.SuggestedTickUpper,
		}
	}
	sims, err := c.provider.SimulateLPBatch(ctx, reqs)
	if err != nil {
		return nil, fmt.Errorf("opportunity.FromPools: simulate: %w", err)
	}
	if len(sims) != len(eligible) {
		return nil, fmt.Errorf("opportunity.FromPools: %d simulations for %d pools", len(sims), len(eligible))
	}

	out := make([]domain.Opportunity, 0, len(eligible))
	for i, p := range eligible {
		sim := sims[i]
		if sim.ExpectedAPY <= 0 {
			continue
		}

		ratios := sim.Ratios()
		if len(ratios) == 0 {
			ratios = map[string]float64{p.Token0: 0.5, p.Token1: 0.5}
		}

		opp := domain.Opportunity{
			ID:               "lp:" + strings.ToLower(p.Address),
			Kind:             domain.KindLP,
			Protocol:         p.Protocol,
			Chain:            chain,
			MaxAmount:        c.maxAmount(amount),
			TargetTokens:     []string{p.Token0, p.Token1},
			TokenRatios:      ratios,
			PoolAddress:      p.Address,
			TickLower:        p.SuggestedTickLower,
			TickUpper:        p.SuggestedTickUpper,
			PoolLiquidityUSD: p.TVLUSD,
			BaseAPY:          sim.ExpectedAPY,
		}
		if !p.InRange() {
			opp.RiskFlags = append(opp.RiskFlags, domain.RiskFlag{
				Code:     FlagOutOfRange,
				Severity: domain.SeverityWarning,
				Message:  fmt.Sprintf("tick %d outside [%d, %d)", p.CurrentTick, p.SuggestedTickLower, p.SuggestedTickUpper),
			})
		}
		opp.RiskFlags = append(opp.RiskFlags, unknownTokenFlags(tokens, p.Token0, p.Token1)...)

		c.curves.Build(&opp, amount, chain)
		out = append(out, opp)
	}
	return out, nil
}

func (c *Converter) maxAmount(amount decimal.Decimal) decimal.Decimal {
	if c.cfg.MaxPerOpportunityPct <= 0 || c.cfg.MaxPerOpportunityPct >= 1 {
		return amount
	}
	return amount.Mul(decimal.NewFromFloat(c.cfg.MaxPerOpportunityPct))
}

// unknownTokenFlags marca como críticos los tokens que no están en el registro.
// Un registro vacío no marca nada.
func unknownTokenFlags(tokens domain.TokenRegistry, symbols ...string) []domain.RiskFlag {
	if len(tokens) == 0 {
		return nil
	}
	var flags []domain.RiskFlag
	for _, s := range symbols {
		if _, ok := tokens.Lookup(s); ok {
			continue
		}
		flags = append(flags, domain.RiskFlag{
			Code:     FlagUnknownToken,
			Severity: domain.SeverityCritical,
			Message:  fmt.Sprintf("token %s not in registry", s),
		})
	}
	return flags
}
