package provider

import (
	"strings"
	"time"

	"github.com/alejandrodnm/yieldpilot/internal/domain"
)

// mapDexPool convierte un dexPool DTO a domain.DexPool. Si el DTO no trae
// dirección se usa la clave del objeto indexado.
func mapDexPool(key string, r dexPool) domain.DexPool {
	addr := r.Address
	if addr == "" {
		addr = key
	}
	return domain.DexPool{
		Address:            addr,
		Protocol:           r.Protocol,
		Token0:             r.CurrentSnapshot.Token0.Symbol,
		Token1:             r.CurrentSnapshot.Token1.Symbol,
		TVLUSD:             r.CurrentSnapshot.TVLUSD,
		FeeAPY:             r.CurrentSnapshot.FeeAPY,
		CurrentTick:        r.PricePosition.CurrentTick,
		SuggestedTickLower: r.PricePosition.SuggestedTickLower,
		SuggestedTickUpper: r.PricePosition.SuggestedTickUpper,
	}
}

func mapLPSimulation(fallbackPool string, r lpSimulateResult) domain.LPSimulation {
	pool := r.Pool.Address
	if pool == "" {
		pool = fallbackPool
	}
	sim := domain.LPSimulation{
		PoolAddress:    pool,
		ExpectedAPY:    r.Summary.TotalExpectedAPY,
		RequiredTokens: make(map[string]domain.RequiredToken, len(r.Summary.RequiredTokens)),
	}
	for symbol, rt := range r.Summary.RequiredTokens {
		sim.RequiredTokens[symbol] = domain.RequiredToken{Amount: rt.Amount, AmountUSD: rt.AmountUSD}
	}
	return sim
}

func mapSupplyOpportunity(r supplyOpportunity) domain.SupplyQuote {
	return domain.SupplyQuote{
		Protocol:       r.Protocol,
		Asset:          r.Asset,
		APYBefore:      r.Before.SupplyAPY,
		APYAfter:       r.After.SupplyAPY,
		TotalSupplyUSD: r.Before.TotalSupplyUSD,
		Utilization:    r.After.Utilization,
	}
}

// mapYieldSummary convierte la foto de cartera y construye el PositionSet actual.
func mapYieldSummary(dep domain.Deployment, r yieldSummaryResponse) *domain.YieldSummary {
	y := &domain.YieldSummary{
		DeploymentID:   dep.ID,
		Chain:          dep.Chain,
		TotalAssetsUSD: r.TotalAssetsUSD,
		Tokens:         make(domain.TokenRegistry, len(r.Tokens)),
		FetchedAt:      time.Now().UTC(),
	}

	for symbol, t := range r.Tokens {
		y.Tokens[symbol] = domain.TokenInfo{
			Symbol:   symbol,
			Address:  strings.ToLower(t.Address),
			Decimals: t.Decimals,
			PriceUSD: t.PriceUSD,
		}
	}

	for _, b := range r.Idle {
		y.Idle = append(y.Idle, domain.IdleBalance{Token: b.Token, Amount: b.Amount, ValueUSD: b.ValueUSD})
		y.Current.Balances = append(y.Current.Balances, domain.TokenBalance{Token: b.Token, Amount: b.Amount.String()})
	}

	for _, s := range r.Supplies {
		y.Positions = append(y.Positions, domain.YieldPosition{
			Kind:     domain.KindSupply,
			Protocol: s.Protocol,
			Tokens:   []string{s.Token},
			ValueUSD: s.ValueUSD,
			APY:      s.APY,
		})
		y.Current.Supplies = append(y.Current.Supplies, domain.SupplyPosition{
			Protocol: s.Protocol,
			Token:    s.Token,
			Amount:   s.Amount.String(),
		})
	}

	for _, lp := range r.LPs {
		y.Positions = append(y.Positions, domain.YieldPosition{
			Kind:     domain.KindLP,
			Protocol: lp.Protocol,
			Tokens:   []string{lp.Token0, lp.Token1},
			ValueUSD: lp.ValueUSD,
			APY:      lp.APY,
		})
		y.Current.LPs = append(y.Current.LPs, domain.LPPosition{
			Protocol:    lp.Protocol,
			PoolAddress: lp.PoolAddress,
			PositionID:  lp.PositionID,
			TickLower:   lp.TickLower,
			TickUpper:   lp.TickUpper,
			Token0:      lp.Token0,
			Token1:      lp.Token1,
			Amount0:     lp.Amount0.String(),
			Amount1:     lp.Amount1.String(),
		})
	}

	return y
}
