package jobs

import (
	"context"
	"log/slog"

	"github.com/alejandrodnm/yieldpilot/internal/domain"
	"github.com/alejandrodnm/yieldpilot/internal/logctx"
	"github.com/shopspring/decimal"
)

// buildTargets traduce una asignación en USD a posiciones objetivo en unidades
// humanas de cada token, usando los precios del yield summary.
func buildTargets(ctx context.Context, summary *domain.YieldSummary, alloc domain.AllocationResult) domain.PositionSet {
	log := logctx.From(ctx)
	var target domain.PositionSet
	for _, p := range alloc.Positions {
		switch p.Kind {
		case domain.KindLP:
			if len(p.TargetTokens) < 2 {
				log.Warn("lp position without token pair", "opportunity", p.OpportunityID)
				continue
			}
			t0, t1 := p.TargetTokens[0], p.TargetTokens[1]
			a0, ok0 := humanAmount(log, summary.Tokens, t0, p.Amount.Mul(ratio(p, t0)))
			a1, ok1 := humanAmount(log, summary.Tokens, t1, p.Amount.Mul(ratio(p, t1)))
			if !ok0 || !ok1 {
				continue
			}
			target.LPs = append(target.LPs, domain.LPPosition{
				Protocol:    p.Protocol,
				PoolAddress: p.PoolAddress,
				TickLower:   p.TickLower,
				TickUpper:   p.TickUpper,
				Token0:      t0,
				Token1:      t1,
				Amount0:     a0,
				Amount1:     a1,
			})
		default:
			if len(p.TargetTokens) == 0 {
				continue
			}
			token := p.TargetTokens[0]
			amount, ok := humanAmount(log, summary.Tokens, token, p.Amount)
			if !ok {
				continue
			}
			target.Supplies = append(target.Supplies, domain.SupplyPosition{
				Protocol: p.Protocol,
				Token:    token,
				Amount:   amount,
			})
		}
	}
	return target
}

func ratio(p domain.AllocatedPosition, token string) decimal.Decimal {
	if r, ok := p.TokenRatios[token]; ok && r > 0 {
		return decimal.NewFromFloat(r)
	}
	return decimal.NewFromFloat(0.5)
}

func humanAmount(log *slog.Logger, tokens domain.TokenRegistry, symbol string, usd decimal.Decimal) (string, bool) {
	info, ok := tokens.Lookup(symbol)
	if !ok || !info.PriceUSD.IsPositive() {
		log.Warn("no price for target token", "token", symbol)
		return "", false
	}
	return usd.Div(info.PriceUSD).Truncate(int32(info.Decimals)).String(), true
}
