// Package guard evalúa una simulación de rebalanceo contra la política de riesgo del usuario.
package guard

import (
	"context"
	"fmt"
	"strings"

	"github.com/alejandrodnm/yieldpilot/internal/domain"
	"github.com/alejandrodnm/yieldpilot/internal/logctx"
)

// Nombres de regla que aparecen en las violaciones.
const (
	RuleMinNetUSD       = "min_net_usd"
	RuleMinAprLift      = "min_apr_lift_bps"
	RuleMinHealthFactor = "min_health_factor"
	RuleMaxSlippage     = "max_slippage_bps"
	RuleMaxGas          = "max_gas_usd"
	RuleChain           = "chain_whitelist"
	RuleAsset           = "asset_whitelist"
	RuleCriticalFlag    = "critical_risk_flag"
)

// Approve evalúa todas las reglas sin cortocircuito. Con policy nil solo
// bloquean los risk flags críticos.
func Approve(ctx context.Context, sim domain.Simulation, policy *domain.RiskPolicy) domain.GuardDecision {
	var v []domain.Violation

	if policy != nil {
		if sim.NetGainUSD < policy.MinNetUSD {
			v = append(v, violation(RuleMinNetUSD, "net gain $%.2f below minimum $%.2f", sim.NetGainUSD, policy.MinNetUSD))
		}
		if sim.AprLiftBps < policy.MinAprLiftBps {
			v = append(v, violation(RuleMinAprLift, "apr lift %.0fbps below minimum %.0fbps", sim.AprLiftBps, policy.MinAprLiftBps))
		}
		if sim.HealthFactor != nil && *sim.HealthFactor < policy.MinHealthFactor {
			v = append(v, violation(RuleMinHealthFactor, "health factor %.2f below minimum %.2f", *sim.HealthFactor, policy.MinHealthFactor))
		}
		if limit := policy.MaxSlippageBps; limit != nil && sim.SlippageBps > *limit {
			v = append(v, violation(RuleMaxSlippage, "slippage %.0fbps above maximum %.0fbps", sim.SlippageBps, *limit))
		}
		if limit := policy.MaxGasUSD; limit != nil && sim.GasUSD > *limit {
			v = append(v, violation(RuleMaxGas, "gas $%.2f above maximum $%.2f", sim.GasUSD, *limit))
		}
		if len(policy.Chains) > 0 && !containsFold(policy.Chains, sim.Chain) {
			v = append(v, violation(RuleChain, "chain %q not allowed", sim.Chain))
		}
		if len(policy.AssetWhitelist) > 0 {
			for _, a := range sim.Assets {
				if !containsFold(policy.AssetWhitelist, a) {
					v = append(v, violation(RuleAsset, "asset %s not whitelisted", a))
				}
			}
		}
	}

	for _, f := range sim.RiskFlags {
		if f.Severity == domain.SeverityCritical {
			v = append(v, violation(RuleCriticalFlag, "%s: %s", f.Code, f.Message))
		}
	}

	d := domain.GuardDecision{Approved: len(v) == 0, Violations: v}
	if !d.Approved {
		logctx.From(ctx).Info("guard rejected simulation", "violations", len(v), "reason", Summary(d))
	}
	return d
}

// CanAutoExecute decide si un plan aprobado puede ejecutarse sin intervención manual.
func CanAutoExecute(policy *domain.RiskPolicy, tradeValueUSD float64) (bool, string) {
	if policy == nil {
		return false, "no risk policy"
	}
	if !policy.AutoEnabled {
		return false, "auto execution disabled"
	}
	if limit := policy.MaxPerTradeUSD; limit != nil && tradeValueUSD > *limit {
		return false, fmt.Sprintf("trade $%.2f above per-trade limit $%.2f", tradeValueUSD, *limit)
	}
	return true, ""
}

// Summary une todas las violaciones en un único mensaje legible.
func Summary(d domain.GuardDecision) string {
	parts := make([]string, len(d.Violations))
	for i, v := range d.Violations {
		parts[i] = v.Message
	}
	return strings.Join(parts, "; ")
}

func violation(rule, format string, args ...any) domain.Violation {
	return domain.Violation{Rule: rule, Message: fmt.Sprintf(format, args...)}
}

func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}
