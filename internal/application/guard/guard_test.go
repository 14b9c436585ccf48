package guard_test

import (
	"context"
	"testing"

	"github.com/alejandrodnm/yieldpilot/internal/application/guard"
	"github.com/alejandrodnm/yieldpilot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthy() domain.Simulation {
	return domain.Simulation{
		NetGainUSD:    12,
		AprLiftBps:    252,
		SlippageBps:   10,
		GasUSD:        0.3,
		TradeValueUSD: 990,
		Chain:         "base",
		Assets:        []string{"USDC", "WETH"},
	}
}

func strictPolicy() *domain.RiskPolicy {
	return &domain.RiskPolicy{
		UserID:          "u1",
		Chains:          []string{"Base"},
		AssetWhitelist:  []string{"usdc", "weth"},
		MinAprLiftBps:   100,
		MinNetUSD:       5,
		MinHealthFactor: 1.5,
		MaxSlippageBps:  domain.Limit(50),
		MaxGasUSD:       domain.Limit(2),
		MaxPerTradeUSD:  domain.Limit(5000),
		AutoEnabled:     true,
	}
}

func TestApprove_AllChecksPass(t *testing.T) {
	d := guard.Approve(context.Background(), healthy(), strictPolicy())
	assert.True(t, d.Approved)
	assert.Empty(t, d.Violations)
}

func TestApprove_ReportsEveryViolation(t *testing.T) {
	hf := 1.1
	sim := domain.Simulation{
		NetGainUSD:   1,
		AprLiftBps:   20,
		HealthFactor: &hf,
		SlippageBps:  80,
		GasUSD:       5,
		Chain:        "polygon",
		Assets:       []string{"USDC", "PEPE"},
		RiskFlags:    []domain.RiskFlag{{Code: "unknown_token", Severity: domain.SeverityCritical, Message: "PEPE"}},
	}

	d := guard.Approve(context.Background(), sim, strictPolicy())
	require.False(t, d.Approved)

	var rules []string
	for _, v := range d.Violations {
		rules = append(rules, v.Rule)
	}
	assert.ElementsMatch(t, []string{
		guard.RuleMinNetUSD,
		guard.RuleMinAprLift,
		guard.RuleMinHealthFactor,
		guard.RuleMaxSlippage,
		guard.RuleMaxGas,
		guard.RuleChain,
		guard.RuleAsset,
		guard.RuleCriticalFlag,
	}, rules)

	summary := guard.Summary(d)
	assert.Contains(t, summary, "net gain $1.00 below minimum $5.00")
	assert.Contains(t, summary, "asset PEPE not whitelisted")
}

func TestApprove_MissingHealthFactorSkipsCheck(t *testing.T) {
	sim := healthy()
	sim.HealthFactor = nil
	assert.True(t, guard.Approve(context.Background(), sim, strictPolicy()).Approved)
}

func TestApprove_NilPolicyOnlyBlocksCriticalFlags(t *testing.T) {
	sim := domain.Simulation{NetGainUSD: -100, SlippageBps: 900}
	sim.RiskFlags = []domain.RiskFlag{{Code: "out_of_range", Severity: domain.SeverityWarning}}
	assert.True(t, guard.Approve(context.Background(), sim, nil).Approved)

	sim.RiskFlags = append(sim.RiskFlags, domain.RiskFlag{Code: "unknown_token", Severity: domain.SeverityCritical})
	d := guard.Approve(context.Background(), sim, nil)
	require.False(t, d.Approved)
	require.Len(t, d.Violations, 1)
	assert.Equal(t, guard.RuleCriticalFlag, d.Violations[0].Rule)
}

func TestApprove_ZeroMinimumsStillApply(t *testing.T) {
	sim := domain.Simulation{NetGainUSD: -25, AprLiftBps: -300, GasUSD: 50, Chain: "base"}
	d := guard.Approve(context.Background(), sim, &domain.RiskPolicy{UserID: "u1"})

	require.False(t, d.Approved)
	var rules []string
	for _, v := range d.Violations {
		rules = append(rules, v.Rule)
	}
	assert.ElementsMatch(t, []string{guard.RuleMinNetUSD, guard.RuleMinAprLift}, rules, "sin topes máximos configurados")
}

func TestApprove_ZeroGainPassesZeroMinimum(t *testing.T) {
	sim := domain.Simulation{NetGainUSD: 0, AprLiftBps: 0, Chain: "base"}
	assert.True(t, guard.Approve(context.Background(), sim, &domain.RiskPolicy{UserID: "u1"}).Approved)
}

func TestApprove_Thresholds(t *testing.T) {
	tests := []struct {
		name   string
		policy domain.RiskPolicy
		sim    domain.Simulation
		rules  []string
	}{
		{
			name:   "net gain below minimum, lift above",
			policy: domain.RiskPolicy{UserID: "u1", MinNetUSD: 10, MinAprLiftBps: 50},
			sim:    domain.Simulation{NetGainUSD: 5, AprLiftBps: 80},
			rules:  []string{guard.RuleMinNetUSD},
		},
		{
			name:   "both minimums met",
			policy: domain.RiskPolicy{UserID: "u1", MinNetUSD: 10, MinAprLiftBps: 50},
			sim:    domain.Simulation{NetGainUSD: 10, AprLiftBps: 50},
		},
		{
			name:   "zero gas cap rejects any gas",
			policy: domain.RiskPolicy{UserID: "u1", MaxGasUSD: domain.Limit(0)},
			sim:    domain.Simulation{NetGainUSD: 1, AprLiftBps: 1, GasUSD: 0.01},
			rules:  []string{guard.RuleMaxGas},
		},
		{
			name:   "slippage at cap passes",
			policy: domain.RiskPolicy{UserID: "u1", MaxSlippageBps: domain.Limit(50)},
			sim:    domain.Simulation{NetGainUSD: 1, AprLiftBps: 1, SlippageBps: 50},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := guard.Approve(context.Background(), tt.sim, &tt.policy)
			assert.Equal(t, len(tt.rules) == 0, d.Approved)
			var rules []string
			for _, v := range d.Violations {
				rules = append(rules, v.Rule)
			}
			assert.Equal(t, tt.rules, rules)
		})
	}
}

func TestCanAutoExecute(t *testing.T) {
	ok, reason := guard.CanAutoExecute(nil, 100)
	assert.False(t, ok)
	assert.Equal(t, "no risk policy", reason)

	p := strictPolicy()
	ok, _ = guard.CanAutoExecute(p, 990)
	assert.True(t, ok)

	ok, reason = guard.CanAutoExecute(p, 6000)
	assert.False(t, ok)
	assert.Contains(t, reason, "per-trade limit")

	p.AutoEnabled = false
	ok, reason = guard.CanAutoExecute(p, 10)
	assert.False(t, ok)
	assert.Equal(t, "auto execution disabled", reason)
}
