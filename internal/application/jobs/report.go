package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/alejandrodnm/yieldpilot/internal/application/precheck"
	"github.com/alejandrodnm/yieldpilot/internal/domain"
	"github.com/shopspring/decimal"
)

// inputContext es lo que se guarda en RebalanceJob.InputContext: todo lo que
// Process y Execute necesitan, para poder reanudar un job desde otro proceso.
type inputContext struct {
	Deployment     domain.Deployment       `json:"deployment"`
	Trigger        domain.Trigger          `json:"trigger"`
	Reason         string                  `json:"reason"`
	PortfolioAPY   float64                 `json:"portfolioApy"`
	OpportunityAPY float64                 `json:"opportunityApy"`
	TotalAssetsUSD decimal.Decimal         `json:"totalAssetsUsd"`
	Summary        *domain.YieldSummary    `json:"yieldSummary"`
	Allocation     domain.AllocationResult `json:"allocation"`
	RiskFlags      []domain.RiskFlag       `json:"riskFlags,omitempty"`
}

func encodeInput(dep domain.Deployment, trigger domain.Trigger, res precheck.Result) (json.RawMessage, error) {
	in := inputContext{
		Deployment:     dep,
		Trigger:        trigger,
		Reason:         res.Reason,
		PortfolioAPY:   res.PortfolioAPY,
		OpportunityAPY: res.OpportunityAPY,
		TotalAssetsUSD: res.TotalAssetsUSD,
		Summary:        res.Summary,
		Allocation:     res.Allocation,
		RiskFlags:      allocatedFlags(res),
	}
	raw, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("encode input context: %w", err)
	}
	return raw, nil
}

func decodeInput(raw json.RawMessage) (inputContext, error) {
	var in inputContext
	if len(raw) == 0 {
		return in, fmt.Errorf("empty input context")
	}
	if err := json.Unmarshal(raw, &in); err != nil {
		return in, fmt.Errorf("decode input context: %w", err)
	}
	if in.Summary == nil {
		return in, fmt.Errorf("input context without yield summary")
	}
	return in, nil
}

// allocatedFlags recoge los risk flags de las oportunidades que recibieron capital.
func allocatedFlags(res precheck.Result) []domain.RiskFlag {
	allocated := make(map[string]bool, len(res.Allocation.Positions))
	for _, p := range res.Allocation.Positions {
		allocated[p.OpportunityID] = true
	}
	var flags []domain.RiskFlag
	for _, opp := range res.Opportunities {
		if allocated[opp.ID] {
			flags = append(flags, opp.RiskFlags...)
		}
	}
	return flags
}

// simulateReport es lo que se guarda en RebalanceJob.SimulateReport.
type simulateReport struct {
	Simulation  domain.Simulation    `json:"simulation"`
	Decision    domain.GuardDecision `json:"decision"`
	Targets     domain.PositionSet   `json:"targets"`
	Actions     []domain.Action      `json:"actions"`
	AutoExecute bool                 `json:"autoExecute"`
	AutoReason  string               `json:"autoReason,omitempty"`
}

// storedReport es la parte del informe que se relee al ejecutar. Las acciones
// se recalculan a partir de los objetivos: la reconciliación es determinista.
type storedReport struct {
	Targets    domain.PositionSet `json:"targets"`
	Simulation domain.Simulation  `json:"simulation"`
}

func decodeReport(raw json.RawMessage) (storedReport, error) {
	var r storedReport
	if len(raw) == 0 {
		return r, fmt.Errorf("empty simulate report")
	}
	if err := json.Unmarshal(raw, &r); err != nil {
		return r, fmt.Errorf("decode simulate report: %w", err)
	}
	return r, nil
}

// parsedTx es el plan tal como se envió, guardado en el snapshot de ejecución.
type parsedTx struct {
	Targets domain.PositionSet `json:"targets"`
	Actions []domain.Action    `json:"actions"`
}
