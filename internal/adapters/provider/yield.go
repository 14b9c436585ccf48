package provider

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alejandrodnm/yieldpilot/internal/domain"
	"github.com/shopspring/decimal"
)

// GetDexPools devuelve los pools de liquidez concentrada de la cadena,
// ordenados según la normalización de la respuesta.
func (c *Client) GetDexPools(ctx context.Context, chain string) ([]domain.DexPool, error) {
	var resp dexPoolsResponse
	if err := c.call(ctx, "get_dex_pools", dexPoolsRequest{Chain: chain}, &resp); err != nil {
		return nil, fmt.Errorf("provider.GetDexPools: %w", err)
	}

	raw, keys, err := decodeList[dexPool](resp.Pools)
	if err != nil {
		return nil, fmt.Errorf("provider.GetDexPools: %w", err)
	}

	pools := make([]domain.DexPool, 0, len(raw))
	for i, p := range raw {
		pools = append(pools, mapDexPool(keys[i], p))
	}
	slog.Debug("provider: dex pools fetched", "chain", chain, "count", len(pools))
	return pools, nil
}

// SimulateLPBatch simula varias posiciones LP. El resultado i corresponde a reqs[i].
func (c *Client) SimulateLPBatch(ctx context.Context, reqs []domain.LPSimulationRequest) ([]domain.LPSimulation, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	body := lpSimulateBatchRequest{Requests: make([]lpSimulateRequest, len(reqs))}
	for i, r := range reqs {
		body.Requests[i] = lpSimulateRequest{
			Chain:       r.Chain,
			PoolAddress: r.PoolAddress,
			AmountUSD:   r.AmountUSD,
			TickLower:   r.TickLower,
			TickUpper:   r.TickUpper,
		}
	}

	var resp lpSimulateBatchResponse
	if err := c.call(ctx, "get_lp_simulate_batch", body, &resp); err != nil {
		return nil, fmt.Errorf("provider.SimulateLPBatch: %w", err)
	}

	raw, _, err := decodeList[lpSimulateResult](resp.Results)
	if err != nil {
		return nil, fmt.Errorf("provider.SimulateLPBatch: %w", err)
	}
	if len(raw) != len(reqs) {
		return nil, fmt.Errorf("provider.SimulateLPBatch: got %d results for %d requests", len(raw), len(reqs))
	}

	out := make([]domain.LPSimulation, len(raw))
	for i, r := range raw {
		out[i] = mapLPSimulation(reqs[i].PoolAddress, r)
	}
	return out, nil
}

// GetSupplyOpportunities simula un depósito de amountUSD en cada mercado de préstamo.
func (c *Client) GetSupplyOpportunities(ctx context.Context, chain string, amountUSD decimal.Decimal) ([]domain.SupplyQuote, error) {
	var resp supplyResponse
	if err := c.call(ctx, "get_supply_opportunities", supplyRequest{Chain: chain, Amount: amountUSD}, &resp); err != nil {
		return nil, fmt.Errorf("provider.GetSupplyOpportunities: %w", err)
	}

	raw, _, err := decodeList[supplyOpportunity](resp.Opportunities)
	if err != nil {
		return nil, fmt.Errorf("provider.GetSupplyOpportunities: %w", err)
	}

	out := make([]domain.SupplyQuote, 0, len(raw))
	for _, r := range raw {
		out = append(out, mapSupplyOpportunity(r))
	}
	return out, nil
}

// SwapCostBatch devuelve el coste USD de cada swap, alineado con reqs.
func (c *Client) SwapCostBatch(ctx context.Context, reqs []domain.SwapCostRequest) ([]decimal.Decimal, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	body := swapCostBatchRequest{ProcessedArgsBatch: make([]swapCostArgs, len(reqs))}
	for i, r := range reqs {
		body.ProcessedArgsBatch[i] = swapCostArgs{
			Chain:     r.Chain,
			TokenIn:   r.TokenIn,
			TokenOut:  r.TokenOut,
			AmountUSD: r.AmountUSD,
		}
	}

	var resp swapCostBatchResponse
	if err := c.call(ctx, "calculate_swap_cost_batch", body, &resp); err != nil {
		return nil, fmt.Errorf("provider.SwapCostBatch: %w", err)
	}

	raw, _, err := decodeList[swapCostResult](resp.Results)
	if err != nil {
		return nil, fmt.Errorf("provider.SwapCostBatch: %w", err)
	}
	if len(raw) != len(reqs) {
		return nil, fmt.Errorf("provider.SwapCostBatch: got %d results for %d requests", len(raw), len(reqs))
	}

	out := make([]decimal.Decimal, len(raw))
	for i, r := range raw {
		out[i] = r.Fee
	}
	return out, nil
}

// GetYieldSummary devuelve la foto de la cartera de un deployment.
func (c *Client) GetYieldSummary(ctx context.Context, dep domain.Deployment) (*domain.YieldSummary, error) {
	var resp yieldSummaryResponse
	req := yieldSummaryRequest{DeploymentID: dep.ID, Chain: dep.Chain, SafeAddress: dep.SafeAddress}
	if err := c.call(ctx, "get_yield_summary", req, &resp); err != nil {
		return nil, fmt.Errorf("provider.GetYieldSummary: %w", err)
	}
	return mapYieldSummary(dep, resp), nil
}
