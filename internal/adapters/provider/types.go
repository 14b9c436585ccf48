package provider

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// DTOs raw del proveedor. Solo se usan dentro de este paquete.
// La conversión a domain entities se hace en mapping.go.

// --- get_dex_pools ---

type dexPoolsRequest struct {
	Chain string `json:"chain"`
}

// dexPoolsResponse: "pools" puede ser un array o un objeto indexado por dirección.
type dexPoolsResponse struct {
	Pools json.RawMessage `json:"pools"`
}

type dexPool struct {
	Address         string        `json:"address"`
	Protocol        string        `json:"protocol"`
	CurrentSnapshot poolSnapshot  `json:"currentSnapshot"`
	PricePosition   pricePosition `json:"pricePosition"`
}

type poolSnapshot struct {
	Token0 poolToken `json:"token0"`
	Token1 poolToken `json:"token1"`
	TVLUSD float64   `json:"tvlUsd"`
	FeeAPY float64   `json:"feeApy"`
}

type poolToken struct {
	Symbol  string `json:"symbol"`
	Address string `json:"address"`
}

type pricePosition struct {
	CurrentTick        int `json:"currentTick"`
	SuggestedTickLower int `json:"suggestedTickLower"`
	SuggestedTickUpper int `json:"suggestedTickUpper"`
}

// --- get_lp_simulate_batch ---

type lpSimulateBatchRequest struct {
	Requests []lpSimulateRequest `json:"requests"`
}

type lpSimulateRequest struct {
	Chain       string          `json:"chain"`
	PoolAddress string          `json:"poolAddress"`
	AmountUSD   decimal.Decimal `json:"amountUsd"`
	TickLower   int             `json:"tickLower"`
	TickUpper   int             `json:"tickUpper"`
}

type lpSimulateBatchResponse struct {
	Results json.RawMessage `json:"results"`
}

type lpSimulateResult struct {
	Pool struct {
		Address string `json:"address"`
	} `json:"pool"`
	Summary struct {
		TotalExpectedAPY float64                  `json:"totalExpectedApy"`
		RequiredTokens   map[string]requiredToken `json:"requiredTokens"`
	} `json:"summary"`
}

type requiredToken struct {
	Amount    decimal.Decimal `json:"amount"`
	AmountUSD decimal.Decimal `json:"amountUsd"`
}

// --- get_supply_opportunities ---

type supplyRequest struct {
	Chain  string          `json:"chain"`
	Amount decimal.Decimal `json:"amount"`
}

type supplyResponse struct {
	Opportunities json.RawMessage `json:"opportunities"`
}

type supplyOpportunity struct {
	Protocol string       `json:"protocol"`
	Asset    string       `json:"asset"`
	Before   supplyMarket `json:"before"`
	After    supplyMarket `json:"after"`
}

type supplyMarket struct {
	SupplyAPY      float64 `json:"supplyApy"`
	TotalSupplyUSD float64 `json:"totalSupplyUsd"`
	Utilization    float64 `json:"utilization"`
}

// --- calculate_swap_cost_batch ---

type swapCostBatchRequest struct {
	ProcessedArgsBatch []swapCostArgs `json:"processed_args_batch"`
}

type swapCostArgs struct {
	Chain     string          `json:"chain"`
	TokenIn   string          `json:"tokenIn"`
	TokenOut  string          `json:"tokenOut"`
	AmountUSD decimal.Decimal `json:"amountUsd"`
}

type swapCostBatchResponse struct {
	Results json.RawMessage `json:"results"`
}

type swapCostResult struct {
	Fee decimal.Decimal `json:"fee"`
}

// --- get_yield_summary ---

type yieldSummaryRequest struct {
	DeploymentID string `json:"deploymentId"`
	Chain        string `json:"chain"`
	SafeAddress  string `json:"safeAddress"`
}

type yieldSummaryResponse struct {
	TotalAssetsUSD decimal.Decimal          `json:"totalAssetsUsd"`
	Idle           []idleBalance            `json:"idle"`
	Supplies       []supplyHolding          `json:"supplies"`
	LPs            []lpHolding              `json:"lps"`
	Tokens         map[string]tokenMetadata `json:"tokens"`
}

type idleBalance struct {
	Token    string          `json:"token"`
	Amount   decimal.Decimal `json:"amount"`
	ValueUSD decimal.Decimal `json:"valueUsd"`
}

type supplyHolding struct {
	Protocol string          `json:"protocol"`
	Token    string          `json:"token"`
	Amount   decimal.Decimal `json:"amount"`
	ValueUSD decimal.Decimal `json:"valueUsd"`
	APY      float64         `json:"apy"`
}

type lpHolding struct {
	Protocol    string          `json:"protocol"`
	PoolAddress string          `json:"poolAddress"`
	PositionID  string          `json:"positionId"`
	TickLower   int             `json:"tickLower"`
	TickUpper   int             `json:"tickUpper"`
	Token0      string          `json:"token0"`
	Token1      string          `json:"token1"`
	Amount0     decimal.Decimal `json:"amount0"`
	Amount1     decimal.Decimal `json:"amount1"`
	ValueUSD    decimal.Decimal `json:"valueUsd"`
	APY         float64         `json:"apy"`
}

type tokenMetadata struct {
	Address  string          `json:"address"`
	Decimals uint8           `json:"decimals"`
	PriceUSD decimal.Decimal `json:"priceUsd"`
}
