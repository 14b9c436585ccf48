package ports

import (
	"context"

	"github.com/alejandrodnm/yieldpilot/internal/domain"
	"github.com/shopspring/decimal"
)

// YieldProvider es el servicio externo que cotiza pools, depósitos y swaps.
// Todas las respuestas llegan ya normalizadas y en el orden de las peticiones.
type YieldProvider interface {
	// GetDexPools devuelve los pools de liquidez concentrada de una cadena.
	GetDexPools(ctx context.Context, chain string) ([]domain.DexPool, error)

	// SimulateLPBatch simula varias posiciones LP en una sola llamada.
	SimulateLPBatch(ctx context.Context, reqs []domain.LPSimulationRequest) ([]domain.LPSimulation, error)

	// GetSupplyOpportunities simula depositar amountUSD en cada mercado de préstamo de la cadena.
	GetSupplyOpportunities(ctx context.Context, chain string, amountUSD decimal.Decimal) ([]domain.SupplyQuote, error)

	// SwapCostBatch devuelve el coste USD de cada swap, alineado con reqs.
	SwapCostBatch(ctx context.Context, reqs []domain.SwapCostRequest) ([]decimal.Decimal, error)
}

// PortfolioProvider devuelve la foto de una cartera.
type PortfolioProvider interface {
	GetYieldSummary(ctx context.Context, deployment domain.Deployment) (*domain.YieldSummary, error)
}
