package domain

import (
	"math"

	"github.com/shopspring/decimal"
)

// SwapQuote es el coste estimado de convertir holdings en un token objetivo.
type SwapQuote struct {
	Cost        decimal.Decimal // USD
	Source      string          // token del que se sacaría el capital ("" si no hay)
	UsedDynamic bool            // true si viene de la matriz cacheada, false si es el fallback estático
}

// MarginalScore es la evaluación de asignar un incremento más a una oportunidad.
type MarginalScore struct {
	Opportunity    *Opportunity
	Increment      decimal.Decimal
	GrossAPY       float64 // % tras el derate de LP
	SwapCost       decimal.Decimal
	NetAPY         float64
	BreakevenHours float64
	Deficits       map[string]decimal.Decimal
	Sources        map[string]string // token deficitario → token origen
}

// Qualifies aplica los filtros de aceptación del optimizador.
func (s MarginalScore) Qualifies(minNetAPY, maxBreakevenHours float64) bool {
	if math.IsNaN(s.NetAPY) || math.IsInf(s.BreakevenHours, 1) {
		return false
	}
	return s.NetAPY > minNetAPY && s.BreakevenHours < maxBreakevenHours
}

// AllocatedPosition es el capital asignado a una oportunidad al terminar la optimización.
type AllocatedPosition struct {
	OpportunityID string
	Kind          OpportunityKind
	Protocol      string
	Amount        decimal.Decimal
	APY           float64 // rendimiento medio estimado para Amount
	TargetTokens  []string
	TokenRatios   map[string]float64
	PoolAddress   string
	TickLower     int
	TickUpper     int
}

// AllocationStep registra un incremento comprometido.
type AllocationStep struct {
	Iteration     int
	OpportunityID string
	Amount        decimal.Decimal
	GrossAPY      float64
	NetAPY        float64
	SwapCost      decimal.Decimal
}

// AllocationResult es la salida del optimizador marginal.
type AllocationResult struct {
	Positions     []AllocatedPosition
	TotalInvested decimal.Decimal
	WeightedAPY   float64
	TotalSwapCost decimal.Decimal
	History       []AllocationStep
	Iterations    int
}

// Position busca la posición de una oportunidad.
func (r AllocationResult) Position(opportunityID string) (AllocatedPosition, bool) {
	for _, p := range r.Positions {
		if p.OpportunityID == opportunityID {
			return p, true
		}
	}
	return AllocatedPosition{}, false
}

// ComputeWeightedAPY devuelve Σ(apy·amount)/Σamount sobre las posiciones.
func ComputeWeightedAPY(positions []AllocatedPosition) float64 {
	total := decimal.Zero
	weighted := 0.0
	for _, p := range positions {
		total = total.Add(p.Amount)
		weighted += p.APY * p.Amount.InexactFloat64()
	}
	if !total.IsPositive() {
		return 0
	}
	return weighted / total.InexactFloat64()
}
