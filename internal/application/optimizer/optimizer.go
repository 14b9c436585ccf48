// Package optimizer reparte capital entre oportunidades por APY neto marginal:
// en cada ronda puntúa el siguiente incremento de cada candidata y compromete
// el mejor, hasta agotar el capital o quedarse sin candidatas rentables.
package optimizer

import (
	"context"
	"math"
	"runtime"
	"sort"

	"github.com/alejandrodnm/yieldpilot/internal/domain"
	"github.com/alejandrodnm/yieldpilot/internal/logctx"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const hoursPerYear = 365 * 24

// SwapCoster cotiza el coste de cubrir un déficit de token con holdings libres.
type SwapCoster interface {
	EstimateCost(ctx context.Context, chain, target string, amountUSD decimal.Decimal, available map[string]decimal.Decimal) domain.SwapQuote
}

// Options controla una optimización.
type Options struct {
	Chain string

	// IncrementSize fijo; si es cero se usa totalCapital × IncrementFraction.
	IncrementSize     decimal.Decimal
	IncrementFraction float64

	MinMarginalAPY    float64
	MaxBreakevenHours float64
	MaxIterations     int

	// LPDerate descuenta el APY de LP por riesgo de rango e impermanent loss.
	LPDerate float64

	// Periodos de amortización del coste de swap.
	SupplyHoldingDays float64
	LPHoldingDays     float64

	// FirstSwapGasUSD se cobra una vez por token destino.
	FirstSwapGasUSD decimal.Decimal

	// UseRealAPY consulta al proveedor en el punto medio de cada incremento.
	UseRealAPY bool

	Workers int
}

// DefaultOptions devuelve los parámetros por defecto del optimizador.
func DefaultOptions() Options {
	return Options{
		IncrementFraction: 0.5,
		MinMarginalAPY:    0,
		MaxBreakevenHours: 168,
		MaxIterations:     100,
		LPDerate:          0.7,
		SupplyHoldingDays: 7,
		LPHoldingDays:     30,
		FirstSwapGasUSD:   decimal.NewFromFloat(0.01),
		UseRealAPY:        true,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.IncrementFraction <= 0 || o.IncrementFraction > 1 {
		o.IncrementFraction = def.IncrementFraction
	}
	if o.MaxBreakevenHours <= 0 {
		o.MaxBreakevenHours = def.MaxBreakevenHours
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = def.MaxIterations
	}
	if o.LPDerate <= 0 {
		o.LPDerate = def.LPDerate
	}
	if o.SupplyHoldingDays <= 0 {
		o.SupplyHoldingDays = def.SupplyHoldingDays
	}
	if o.LPHoldingDays <= 0 {
		o.LPHoldingDays = def.LPHoldingDays
	}
	if o.FirstSwapGasUSD.IsNegative() {
		o.FirstSwapGasUSD = decimal.Zero
	}
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU() * 2
	}
	return o
}

// Optimizer es el asignador marginal.
type Optimizer struct {
	costs SwapCoster
}

// New crea un Optimizer. costs puede ser nil: los déficits no tienen coste.
func New(costs SwapCoster) *Optimizer {
	return &Optimizer{costs: costs}
}

// Optimize asigna totalCapital entre opps. holdings (símbolo → USD libre) activa
// el cálculo de déficits y costes de swap; con nil se asume capital fungible.
// Nunca falla: los errores del proveedor ya degradan dentro de las curvas.
func (o *Optimizer) Optimize(
	ctx context.Context,
	opps []domain.Opportunity,
	totalCapital decimal.Decimal,
	opts Options,
	holdings map[string]decimal.Decimal,
) domain.AllocationResult {
	opts = opts.withDefaults()
	log := logctx.From(ctx)
	result := domain.AllocationResult{TotalInvested: decimal.Zero, TotalSwapCost: decimal.Zero}

	inc := opts.IncrementSize
	if !inc.IsPositive() {
		inc = totalCapital.Mul(decimal.NewFromFloat(opts.IncrementFraction))
	}
	if !inc.IsPositive() || !totalCapital.IsPositive() || len(opps) == 0 {
		return result
	}

	var hs *domain.HoldingsState
	if holdings != nil {
		hs = domain.NewHoldingsState(holdings)
	}

	allocated := make(map[string]decimal.Decimal, len(opps))
	// anchors guarda el punto medio del primer incremento de cada oportunidad.
	anchors := make(map[string]decimal.Decimal, len(opps))
	var order []string
	remaining := totalCapital

	for iter := 1; iter <= opts.MaxIterations && remaining.GreaterThanOrEqual(inc); iter++ {
		if ctx.Err() != nil {
			log.Warn("optimizer: context cancelled, returning partial allocation", "iteration", iter)
			break
		}
		result.Iterations = iter

		scores := o.scoreAll(ctx, opps, allocated, remaining, inc, hs, opts)
		best, ok := pickBest(scores, opts)
		if !ok {
			log.Debug("optimizer: no qualifying candidate", "iteration", iter, "remaining", remaining.StringFixed(2))
			break
		}

		id := best.Opportunity.ID
		if _, seen := allocated[id]; !seen {
			order = append(order, id)
			anchors[id] = best.Increment.Div(decimal.NewFromInt(2))
		}
		allocated[id] = allocated[id].Add(best.Increment)
		remaining = remaining.Sub(best.Increment)
		result.TotalSwapCost = result.TotalSwapCost.Add(best.SwapCost)

		if hs != nil {
			commitHoldings(hs, best)
			if err := hs.CheckInvariant(); err != nil {
				log.Error("optimizer: holdings invariant broken", "err", err)
			}
		}

		result.History = append(result.History, domain.AllocationStep{
			Iteration:     iter,
			OpportunityID: id,
			Amount:        best.Increment,
			GrossAPY:      best.GrossAPY,
			NetAPY:        best.NetAPY,
			SwapCost:      best.SwapCost,
		})

		log.Debug("optimizer: increment committed",
			"iteration", iter,
			"opportunity", id,
			"amount", best.Increment.StringFixed(2),
			"gross_apy", best.GrossAPY,
			"net_apy", best.NetAPY,
			"swap_cost", best.SwapCost.StringFixed(4),
		)
	}

	byID := make(map[string]domain.Opportunity, len(opps))
	for _, opp := range opps {
		byID[opp.ID] = opp
	}
	for _, id := range order {
		opp := byID[id]
		amount := allocated[id]
		result.Positions = append(result.Positions, domain.AllocatedPosition{
			OpportunityID: id,
			Kind:          opp.Kind,
			Protocol:      opp.Protocol,
			Amount:        amount,
			APY:           positionAPY(opp, amount, anchors[id]),
			TargetTokens:  opp.TargetTokens,
			TokenRatios:   opp.TokenRatios,
			PoolAddress:   opp.PoolAddress,
			TickLower:     opp.TickLower,
			TickUpper:     opp.TickUpper,
		})
		result.TotalInvested = result.TotalInvested.Add(amount)
	}
	result.WeightedAPY = domain.ComputeWeightedAPY(result.Positions)

	return result
}

// scoreAll puntúa en paralelo el siguiente incremento de cada oportunidad.
// Los huecos (nil) son oportunidades sin capacidad en esta ronda.
func (o *Optimizer) scoreAll(
	ctx context.Context,
	opps []domain.Opportunity,
	allocated map[string]decimal.Decimal,
	remaining, inc decimal.Decimal,
	hs *domain.HoldingsState,
	opts Options,
) []*domain.MarginalScore {
	scores := make([]*domain.MarginalScore, len(opps))

	var available map[string]decimal.Decimal
	totalAvailable := remaining
	if hs != nil {
		available = hs.AvailableMap()
		totalAvailable = hs.TotalAvailable()
	}

	var g errgroup.Group
	g.SetLimit(opts.Workers)
	for i := range opps {
		opp := &opps[i]
		current := allocated[opp.ID]

		step := decimal.Min(inc, remaining, totalAvailable)
		if opp.MaxAmount.IsPositive() {
			step = decimal.Min(step, opp.MaxAmount.Sub(current))
		}
		if !step.IsPositive() {
			continue
		}

		g.Go(func() error {
			s := o.score(ctx, opp, current, step, hs, available, opts)
			scores[i] = &s
			return nil
		})
	}
	_ = g.Wait()
	return scores
}

// score evalúa asignar step más a opp, que ya tiene current.
func (o *Optimizer) score(
	ctx context.Context,
	opp *domain.Opportunity,
	current, step decimal.Decimal,
	hs *domain.HoldingsState,
	available map[string]decimal.Decimal,
	opts Options,
) domain.MarginalScore {
	mid := current.Add(step.Div(decimal.NewFromInt(2)))
	gross := grossAPY(ctx, opp, mid, opts.UseRealAPY)
	if opp.IsLP() {
		gross *= opts.LPDerate
	}

	s := domain.MarginalScore{
		Opportunity: opp,
		Increment:   step,
		GrossAPY:    gross,
		SwapCost:    decimal.Zero,
		Deficits:    map[string]decimal.Decimal{},
		Sources:     map[string]string{},
	}

	if hs != nil {
		for token, need := range opp.TokenNeeds(step) {
			deficit := hs.Deficit(token, need)
			if !deficit.IsPositive() {
				continue
			}
			s.Deficits[token] = deficit
			if o.costs != nil {
				q := o.costs.EstimateCost(ctx, opts.Chain, token, deficit, available)
				s.SwapCost = s.SwapCost.Add(q.Cost)
				s.Sources[token] = q.Source
			}
			if !hs.Swapped[token] {
				s.SwapCost = s.SwapCost.Add(opts.FirstSwapGasUSD)
			}
		}
	}

	holdDays := opts.SupplyHoldingDays
	if opp.IsLP() {
		holdDays = opts.LPHoldingDays
	}
	stepF := step.InexactFloat64()
	costF := s.SwapCost.InexactFloat64()

	costRate := costF / stepF * 365 / holdDays
	s.NetAPY = gross - 100*costRate

	switch {
	case s.NetAPY <= 0 || gross <= 0:
		s.BreakevenHours = math.Inf(1)
	case costF == 0:
		s.BreakevenHours = 0
	default:
		hourly := stepF * gross / 100 / hoursPerYear
		s.BreakevenHours = costF / hourly
	}
	return s
}

// pickBest elige el mayor APY neto entre las candidatas que pasan los filtros.
// Empates por ID para que el resultado no dependa del orden de entrada.
func pickBest(scores []*domain.MarginalScore, opts Options) (domain.MarginalScore, bool) {
	var candidates []domain.MarginalScore
	for _, s := range scores {
		if s == nil || !s.Qualifies(opts.MinMarginalAPY, opts.MaxBreakevenHours) {
			continue
		}
		candidates = append(candidates, *s)
	}
	if len(candidates) == 0 {
		return domain.MarginalScore{}, false
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].NetAPY != candidates[j].NetAPY {
			return candidates[i].NetAPY > candidates[j].NetAPY
		}
		return candidates[i].Opportunity.ID < candidates[j].Opportunity.ID
	})
	return candidates[0], true
}

// commitHoldings aplica al estado de holdings los swaps y consumos del incremento elegido.
func commitHoldings(hs *domain.HoldingsState, s domain.MarginalScore) {
	needs := s.Opportunity.TokenNeeds(s.Increment)
	tokens := make([]string, 0, len(needs))
	for t := range needs {
		tokens = append(tokens, t)
	}
	sort.Strings(tokens)

	for _, token := range tokens {
		need := needs[token]
		if deficit := hs.Deficit(token, need); deficit.IsPositive() {
			hs.SwapInto(token, deficit, s.Sources[token])
		}
		hs.Consume(token, need)
	}
}

func grossAPY(ctx context.Context, opp *domain.Opportunity, amount decimal.Decimal, useReal bool) float64 {
	if opp.Curve == nil {
		return opp.BaseAPY
	}
	if useReal {
		return opp.Curve.Real(ctx, amount)
	}
	return opp.Curve.Estimate(amount)
}

// positionAPY es el APY de la posición final. El APY cotizado se toma como
// válido en el primer punto evaluado (anchor) y la forma de la curva lo lleva
// hasta la cantidad asignada: base · Estimate(amount) / Estimate(anchor).
func positionAPY(opp domain.Opportunity, amount, anchor decimal.Decimal) float64 {
	if opp.Curve == nil {
		return opp.BaseAPY
	}
	at := opp.Curve.Estimate(amount)
	ref := opp.Curve.Estimate(anchor)
	if opp.BaseAPY <= 0 || ref <= 0 || !anchor.IsPositive() {
		return at
	}
	return opp.BaseAPY * at / ref
}
