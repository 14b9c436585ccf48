// Package precheck decide si una cartera merece rebalancearse: compara su APY
// actual con el APY ponderado de la mejor asignación que encuentra el optimizador.
package precheck

import (
	"context"
	"fmt"
	"time"

	"github.com/alejandrodnm/yieldpilot/internal/application/optimizer"
	"github.com/alejandrodnm/yieldpilot/internal/domain"
	"github.com/alejandrodnm/yieldpilot/internal/logctx"
	"github.com/alejandrodnm/yieldpilot/internal/ports"
	"github.com/shopspring/decimal"
)

// OpportunitySource devuelve las oportunidades de una cadena con sus curvas adjuntas.
type OpportunitySource interface {
	Collect(ctx context.Context, chain string, amount decimal.Decimal, tokens domain.TokenRegistry) ([]domain.Opportunity, error)
}

// Allocator reparte capital entre oportunidades.
type Allocator interface {
	Optimize(ctx context.Context, opps []domain.Opportunity, totalCapital decimal.Decimal, opts optimizer.Options, holdings map[string]decimal.Decimal) domain.AllocationResult
}

// Config agrupa los umbrales de disparo y las opciones del optimizador.
type Config struct {
	Thresholds domain.TriggerThresholds
	Optimizer  optimizer.Options
}

// Result es el resultado de un precheck.
type Result struct {
	DeploymentID   string
	ShouldTrigger  bool
	Reason         string
	PortfolioAPY   float64
	OpportunityAPY float64
	TotalAssetsUSD decimal.Decimal
	Summary        *domain.YieldSummary
	Allocation     domain.AllocationResult
	Opportunities  []domain.Opportunity
	CheckedAt      time.Time
}

// Service ejecuta prechecks.
type Service struct {
	portfolio ports.PortfolioProvider
	source    OpportunitySource
	allocator Allocator
	cfg       Config
	now       func() time.Time
}

// New crea un Service.
func New(portfolio ports.PortfolioProvider, source OpportunitySource, allocator Allocator, cfg Config) *Service {
	if cfg.Thresholds == (domain.TriggerThresholds{}) {
		cfg.Thresholds = domain.DefaultTriggerThresholds()
	}
	return &Service{
		portfolio: portfolio,
		source:    source,
		allocator: allocator,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Check hace una consulta de yield summary, optimiza sobre las tenencias actuales
// y decide si disparar. Nunca devuelve error: cualquier fallo aguas arriba se
// traduce en "no disparar" con el motivo en Reason.
func (s *Service) Check(ctx context.Context, dep domain.Deployment) Result {
	log := logctx.From(ctx).With("deployment", dep.ID)
	res := Result{DeploymentID: dep.ID, CheckedAt: s.now(), TotalAssetsUSD: decimal.Zero}

	summary, err := s.portfolio.GetYieldSummary(ctx, dep)
	if err != nil {
		log.Warn("precheck: yield summary unavailable", "err", err)
		res.Reason = fmt.Sprintf("yield summary unavailable: %v", err)
		return res
	}
	if summary.IsEmpty() {
		res.Reason = "empty portfolio"
		return res
	}
	res.Summary = summary
	res.TotalAssetsUSD = summary.TotalAssetsUSD
	res.PortfolioAPY = summary.PortfolioAPY()

	if summary.TotalAssetsUSD.LessThan(decimal.NewFromFloat(s.cfg.Thresholds.MinPortfolioUSD)) {
		res.ShouldTrigger, res.Reason = domain.ShouldTrigger(res.PortfolioAPY, 0, summary.TotalAssetsUSD, s.cfg.Thresholds)
		return res
	}

	chain := summary.Chain
	if chain == "" {
		chain = dep.Chain
	}

	opps, err := s.source.Collect(ctx, chain, summary.TotalAssetsUSD, summary.Tokens)
	if err != nil {
		log.Warn("precheck: opportunities unavailable", "err", err)
		res.Reason = fmt.Sprintf("opportunities unavailable: %v", err)
		return res
	}
	res.Opportunities = opps

	opts := s.cfg.Optimizer
	opts.Chain = chain
	res.Allocation = s.allocator.Optimize(ctx, opps, summary.TotalAssetsUSD, opts, summary.HoldingsUSD())
	res.OpportunityAPY = res.Allocation.WeightedAPY

	if len(res.Allocation.Positions) == 0 {
		res.Reason = "no opportunity clears the marginal filters"
		return res
	}

	res.ShouldTrigger, res.Reason = domain.ShouldTrigger(res.PortfolioAPY, res.OpportunityAPY, summary.TotalAssetsUSD, s.cfg.Thresholds)

	log.Info("precheck done",
		"trigger", res.ShouldTrigger,
		"portfolio_apy", res.PortfolioAPY,
		"opportunity_apy", res.OpportunityAPY,
		"total_usd", summary.TotalAssetsUSD.StringFixed(2),
		"positions", len(res.Allocation.Positions),
		"reason", res.Reason,
	)
	return res
}
