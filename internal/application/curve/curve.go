// Package curve construye las curvas de APY de cada oportunidad: una estimación
// analítica barata y una consulta real al proveedor, cacheada y con fallback.
package curve

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/alejandrodnm/yieldpilot/internal/domain"
	"github.com/alejandrodnm/yieldpilot/internal/logctx"
	"github.com/alejandrodnm/yieldpilot/internal/ports"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

const (
	// Decaimiento exponencial del APY de supply por encima del punto base.
	supplyDecay = 0.05
	// Suelos de la estimación, como fracción del APY base.
	supplyFloor = 0.5
	lpFloor     = 0.3

	defaultTolerance    = 0.20
	defaultQueryTimeout = 5 * time.Second
)

// Config controla cuándo y cómo se consulta al proveedor.
type Config struct {
	// Tolerance: desviación relativa respecto a BaseAmount dentro de la cual
	// se reutiliza el APY base sin consultar.
	Tolerance    float64
	QueryTimeout time.Duration
}

// DefaultConfig devuelve ±20% y 5s de timeout.
func DefaultConfig() Config {
	return Config{Tolerance: defaultTolerance, QueryTimeout: defaultQueryTimeout}
}

// Querier consulta el APY real para una cantidad concreta.
type Querier func(ctx context.Context, amountUSD decimal.Decimal) (float64, error)

// Curve implementa domain.APYCurve. Vive lo que dura una optimización.
type Curve struct {
	id         string
	kind       domain.OpportunityKind
	baseAPY    float64
	baseAmount decimal.Decimal
	liquidity  float64

	query     Querier
	tolerance float64
	timeout   time.Duration

	mu    sync.Mutex
	cache map[string]float64
	group singleflight.Group
}

// New crea una curva para la oportunidad. query puede ser nil: Real degrada a Estimate.
func New(opp domain.Opportunity, query Querier, cfg Config) *Curve {
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = defaultTolerance
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = defaultQueryTimeout
	}
	return &Curve{
		id:         opp.ID,
		kind:       opp.Kind,
		baseAPY:    opp.BaseAPY,
		baseAmount: opp.BaseAmount,
		liquidity:  opp.PoolLiquidityUSD,
		query:      query,
		tolerance:  cfg.Tolerance,
		timeout:    cfg.QueryTimeout,
		cache:      make(map[string]float64),
	}
}

// Estimate devuelve el APY estimado para amountUSD sin I/O.
//
//	supply: base·e^(-0.05·(a/base-1)), suelo 0.5·base, plana por debajo de base
//	LP:     base·(L/(L+a))·(base/a),    suelo 0.3·base
func (c *Curve) Estimate(amountUSD decimal.Decimal) float64 {
	a := amountUSD.InexactFloat64()
	base := c.baseAmount.InexactFloat64()
	if a <= 0 || base <= 0 {
		return c.baseAPY
	}

	switch c.kind {
	case domain.KindLP:
		share := 1.0
		if c.liquidity > 0 {
			share = c.liquidity / (c.liquidity + a)
		}
		apy := c.baseAPY * share * (base / a)
		return math.Max(apy, lpFloor*c.baseAPY)
	default:
		if a <= base {
			return c.baseAPY
		}
		apy := c.baseAPY * math.Exp(-supplyDecay*(a/base-1))
		return math.Max(apy, supplyFloor*c.baseAPY)
	}
}

// Real devuelve el APY cotizado por el proveedor para amountUSD. Solo consulta
// cuando la cantidad se aleja más de la tolerancia del punto base; cada cantidad
// se consulta una vez y las consultas concurrentes idénticas se agrupan.
// Cualquier fallo degrada a Estimate.
func (c *Curve) Real(ctx context.Context, amountUSD decimal.Decimal) float64 {
	if c.withinTolerance(amountUSD) || c.query == nil {
		return c.Estimate(amountUSD)
	}

	key := amountUSD.String()
	c.mu.Lock()
	if v, ok := c.cache[key]; ok {
		c.mu.Unlock()
		return v
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(key, func() (any, error) {
		qctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		apy, err := c.query(qctx, amountUSD)
		if err != nil {
			return 0.0, err
		}
		if math.IsNaN(apy) || math.IsInf(apy, 0) || apy < 0 {
			return 0.0, fmt.Errorf("invalid apy %v", apy)
		}

		c.mu.Lock()
		c.cache[key] = apy
		c.mu.Unlock()
		return apy, nil
	})
	if err != nil {
		logctx.From(ctx).Warn("curve: real apy query failed, using estimate",
			"opportunity", c.id,
			"amount_usd", key,
			"err", err,
		)
		return c.Estimate(amountUSD)
	}
	return v.(float64)
}

func (c *Curve) withinTolerance(amountUSD decimal.Decimal) bool {
	if !c.baseAmount.IsPositive() {
		return false
	}
	dev := amountUSD.Div(c.baseAmount).InexactFloat64() - 1
	return math.Abs(dev) <= c.tolerance
}

// Builder crea curvas conectadas al proveedor de rendimiento.
type Builder struct {
	provider ports.YieldProvider
	cfg      Config
}

// NewBuilder crea un Builder. provider puede ser nil (solo estimaciones).
func NewBuilder(provider ports.YieldProvider, cfg Config) *Builder {
	return &Builder{provider: provider, cfg: cfg}
}

// Build crea la curva de opp con base en baseAmount y la adjunta a la oportunidad.
func (b *Builder) Build(opp *domain.Opportunity, baseAmount decimal.Decimal, chain string) *Curve {
	opp.BaseAmount = baseAmount
	if opp.Chain == "" {
		opp.Chain = chain
	}

	var q Querier
	if b.provider != nil {
		switch opp.Kind {
		case domain.KindLP:
			q = b.lpQuerier(*opp)
		default:
			q = b.supplyQuerier(*opp)
		}
	}

	c := New(*opp, q, b.cfg)
	opp.Curve = c
	return c
}

func (b *Builder) supplyQuerier(opp domain.Opportunity) Querier {
	asset := ""
	if len(opp.TargetTokens) > 0 {
		asset = opp.TargetTokens[0]
	}
	return func(ctx context.Context, amountUSD decimal.Decimal) (float64, error) {
		quotes, err := b.provider.GetSupplyOpportunities(ctx, opp.Chain, amountUSD)
		if err != nil {
			return 0, err
		}
		for _, q := range quotes {
			if strings.EqualFold(q.Protocol, opp.Protocol) && strings.EqualFold(q.Asset, asset) {
				return q.APYAfter, nil
			}
		}
		return 0, fmt.Errorf("supply market %s/%s not in response", opp.Protocol, asset)
	}
}

func (b *Builder) lpQuerier(opp domain.Opportunity) Querier {
	return func(ctx context.Context, amountUSD decimal.Decimal) (float64, error) {
		sims, err := b.provider.SimulateLPBatch(ctx, []domain.LPSimulationRequest{{
			Chain:       opp.Chain,
			PoolAddress: opp.PoolAddress,
			AmountUSD:   amountUSD,
			TickLower:   opp.TickLower,
			TickUpper:   opp.TickUpper,
		}})
		if err != nil {
			return 0, err
		}
		if len(sims) == 0 {
			return 0, fmt.Errorf("empty simulation for pool %s", opp.PoolAddress)
		}
		return sims[0].ExpectedAPY, nil
	}
}
