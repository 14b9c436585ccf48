package main

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/alejandrodnm/yieldpilot/config"
	"github.com/alejandrodnm/yieldpilot/internal/adapters/execution"
	"github.com/alejandrodnm/yieldpilot/internal/adapters/notify"
	"github.com/alejandrodnm/yieldpilot/internal/adapters/onchain"
	"github.com/alejandrodnm/yieldpilot/internal/adapters/provider"
	"github.com/alejandrodnm/yieldpilot/internal/adapters/storage"
	"github.com/alejandrodnm/yieldpilot/internal/application/curve"
	"github.com/alejandrodnm/yieldpilot/internal/application/jobs"
	"github.com/alejandrodnm/yieldpilot/internal/application/opportunity"
	"github.com/alejandrodnm/yieldpilot/internal/application/optimizer"
	"github.com/alejandrodnm/yieldpilot/internal/application/precheck"
	"github.com/alejandrodnm/yieldpilot/internal/application/swapcost"
	"github.com/alejandrodnm/yieldpilot/internal/application/txbuilder"
	"github.com/alejandrodnm/yieldpilot/internal/domain"
	"github.com/alejandrodnm/yieldpilot/internal/ports"
	"github.com/shopspring/decimal"
)

// app agrupa los componentes ya conectados.
type app struct {
	store  *storage.Store
	chain  *onchain.Client
	costs  *swapcost.Estimator
	orch   *jobs.Orchestrator
	chains []string
}

func (a *app) Close() {
	if a.chain != nil {
		a.chain.Close()
	}
	if err := a.store.Close(); err != nil {
		slog.Warn("failed to close storage", "err", err)
	}
}

// refreshCosts carga la matriz de swaps de las cadenas gestionadas antes de un ciclo suelto.
func (a *app) refreshCosts(ctx context.Context) {
	for _, chain := range a.chains {
		if err := a.costs.Refresh(ctx, chain); err != nil {
			slog.Warn("swap cost refresh failed, using static estimate", "chain", chain, "err", err)
		}
	}
}

func build(ctx context.Context, cfg *config.Config, deployments []domain.Deployment, console *notify.Console) (*app, error) {
	store, err := storage.Open(cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return nil, err
	}
	if err := seedPolicies(ctx, store, cfg.Policies); err != nil {
		store.Close()
		return nil, err
	}

	yields := provider.NewClient(cfg.Provider.BaseURL,
		provider.WithTimeout(time.Duration(cfg.Provider.TimeoutSeconds)*time.Second),
		provider.WithRate(cfg.Provider.RequestsPerSecond, 2),
	)

	curveCfg := curve.DefaultConfig()
	curveCfg.QueryTimeout = time.Duration(cfg.Provider.CurveQueryTimeoutMs) * time.Millisecond
	curves := curve.NewBuilder(yields, curveCfg)

	costs := swapcost.New(yields, swapcost.Config{
		Stables:          cfg.Chain.StableTokens,
		BaseNotionalUSD:  decimal.NewFromFloat(cfg.SwapCost.BaseNotionalUSD),
		RefreshInterval:  time.Duration(cfg.SwapCost.RefreshMinutes) * time.Minute,
		FeeRate:          cfg.SwapCost.StaticFeeRate,
		MaxSlippage:      cfg.SwapCost.StaticMaxSlippage,
		SlippageScaleUSD: cfg.SwapCost.StaticSlippageScaleUSD,
	})

	opts := optimizer.Options{
		IncrementFraction: cfg.Optimizer.IncrementFraction,
		MinMarginalAPY:    cfg.Optimizer.MinMarginalAPY,
		MaxBreakevenHours: cfg.Optimizer.MaxBreakevenHours,
		MaxIterations:     cfg.Optimizer.MaxIterations,
		LPDerate:          cfg.Optimizer.LPDerate,
		SupplyHoldingDays: cfg.Optimizer.SupplyHoldingDays,
		LPHoldingDays:     cfg.Optimizer.LPHoldingDays,
		FirstSwapGasUSD:   decimal.NewFromFloat(cfg.Optimizer.FirstSwapGasUSD),
		UseRealAPY:        !cfg.Optimizer.EstimateOnly,
		Workers:           cfg.Optimizer.Workers,
	}

	converter := opportunity.New(yields, curves, opportunity.Config{
		MinPoolTVLUSD:        cfg.Provider.MinPoolTVLUSD,
		MaxPerOpportunityPct: cfg.Optimizer.MaxPerOpportunityPct,
	})

	checker := precheck.New(
		withKnownTokens(yields, cfg.Chain.Tokens),
		converter,
		optimizer.New(costs),
		precheck.Config{
			Thresholds: domain.TriggerThresholds{
				MinPortfolioUSD: cfg.Precheck.MinPortfolioUSD,
				MinRatio:        cfg.Precheck.MinRatio,
				MinDiffPP:       cfg.Precheck.MinDiffPP,
			},
			Optimizer: opts,
		},
	)

	chain, err := onchain.Dial(ctx, cfg.Chain.RPCURL, cfg.Chain.GasPerAction, cfg.Chain.NativePriceUSD)
	if err != nil {
		store.Close()
		return nil, err
	}

	executor := execution.NewClient(cfg.Execution.BaseURL,
		time.Duration(cfg.Execution.TimeoutSeconds)*time.Second,
		cfg.Execution.SubmitRetries,
	)

	tx := txbuilder.DefaultOptions()
	tx.SlippageBps = uint64(cfg.Chain.SlippageBps)

	orch := jobs.New(jobs.Config{
		Interval:            cfg.LoopInterval(),
		OpenWindow:          time.Duration(cfg.Jobs.OpenWindowMinutes) * time.Minute,
		CompletedWindow:     time.Duration(cfg.Jobs.CompletedWindowMinutes) * time.Minute,
		Cooldown:            time.Duration(cfg.Jobs.CooldownSeconds) * time.Second,
		WorkerRatePerMinute: cfg.Jobs.WorkerRatePerMinute,
		QueueSize:           cfg.Jobs.QueueSize,
		HorizonDays:         cfg.Precheck.HorizonDays,
		GasUSDPerAction:     cfg.Jobs.GasUSDPerAction,
		ReceiptAttempts:     cfg.Chain.ReceiptAttempts,
		ReceiptInterval:     time.Duration(cfg.Chain.ReceiptIntervalMs) * time.Millisecond,
		Tx:                  tx,
	}, jobs.Deps{
		Store:       store,
		Precheck:    checker,
		Executor:    executor,
		Receipts:    chain,
		Gas:         chain,
		Jobs:        console,
		Allocations: console,
	}, deployments)

	return &app{
		store:  store,
		chain:  chain,
		costs:  costs,
		orch:   orch,
		chains: chainsOf(deployments),
	}, nil
}

func seedPolicies(ctx context.Context, store ports.JobStore, entries []config.PolicyEntry) error {
	for _, p := range entries {
		err := store.UpsertPolicy(ctx, domain.RiskPolicy{
			UserID:          p.UserID,
			Chains:          p.Chains,
			AssetWhitelist:  p.AssetWhitelist,
			MinAprLiftBps:   p.MinAprLiftBps,
			MinNetUSD:       p.MinNetUSD,
			MinHealthFactor: p.MinHealthFactor,
			MaxSlippageBps:  p.MaxSlippageBps,
			MaxGasUSD:       p.MaxGasUSD,
			MaxPerTradeUSD:  p.MaxPerTradeUSD,
			AutoEnabled:     p.AutoEnabled,
		})
		if err != nil {
			return fmt.Errorf("seed policy %s: %w", p.UserID, err)
		}
	}
	if len(entries) > 0 {
		slog.Info("risk policies loaded", "count", len(entries))
	}
	return nil
}

func selectDeployments(cfg *config.Config, id string) ([]domain.Deployment, error) {
	if id != "" {
		d, ok := cfg.Deployment(id)
		if !ok {
			return nil, fmt.Errorf("deployment %q not in config", id)
		}
		return []domain.Deployment{toDeployment(d)}, nil
	}
	if len(cfg.Deployments) == 0 {
		return nil, fmt.Errorf("no deployments configured")
	}
	out := make([]domain.Deployment, 0, len(cfg.Deployments))
	for _, d := range cfg.Deployments {
		out = append(out, toDeployment(d))
	}
	return out, nil
}

func chainsOf(deployments []domain.Deployment) []string {
	set := make(map[string]struct{})
	for _, d := range deployments {
		set[strings.ToLower(d.Chain)] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// knownTokens completa el registro de tokens del yield summary con los
// tokens declarados en config para la cadena del deployment.
type knownTokens struct {
	next   ports.PortfolioProvider
	tokens map[string][]config.TokenEntry
}

func withKnownTokens(next ports.PortfolioProvider, tokens map[string][]config.TokenEntry) ports.PortfolioProvider {
	if len(tokens) == 0 {
		return next
	}
	return knownTokens{next: next, tokens: tokens}
}

func (k knownTokens) GetYieldSummary(ctx context.Context, dep domain.Deployment) (*domain.YieldSummary, error) {
	summary, err := k.next.GetYieldSummary(ctx, dep)
	if err != nil || summary == nil {
		return summary, err
	}
	if summary.Tokens == nil {
		summary.Tokens = make(domain.TokenRegistry)
	}
	for _, t := range k.tokens[strings.ToLower(dep.Chain)] {
		info, ok := summary.Tokens.Lookup(t.Symbol)
		if !ok {
			summary.Tokens[t.Symbol] = domain.TokenInfo{Symbol: t.Symbol, Address: strings.ToLower(t.Address), Decimals: t.Decimals}
			continue
		}
		if info.Address == "" {
			info.Address = strings.ToLower(t.Address)
			summary.Tokens[info.Symbol] = info
		}
	}
	return summary, nil
}
