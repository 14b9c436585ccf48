package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/alejandrodnm/yieldpilot/internal/application/guard"
	"github.com/alejandrodnm/yieldpilot/internal/application/txbuilder"
	"github.com/alejandrodnm/yieldpilot/internal/domain"
	"github.com/alejandrodnm/yieldpilot/internal/logctx"
)

// Process lleva un job PENDING por SIMULATING hasta APPROVED o REJECTED. Si la
// política permite la ejecución automática, continúa con Execute.
// Un job que no está PENDING se ignora.
func (o *Orchestrator) Process(ctx context.Context, jobID string) error {
	job, err := o.deps.Store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("jobs.Process: %w", err)
	}
	if job.Status != domain.JobPending {
		logctx.From(ctx).Debug("job not pending, skipping", "job_id", jobID, "status", job.Status)
		return nil
	}

	ctx, session := logctx.StartSession(ctx, "job_id", job.ID, "deployment", job.DeploymentID)
	log := logctx.From(ctx)

	if err := o.transition(ctx, &job, domain.JobSimulating); err != nil {
		return fmt.Errorf("jobs.Process: %w", err)
	}
	log.Info("simulating rebalance")

	in, err := decodeInput(job.InputContext)
	if err != nil {
		return o.fail(ctx, job, session, fmt.Errorf("jobs.Process: %w", err))
	}

	targets := buildTargets(ctx, in.Summary, in.Allocation)
	actions := txbuilder.Reconcile(ctx, in.Summary.Current, targets, in.Summary.Tokens, o.cfg.Tx)
	sim := o.simulate(ctx, in, targets, actions)

	policy, err := o.deps.Store.GetPolicy(ctx, in.Deployment.UserID)
	if err != nil {
		return o.fail(ctx, job, session, fmt.Errorf("jobs.Process: load policy: %w", err))
	}

	decision := guard.Approve(ctx, sim, policy)
	if len(actions) == 0 {
		decision.Approved = false
		decision.Violations = append(decision.Violations, domain.Violation{Rule: "empty_plan", Message: "plan has no actions"})
	}

	report := simulateReport{
		Simulation: sim,
		Decision:   decision,
		Targets:    targets,
		Actions:    actions,
	}
	if decision.Approved {
		report.AutoExecute, report.AutoReason = guard.CanAutoExecute(policy, sim.TradeValueUSD)
	}
	raw, err := json.Marshal(report)
	if err != nil {
		return o.fail(ctx, job, session, fmt.Errorf("jobs.Process: encode report: %w", err))
	}
	job.SimulateReport = raw

	log.Info("simulation done",
		"actions", len(actions),
		"net_gain_usd", sim.NetGainUSD,
		"apr_lift_bps", sim.AprLiftBps,
		"gas_usd", sim.GasUSD,
		"approved", decision.Approved,
	)

	if !decision.Approved {
		job.ErrorMessage = guard.Summary(decision)
		if err := o.finish(ctx, &job, domain.JobRejected, session, "", nil); err != nil {
			return fmt.Errorf("jobs.Process: %w", err)
		}
		return nil
	}

	if err := o.transition(ctx, &job, domain.JobApproved); err != nil {
		return fmt.Errorf("jobs.Process: %w", err)
	}
	o.notify(ctx, job)

	if !report.AutoExecute {
		log.Info("job approved, awaiting manual execution", "reason", report.AutoReason)
		return nil
	}
	return o.execute(ctx, job, session)
}

// simulate estima el resultado económico del plan sobre el horizonte configurado.
func (o *Orchestrator) simulate(ctx context.Context, in inputContext, targets domain.PositionSet, actions []domain.Action) domain.Simulation {
	capital := in.TotalAssetsUSD.InexactFloat64()
	lift := in.OpportunityAPY - in.PortfolioAPY
	gross := capital * lift / 100 * o.cfg.HorizonDays / 365

	gas := o.estimateGas(ctx, len(actions))
	swapCost := in.Allocation.TotalSwapCost.InexactFloat64()

	sim := domain.Simulation{
		NetGainUSD:    gross - swapCost - gas,
		AprLiftBps:    lift * 100,
		GasUSD:        gas,
		SwapCostUSD:   swapCost,
		TradeValueUSD: in.Allocation.TotalInvested.InexactFloat64(),
		Chain:         in.Summary.Chain,
		Assets:        targetAssets(targets),
		RiskFlags:     in.RiskFlags,
	}
	if sim.Chain == "" {
		sim.Chain = in.Deployment.Chain
	}
	for _, a := range actions {
		if a.Kind == domain.ActionSwap {
			sim.SlippageBps = float64(o.cfg.Tx.SlippageBps)
			break
		}
	}
	return sim
}

func (o *Orchestrator) estimateGas(ctx context.Context, actions int) float64 {
	fallback := o.cfg.GasUSDPerAction * float64(actions)
	if o.deps.Gas == nil || actions == 0 {
		return fallback
	}
	usd, err := o.deps.Gas.EstimateGasUSD(ctx, actions)
	if err != nil {
		logctx.From(ctx).Warn("gas estimate failed, using fallback", "err", err, "fallback_usd", fallback)
		return fallback
	}
	return usd
}

func targetAssets(targets domain.PositionSet) []string {
	set := make(map[string]struct{})
	for _, s := range targets.Supplies {
		set[s.Token] = struct{}{}
	}
	for _, lp := range targets.LPs {
		set[lp.Token0] = struct{}{}
		set[lp.Token1] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
