package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alejandrodnm/yieldpilot/internal/application/txbuilder"
	"github.com/alejandrodnm/yieldpilot/internal/domain"
	"github.com/alejandrodnm/yieldpilot/internal/logctx"
	"github.com/alejandrodnm/yieldpilot/internal/ports"
	"github.com/cenkalti/backoff/v5"
)

var errReceiptPending = errors.New("receipt pending")

// Execute envía un job APPROVED al servicio de ejecución y verifica el recibo.
// Devuelve el job en su estado final.
func (o *Orchestrator) Execute(ctx context.Context, jobID string) (domain.RebalanceJob, error) {
	job, err := o.deps.Store.GetJob(ctx, jobID)
	if err != nil {
		return domain.RebalanceJob{}, fmt.Errorf("jobs.Execute: %w", err)
	}
	if job.Status != domain.JobApproved {
		return job, fmt.Errorf("jobs.Execute: job %s is %s: %w", jobID, job.Status, domain.ErrInvalidTransition)
	}

	sctx, session := logctx.StartSession(ctx, "job_id", job.ID, "deployment", job.DeploymentID)
	execErr := o.execute(sctx, job, session)

	final, err := o.deps.Store.GetJob(ctx, jobID)
	if err != nil {
		return job, errors.Join(execErr, fmt.Errorf("jobs.Execute: reload: %w", err))
	}
	return final, execErr
}

// execute recorre EXECUTING → COMPLETED|FAILED. Una vez enviada la transacción
// el job no se interrumpe aunque se cancele el contexto.
func (o *Orchestrator) execute(ctx context.Context, job domain.RebalanceJob, session *logctx.Session) error {
	ctx = context.WithoutCancel(ctx)
	log := logctx.From(ctx)

	in, err := decodeInput(job.InputContext)
	if err != nil {
		return o.fail(ctx, job, session, fmt.Errorf("jobs.execute: %w", err))
	}
	rep, err := decodeReport(job.SimulateReport)
	if err != nil {
		return o.fail(ctx, job, session, fmt.Errorf("jobs.execute: %w", err))
	}

	actions := txbuilder.Reconcile(ctx, in.Summary.Current, rep.Targets, in.Summary.Tokens, o.cfg.Tx)
	plan := &parsedTx{Targets: rep.Targets, Actions: actions}
	if len(actions) == 0 {
		return o.fail(ctx, job, session, errors.New("jobs.execute: plan has no actions"))
	}

	if err := o.transition(ctx, &job, domain.JobExecuting); err != nil {
		return fmt.Errorf("jobs.execute: %w", err)
	}
	o.notify(ctx, job)
	log.Info("submitting rebalance", "actions", len(actions))

	txHash, err := o.deps.Executor.RebalancePosition(ctx, ports.RebalanceRequest{
		JobID:      job.ID,
		Deployment: in.Deployment,
		Targets:    rep.Targets,
		Actions:    actions,
	})
	if err == nil && txHash == "" {
		err = domain.ErrNoTxHash
	}
	if err != nil {
		return o.failWith(ctx, job, session, fmt.Errorf("jobs.execute: submit: %w", err), "", plan)
	}

	log.Info("transaction submitted", "tx_hash", txHash)
	job.ExecResult = mustJSON(domain.ExecResult{TxHash: txHash})
	if err := o.transition(ctx, &job, domain.JobExecuting); err != nil {
		return fmt.Errorf("jobs.execute: %w", err)
	}

	receipt, err := o.waitReceipt(ctx, txHash)
	if err != nil {
		return o.failWith(ctx, job, session, fmt.Errorf("jobs.execute: %w", err), txHash, plan)
	}

	job.ExecResult = mustJSON(domain.ExecResult{
		TxHash:      txHash,
		BlockNumber: receipt.BlockNumber,
		Status:      fmt.Sprintf("0x%x", receipt.Status),
		GasUsed:     receipt.GasUsed,
	})
	if receipt.Status != 1 {
		return o.failWith(ctx, job, session, fmt.Errorf("jobs.execute: %s: %w", txHash, domain.ErrTxReverted), txHash, plan)
	}

	log.Info("rebalance confirmed", "tx_hash", txHash, "block", receipt.BlockNumber, "gas_used", receipt.GasUsed)
	if err := o.finish(ctx, &job, domain.JobCompleted, session, txHash, plan); err != nil {
		return fmt.Errorf("jobs.execute: %w", err)
	}
	return nil
}

// waitReceipt consulta el recibo a intervalo fijo hasta ReceiptAttempts veces.
func (o *Orchestrator) waitReceipt(ctx context.Context, txHash string) (*ports.Receipt, error) {
	op := func() (*ports.Receipt, error) {
		r, err := o.deps.Receipts.TransactionReceipt(ctx, txHash)
		if err != nil {
			return nil, err
		}
		if r == nil {
			return nil, errReceiptPending
		}
		return r, nil
	}
	notify := func(err error, wait time.Duration) {
		logctx.From(ctx).Debug("receipt not available yet", "tx_hash", txHash, "err", err, "wait", wait)
	}

	r, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(o.cfg.ReceiptInterval)),
		backoff.WithMaxTries(uint(o.cfg.ReceiptAttempts)),
		backoff.WithNotify(notify),
	)
	if err != nil {
		return nil, fmt.Errorf("%w after %d attempts: %v", domain.ErrReceiptTimeout, o.cfg.ReceiptAttempts, err)
	}
	return r, nil
}

// transition persiste el job con el nuevo estado.
func (o *Orchestrator) transition(ctx context.Context, job *domain.RebalanceJob, to domain.JobStatus) error {
	prev := job.Status
	job.Status = to
	job.UpdatedAt = o.now()
	if err := o.deps.Store.UpdateJob(ctx, *job); err != nil {
		job.Status = prev
		return fmt.Errorf("transition %s → %s: %w", prev, to, err)
	}
	if prev != to {
		logctx.From(ctx).Debug("job transition", "from", prev, "to", to)
	}
	return nil
}

// finish lleva el job a un estado terminal, guarda el snapshot y libera el deployment.
func (o *Orchestrator) finish(ctx context.Context, job *domain.RebalanceJob, to domain.JobStatus, session *logctx.Session, txHash string, plan *parsedTx) error {
	now := o.now()
	job.CompletedAt = &now
	if err := o.transition(ctx, job, to); err != nil {
		return err
	}
	o.clearActive(job.DeploymentID, job.ID)

	if to == domain.JobCompleted {
		logctx.From(ctx).Info("job finished", "status", to, "tx_hash", txHash)
	} else {
		logctx.From(ctx).Warn("job finished", "status", to, "error", job.ErrorMessage)
	}

	snap := domain.ExecutionSnapshot{
		JobID:        job.ID,
		DeploymentID: job.DeploymentID,
		Status:       to,
		TxHash:       txHash,
		ExecutedAt:   now,
		YieldSummary: summaryJSON(job.InputContext),
		Logs:         session.Entries(),
	}
	if plan != nil {
		snap.ParsedTx = mustJSON(plan)
	}
	if err := o.deps.Store.SaveSnapshot(ctx, snap); err != nil {
		logctx.From(ctx).Error("failed to save execution snapshot", "job_id", job.ID, "err", err)
	}

	o.notify(ctx, *job)
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, job domain.RebalanceJob, session *logctx.Session, cause error) error {
	return o.failWith(ctx, job, session, cause, "", nil)
}

// failWith marca el job FAILED con cause como mensaje y devuelve cause.
func (o *Orchestrator) failWith(ctx context.Context, job domain.RebalanceJob, session *logctx.Session, cause error, txHash string, plan *parsedTx) error {
	job.ErrorMessage = cause.Error()
	if err := o.finish(context.WithoutCancel(ctx), &job, domain.JobFailed, session, txHash, plan); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

func summaryJSON(input json.RawMessage) json.RawMessage {
	var in struct {
		Summary json.RawMessage `json:"yieldSummary"`
	}
	if err := json.Unmarshal(input, &in); err != nil {
		return nil
	}
	return in.Summary
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return raw
}
