// Package jobs orquesta el ciclo de vida de un rebalanceo:
// precheck → simulación → guard → ejecución → verificación on-chain.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alejandrodnm/yieldpilot/internal/application/precheck"
	"github.com/alejandrodnm/yieldpilot/internal/application/txbuilder"
	"github.com/alejandrodnm/yieldpilot/internal/domain"
	"github.com/alejandrodnm/yieldpilot/internal/logctx"
	"github.com/alejandrodnm/yieldpilot/internal/ports"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Prechecker decide si un deployment merece rebalancearse.
type Prechecker interface {
	Check(ctx context.Context, dep domain.Deployment) precheck.Result
}

// Config controla deduplicación, ritmo de trabajo y verificación.
type Config struct {
	// Intervalo del ciclo programado; 0 desactiva el scheduler.
	Interval time.Duration

	OpenWindow      time.Duration // un job abierto más joven bloquea uno nuevo
	CompletedWindow time.Duration // un job completado más joven bloquea uno nuevo
	Cooldown        time.Duration // cualquier job terminado más joven bloquea uno nuevo

	WorkerRatePerMinute float64
	QueueSize           int

	HorizonDays     float64
	GasUSDPerAction float64 // fallback si no hay estimador de gas

	ReceiptAttempts int
	ReceiptInterval time.Duration

	Tx txbuilder.Options
}

// DefaultConfig devuelve ventanas de 10m / 30m / 1m, 10 jobs por minuto y 10 × 1s de verificación.
func DefaultConfig() Config {
	return Config{
		Interval:            5 * time.Minute,
		OpenWindow:          10 * time.Minute,
		CompletedWindow:     30 * time.Minute,
		Cooldown:            time.Minute,
		WorkerRatePerMinute: 10,
		QueueSize:           64,
		HorizonDays:         30,
		GasUSDPerAction:     0.05,
		ReceiptAttempts:     10,
		ReceiptInterval:     time.Second,
		Tx:                  txbuilder.DefaultOptions(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.OpenWindow <= 0 {
		c.OpenWindow = def.OpenWindow
	}
	if c.CompletedWindow <= 0 {
		c.CompletedWindow = def.CompletedWindow
	}
	if c.Cooldown <= 0 {
		c.Cooldown = def.Cooldown
	}
	if c.WorkerRatePerMinute <= 0 {
		c.WorkerRatePerMinute = def.WorkerRatePerMinute
	}
	if c.QueueSize <= 0 {
		c.QueueSize = def.QueueSize
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = def.HorizonDays
	}
	if c.GasUSDPerAction < 0 {
		c.GasUSDPerAction = def.GasUSDPerAction
	}
	if c.ReceiptAttempts <= 0 {
		c.ReceiptAttempts = def.ReceiptAttempts
	}
	if c.ReceiptInterval <= 0 {
		c.ReceiptInterval = def.ReceiptInterval
	}
	if c.Tx.SlippageBps == 0 {
		c.Tx.SlippageBps = def.Tx.SlippageBps
	}
	return c
}

// Deps son los colaboradores del orquestador. Gas y los notifiers son opcionales.
type Deps struct {
	Store       ports.JobStore
	Precheck    Prechecker
	Executor    ports.Executor
	Receipts    ports.ReceiptFetcher
	Gas         ports.GasEstimator
	Jobs        ports.JobNotifier
	Allocations ports.AllocationNotifier
}

// Orchestrator es la máquina de estados de los jobs de rebalanceo.
// Un único worker procesa los jobs en serie.
type Orchestrator struct {
	cfg         Config
	deps        Deps
	deployments map[string]domain.Deployment
	order       []string

	queue   chan string
	limiter *rate.Limiter

	mu     sync.Mutex
	active map[string]string // deploymentID → jobID abierto

	now   func() time.Time
	newID func() string
}

// New crea un Orchestrator para los deployments dados.
func New(cfg Config, deps Deps, deployments []domain.Deployment) *Orchestrator {
	cfg = cfg.withDefaults()
	o := &Orchestrator{
		cfg:         cfg,
		deps:        deps,
		deployments: make(map[string]domain.Deployment, len(deployments)),
		queue:       make(chan string, cfg.QueueSize),
		limiter:     rate.NewLimiter(rate.Limit(cfg.WorkerRatePerMinute/60), 1),
		active:      make(map[string]string),
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}
	for _, d := range deployments {
		if _, dup := o.deployments[d.ID]; !dup {
			o.order = append(o.order, d.ID)
		}
		o.deployments[d.ID] = d
	}
	return o
}

// Deployment busca un deployment gestionado.
func (o *Orchestrator) Deployment(id string) (domain.Deployment, bool) {
	d, ok := o.deployments[id]
	return d, ok
}

// RequestResult es la respuesta a una petición de rebalanceo.
type RequestResult struct {
	Job     domain.RebalanceJob
	Created bool
	Reason  string
}

// Request pide un rebalanceo del deployment. Si hay un job reciente que lo
// impide, devuelve ese job sin crear otro. Si el precheck no dispara, no hay job.
func (o *Orchestrator) Request(ctx context.Context, dep domain.Deployment, trigger domain.Trigger) (RequestResult, error) {
	log := logctx.From(ctx).With("deployment", dep.ID, "trigger", trigger)

	if existing, ok := o.activeJob(ctx, dep.ID); ok {
		return RequestResult{Job: existing, Reason: "job already in progress"}, nil
	}

	blocking, reason, err := o.dedup(ctx, dep.ID)
	if err != nil {
		return RequestResult{}, err
	}
	if blocking != nil {
		log.Debug("rebalance request deduplicated", "job_id", blocking.ID, "reason", reason)
		return RequestResult{Job: *blocking, Reason: reason}, nil
	}

	res := o.deps.Precheck.Check(ctx, dep)
	if !res.ShouldTrigger {
		log.Info("precheck did not trigger", "reason", res.Reason)
		return RequestResult{Reason: res.Reason}, nil
	}

	if o.deps.Allocations != nil {
		if err := o.deps.Allocations.NotifyAllocation(ctx, dep.ID, res.Allocation); err != nil {
			log.Warn("allocation notifier error", "err", err)
		}
	}

	input, err := encodeInput(dep, trigger, res)
	if err != nil {
		return RequestResult{}, fmt.Errorf("jobs.Request: %w", err)
	}

	now := o.now()
	job := domain.RebalanceJob{
		ID:           o.newID(),
		DeploymentID: dep.ID,
		Trigger:      trigger,
		Status:       domain.JobPending,
		InputContext: input,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	claimed, err := o.deps.Store.ClaimJob(ctx, job)
	if errors.Is(err, domain.ErrJobConflict) {
		log.Info("open job already claimed", "job_id", claimed.ID)
		return RequestResult{Job: claimed, Reason: "job already in progress"}, nil
	}
	if err != nil {
		return RequestResult{}, fmt.Errorf("jobs.Request: claim: %w", err)
	}

	o.setActive(dep.ID, claimed.ID)
	o.notify(ctx, claimed)

	select {
	case o.queue <- claimed.ID:
	default:
		log.Warn("job queue full, job stays pending", "job_id", claimed.ID)
	}

	log.Info("rebalance job created",
		"job_id", claimed.ID,
		"portfolio_apy", res.PortfolioAPY,
		"opportunity_apy", res.OpportunityAPY,
	)
	return RequestResult{Job: claimed, Created: true, Reason: res.Reason}, nil
}

// dedup aplica las ventanas de deduplicación sobre el último job del deployment.
// Un job abierto más viejo que OpenWindow se da por reemplazado y se marca FAILED.
func (o *Orchestrator) dedup(ctx context.Context, deploymentID string) (*domain.RebalanceJob, string, error) {
	last, err := o.deps.Store.LatestJob(ctx, deploymentID)
	if errors.Is(err, domain.ErrJobNotFound) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("jobs.dedup: latest job: %w", err)
	}

	now := o.now()
	switch {
	case last.Status.IsOpen():
		if last.Age(now) < o.cfg.OpenWindow {
			return &last, "job already in progress", nil
		}
		last.Status = domain.JobFailed
		last.ErrorMessage = "superseded: open longer than " + o.cfg.OpenWindow.String()
		last.UpdatedAt = now
		last.CompletedAt = &now
		if err := o.deps.Store.UpdateJob(ctx, last); err != nil {
			return nil, "", fmt.Errorf("jobs.dedup: supersede %s: %w", last.ID, err)
		}
		o.clearActive(deploymentID, last.ID)
		logctx.From(ctx).Warn("stale open job superseded", "job_id", last.ID, "deployment", deploymentID)
		return nil, "", nil

	case last.Status == domain.JobCompleted && last.SinceCompletion(now) < o.cfg.CompletedWindow:
		return &last, "recently completed", nil

	case (last.Status == domain.JobCompleted || last.Status == domain.JobFailed) && last.SinceCompletion(now) < o.cfg.Cooldown:
		return &last, "cooling down", nil
	}
	return nil, "", nil
}

// activeJob es el camino rápido: consulta el mapa en memoria y confirma en el store.
func (o *Orchestrator) activeJob(ctx context.Context, deploymentID string) (domain.RebalanceJob, bool) {
	o.mu.Lock()
	jobID, ok := o.active[deploymentID]
	o.mu.Unlock()
	if !ok {
		return domain.RebalanceJob{}, false
	}

	job, err := o.deps.Store.GetJob(ctx, jobID)
	if err != nil || !job.Status.IsOpen() || job.Age(o.now()) >= o.cfg.OpenWindow {
		o.clearActive(deploymentID, jobID)
		return domain.RebalanceJob{}, false
	}
	return job, true
}

func (o *Orchestrator) setActive(deploymentID, jobID string) {
	o.mu.Lock()
	o.active[deploymentID] = jobID
	o.mu.Unlock()
}

func (o *Orchestrator) clearActive(deploymentID, jobID string) {
	o.mu.Lock()
	if o.active[deploymentID] == jobID {
		delete(o.active, deploymentID)
	}
	o.mu.Unlock()
}

// Run arranca el worker y, si hay intervalo, el ciclo programado. Bloquea
// hasta que el contexto se cancele.
func (o *Orchestrator) Run(ctx context.Context) error {
	logctx.From(ctx).Info("orchestrator starting",
		"deployments", len(o.order),
		"interval", o.cfg.Interval,
		"rate_per_minute", o.cfg.WorkerRatePerMinute,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return o.work(gctx) })
	if o.cfg.Interval > 0 {
		g.Go(func() error { return o.schedule(gctx) })
	}
	return g.Wait()
}

// RunOnce pide un rebalanceo de cada deployment y procesa en serie los jobs creados.
func (o *Orchestrator) RunOnce(ctx context.Context) ([]RequestResult, error) {
	results := o.requestAll(ctx, domain.TriggerManual)
	for {
		select {
		case id := <-o.queue:
			if err := o.Process(ctx, id); err != nil {
				logctx.From(ctx).Error("job processing failed", "job_id", id, "err", err)
			}
		default:
			return results, nil
		}
	}
}

func (o *Orchestrator) schedule(ctx context.Context) error {
	o.requestAll(ctx, domain.TriggerScheduled)

	ticker := time.NewTicker(o.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			o.requestAll(ctx, domain.TriggerScheduled)
		}
	}
}

func (o *Orchestrator) requestAll(ctx context.Context, trigger domain.Trigger) []RequestResult {
	results := make([]RequestResult, 0, len(o.order))
	for _, id := range o.order {
		if ctx.Err() != nil {
			break
		}
		res, err := o.Request(ctx, o.deployments[id], trigger)
		if err != nil {
			logctx.From(ctx).Error("rebalance request failed", "deployment", id, "err", err)
			continue
		}
		results = append(results, res)
	}
	return results
}

// work procesa la cola en serie, como mucho WorkerRatePerMinute jobs por minuto.
func (o *Orchestrator) work(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			logctx.From(ctx).Info("orchestrator stopped")
			return nil
		case id := <-o.queue:
			if err := o.limiter.Wait(ctx); err != nil {
				return nil
			}
			if err := o.Process(ctx, id); err != nil {
				logctx.From(ctx).Error("job processing failed", "job_id", id, "err", err)
			}
		}
	}
}

func (o *Orchestrator) notify(ctx context.Context, job domain.RebalanceJob) {
	if o.deps.Jobs == nil {
		return
	}
	if err := o.deps.Jobs.NotifyJob(ctx, job); err != nil {
		logctx.From(ctx).Warn("job notifier error", "job_id", job.ID, "err", err)
	}
}
