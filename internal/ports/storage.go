package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/yieldpilot/internal/domain"
)

// JobStore persiste jobs de rebalanceo, snapshots de ejecución y políticas de riesgo.
type JobStore interface {
	// ClaimJob inserta un job pending. Si ya existe un job abierto para el
	// deployment devuelve ese job y domain.ErrJobConflict.
	ClaimJob(ctx context.Context, job domain.RebalanceJob) (domain.RebalanceJob, error)

	GetJob(ctx context.Context, id string) (domain.RebalanceJob, error)

	// LatestJob devuelve el job más reciente del deployment, o domain.ErrJobNotFound.
	LatestJob(ctx context.Context, deploymentID string) (domain.RebalanceJob, error)

	// UpdateJob persiste el job completo. Falla con domain.ErrInvalidTransition
	// si el estado guardado no puede avanzar al nuevo.
	UpdateJob(ctx context.Context, job domain.RebalanceJob) error

	ListJobs(ctx context.Context, deploymentID string, since time.Time, limit int) ([]domain.RebalanceJob, error)

	SaveSnapshot(ctx context.Context, snap domain.ExecutionSnapshot) error
	GetSnapshot(ctx context.Context, jobID string) (domain.ExecutionSnapshot, error)

	UpsertPolicy(ctx context.Context, policy domain.RiskPolicy) error
	// GetPolicy devuelve nil, nil si el usuario no tiene política.
	GetPolicy(ctx context.Context, userID string) (*domain.RiskPolicy, error)

	Close() error
}
