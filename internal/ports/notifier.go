package ports

import (
	"context"

	"github.com/alejandrodnm/yieldpilot/internal/domain"
)

// JobNotifier avisa al operador de cambios de estado relevantes de un job.
type JobNotifier interface {
	NotifyJob(ctx context.Context, job domain.RebalanceJob) error
}

// AllocationNotifier presenta el resultado de una optimización.
type AllocationNotifier interface {
	NotifyAllocation(ctx context.Context, deploymentID string, result domain.AllocationResult) error
}
