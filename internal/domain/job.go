package domain

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrInvalidTransition = errors.New("invalid job status transition")
	ErrJobConflict       = errors.New("open job already exists for deployment")
	ErrNoTxHash          = errors.New("execution service returned no transaction hash")
	ErrReceiptTimeout    = errors.New("transaction receipt not found in time")
	ErrTxReverted        = errors.New("transaction reverted")
)

// JobStatus es el estado de un RebalanceJob.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobSimulating JobStatus = "simulating"
	JobApproved   JobStatus = "approved"
	JobRejected   JobStatus = "rejected"
	JobExecuting  JobStatus = "executing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// OpenStatuses son los estados en los que un job aún puede avanzar.
var OpenStatuses = []JobStatus{JobPending, JobSimulating, JobApproved, JobExecuting}

// transitions define la máquina de estados. FAILED es alcanzable desde
// cualquier estado abierto (errores inesperados, jobs reemplazados).
var transitions = map[JobStatus][]JobStatus{
	JobPending:    {JobSimulating, JobFailed},
	JobSimulating: {JobApproved, JobRejected, JobFailed},
	JobApproved:   {JobExecuting, JobFailed},
	JobExecuting:  {JobCompleted, JobFailed},
}

// CanTransition indica si from → to es un avance válido.
func CanTransition(from, to JobStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal devuelve true para completed, failed y rejected.
func (s JobStatus) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobRejected
}

// IsOpen devuelve true si el job aún no terminó.
func (s JobStatus) IsOpen() bool {
	for _, o := range OpenStatuses {
		if s == o {
			return true
		}
	}
	return false
}

// Trigger es el origen de una petición de rebalanceo.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
)

// Deployment es una cartera gestionada (Safe + wallet del usuario en una cadena).
type Deployment struct {
	ID            string
	UserID        string
	ChainID       int64
	Chain         string
	SafeAddress   string
	WalletAddress string
}

// RebalanceJob es el registro persistente de un intento de rebalanceo.
type RebalanceJob struct {
	ID             string
	DeploymentID   string
	Trigger        Trigger
	Status         JobStatus
	InputContext   json.RawMessage
	SimulateReport json.RawMessage
	ExecResult     json.RawMessage
	ErrorMessage   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
}

// Age devuelve el tiempo transcurrido desde la creación.
func (j RebalanceJob) Age(now time.Time) time.Duration {
	return now.Sub(j.CreatedAt)
}

// SinceCompletion devuelve el tiempo desde que terminó; si no terminó, desde la última actualización.
func (j RebalanceJob) SinceCompletion(now time.Time) time.Duration {
	if j.CompletedAt != nil {
		return now.Sub(*j.CompletedAt)
	}
	return now.Sub(j.UpdatedAt)
}

// ExecResult es lo que se guarda en RebalanceJob.ExecResult.
type ExecResult struct {
	TxHash      string `json:"txHash,omitempty"`
	BlockNumber uint64 `json:"blockNumber,omitempty"`
	Status      string `json:"status,omitempty"`
	GasUsed     uint64 `json:"gasUsed,omitempty"`
}

// SessionLogEntry es una línea de log capturada durante la ejecución de un job.
type SessionLogEntry struct {
	Time    time.Time         `json:"time"`
	Level   string            `json:"level"`
	Message string            `json:"message"`
	Attrs   map[string]string `json:"attrs,omitempty"`
}

// ExecutionSnapshot es el registro estructurado que se persiste al terminar un job.
type ExecutionSnapshot struct {
	JobID        string            `json:"jobId"`
	DeploymentID string            `json:"deploymentId"`
	Status       JobStatus         `json:"status"`
	TxHash       string            `json:"txHash,omitempty"`
	ExecutedAt   time.Time         `json:"executedAt"`
	YieldSummary json.RawMessage   `json:"yieldSummary,omitempty"`
	ParsedTx     json.RawMessage   `json:"parsedTx,omitempty"`
	Logs         []SessionLogEntry `json:"logs,omitempty"`
}
