package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alejandrodnm/yieldpilot/internal/domain"
)

// SaveSnapshot guarda (o reemplaza) el snapshot de ejecución de un job.
func (s *Store) SaveSnapshot(ctx context.Context, snap domain.ExecutionSnapshot) error {
	logs, err := json.Marshal(snap.Logs)
	if err != nil {
		return fmt.Errorf("storage.SaveSnapshot: marshal logs: %w", err)
	}

	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO execution_snapshots
			(job_id, deployment_id, status, tx_hash, executed_at, yield_summary, parsed_tx, logs)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (job_id) DO UPDATE SET
			status        = excluded.status,
			tx_hash       = excluded.tx_hash,
			executed_at   = excluded.executed_at,
			yield_summary = excluded.yield_summary,
			parsed_tx     = excluded.parsed_tx,
			logs          = excluded.logs`),
		snap.JobID, snap.DeploymentID, string(snap.Status), snap.TxHash, millis(snap.ExecutedAt),
		nullJSON(snap.YieldSummary), nullJSON(snap.ParsedTx), string(logs),
	)
	if err != nil {
		return fmt.Errorf("storage.SaveSnapshot: upsert: %w", err)
	}
	return nil
}

// GetSnapshot devuelve el snapshot de un job.
func (s *Store) GetSnapshot(ctx context.Context, jobID string) (domain.ExecutionSnapshot, error) {
	var (
		snap            domain.ExecutionSnapshot
		status          string
		executedAt      int64
		summary, parsed sql.NullString
		logs            sql.NullString
	)
	err := s.db.QueryRowContext(ctx, s.q(`
		SELECT job_id, deployment_id, status, tx_hash, executed_at, yield_summary, parsed_tx, logs
		FROM execution_snapshots WHERE job_id = ?`), jobID).
		Scan(&snap.JobID, &snap.DeploymentID, &status, &snap.TxHash, &executedAt, &summary, &parsed, &logs)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ExecutionSnapshot{}, fmt.Errorf("storage.GetSnapshot: %s: %w", jobID, domain.ErrJobNotFound)
	}
	if err != nil {
		return domain.ExecutionSnapshot{}, fmt.Errorf("storage.GetSnapshot: %w", err)
	}

	snap.Status = domain.JobStatus(status)
	snap.ExecutedAt = time.UnixMilli(executedAt).UTC()
	snap.YieldSummary = rawJSON(summary)
	snap.ParsedTx = rawJSON(parsed)
	if logs.Valid && logs.String != "" {
		if err := json.Unmarshal([]byte(logs.String), &snap.Logs); err != nil {
			return domain.ExecutionSnapshot{}, fmt.Errorf("storage.GetSnapshot: decode logs: %w", err)
		}
	}
	return snap, nil
}
