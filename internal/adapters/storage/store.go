package storage

// store.go — persistencia de jobs de rebalanceo.
//
// Estrategia:
//   - `rebalance_jobs`: una fila por job. Un índice único parcial sobre
//     deployment_id para los estados abiertos hace de "claim" transaccional:
//     dos peticiones concurrentes para el mismo deployment no pueden crear dos jobs.
//   - `execution_snapshots`: una fila por job terminado (tx, foto de cartera, plan, logs).
//   - `risk_policies`: política por usuario como documento JSON. Cache en memoria
//     porque se lee en cada job y solo cambia al arrancar.
//   - Timestamps en milisegundos unix y JSON en TEXT: el mismo schema sirve
//     para SQLite y Postgres.

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alejandrodnm/yieldpilot/internal/domain"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS rebalance_jobs (
    id              TEXT PRIMARY KEY,
    deployment_id   TEXT   NOT NULL,
    trigger_kind    TEXT   NOT NULL,
    status          TEXT   NOT NULL,
    input_context   TEXT,
    simulate_report TEXT,
    exec_result     TEXT,
    error_message   TEXT   NOT NULL DEFAULT '',
    created_at      BIGINT NOT NULL,
    updated_at      BIGINT NOT NULL,
    completed_at    BIGINT
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_one_open
    ON rebalance_jobs(deployment_id)
    WHERE status IN ('pending', 'simulating', 'approved', 'executing');

CREATE INDEX IF NOT EXISTS idx_jobs_deployment ON rebalance_jobs(deployment_id, created_at DESC);

CREATE TABLE IF NOT EXISTS execution_snapshots (
    job_id        TEXT PRIMARY KEY,
    deployment_id TEXT   NOT NULL,
    status        TEXT   NOT NULL,
    tx_hash       TEXT   NOT NULL DEFAULT '',
    executed_at   BIGINT NOT NULL,
    yield_summary TEXT,
    parsed_tx     TEXT,
    logs          TEXT
);

CREATE TABLE IF NOT EXISTS risk_policies (
    user_id    TEXT PRIMARY KEY,
    body       TEXT   NOT NULL,
    updated_at BIGINT NOT NULL
);
`

// Store implementa ports.JobStore sobre database/sql.
type Store struct {
	db       *sql.DB
	postgres bool

	mu       sync.RWMutex
	policies map[string]domain.RiskPolicy
}

// Open abre el store con el driver dado ("sqlite" o "postgres").
func Open(driver, dsn string) (*Store, error) {
	switch driver {
	case "", "sqlite":
		return NewSQLiteStore(dsn)
	case "postgres":
		return NewPostgresStore(dsn)
	default:
		return nil, fmt.Errorf("storage.Open: unknown driver %q", driver)
	}
}

// NewSQLiteStore abre (o crea) la base de datos SQLite en la ruta dada.
func NewSQLiteStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStore: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)
	return newStore(db, false)
}

// NewPostgresStore conecta a Postgres con el DSN dado.
func NewPostgresStore(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage.NewPostgresStore: open: %w", err)
	}
	db.SetMaxOpenConns(10)
	return newStore(db, true)
}

func newStore(db *sql.DB, postgres bool) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: apply schema: %w", err)
	}
	s := &Store{db: db, postgres: postgres, policies: make(map[string]domain.RiskPolicy)}
	if err := s.warmPolicies(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close cierra la conexión.
func (s *Store) Close() error {
	return s.db.Close()
}

// q adapta los placeholders "?" al dialecto ($1, $2... en Postgres).
func (s *Store) q(query string) string {
	if !s.postgres {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteString("$" + strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

const jobColumns = `id, deployment_id, trigger_kind, status, input_context, simulate_report,
	exec_result, error_message, created_at, updated_at, completed_at`

// ClaimJob inserta el job si no hay otro abierto para el mismo deployment.
// Si lo hay, devuelve ese job junto con domain.ErrJobConflict.
func (s *Store) ClaimJob(ctx context.Context, job domain.RebalanceJob) (domain.RebalanceJob, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.RebalanceJob{}, fmt.Errorf("storage.ClaimJob: begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.q(`
		INSERT INTO rebalance_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`),
		job.ID, job.DeploymentID, string(job.Trigger), string(job.Status),
		nullJSON(job.InputContext), nullJSON(job.SimulateReport), nullJSON(job.ExecResult),
		job.ErrorMessage, millis(job.CreatedAt), millis(job.UpdatedAt), nullMillis(job.CompletedAt),
	)
	if err != nil {
		return domain.RebalanceJob{}, fmt.Errorf("storage.ClaimJob: insert: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.RebalanceJob{}, fmt.Errorf("storage.ClaimJob: rows affected: %w", err)
	}

	if n == 0 {
		row := tx.QueryRowContext(ctx, s.q(`
			SELECT `+jobColumns+` FROM rebalance_jobs
			WHERE deployment_id = ? AND status IN ('pending', 'simulating', 'approved', 'executing')
			ORDER BY created_at DESC LIMIT 1`), job.DeploymentID)
		existing, err := scanJob(row)
		if err != nil {
			return domain.RebalanceJob{}, fmt.Errorf("storage.ClaimJob: load open job: %w", err)
		}
		return existing, domain.ErrJobConflict
	}

	if err := tx.Commit(); err != nil {
		return domain.RebalanceJob{}, fmt.Errorf("storage.ClaimJob: commit: %w", err)
	}
	return job, nil
}

// GetJob devuelve un job por ID.
func (s *Store) GetJob(ctx context.Context, id string) (domain.RebalanceJob, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+jobColumns+` FROM rebalance_jobs WHERE id = ?`), id)
	job, err := scanJob(row)
	if err != nil {
		return domain.RebalanceJob{}, fmt.Errorf("storage.GetJob: %w", err)
	}
	return job, nil
}

// LatestJob devuelve el job más reciente del deployment.
func (s *Store) LatestJob(ctx context.Context, deploymentID string) (domain.RebalanceJob, error) {
	row := s.db.QueryRowContext(ctx, s.q(`
		SELECT `+jobColumns+` FROM rebalance_jobs
		WHERE deployment_id = ?
		ORDER BY created_at DESC, updated_at DESC LIMIT 1`), deploymentID)
	job, err := scanJob(row)
	if err != nil {
		return domain.RebalanceJob{}, fmt.Errorf("storage.LatestJob: %w", err)
	}
	return job, nil
}

// UpdateJob persiste el job validando la transición desde el estado guardado.
// El UPDATE condiciona sobre el estado leído: si otro proceso lo cambió entremedio
// la actualización no se aplica.
func (s *Store) UpdateJob(ctx context.Context, job domain.RebalanceJob) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.UpdateJob: begin tx: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, s.q(`SELECT status FROM rebalance_jobs WHERE id = ?`), job.ID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("storage.UpdateJob: %s: %w", job.ID, domain.ErrJobNotFound)
	}
	if err != nil {
		return fmt.Errorf("storage.UpdateJob: read status: %w", err)
	}

	from := domain.JobStatus(current)
	if from != job.Status && !domain.CanTransition(from, job.Status) {
		return fmt.Errorf("storage.UpdateJob: %s → %s: %w", from, job.Status, domain.ErrInvalidTransition)
	}

	res, err := tx.ExecContext(ctx, s.q(`
		UPDATE rebalance_jobs SET
			status          = ?,
			input_context   = ?,
			simulate_report = ?,
			exec_result     = ?,
			error_message   = ?,
			updated_at      = ?,
			completed_at    = ?
		WHERE id = ? AND status = ?`),
		string(job.Status), nullJSON(job.InputContext), nullJSON(job.SimulateReport), nullJSON(job.ExecResult),
		job.ErrorMessage, millis(job.UpdatedAt), nullMillis(job.CompletedAt),
		job.ID, current,
	)
	if err != nil {
		return fmt.Errorf("storage.UpdateJob: update: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("storage.UpdateJob: %s changed concurrently: %w", job.ID, domain.ErrInvalidTransition)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage.UpdateJob: commit: %w", err)
	}
	return nil
}

// ListJobs devuelve los jobs creados desde since, más recientes primero.
// Con deploymentID vacío lista todos los deployments.
func (s *Store) ListJobs(ctx context.Context, deploymentID string, since time.Time, limit int) ([]domain.RebalanceJob, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT ` + jobColumns + ` FROM rebalance_jobs WHERE created_at >= ?`
	args := []any{millis(since)}
	if deploymentID != "" {
		query += ` AND deployment_id = ?`
		args = append(args, deploymentID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("storage.ListJobs: query: %w", err)
	}
	defer rows.Close()

	var jobs []domain.RebalanceJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("storage.ListJobs: scan: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (domain.RebalanceJob, error) {
	var (
		job                   domain.RebalanceJob
		trigger, status       string
		input, report, result sql.NullString
		createdAt, updatedAt  int64
		completedAt           sql.NullInt64
	)
	err := row.Scan(&job.ID, &job.DeploymentID, &trigger, &status, &input, &report,
		&result, &job.ErrorMessage, &createdAt, &updatedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RebalanceJob{}, domain.ErrJobNotFound
	}
	if err != nil {
		return domain.RebalanceJob{}, err
	}

	job.Trigger = domain.Trigger(trigger)
	job.Status = domain.JobStatus(status)
	job.InputContext = rawJSON(input)
	job.SimulateReport = rawJSON(report)
	job.ExecResult = rawJSON(result)
	job.CreatedAt = time.UnixMilli(createdAt).UTC()
	job.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	if completedAt.Valid {
		t := time.UnixMilli(completedAt.Int64).UTC()
		job.CompletedAt = &t
	}
	return job, nil
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func nullJSON(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}

func rawJSON(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}
