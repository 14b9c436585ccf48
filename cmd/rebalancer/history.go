package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/alejandrodnm/yieldpilot/internal/adapters/notify"
)

const historyWindow = 7 * 24 * time.Hour

func runHistory(ctx context.Context, app *app, console *notify.Console, deploymentID string) {
	jobs, err := app.store.ListJobs(ctx, deploymentID, time.Now().Add(-historyWindow), 50)
	if err != nil {
		slog.Error("failed to list jobs", "err", err)
		os.Exit(1)
	}
	console.PrintHistory(jobs)
}

func runExecute(ctx context.Context, app *app, jobID string) error {
	slog.Info("=== MANUAL EXECUTION ===", "job_id", jobID)

	job, err := app.orch.Execute(ctx, jobID)
	if err != nil {
		slog.Error("execution failed", "job_id", jobID, "status", job.Status, "err", err)
		return err
	}
	slog.Info("execution complete", "job_id", job.ID, "status", job.Status)
	return nil
}
