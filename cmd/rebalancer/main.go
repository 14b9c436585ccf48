package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alejandrodnm/yieldpilot/config"
	"github.com/alejandrodnm/yieldpilot/internal/adapters/notify"
	"github.com/alejandrodnm/yieldpilot/internal/domain"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	once := flag.Bool("once", false, "run one precheck cycle for every deployment and exit")
	deploymentID := flag.String("deployment", "", "only manage this deployment ID")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	table := flag.Bool("table", false, "print allocations as tables (default: compact 1-line)")
	history := flag.Bool("history", false, "print recent rebalance jobs and exit")
	executeID := flag.String("execute", "", "execute an APPROVED job by ID and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	deployments, err := selectDeployments(cfg, *deploymentID)
	if err != nil {
		slog.Error("invalid deployment selection", "err", err)
		os.Exit(1)
	}

	slog.Info("yieldpilot starting",
		"config", *configPath,
		"interval", cfg.LoopInterval(),
		"deployments", len(deployments),
		"storage", cfg.Storage.Driver,
		"once", *once,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	console := notify.NewConsole(*table)

	app, err := build(ctx, cfg, deployments, console)
	if err != nil {
		slog.Error("failed to initialise", "err", err)
		os.Exit(1)
	}
	defer app.Close()

	switch {
	case *history:
		runHistory(ctx, app, console, *deploymentID)
		return
	case *executeID != "":
		if err := runExecute(ctx, app, *executeID); err != nil {
			os.Exit(1)
		}
		return
	case *once:
		runOnce(ctx, app)
		return
	}

	go app.costs.Start(ctx)

	if err := app.orch.Run(ctx); err != nil {
		slog.Error("orchestrator exited with error", "err", err)
		os.Exit(1)
	}

	slog.Info("yieldpilot stopped cleanly")
}

func runOnce(ctx context.Context, app *app) {
	app.refreshCosts(ctx)

	results, err := app.orch.RunOnce(ctx)
	if err != nil {
		slog.Error("cycle failed", "err", err)
		os.Exit(1)
	}
	for _, r := range results {
		attrs := []any{"created", r.Created, "reason", r.Reason}
		if r.Job.ID != "" {
			job, err := app.store.GetJob(ctx, r.Job.ID)
			if err == nil {
				r.Job = job
			}
			attrs = append(attrs, "job_id", r.Job.ID, "status", r.Job.Status)
		}
		slog.Info("deployment checked", attrs...)
	}
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func toDeployment(d config.DeploymentEntry) domain.Deployment {
	return domain.Deployment{
		ID:            d.ID,
		UserID:        d.UserID,
		ChainID:       d.ChainID,
		Chain:         d.Chain,
		SafeAddress:   d.SafeAddress,
		WalletAddress: d.WalletAddress,
	}
}
