package logctx_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/alejandrodnm/yieldpilot/internal/logctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrom_DefaultsToSlogDefault(t *testing.T) {
	assert.Equal(t, slog.Default(), logctx.From(context.Background()))
}

func TestStartSession_CapturesAndForwards(t *testing.T) {
	var out bytes.Buffer
	base := slog.New(slog.NewTextHandler(&out, &slog.HandlerOptions{Level: slog.LevelInfo}))
	ctx := logctx.With(context.Background(), base)

	ctx, session := logctx.StartSession(ctx, "job_id", "j-1")
	log := logctx.From(ctx)

	log.Info("simulating", "step", 1)
	log.Debug("hidden from base handler")
	log.WithGroup("plan").Warn("partial swap", "token", "USDC")

	entries := session.Entries()
	require.Len(t, entries, 3)

	assert.Equal(t, "simulating", entries[0].Message)
	assert.Equal(t, "j-1", entries[0].Attrs["job_id"])
	assert.Equal(t, "1", entries[0].Attrs["step"])

	// El recorder captura debug aunque el handler base lo filtre.
	assert.Equal(t, "DEBUG", entries[1].Level)
	assert.NotContains(t, out.String(), "hidden from base handler")

	assert.Equal(t, "USDC", entries[2].Attrs["plan.token"])
	assert.Contains(t, out.String(), "partial swap")
}

func TestStartSession_Isolated(t *testing.T) {
	ctx := context.Background()
	ctxA, a := logctx.StartSession(ctx)
	ctxB, b := logctx.StartSession(ctx)

	logctx.From(ctxA).Info("a")
	logctx.From(ctxB).Info("b")
	logctx.From(ctxB).Info("b2")

	assert.Len(t, a.Entries(), 1)
	assert.Len(t, b.Entries(), 2)
}
