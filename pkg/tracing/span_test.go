package tracing

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpanTreeIsLoggedWithPaths(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	ctx, root := StartSpan(context.Background(), "search", "req-1")
	assert.Same(t, root, FromContext(ctx))

	execCtx, exec := StartChildSpan(ctx, "execute")
	_, eval := StartChildSpan(execCtx, "evaluate")
	eval.SetAttr("segments", 3)
	eval.End()
	exec.End()
	root.End()
	assert.Equal(t, "req-1", eval.TraceID())
	assert.GreaterOrEqual(t, root.Duration(), eval.Duration())

	root.Log(ctx)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "span=search ")
	assert.Contains(t, lines[1], "span=search/execute ")
	assert.Contains(t, lines[2], "span=search/execute/evaluate ")
	assert.Contains(t, lines[2], "segments=3")
	assert.Contains(t, lines[2], "trace_id=req-1")
}

func TestStartSpan_GeneratesTraceID(t *testing.T) {
	_, s := StartSpan(context.Background(), "search", "")
	assert.Len(t, s.TraceID(), 36)
}

func TestStartChildSpan_WithoutParentIsDetached(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(prev) })

	ctx, s := StartChildSpan(context.Background(), "execute")
	assert.Empty(t, s.TraceID())
	assert.Same(t, s, FromContext(ctx))
	s.End()
	s.Log(ctx)
	assert.Empty(t, buf.String())
}
