package invoke

import (
	"context"
	"os"
	"strconv"
	"strings"
)

// EnvDepth carries the current recursion depth to child processes.
const EnvDepth = "CONDUCTOR_DEPTH"

// EnvTraceID mirrors session.EnvTraceID so workers can tag their signals.
const EnvTraceID = "CONDUCTOR_TRACE_ID"

// DepthUnset asks the Invoker to resolve depth from context or environment.
const DepthUnset = -1

type depthKey struct{}

// WithDepth returns a child context carrying depth. The parent context is
// not modified.
func WithDepth(ctx context.Context, depth int) context.Context {
	return context.WithValue(ctx, depthKey{}, depth)
}

// DepthFromContext returns the depth stored by WithDepth.
func DepthFromContext(ctx context.Context) (int, bool) {
	d, ok := ctx.Value(depthKey{}).(int)
	return d, ok
}

// DepthFromEnv reads EnvDepth, returning 0 when unset or invalid.
func DepthFromEnv() int {
	v := strings.TrimSpace(os.Getenv(EnvDepth))
	if v == "" {
		return 0
	}
	d, err := strconv.Atoi(v)
	if err != nil || d < 0 {
		return 0
	}
	return d
}

// ResolveDepth picks the current depth: an explicit non-negative value
// wins, then the context, then the environment, then 0.
func ResolveDepth(ctx context.Context, explicit int) int {
	if explicit >= 0 {
		return explicit
	}
	if d, ok := DepthFromContext(ctx); ok {
		return d
	}
	return DepthFromEnv()
}

// ChildEnv returns base without any inherited depth or trace entries, plus
// the child's depth and trace id. Nested-harness markers are dropped so the
// worker CLI does not refuse to start inside another session.
func ChildEnv(base []string, depth int, traceID string) []string {
	env := make([]string, 0, len(base)+2)
	for _, e := range base {
		switch {
		case strings.HasPrefix(e, EnvDepth+"="),
			strings.HasPrefix(e, EnvTraceID+"="),
			strings.HasPrefix(e, "CLAUDECODE="),
			strings.HasPrefix(e, "CLAUDE_CODE_ENTRYPOINT="):
			continue
		}
		env = append(env, e)
	}
	env = append(env, EnvDepth+"="+strconv.Itoa(depth))
	if traceID != "" {
		env = append(env, EnvTraceID+"="+traceID)
	}
	return env
}
