package xbeacon

import (
	"context"
)

// ctxKey is the base for all context keys in xbeacon (prevents collisions).
type ctxKey string

const agentCtxKey ctxKey = "xbeacon:agent"

// WithAgent attaches a to ctx so handlers deep in a request can report
// through the agent that observed the request.
func WithAgent(ctx context.Context, a *Agent) context.Context {
	if a == nil {
		return ctx
	}
	return context.WithValue(ctx, agentCtxKey, a)
}

// AgentFromContext retrieves an Agent previously attached with WithAgent.
func AgentFromContext(ctx context.Context) (*Agent, bool) {
	if v := ctx.Value(agentCtxKey); v != nil {
		if a, ok := v.(*Agent); ok && a != nil {
			return a, true
		}
	}
	return nil, false
}

// ReportContext reports through the agent in ctx, falling back to the
// process-wide default.
func ReportContext(ctx context.Context, obs Observation) {
	if a, ok := AgentFromContext(ctx); ok {
		a.Report(obs)
		return
	}
	Report(obs)
}
