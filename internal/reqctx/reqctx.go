// Package reqctx carries request-scoped values through context.Context,
// replacing the ContextVar/thread-local pattern the in-process agent uses
// to stash the active sandbox id for the duration of one request.
package reqctx

import "context"

type contextKey string

const sandboxIDKey contextKey = "sandbox_id"

// WithSandboxID returns a copy of ctx carrying id, retrievable by SandboxID.
func WithSandboxID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sandboxIDKey, id)
}

// SandboxID returns the sandbox id stashed in ctx, or "" if none was set.
func SandboxID(ctx context.Context) string {
	v, _ := ctx.Value(sandboxIDKey).(string)
	return v
}
