// Package authctx implements the Auth/Context Surrogate (§4.K): a
// minimal, opaque identity and tenant context threaded from the
// upstream request surface (out of scope per §1's Non-goals) down to
// the Pipeline Executor for logging and attribution. It does no
// authentication itself — it carries whatever identity the excluded
// auth layer already established. Grounded on the teacher's
// pkg/agent/context.go ExecutionContext composition idiom, reduced
// from a full dependency bundle to the identity fields alone since
// every other dependency the teacher's ExecutionContext bundles
// (LLM client, tool executor, service bundle) has its own package here.
package authctx

import (
	"context"

	"github.com/google/uuid"
)

// Actor identifies who (or what caller, if tenancy is single-user)
// submitted a job. Every field is opaque to the pipeline: the executor
// never branches on ActorID or TenantID, it only carries and logs them.
type Actor struct {
	ActorID   string
	TenantID  string
	RequestID string
}

// NewRequestID mints an opaque correlation id for a single job
// submission, used when the upstream surface doesn't supply one.
func NewRequestID() string {
	return uuid.NewString()
}

type contextKey struct{}

// WithActor returns a context carrying a, retrievable via ActorFrom.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, contextKey{}, a)
}

// ActorFrom extracts the Actor stored by WithActor. ok is false if none
// was ever set (e.g. in unit tests or background maintenance tasks that
// have no upstream caller).
func ActorFrom(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(contextKey{}).(Actor)
	return a, ok
}
