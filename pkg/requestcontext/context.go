// Package requestcontext provides HTTP-independent context accessors for
// request-scoped values.
//
// Middleware sets actor identity and the correlation ID; services and the
// audit pipeline read them without importing net/http. The pipeline never
// talks to the identity provider itself: the actor fields carried here are
// plain claims extracted upstream.
package requestcontext

import "context"

type (
	actorIDKey    struct{}
	actorEmailKey struct{}
	actorRoleKey  struct{}
	requestIDKey  struct{}
)

// WithActor stores the authenticated actor's identity claims in the context.
func WithActor(ctx context.Context, id, email, role string) context.Context {
	ctx = context.WithValue(ctx, actorIDKey{}, id)
	ctx = context.WithValue(ctx, actorEmailKey{}, email)
	return context.WithValue(ctx, actorRoleKey{}, role)
}

// WithRequestID stores the correlation ID for the current request.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// ActorID returns the authenticated actor's ID, or "" when unauthenticated.
func ActorID(ctx context.Context) string {
	v, _ := ctx.Value(actorIDKey{}).(string)
	return v
}

// ActorEmail returns the authenticated actor's email, or "".
func ActorEmail(ctx context.Context) string {
	v, _ := ctx.Value(actorEmailKey{}).(string)
	return v
}

// ActorRole returns the authenticated actor's role, or "".
func ActorRole(ctx context.Context) string {
	v, _ := ctx.Value(actorRoleKey{}).(string)
	return v
}

// RequestID returns the correlation ID, or "" when none was assigned.
func RequestID(ctx context.Context) string {
	v, _ := ctx.Value(requestIDKey{}).(string)
	return v
}
