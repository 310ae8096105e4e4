package httpapi

import (
	"context"
	"strings"

	"github.com/oxzoid/ospay-core/internal/domain"
)

// actorContextKey is the private key under which the resolved caller
// identity is stashed on the request context by the auth middleware, for
// every command handler to pick up without re-deriving it (spec.md §4.10:
// "authorization is a separate cross-cutting check" from the command
// itself).
type actorContextKey struct{}

func withActor(ctx context.Context, a domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, a)
}

// actorFromContext returns the caller identity the auth middleware
// resolved. Every handler reached through requireActor can rely on this
// succeeding.
func actorFromContext(ctx context.Context) (domain.Actor, bool) {
	a, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return a, ok
}

// internalActorFromHeaders parses x-actor-type/x-actor-id for callers
// authenticated via the core API secret (spec.md §6): trusted internal
// callers (another service layer, an ops console) name the actor they're
// acting on behalf of explicitly, rather than being looked up by API key.
func internalActorFromHeaders(actorType, actorID string) domain.Actor {
	switch domain.ActorKind(strings.ToLower(actorType)) {
	case domain.ActorSystem:
		return domain.System()
	case domain.ActorCompliance:
		return domain.Actor{Kind: domain.ActorCompliance, ID: actorID}
	case domain.ActorMerchant:
		return domain.Actor{Kind: domain.ActorMerchant, ID: actorID}
	case domain.ActorUser:
		return domain.Actor{Kind: domain.ActorUser, ID: actorID}
	default:
		return domain.System()
	}
}

func bearerToken(authHeader string) string {
	const prefix = "Bearer "
	if strings.HasPrefix(authHeader, prefix) {
		return strings.TrimPrefix(authHeader, prefix)
	}
	return ""
}
