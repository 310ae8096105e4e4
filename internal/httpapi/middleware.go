package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/oxzoid/ospay-core/internal/domain"
)

// requireActor is the generalization of the teacher's APIKeyAuthMiddleware:
// it still accepts an X-API-Key looked up against merchants/users, but also
// accepts a bearer token matching config.CoreAPISecret for trusted internal
// callers, which name the actor they're acting for via x-actor-type/
// x-actor-id (spec.md §6). Either path stashes the resolved domain.Actor on
// the request context for the handler to read back with actorFromContext.
func (s *Server) requireActor(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if secret := bearerToken(r.Header.Get("Authorization")); secret != "" {
			if s.cfg.CoreAPISecret != "" && secret == s.cfg.CoreAPISecret {
				actor := internalActorFromHeaders(r.Header.Get("x-actor-type"), r.Header.Get("x-actor-id"))
				next(w, r.WithContext(withActor(r.Context(), actor)))
				return
			}
			writeErrorJSON(w, http.StatusUnauthorized, "invalid_bearer_token", "unauthorized")
			return
		}

		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			writeErrorJSON(w, http.StatusUnauthorized, "missing_api_key", "X-API-Key or Authorization header required")
			return
		}
		if m, err := s.accounts.MerchantByAPIKey(ctx, apiKey); err == nil {
			next(w, r.WithContext(withActor(r.Context(), domain.Actor{Kind: domain.ActorMerchant, ID: m.ID})))
			return
		}
		if u, err := s.accounts.UserByAPIKey(ctx, apiKey); err == nil {
			next(w, r.WithContext(withActor(r.Context(), domain.Actor{Kind: domain.ActorUser, ID: u.ID})))
			return
		}
		writeErrorJSON(w, http.StatusUnauthorized, "invalid_api_key", "unauthorized")
	}
}
