package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/mtlprog/reviewflow/internal/domain"
)

type contextKey string

const (
	// ContextKeyActor is the key for storing the actor ID in request context.
	ContextKeyActor contextKey = "actor"

	// HeaderActorID carries the identity of the caller.
	HeaderActorID = "X-Actor-ID"

	maxActorIDLength = 128
)

// RequireActor rejects requests without an X-Actor-ID header and adds the
// actor to request context. Authentication happens upstream; this only
// records who is acting.
func RequireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actorID := strings.TrimSpace(r.Header.Get(HeaderActorID))
		if actorID == "" {
			http.Error(w, "missing actor header", http.StatusUnauthorized)
			return
		}
		if len(actorID) > maxActorIDLength {
			http.Error(w, "actor id too long", http.StatusBadRequest)
			return
		}

		ctx := context.WithValue(r.Context(), ContextKeyActor, actorID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetActorFromContext retrieves the acting identity from request context.
func GetActorFromContext(ctx context.Context) (string, error) {
	actorID, ok := ctx.Value(ContextKeyActor).(string)
	if !ok || actorID == "" {
		return "", domain.ErrMissingActor
	}
	return actorID, nil
}
