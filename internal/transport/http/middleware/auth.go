package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/vedran77/pulsecore/internal/domain"
	"github.com/vedran77/pulsecore/internal/identity"
	"github.com/vedran77/pulsecore/internal/log"
)

type contextKey string

const ActorKey contextKey = "actor"

// Authenticator resolves a bearer token to the calling actor.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (domain.Actor, error)
}

func Auth(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" || !strings.HasPrefix(header, "Bearer ") {
				http.Error(w, `{"error":{"code":"UNAUTHORIZED","message":"Missing or invalid token"}}`, http.StatusUnauthorized)
				return
			}

			tokenStr := strings.TrimPrefix(header, "Bearer ")

			actor, err := auth.Authenticate(r.Context(), tokenStr)
			switch {
			case errors.Is(err, identity.ErrInvalidToken):
				http.Error(w, `{"error":{"code":"UNAUTHORIZED","message":"Invalid or expired token"}}`, http.StatusUnauthorized)
				return
			case errors.Is(err, identity.ErrUnknownProfile):
				http.Error(w, `{"error":{"code":"UNAUTHORIZED","message":"No profile for this token"}}`, http.StatusUnauthorized)
				return
			case err != nil:
				log.Ctx(r.Context()).Error().Err(err).Msg("authenticate request")
				http.Error(w, `{"error":{"code":"UNAVAILABLE","message":"Temporarily unavailable, retry"}}`, http.StatusServiceUnavailable)
				return
			}

			logger := log.Ctx(r.Context()).With().
				Str(log.FieldUserID, actor.ID.String()).
				Str(log.FieldRole, string(actor.Role)).
				Logger()

			ctx := context.WithValue(r.Context(), ActorKey, actor)
			ctx = log.WithLogger(ctx, logger)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetActor extracts the authenticated actor from request context
func GetActor(ctx context.Context) domain.Actor {
	return ctx.Value(ActorKey).(domain.Actor)
}

// WithActor stores an actor in the context, as Auth does.
func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, ActorKey, actor)
}

// CORS allows browser clients from any origin to call the API.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
		h.Set("Access-Control-Expose-Headers", "X-Request-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
