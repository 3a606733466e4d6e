package ws

import (
	"context"
	"errors"
	"net/http"

	"github.com/vedran77/pulsecore/internal/config"
	"github.com/vedran77/pulsecore/internal/domain"
	"github.com/vedran77/pulsecore/internal/identity"
	"github.com/vedran77/pulsecore/internal/log"
	"github.com/vedran77/pulsecore/internal/metrics"
	"nhooyr.io/websocket"
)

// Authenticator resolves a bearer token to an actor.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (domain.Actor, error)
}

// ServeWS returns an HTTP handler that upgrades to WebSocket.
// Auth is done via ?token=xxx query param (WebSocket can't send headers).
func ServeWS(hub *Hub, auth Authenticator, authz Authorizer, typing Typing, cfg config.WebSocketConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenStr := r.URL.Query().Get("token")
		if tokenStr == "" {
			http.Error(w, "missing token", http.StatusUnauthorized)
			return
		}

		actor, err := auth.Authenticate(r.Context(), tokenStr)
		if err != nil {
			if errors.Is(err, identity.ErrInvalidToken) || errors.Is(err, identity.ErrUnknownProfile) {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			log.Ctx(r.Context()).Error().Err(err).Msg("ws: authenticate")
			http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true, // Allow any origin (dev mode)
		})
		if err != nil {
			log.Ctx(r.Context()).Warn().Err(err).Msg("ws: accept error")
			return
		}

		// Hijacked connections outlive server shutdown unless the hub ends them.
		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		go func() {
			select {
			case <-hub.stopped:
				cancel()
			case <-ctx.Done():
			}
		}()

		client := NewClient(hub, conn, actor, auth, tokenStr, authz, typing, cfg)
		metrics.WSSessions.Inc()
		defer metrics.WSSessions.Dec()

		go client.WritePump(ctx)
		client.ReadPump(ctx)
		hub.unregister(client)
	}
}
