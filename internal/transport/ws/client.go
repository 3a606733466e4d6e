package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vedran77/pulsecore/internal/config"
	"github.com/vedran77/pulsecore/internal/domain"
	"github.com/vedran77/pulsecore/internal/identity"
	"github.com/vedran77/pulsecore/internal/log"
	"github.com/vedran77/pulsecore/internal/service"
	"github.com/vedran77/pulsecore/pkg/wire"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
)

// Authorizer checks subscribe requests.
type Authorizer interface {
	Authorize(ctx context.Context, actor domain.Actor, scope wire.Scope, id uuid.UUID) (*service.Subscription, error)
}

// Typing is the presence side of a session.
type Typing interface {
	Signal(ctx context.Context, actor domain.Actor, channelID uuid.UUID, typing bool) error
	Snapshot(channelID uuid.UUID) domain.TypingSnapshot
}

type scopeKey struct {
	scope wire.Scope
	id    uuid.UUID
}

// Client represents a single WebSocket connection.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	auth    Authenticator
	token   string
	authz   Authorizer
	typing  Typing
	cfg     config.WebSocketConfig
	limiter *rate.Limiter
	log     zerolog.Logger

	// actor belongs to the read loop. Shards only read userID and admin.
	actor  domain.Actor
	userID uuid.UUID
	admin  atomic.Bool

	// subs maps each subscribed scope to its channel. Only the read loop
	// touches it.
	subs map[scopeKey]uuid.UUID

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(hub *Hub, conn *websocket.Conn, actor domain.Actor, auth Authenticator, token string, authz Authorizer, typing Typing, cfg config.WebSocketConfig) *Client {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = 10 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	limit := rate.Inf
	if cfg.EventsPerSecond > 0 {
		limit = rate.Limit(cfg.EventsPerSecond)
	}

	c := &Client{
		hub:     hub,
		conn:    conn,
		auth:    auth,
		token:   token,
		actor:   actor,
		userID:  actor.ID,
		authz:   authz,
		typing:  typing,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, max(cfg.Burst, 1)),
		log:     log.L().With().Str(log.FieldUserID, actor.ID.String()).Logger(),
		subs:    make(map[scopeKey]uuid.UUID),
		send:    make(chan []byte, cfg.SendBuffer),
		done:    make(chan struct{}),
	}
	c.admin.Store(actor.IsAdmin())
	return c
}

// enqueue queues data without blocking and reports whether it fit.
func (c *Client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// kick disconnects the client. The send channel is never closed; the write
// loop exits on done.
func (c *Client) kick(reason string) {
	c.shutdown(websocket.StatusPolicyViolation, reason)
}

func (c *Client) shutdown(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			// Close waits for the peer's close frame; never block the caller.
			go c.conn.Close(code, reason)
		}
	})
}

// ReadPump reads frames from the WebSocket until the connection ends.
func (c *Client) ReadPump(ctx context.Context) {
	defer c.shutdown(websocket.StatusNormalClosure, "")

	if c.cfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	}

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				c.log.Debug().Msg("ws: client disconnected")
			} else {
				c.log.Debug().Err(err).Msg("ws: read error")
			}
			return
		}

		if !c.limiter.Allow() {
			c.enqueue(errorFrame(CodeRateLimited, "too many frames"))
			continue
		}

		var frame wire.ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.enqueue(errorFrame(CodeInvalidPayload, "frame is not valid JSON"))
			continue
		}
		c.handleFrame(ctx, &frame)
	}
}

// WritePump writes queued frames and keeps the connection alive with pings.
func (c *Client) WritePump(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case message := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, c.cfg.WriteWait)
			err := c.conn.Write(wctx, websocket.MessageText, message)
			cancel()
			if err != nil {
				c.log.Debug().Err(err).Msg("ws: write error")
				c.shutdown(websocket.StatusInternalError, "write failed")
				return
			}

		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, c.cfg.WriteWait)
			err := c.conn.Ping(pctx)
			cancel()
			if err != nil {
				c.log.Debug().Err(err).Msg("ws: ping error")
				c.shutdown(websocket.StatusGoingAway, "ping timeout")
				return
			}

		case <-c.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) handleFrame(ctx context.Context, frame *wire.ClientFrame) {
	switch frame.Type {
	case wire.TypeSubscribe:
		c.handleSubscribe(ctx, frame)

	case wire.TypeUnsubscribe:
		key := scopeKey{scope: frame.Scope, id: frame.ID}
		channelID, ok := c.subs[key]
		if !ok {
			return
		}
		delete(c.subs, key)
		c.hub.unsubscribe(c, frame.Scope, frame.ID, channelID)

	case wire.TypeTypingStart, wire.TypeTypingStop:
		if frame.ChannelID == uuid.Nil {
			c.enqueue(errorFrame(CodeInvalidPayload, "channel_id required for typing frames"))
			return
		}
		if err := c.typing.Signal(ctx, c.actor, frame.ChannelID, frame.Type == wire.TypeTypingStart); err != nil {
			c.sendServiceError(err)
		}

	case wire.TypePing:
		c.enqueue(pongFrame())

	default:
		c.enqueue(errorFrame(CodeUnknownEvent, "unknown frame type: "+frame.Type))
	}
}

func (c *Client) handleSubscribe(ctx context.Context, frame *wire.ClientFrame) {
	if !frame.Scope.Valid() || frame.ID == uuid.Nil {
		c.enqueue(errorFrame(CodeInvalidPayload, "subscribe needs a scope of channel, thread or presence and an id"))
		return
	}

	if err := c.refresh(ctx); err != nil {
		if errors.Is(err, identity.ErrInvalidToken) || errors.Is(err, identity.ErrUnknownProfile) {
			c.kick("invalid token")
			return
		}
		c.sendServiceError(err)
		return
	}

	sub, err := c.authz.Authorize(ctx, c.actor, frame.Scope, frame.ID)
	if err != nil {
		c.sendServiceError(err)
		return
	}

	c.subs[scopeKey{scope: sub.Scope, id: sub.ID}] = sub.ChannelID
	c.hub.subscribe(c, sub.Scope, sub.ID, sub.ChannelID, sub.Seq)

	c.log.Debug().
		Str(log.FieldScope, string(sub.Scope)).
		Str(log.FieldChannelID, sub.ChannelID.String()).
		Msg("ws: subscribed")

	if sub.Scope == wire.ScopePresence {
		snap := c.typing.Snapshot(sub.ChannelID)
		ev, err := wire.NewEvent(wire.TypeTypingSync, sub.ChannelID, nil, 0, snap)
		if err == nil {
			c.enqueue(encode(ev))
		}
	}
}

// refresh reloads the actor so a changed role applies to new subscriptions.
func (c *Client) refresh(ctx context.Context) error {
	if c.auth == nil {
		return nil
	}
	actor, err := c.auth.Authenticate(ctx, c.token)
	if err != nil {
		return err
	}
	c.actor = actor
	c.admin.Store(actor.IsAdmin())
	return nil
}

func (c *Client) sendServiceError(err error) {
	switch {
	case errors.Is(err, service.ErrUnauthorized):
		c.enqueue(errorFrame(CodeForbidden, "you do not have access to this resource"))
	case errors.Is(err, service.ErrNotFound):
		c.enqueue(errorFrame(CodeNotFound, err.Error()))
	case errors.Is(err, service.ErrInvalidInput):
		c.enqueue(errorFrame(CodeInvalidPayload, err.Error()))
	default:
		c.log.Error().Err(err).Msg("ws: frame failed")
		c.enqueue(errorFrame(CodeUnavailable, "temporarily unavailable, retry"))
	}
}
