// Package wire defines the JSON frames exchanged over the realtime
// WebSocket and carried on the event bus.
package wire

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/pulsecore/internal/domain"
)

// Event types - Server → Client
const (
	TypeMessageCreated    = "message.created"
	TypeMessageUpdated    = "message.updated"
	TypeMessageDeleted    = "message.deleted"
	TypeReactionCreated   = "reaction.created"
	TypeReactionDeleted   = "reaction.deleted"
	TypeReplyCountChanged = "thread.reply_count_changed"
	TypeTypingSync        = "typing.sync"
	TypeChannelDeleted    = "channel.deleted"
	TypeSubscribed        = "subscribed"
	TypeUnsubscribed      = "unsubscribed"
	TypePong              = "pong"
	TypeError             = "error"
)

// TypeResync tells the subscribers of a channel that events before Seq may
// have been lost; their feed must be reloaded.
const TypeResync = "resync"

// TypeAccessChanged travels on the bus only. The hub turns it into
// unsubscribed frames for the sessions that lost access.
const TypeAccessChanged = "access.changed"

// Frame types - Client → Server
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeTypingStart = "typing.start"
	TypeTypingStop  = "typing.stop"
	TypePing        = "ping"
)

type Scope string

const (
	ScopeChannel  Scope = "channel"
	ScopeThread   Scope = "thread"
	ScopePresence Scope = "presence"
)

func (s Scope) Valid() bool {
	switch s {
	case ScopeChannel, ScopeThread, ScopePresence:
		return true
	}
	return false
}

// Event is the envelope of every server → client delta. Seq is the
// channel's commit sequence number; unsequenced events carry 0.
type Event struct {
	Type      string          `json:"type"`
	ChannelID uuid.UUID       `json:"channel_id"`
	ThreadID  *uuid.UUID      `json:"thread_id,omitempty"`
	Seq       uint64          `json:"seq"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	TS        time.Time       `json:"ts"`
}

func NewEvent(eventType string, channelID uuid.UUID, threadID *uuid.UUID, seq uint64, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{
		Type:      eventType,
		ChannelID: channelID,
		ThreadID:  threadID,
		Seq:       seq,
		Payload:   data,
		TS:        time.Now().UTC(),
	}, nil
}

// Sequenced reports whether the event takes part in per-channel ordering.
func (e *Event) Sequenced() bool {
	return e.Seq > 0
}

// ClientFrame is any client → server frame.
type ClientFrame struct {
	Type      string    `json:"type"`
	Scope     Scope     `json:"scope,omitempty"`
	ID        uuid.UUID `json:"id,omitempty"`
	ChannelID uuid.UUID `json:"channel_id,omitempty"`
}

// Subscribed acknowledges a subscribe frame. Seq is the channel's commit
// sequence at subscription time; events at or below it are already
// reflected in a page fetched afterwards.
type Subscribed struct {
	Type  string    `json:"type"`
	Scope Scope     `json:"scope"`
	ID    uuid.UUID `json:"id"`
	Seq   uint64    `json:"seq"`
}

// Unsubscribed tells the client the server ended a subscription.
type Unsubscribed struct {
	Type   string    `json:"type"`
	Scope  Scope     `json:"scope"`
	ID     uuid.UUID `json:"id"`
	Reason string    `json:"reason"`
}

const ReasonAccessRevoked = "access_revoked"

type Error struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Pong struct {
	Type string    `json:"type"`
	TS   time.Time `json:"ts"`
}

// --- payloads ---

type MessageDeleted struct {
	ID             uuid.UUID   `json:"id"`
	ChannelID      uuid.UUID   `json:"channel_id"`
	ParentID       *uuid.UUID  `json:"parent_message_id,omitempty"`
	DeletedReplies []uuid.UUID `json:"deleted_replies,omitempty"`
}

type ReplyCountChanged struct {
	ParentID   uuid.UUID `json:"parent_message_id"`
	ReplyCount int       `json:"reply_count"`
}

type ChannelDeleted struct {
	ID uuid.UUID `json:"id"`
}

// HiddenMessage replaces a moderated message for viewers who may not read
// it.
type HiddenMessage struct {
	ID        uuid.UUID  `json:"id"`
	ChannelID uuid.UUID  `json:"channel_id"`
	ParentID  *uuid.UUID `json:"parent_message_id"`
	IsHidden  bool       `json:"is_hidden"`
}

// AccessChanged says a user's sessions must be rechecked for a channel.
// Admin is set when the user's role changed.
type AccessChanged struct {
	UserID uuid.UUID `json:"user_id"`
	Member bool      `json:"member"`
	Admin  *bool     `json:"admin,omitempty"`
}

type (
	MessagePayload  = domain.Message
	ReactionPayload = domain.Reaction
	TypingPayload   = domain.TypingSnapshot
)
