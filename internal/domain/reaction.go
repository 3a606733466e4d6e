package domain

import (
	"time"

	"github.com/google/uuid"
)

type Reaction struct {
	ID        uuid.UUID `json:"id"`
	MessageID uuid.UUID `json:"message_id"`
	UserID    uuid.UUID `json:"user_id"`
	Emoji     string    `json:"emoji"`
	CreatedAt time.Time `json:"created_at"`
}

// ReactionGroup aggregates the reactions of one emoji on one message.
type ReactionGroup struct {
	Emoji      string      `json:"emoji"`
	Count      int         `json:"count"`
	UserIDs    []uuid.UUID `json:"user_ids"`
	HasReacted bool        `json:"hasReacted"`
}
