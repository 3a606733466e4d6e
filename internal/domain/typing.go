package domain

import "github.com/google/uuid"

type TypingUser struct {
	UserID      uuid.UUID `json:"user_id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
}

// TypingSnapshot is the complete typing set of a channel. Version grows with
// every change so receivers can drop stale snapshots.
type TypingSnapshot struct {
	ChannelID uuid.UUID    `json:"channel_id"`
	Version   uint64       `json:"version"`
	Users     []TypingUser `json:"users"`
}
