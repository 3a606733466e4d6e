package domain

import (
	"time"

	"github.com/google/uuid"
)

// MaxAttachmentSize is the largest attachment a message may reference.
const MaxAttachmentSize = 10 << 20

type Attachment struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	MimeType string `json:"type"`
	Size     int64  `json:"size"`
}

type Message struct {
	ID          uuid.UUID    `json:"id"`
	ChannelID   uuid.UUID    `json:"channel_id"`
	AuthorID    uuid.UUID    `json:"user_id"`
	ParentID    *uuid.UUID   `json:"parent_message_id"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments"`
	IsHidden    bool         `json:"is_hidden"`
	ReplyCount  int          `json:"reply_count"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	// Joined fields
	AuthorUsername    string `json:"username,omitempty"`
	AuthorDisplayName string `json:"display_name,omitempty"`
	// Only set on the message.created event of the sending session.
	ClientNonce string `json:"client_nonce,omitempty"`
}

func (m *Message) IsReply() bool {
	return m.ParentID != nil
}
