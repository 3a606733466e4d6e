package handlers

import "net/http"

// Set groups the API handlers mounted under /api/v1.
type Set struct {
	Channels    *ChannelHandler
	Messages    *MessageHandler
	Reactions   *ReactionHandler
	Typing      *TypingHandler
	Profiles    *ProfileHandler
	Attachments *AttachmentHandler
}

// Register mounts every protected route on mux.
func Register(mux *http.ServeMux, auth func(http.Handler) http.Handler, h Set) {
	handle := func(pattern string, fn http.HandlerFunc) {
		mux.Handle(pattern, auth(fn))
	}

	// Profiles
	handle("GET /api/v1/me", h.Profiles.Me)
	handle("GET /api/v1/profiles", h.Profiles.List)
	handle("PATCH /api/v1/profiles/{id}/role", h.Profiles.UpdateRole)

	// Channels
	handle("POST /api/v1/channels", h.Channels.Create)
	handle("GET /api/v1/channels", h.Channels.List)
	handle("GET /api/v1/channels/{id}", h.Channels.Get)
	handle("DELETE /api/v1/channels/{id}", h.Channels.Delete)
	handle("POST /api/v1/channels/{id}/join", h.Channels.Join)
	handle("POST /api/v1/channels/{id}/leave", h.Channels.Leave)

	// Channel members
	handle("GET /api/v1/channels/{id}/members", h.Channels.ListMembers)
	handle("POST /api/v1/channels/{id}/members", h.Channels.AddMember)
	handle("DELETE /api/v1/channels/{id}/members/{uid}", h.Channels.RemoveMember)

	// Messages
	handle("GET /api/v1/channels/{id}/messages", h.Messages.List)
	handle("POST /api/v1/channels/{id}/messages", h.Messages.Post)
	handle("GET /api/v1/messages/{id}/replies", h.Messages.ListReplies)
	handle("PATCH /api/v1/messages/{id}/hidden", h.Messages.SetHidden)
	handle("DELETE /api/v1/messages/{id}", h.Messages.Delete)
	handle("POST /api/v1/messages/{id}/hide-for-me", h.Messages.HideForMe)

	// Reactions
	handle("POST /api/v1/messages/{id}/reactions", h.Reactions.Toggle)
	handle("GET /api/v1/reactions", h.Reactions.Groups)

	// Typing
	handle("GET /api/v1/channels/{id}/typing", h.Typing.List)
	handle("POST /api/v1/channels/{id}/typing", h.Typing.Signal)

	// Attachments
	handle("POST /api/v1/attachments", h.Attachments.Upload)
}
