package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/vedran77/pulsecore/internal/service"
	"github.com/vedran77/pulsecore/internal/transport/http/middleware"
)

type ChannelHandler struct {
	channelService *service.ChannelService
}

func NewChannelHandler(channelService *service.ChannelService) *ChannelHandler {
	return &ChannelHandler{channelService: channelService}
}

func (h *ChannelHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r.Context())

	var input service.CreateChannelInput
	if !decode(w, r, &input) {
		return
	}

	ch, err := h.channelService.Create(r.Context(), actor, input)
	if err != nil {
		writeServiceError(w, r, "create channel", err)
		return
	}

	writeJSON(w, http.StatusCreated, ch)
}

func (h *ChannelHandler) List(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r.Context())

	channels, err := h.channelService.List(r.Context(), actor)
	if err != nil {
		writeServiceError(w, r, "list channels", err)
		return
	}

	writeJSON(w, http.StatusOK, channels)
}

func (h *ChannelHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r.Context())
	channelID, ok := pathID(w, r, "id", "channel")
	if !ok {
		return
	}

	ch, err := h.channelService.Get(r.Context(), actor, channelID)
	if err != nil {
		writeServiceError(w, r, "get channel", err)
		return
	}

	writeJSON(w, http.StatusOK, ch)
}

func (h *ChannelHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r.Context())
	channelID, ok := pathID(w, r, "id", "channel")
	if !ok {
		return
	}

	if err := h.channelService.Delete(r.Context(), actor, channelID); err != nil {
		writeServiceError(w, r, "delete channel", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *ChannelHandler) Join(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r.Context())
	channelID, ok := pathID(w, r, "id", "channel")
	if !ok {
		return
	}

	joined, err := h.channelService.Join(r.Context(), actor, channelID)
	if err != nil {
		writeServiceError(w, r, "join channel", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"joined": joined})
}

func (h *ChannelHandler) Leave(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r.Context())
	channelID, ok := pathID(w, r, "id", "channel")
	if !ok {
		return
	}

	if err := h.channelService.Leave(r.Context(), actor, channelID); err != nil {
		writeServiceError(w, r, "leave channel", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *ChannelHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r.Context())
	channelID, ok := pathID(w, r, "id", "channel")
	if !ok {
		return
	}

	var input service.AddMemberInput
	if !decode(w, r, &input) {
		return
	}
	if input.UserID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid user ID")
		return
	}

	added, err := h.channelService.AddMember(r.Context(), actor, channelID, input.UserID)
	if err != nil {
		writeServiceError(w, r, "add channel member", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"added": added})
}

func (h *ChannelHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r.Context())
	channelID, ok := pathID(w, r, "id", "channel")
	if !ok {
		return
	}
	targetID, ok := pathID(w, r, "uid", "user")
	if !ok {
		return
	}

	if err := h.channelService.RemoveMember(r.Context(), actor, channelID, targetID); err != nil {
		writeServiceError(w, r, "remove channel member", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *ChannelHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r.Context())
	channelID, ok := pathID(w, r, "id", "channel")
	if !ok {
		return
	}

	members, err := h.channelService.ListMembers(r.Context(), actor, channelID)
	if err != nil {
		writeServiceError(w, r, "list channel members", err)
		return
	}

	writeJSON(w, http.StatusOK, members)
}
