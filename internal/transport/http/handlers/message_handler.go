package handlers

import (
	"net/http"
	"strconv"

	"github.com/vedran77/pulsecore/internal/service"
	"github.com/vedran77/pulsecore/internal/transport/http/middleware"
)

type MessageHandler struct {
	messageService *service.MessageService
}

func NewMessageHandler(messageService *service.MessageService) *MessageHandler {
	return &MessageHandler{messageService: messageService}
}

func (h *MessageHandler) Post(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r.Context())
	channelID, ok := pathID(w, r, "id", "channel")
	if !ok {
		return
	}

	var input service.PostMessageInput
	if !decode(w, r, &input) {
		return
	}

	msg, err := h.messageService.Post(r.Context(), actor, channelID, input)
	if err != nil {
		writeServiceError(w, r, "post message", err)
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}

func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r.Context())
	channelID, ok := pathID(w, r, "id", "channel")
	if !ok {
		return
	}

	// Parse query params
	q := r.URL.Query()
	input := service.ListMessagesInput{Before: q.Get("before")}
	if limitStr := q.Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l <= 0 {
			writeError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer")
			return
		}
		input.Limit = l
	}
	input.IncludeHidden, _ = strconv.ParseBool(q.Get("include_hidden"))

	page, err := h.messageService.List(r.Context(), actor, channelID, input)
	if err != nil {
		writeServiceError(w, r, "list messages", err)
		return
	}

	writeJSON(w, http.StatusOK, page)
}

func (h *MessageHandler) ListReplies(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r.Context())
	messageID, ok := pathID(w, r, "id", "message")
	if !ok {
		return
	}
	includeHidden, _ := strconv.ParseBool(r.URL.Query().Get("include_hidden"))

	replies, err := h.messageService.ListReplies(r.Context(), actor, messageID, includeHidden)
	if err != nil {
		writeServiceError(w, r, "list replies", err)
		return
	}

	writeJSON(w, http.StatusOK, replies)
}

func (h *MessageHandler) SetHidden(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r.Context())
	messageID, ok := pathID(w, r, "id", "message")
	if !ok {
		return
	}

	var body struct {
		Hidden bool `json:"hidden"`
	}
	if !decode(w, r, &body) {
		return
	}

	msg, err := h.messageService.SetHidden(r.Context(), actor, messageID, body.Hidden)
	if err != nil {
		writeServiceError(w, r, "set message hidden", err)
		return
	}

	writeJSON(w, http.StatusOK, msg)
}

func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r.Context())
	messageID, ok := pathID(w, r, "id", "message")
	if !ok {
		return
	}

	if err := h.messageService.DeleteForAll(r.Context(), actor, messageID); err != nil {
		writeServiceError(w, r, "delete message", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *MessageHandler) HideForMe(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r.Context())
	messageID, ok := pathID(w, r, "id", "message")
	if !ok {
		return
	}

	if err := h.messageService.DeleteForMe(r.Context(), actor, messageID); err != nil {
		writeServiceError(w, r, "hide message for user", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
