package handlers

import (
	"net/http"

	"github.com/vedran77/pulsecore/internal/service"
	"github.com/vedran77/pulsecore/internal/transport/http/middleware"
)

// TypingHandler is the HTTP fallback for clients that cannot keep a
// WebSocket open.
type TypingHandler struct {
	typingService *service.TypingService
}

func NewTypingHandler(typingService *service.TypingService) *TypingHandler {
	return &TypingHandler{typingService: typingService}
}

func (h *TypingHandler) List(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r.Context())
	channelID, ok := pathID(w, r, "id", "channel")
	if !ok {
		return
	}

	snap, err := h.typingService.List(r.Context(), actor, channelID)
	if err != nil {
		writeServiceError(w, r, "list typing users", err)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}

func (h *TypingHandler) Signal(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r.Context())
	channelID, ok := pathID(w, r, "id", "channel")
	if !ok {
		return
	}

	var body struct {
		Typing bool `json:"typing"`
	}
	if !decode(w, r, &body) {
		return
	}

	if err := h.typingService.Signal(r.Context(), actor, channelID, body.Typing); err != nil {
		writeServiceError(w, r, "signal typing", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
