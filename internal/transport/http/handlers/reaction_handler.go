package handlers

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/vedran77/pulsecore/internal/service"
	"github.com/vedran77/pulsecore/internal/transport/http/middleware"
)

type ReactionHandler struct {
	reactionService *service.ReactionService
}

func NewReactionHandler(reactionService *service.ReactionService) *ReactionHandler {
	return &ReactionHandler{reactionService: reactionService}
}

func (h *ReactionHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r.Context())
	messageID, ok := pathID(w, r, "id", "message")
	if !ok {
		return
	}

	var input service.ToggleReactionInput
	if !decode(w, r, &input) {
		return
	}

	result, err := h.reactionService.Toggle(r.Context(), actor, messageID, input.Emoji)
	if err != nil {
		writeServiceError(w, r, "toggle reaction", err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// Groups serves GET /reactions?message_ids=a,b,c.
func (h *ReactionHandler) Groups(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r.Context())

	raw := r.URL.Query().Get("message_ids")
	var ids []uuid.UUID
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := uuid.Parse(part)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid message ID: "+part)
			return
		}
		ids = append(ids, id)
	}

	groups, err := h.reactionService.GetGroups(r.Context(), actor, ids)
	if err != nil {
		writeServiceError(w, r, "get reaction groups", err)
		return
	}

	writeJSON(w, http.StatusOK, groups)
}
