package handlers

import (
	"net/http"

	"github.com/vedran77/pulsecore/internal/service"
	"github.com/vedran77/pulsecore/internal/transport/http/middleware"
)

type ProfileHandler struct {
	profileService *service.ProfileService
}

func NewProfileHandler(profileService *service.ProfileService) *ProfileHandler {
	return &ProfileHandler{profileService: profileService}
}

func (h *ProfileHandler) Me(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r.Context())

	profile, err := h.profileService.Me(r.Context(), actor)
	if err != nil {
		writeServiceError(w, r, "get own profile", err)
		return
	}

	writeJSON(w, http.StatusOK, profile)
}

func (h *ProfileHandler) List(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r.Context())

	profiles, err := h.profileService.List(r.Context(), actor)
	if err != nil {
		writeServiceError(w, r, "list profiles", err)
		return
	}

	writeJSON(w, http.StatusOK, profiles)
}

func (h *ProfileHandler) UpdateRole(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r.Context())
	profileID, ok := pathID(w, r, "id", "profile")
	if !ok {
		return
	}

	var input service.UpdateRoleInput
	if !decode(w, r, &input) {
		return
	}

	profile, err := h.profileService.UpdateRole(r.Context(), actor, profileID, input.Role)
	if err != nil {
		writeServiceError(w, r, "update role", err)
		return
	}

	writeJSON(w, http.StatusOK, profile)
}
