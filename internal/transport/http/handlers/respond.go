package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/pulsecore/internal/log"
	"github.com/vedran77/pulsecore/internal/service"
	"github.com/vedran77/pulsecore/pkg/validator"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

func writeValidationErrors(w http.ResponseWriter, errs validator.ValidationErrors) {
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"error": map[string]any{
			"code":   "VALIDATION_ERROR",
			"fields": errs,
		},
	})
}

// specificCodes gives some errors a code more precise than their category's.
var specificCodes = map[error]string{
	service.ErrChannelNameTaken:  "NAME_TAKEN",
	service.ErrThreadHasReplies:  "HAS_REPLIES",
	service.ErrNestedReply:       "NESTED_REPLY",
	service.ErrInvalidCursor:     "INVALID_CURSOR",
	service.ErrTooManyMessageIDs: "TOO_MANY_IDS",
	service.ErrOwnRole:           "OWN_ROLE",
}

// writeServiceError maps a service error to its HTTP response. op names the
// failed operation in logs.
func writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var verr *service.ValidationError
	if errors.As(err, &verr) {
		writeValidationErrors(w, verr.Fields)
		return
	}

	var werr *service.DeleteWindowError
	if errors.As(err, &werr) {
		writeJSON(w, http.StatusForbidden, map[string]any{
			"error": map[string]any{
				"code":       "DELETE_WINDOW_EXPIRED",
				"message":    werr.Error(),
				"expired_at": werr.ExpiredAt.UTC().Format(time.RFC3339),
			},
		})
		return
	}

	code := ""
	for target, c := range specificCodes {
		if errors.Is(err, target) {
			code = c
			break
		}
	}

	switch {
	case errors.Is(err, service.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "FORBIDDEN", "You do not have access to this resource")
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, orCode(code, "NOT_FOUND"), capitalize(err.Error()))
	case errors.Is(err, service.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, orCode(code, "INVALID_INPUT"), capitalize(err.Error()))
	case errors.Is(err, service.ErrConflict):
		writeError(w, http.StatusConflict, orCode(code, "CONFLICT"), capitalize(err.Error()))
	case errors.Is(err, service.ErrUnavailable):
		log.Ctx(r.Context()).Warn().Err(err).Msg(op)
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Temporarily unavailable, retry")
	default:
		log.Ctx(r.Context()).Error().Err(err).Msg(op)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "Something went wrong")
	}
}

func orCode(code, fallback string) string {
	if code != "" {
		return code
	}
	return fallback
}

func capitalize(s string) string {
	if s == "" || s[0] < 'a' || s[0] > 'z' {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "Invalid request body")
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request, name, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "Invalid "+what+" ID")
		return uuid.Nil, false
	}
	return id, true
}
