package handlers

import (
	"errors"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/vedran77/pulsecore/internal/service"
	"github.com/vedran77/pulsecore/internal/transport/http/middleware"
)

// multipartOverhead leaves room for the form framing around the file.
const multipartOverhead = 1 << 20

type AttachmentHandler struct {
	attachmentService *service.AttachmentService
	maxSize           int64
}

func NewAttachmentHandler(attachmentService *service.AttachmentService, maxSize int64) *AttachmentHandler {
	return &AttachmentHandler{attachmentService: attachmentService, maxSize: maxSize}
}

// Upload accepts a multipart form with a single "file" part.
func (h *AttachmentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	actor := middleware.GetActor(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, h.maxSize+multipartOverhead)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "TOO_LARGE",
				"Attachments are limited to "+humanize.IBytes(uint64(h.maxSize)))
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_FORM", `Expected a multipart form with a "file" field`)
		return
	}
	defer file.Close()

	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	att, err := h.attachmentService.Upload(r.Context(), actor, service.UploadInput{
		Name:     header.Filename,
		MimeType: mimeType,
		Size:     header.Size,
		Body:     file,
	})
	if err != nil {
		writeServiceError(w, r, "upload attachment", err)
		return
	}

	writeJSON(w, http.StatusCreated, att)
}
