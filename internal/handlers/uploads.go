package handlers

import (
	"net/http"
)

// UploadAttachment accepts one multipart file and stores it through the
// attachment collaborator. The response descriptor is what the client puts
// in a subsequent send; the message itself only ever carries descriptors.
func (h *Handler) UploadAttachment(w http.ResponseWriter, r *http.Request) {
	if h.uploader == nil {
		h.Error(w, http.StatusNotImplemented, "uploads are not configured")
		return
	}

	max := h.policy.MaxSize
	if max <= 0 {
		max = 25 << 20
	}
	if err := r.ParseMultipartForm(max); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid multipart body")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.Error(w, http.StatusBadRequest, "form field 'file' is required")
		return
	}
	defer file.Close()

	mimeType := header.Header.Get("Content-Type")
	if err := h.policy.Check(header.Filename, mimeType, header.Size); err != nil {
		h.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	att, err := h.uploader.Upload(r.Context(), header.Filename, mimeType, header.Size, file)
	if err != nil {
		h.logger.Error().Err(err).Str("filename", header.Filename).Msg("upload failed")
		h.Error(w, http.StatusInternalServerError, "upload failed")
		return
	}

	h.JSON(w, http.StatusCreated, att)
}
