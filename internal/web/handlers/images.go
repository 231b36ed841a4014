package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/photo-finder/internal/constants"
	"github.com/kozaktomas/photo-finder/internal/database"
	"github.com/kozaktomas/photo-finder/internal/fingerprint"
	"github.com/kozaktomas/photo-finder/internal/images"
	"github.com/kozaktomas/photo-finder/internal/web/middleware"
)

// maxTypeFieldSize caps the encoding field ("base64", "url" or "file").
const maxTypeFieldSize = 100

// ImageService stores uploads and looks records up.
type ImageService interface {
	Upload(ctx context.Context, req images.UploadRequest) (*database.ImageRecord, error)
	Get(ctx context.Context, id string) (*database.ImageRecord, error)
}

// ImagesHandler handles image upload and lookup endpoints.
type ImagesHandler struct {
	images ImageService
}

// NewImagesHandler creates a new images handler.
func NewImagesHandler(svc ImageService) *ImagesHandler {
	return &ImagesHandler{images: svc}
}

var uploadFields = map[string]int64{
	"image":       constants.MaxFieldSize,
	"type":        maxTypeFieldSize,
	"title":       constants.MaxTextFieldSize,
	"description": constants.MaxTextFieldSize,
}

// Upload handles multipart image uploads by an authenticated user.
func (h *ImagesHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxRequestBodySize)
	fields, err := readForm(r, uploadFields)
	if err != nil {
		respondError(w, formErrorStatus(err), err.Error())
		return
	}

	image, hasImage := fields["image"]
	typ, hasType := fields["type"]
	if !hasImage || !hasType {
		respondError(w, http.StatusBadRequest, errMissingFields.Error())
		return
	}

	enc, err := fingerprint.ParseEncoding(typ.text())
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	rec, err := h.images.Upload(r.Context(), images.UploadRequest{
		Data:        image.data,
		Encoding:    enc,
		Owner:       middleware.GetUsernameFromContext(r.Context()),
		Title:       fields["title"].text(),
		Description: fields["description"].text(),
		MediaType:   declaredMediaType(enc, image.contentType),
	})
	if err != nil {
		respondProcessError(w, r, "upload", err)
		return
	}

	respondJSON(w, http.StatusCreated, rec)
}

// Get returns a stored image record.
func (h *ImagesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := h.images.Get(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		respondError(w, http.StatusNotFound, "image not found")
		return
	}
	if err != nil {
		respondProcessError(w, r, "get image", err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// declaredMediaType keeps the part's content type only for raw file uploads;
// base64 and url parts carry text, not the image.
func declaredMediaType(enc fingerprint.Encoding, contentType string) string {
	if enc != fingerprint.EncodingRawFile || contentType == "application/octet-stream" {
		return ""
	}
	return contentType
}
