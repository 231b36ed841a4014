package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/kozaktomas/photo-finder/internal/constants"
	"github.com/kozaktomas/photo-finder/internal/fingerprint"
	"github.com/kozaktomas/photo-finder/internal/search"
)

// Searcher finds stored images similar to a query image.
type Searcher interface {
	SearchImage(ctx context.Context, enc fingerprint.Encoding, data []byte, threshold *uint) ([]search.Result, error)
}

// SearchHandler handles similarity search.
type SearchHandler struct {
	searcher Searcher
}

// NewSearchHandler creates a new search handler.
func NewSearchHandler(s Searcher) *SearchHandler {
	return &SearchHandler{searcher: s}
}

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []search.Result `json:"results"`
}

var searchFields = map[string]int64{
	"similar_image":      constants.MaxFieldSize,
	"similar_image_type": maxTypeFieldSize,
	"threshold":          maxTypeFieldSize,
}

// Search handles multipart similarity queries. The optional threshold field
// overrides the configured default; values above 64 match everything.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, constants.MaxRequestBodySize)
	fields, err := readForm(r, searchFields)
	if err != nil {
		respondError(w, formErrorStatus(err), err.Error())
		return
	}

	image, hasImage := fields["similar_image"]
	typ, hasType := fields["similar_image_type"]
	if !hasImage || !hasType {
		respondError(w, http.StatusBadRequest, errMissingFields.Error())
		return
	}

	enc, err := fingerprint.ParseEncoding(typ.text())
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var threshold *uint
	if f, ok := fields["threshold"]; ok && f.text() != "" {
		n, err := strconv.ParseUint(f.text(), 10, 64)
		if err != nil && !errors.Is(err, strconv.ErrRange) {
			respondError(w, http.StatusBadRequest, "threshold must be a non-negative integer")
			return
		}
		// Out of range still matches everything.
		t := uint(min(n, fingerprint.Bits))
		threshold = &t
	}

	results, err := h.searcher.SearchImage(r.Context(), enc, image.data, threshold)
	if err != nil {
		respondProcessError(w, r, "search", err)
		return
	}

	respondJSON(w, http.StatusOK, SearchResponse{Results: results})
}
