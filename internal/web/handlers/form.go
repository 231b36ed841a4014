package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
)

var (
	errNotMultipart  = errors.New("expected multipart/form-data")
	errFieldTooLarge = errors.New("form field too large")
	errMissingFields = errors.New("missing fields")
)

// formField is one multipart field read into memory.
type formField struct {
	data        []byte
	contentType string
}

func (f formField) text() string {
	return strings.TrimSpace(string(f.data))
}

// readForm reads the fields named in limits from a multipart body, each capped
// at its limit. Unknown fields are skipped. The whole body must already be
// wrapped in http.MaxBytesReader.
func readForm(r *http.Request, limits map[string]int64) (map[string]formField, error) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/form-data" {
		return nil, errNotMultipart
	}

	mr, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errNotMultipart, err)
	}

	fields := make(map[string]formField, len(limits))
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return fields, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading multipart body: %w", err)
		}

		name := part.FormName()
		limit, ok := limits[name]
		if !ok {
			part.Close()
			continue
		}

		data, err := io.ReadAll(io.LimitReader(part, limit+1))
		part.Close()
		if err != nil {
			return nil, fmt.Errorf("reading field %s: %w", name, err)
		}
		if int64(len(data)) > limit {
			return nil, fmt.Errorf("%w: %s exceeds %d bytes", errFieldTooLarge, name, limit)
		}
		fields[name] = formField{data: data, contentType: part.Header.Get("Content-Type")}
	}
}

// formErrorStatus maps a readForm error to an HTTP status.
func formErrorStatus(err error) int {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr), errors.Is(err, errFieldTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, errNotMultipart):
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusBadRequest
	}
}
