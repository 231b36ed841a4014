package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/photo-finder/internal/database"
	"github.com/kozaktomas/photo-finder/internal/fingerprint"
	"github.com/kozaktomas/photo-finder/internal/images"
	"github.com/kozaktomas/photo-finder/internal/search"
)

// fakeAuth records calls and returns canned errors
type fakeAuth struct {
	registerErr error
	loginErr    error
	token       string
	gotUser     string
}

func (f *fakeAuth) Register(_ context.Context, username, _ string) error {
	f.gotUser = username
	return f.registerErr
}

func (f *fakeAuth) Login(_ context.Context, username, _ string) (string, error) {
	f.gotUser = username
	if f.loginErr != nil {
		return "", f.loginErr
	}
	return f.token, nil
}

// fakeImages captures the last upload request
type fakeImages struct {
	uploadErr error
	getErr    error
	last      images.UploadRequest
	calls     int
	record    *database.ImageRecord
}

func (f *fakeImages) Upload(_ context.Context, req images.UploadRequest) (*database.ImageRecord, error) {
	f.calls++
	f.last = req
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	rec := &database.ImageRecord{
		ID:        "abc123",
		Owner:     req.Owner,
		Title:     req.Title,
		Tags:      []string{},
		MediaType: req.MediaType,
	}
	return rec, nil
}

func (f *fakeImages) Get(_ context.Context, id string) (*database.ImageRecord, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	if f.record == nil || f.record.ID != id {
		return nil, database.ErrNotFound
	}
	return f.record, nil
}

// fakeSearcher captures the query and returns canned results
type fakeSearcher struct {
	results   []search.Result
	err       error
	enc       fingerprint.Encoding
	data      []byte
	threshold *uint
	calls     int
}

func (f *fakeSearcher) SearchImage(_ context.Context, enc fingerprint.Encoding, data []byte, threshold *uint) ([]search.Result, error) {
	f.calls++
	f.enc, f.data, f.threshold = enc, data, threshold
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

// formPart is one multipart field for multipartRequest
type formPart struct {
	name        string
	value       []byte
	contentType string
}

// multipartRequest builds a multipart/form-data request
func multipartRequest(t *testing.T, path string, parts ...formPart) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, p := range parts {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+p.name+`"; filename="`+p.name+`"`)
		if p.contentType != "" {
			h.Set("Content-Type", p.contentType)
		}
		w, err := mw.CreatePart(h)
		if err != nil {
			t.Fatalf("CreatePart: %v", err)
		}
		w.Write(p.value)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("closing multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseJSONResponse parses a JSON response body into the target type
func parseJSONResponse(t *testing.T, recorder *httptest.ResponseRecorder, target any) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nBody: %s", err, recorder.Body.String())
	}
}

// assertStatusCode checks if the response has the expected status code
func assertStatusCode(t *testing.T, recorder *httptest.ResponseRecorder, expected int) {
	t.Helper()
	if recorder.Code != expected {
		t.Errorf("expected status %d, got %d\nBody: %s", expected, recorder.Code, recorder.Body.String())
	}
}

// assertContentType checks if the response has the expected content type
func assertContentType(t *testing.T, recorder *httptest.ResponseRecorder, expected string) {
	t.Helper()
	ct := recorder.Header().Get("Content-Type")
	if ct != expected {
		t.Errorf("expected Content-Type '%s', got '%s'", expected, ct)
	}
}

// assertJSONField checks one string field of a JSON object response
func assertJSONField(t *testing.T, recorder *httptest.ResponseRecorder, key, expected string) {
	t.Helper()
	var result map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse response: %v\nBody: %s", err, recorder.Body.String())
	}
	if result[key] != expected {
		t.Errorf("expected %s '%s', got '%v'", key, expected, result[key])
	}
}
