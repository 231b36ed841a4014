package handlers

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kozaktomas/photo-finder/internal/auth"
	"github.com/kozaktomas/photo-finder/internal/constants"
	"github.com/kozaktomas/photo-finder/internal/database"
)

func credentialsRequestFor(path, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestAuthHandler_Register(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		err         error
		wantStatus  int
		wantMessage string
	}{
		{"success", `{"username":"alice","password":"pw"}`, nil, http.StatusOK, constants.MsgRegisterOK},
		{"duplicate", `{"username":"alice","password":"pw"}`, database.ErrUserExists, http.StatusBadRequest, constants.MsgRegisterFailed},
		{"invalid input", `{"username":"","password":"pw"}`, auth.ErrInvalidInput, http.StatusBadRequest, constants.MsgRegisterFailed},
		{"store failure", `{"username":"alice","password":"pw"}`, &database.StoreError{Op: "create user", Err: errors.New("down")}, http.StatusInternalServerError, constants.MsgRegisterFailed},
		{"malformed body", `{"username":`, nil, http.StatusBadRequest, errInvalidRequestBody},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			handler := NewAuthHandler(&fakeAuth{registerErr: tc.err})
			recorder := httptest.NewRecorder()

			handler.Register(recorder, credentialsRequestFor("/api/v1/auth/register", tc.body))

			assertStatusCode(t, recorder, tc.wantStatus)
			assertContentType(t, recorder, "application/json")
			assertJSONField(t, recorder, "message", tc.wantMessage)
		})
	}
}

func TestAuthHandler_Login_Success(t *testing.T) {
	fake := &fakeAuth{token: "signed.jwt.token"}
	handler := NewAuthHandler(fake)
	recorder := httptest.NewRecorder()

	handler.Login(recorder, credentialsRequestFor("/api/v1/auth/login", `{"username": "alice", "password": "hunter2"}`))

	assertStatusCode(t, recorder, http.StatusOK)

	var response LoginResponse
	parseJSONResponse(t, recorder, &response)
	if response.Token != "signed.jwt.token" {
		t.Errorf("expected token to be returned, got %q", response.Token)
	}
	if response.Message != constants.MsgLoginOK {
		t.Errorf("expected message %q, got %q", constants.MsgLoginOK, response.Message)
	}
	if fake.gotUser != "alice" {
		t.Errorf("expected username alice, got %q", fake.gotUser)
	}
}

func TestAuthHandler_Login_Failures(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"wrong password", auth.ErrInvalidCredentials, http.StatusBadRequest},
		{"empty fields", auth.ErrInvalidInput, http.StatusBadRequest},
		{"store failure", errors.New("connection refused"), http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			handler := NewAuthHandler(&fakeAuth{loginErr: tc.err})
			recorder := httptest.NewRecorder()

			handler.Login(recorder, credentialsRequestFor("/api/v1/auth/login", `{"username":"alice","password":"x"}`))

			assertStatusCode(t, recorder, tc.wantStatus)
			assertJSONField(t, recorder, "message", constants.MsgLoginFailed)
			if bytes.Contains(recorder.Body.Bytes(), []byte("token")) {
				t.Error("failed login must not return a token")
			}
		})
	}
}
