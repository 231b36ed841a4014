package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/kozaktomas/photo-finder/internal/auth"
	"github.com/kozaktomas/photo-finder/internal/constants"
	"github.com/kozaktomas/photo-finder/internal/database"
)

// maxCredentialsBody caps the JSON body of register and login requests.
const maxCredentialsBody = 8 << 10

// Authenticator registers accounts and exchanges credentials for tokens.
type Authenticator interface {
	Register(ctx context.Context, username, password string) error
	Login(ctx context.Context, username, password string) (string, error)
}

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	auth Authenticator
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(a Authenticator) *AuthHandler {
	return &AuthHandler{auth: a}
}

// credentialsRequest is the body of register and login requests
type credentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse represents a successful login
type LoginResponse struct {
	Message string `json:"message"`
	Token   string `json:"token"`
}

func decodeCredentials(w http.ResponseWriter, r *http.Request) (credentialsRequest, bool) {
	var req credentialsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCredentialsBody)).Decode(&req); err != nil {
		respondMessage(w, http.StatusBadRequest, errInvalidRequestBody)
		return req, false
	}
	return req, true
}

// Register creates a new account
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCredentials(w, r)
	if !ok {
		return
	}

	err := h.auth.Register(r.Context(), req.Username, req.Password)
	switch {
	case err == nil:
		respondMessage(w, http.StatusOK, constants.MsgRegisterOK)
	case errors.Is(err, database.ErrUserExists), errors.Is(err, auth.ErrInvalidInput):
		respondMessage(w, http.StatusBadRequest, constants.MsgRegisterFailed)
	default:
		slog.ErrorContext(r.Context(), "register failed", "error", err)
		respondMessage(w, http.StatusInternalServerError, constants.MsgRegisterFailed)
	}
}

// Login verifies credentials and returns a bearer token
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCredentials(w, r)
	if !ok {
		return
	}

	token, err := h.auth.Login(r.Context(), req.Username, req.Password)
	switch {
	case err == nil:
		respondJSON(w, http.StatusOK, LoginResponse{Message: constants.MsgLoginOK, Token: token})
	case errors.Is(err, auth.ErrInvalidCredentials), errors.Is(err, auth.ErrInvalidInput):
		respondMessage(w, http.StatusBadRequest, constants.MsgLoginFailed)
	default:
		slog.ErrorContext(r.Context(), "login failed", "error", err)
		respondMessage(w, http.StatusInternalServerError, constants.MsgLoginFailed)
	}
}
