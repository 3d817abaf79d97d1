package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/friendproxy/internal/middleware"
	"github.com/hitoshi/friendproxy/internal/model"
)

// maxCredentialBodyBytes はログイン情報登録リクエストの本文上限。
const maxCredentialBodyBytes = 4 << 10

// CredentialSaver はログイン情報の保存インターフェース。
type CredentialSaver interface {
	SaveSecret(ctx context.Context, userID, email, password string) error
}

// CredentialHandler はFriend APIログイン情報登録のHTTPハンドラー。
type CredentialHandler struct {
	saver  CredentialSaver
	errors *errorResponder
}

// NewCredentialHandler はCredentialHandlerを生成する。
func NewCredentialHandler(saver CredentialSaver, sanitizer Sanitizer, logger *slog.Logger) *CredentialHandler {
	return &CredentialHandler{
		saver:  saver,
		errors: newErrorResponder(sanitizer, logger),
	}
}

// putCredentialsRequest はログイン情報登録リクエストのボディ。
type putCredentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// PutCredentials は認証済みユーザーのFriend APIログイン情報を保存する。
// PUT /credentials
func (h *CredentialHandler) PutCredentials(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewMissingAuthHeaderError())
		return
	}

	var req putCredentialsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCredentialBodyBytes)).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("Failed to parse request body"))
		return
	}

	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("Email and password are required"))
		return
	}

	if err := h.saver.SaveSecret(r.Context(), userID, req.Email, req.Password); err != nil {
		h.errors.handleServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
