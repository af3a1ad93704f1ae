package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/geoboard/internal/middleware"
	"github.com/hitoshi/geoboard/internal/model"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	// Signup はユーザーを作成する。表示名が重複する場合はDuplicateNameエラーを返す。
	Signup(ctx context.Context, displayName, authToken string) (*model.User, error)
	FindByAuthToken(ctx context.Context, authToken string) (*model.User, error)
}

// UserHandler はユーザーのHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{
		service: service,
	}
}

// userResponse はユーザーのAPIレスポンス。認証トークンは含めない。
type userResponse struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	UpVotes     int    `json:"upVotes"`
	DownVotes   int    `json:"downVotes"`
}

// GetUser は認証トークンに対応するユーザーを返す。
// GET /users?userAuth=
func (h *UserHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.FindByAuthToken(r.Context(), r.URL.Query().Get("userAuth"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	middleware.SetVerifiedDisplayName(r.Context(), user.DisplayName)
	writeJSON(w, http.StatusOK, userResponse{
		ID:          user.ID,
		DisplayName: user.DisplayName,
		UpVotes:     user.UpVotes,
		DownVotes:   user.DownVotes,
	})
}

// CreateUser はユーザーを作成する。
// 成功時の本文は固定文字列で、クライアントはこれを直接比較する。
// POST /users
func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.service.Signup(r.Context(), req.DisplayName, req.UserAuth)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	middleware.SetVerifiedDisplayName(r.Context(), user.DisplayName)
	writeText(w, http.StatusCreated, model.MsgUserCreated)
}
