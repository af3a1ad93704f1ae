package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/geoboard/internal/geo"
	"github.com/hitoshi/geoboard/internal/message"
	"github.com/hitoshi/geoboard/internal/middleware"
	"github.com/hitoshi/geoboard/internal/model"
)

// MessageServiceInterface はメッセージハンドラーが必要とするサービスインターフェース。
type MessageServiceInterface interface {
	Post(ctx context.Context, in message.PostInput) (*model.Message, error)
	Delete(ctx context.Context, in message.DeleteInput) error
	// List はpointがnilの場合は全件、それ以外は近傍のメッセージを作成順で返す。
	List(ctx context.Context, point *model.Point) ([]*model.Message, error)
	Get(ctx context.Context, id string) (*model.Message, error)
}

// MessageHandler はメッセージのHTTPハンドラー。
type MessageHandler struct {
	service MessageServiceInterface
}

// NewMessageHandler はMessageHandlerを生成する。
func NewMessageHandler(service MessageServiceInterface) *MessageHandler {
	return &MessageHandler{service: service}
}

// messageResponse はメッセージのAPIレスポンス。
type messageResponse struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	UpVotes   int       `json:"upVotes"`
	DownVotes int       `json:"downVotes"`
	AuthorID  string    `json:"UserId"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func toMessageResponse(m *model.Message) messageResponse {
	return messageResponse{
		ID:        m.ID,
		Text:      m.Text,
		Latitude:  m.Latitude,
		Longitude: m.Longitude,
		UpVotes:   m.UpVotes,
		DownVotes: m.DownVotes,
		AuthorID:  m.AuthorID,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// messageRequest はメッセージの投稿・削除リクエストのボディ。
// delete が true の場合は id のメッセージを削除する。
type messageRequest struct {
	Text        string   `json:"text"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	DisplayName string   `json:"displayName"`
	UserAuth    string   `json:"userAuth"`
	Delete      bool     `json:"delete"`
	ID          string   `json:"id"`
}

// credentialsRequest は資格情報のみを含むリクエストのボディ。
type credentialsRequest struct {
	DisplayName string `json:"displayName"`
	UserAuth    string `json:"userAuth"`
}

// ListMessages はメッセージ一覧を返す。
// latitude と longitude の両方が指定された場合は近傍のメッセージのみを返す。
// GET /messages
func (h *MessageHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	point, err := geo.ParsePoint(q.Get("latitude"), q.Get("longitude"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	messages, err := h.service.List(r.Context(), point)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]messageResponse, len(messages))
	for i, m := range messages {
		resp[i] = toMessageResponse(m)
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetMessage は指定IDのメッセージを返す。
// GET /messages/{id}
func (h *MessageHandler) GetMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMessageResponse(msg))
}

// PostMessage はメッセージを投稿する。delete が true の場合は削除として扱う。
// POST /messages
func (h *MessageHandler) PostMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.Delete {
		h.deleteMessage(w, r, req.ID, credentialsRequest{DisplayName: req.DisplayName, UserAuth: req.UserAuth})
		return
	}

	msg, err := h.service.Post(r.Context(), message.PostInput{
		Text:        req.Text,
		Latitude:    req.Latitude,
		Longitude:   req.Longitude,
		DisplayName: req.DisplayName,
		AuthToken:   req.UserAuth,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	middleware.SetVerifiedDisplayName(r.Context(), req.DisplayName)
	writeJSON(w, http.StatusCreated, toMessageResponse(msg))
}

// DeleteMessage は投稿者本人によるメッセージ削除を行う。資格情報はボディで受け取る。
// DELETE /messages/{id}
func (h *MessageHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h.deleteMessage(w, r, chi.URLParam(r, "id"), req)
}

func (h *MessageHandler) deleteMessage(w http.ResponseWriter, r *http.Request, id string, cred credentialsRequest) {
	if id == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("id is required"))
		return
	}

	err := h.service.Delete(r.Context(), message.DeleteInput{
		ID:          id,
		DisplayName: cred.DisplayName,
		AuthToken:   cred.UserAuth,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	middleware.SetVerifiedDisplayName(r.Context(), cred.DisplayName)
	w.WriteHeader(http.StatusNoContent)
}
