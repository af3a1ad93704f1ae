package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/geoboard/internal/middleware"
	"github.com/hitoshi/geoboard/internal/model"
	"github.com/hitoshi/geoboard/internal/repository"
	"github.com/hitoshi/geoboard/internal/vote"
)

// VoteServiceInterface は投票ハンドラーが必要とするサービスインターフェース。
type VoteServiceInterface interface {
	Cast(ctx context.Context, in vote.CastInput) (*repository.TransitionResult, error)
	Remove(ctx context.Context, in vote.RemoveInput) (*repository.TransitionResult, error)
	// Query は指定されたセレクタに応じて1件または一覧を返す。
	// セレクタが1つもない場合はBadRequestエラーを返す。
	Query(ctx context.Context, sel vote.Selector) (*vote.QueryResult, error)
}

// VoteHandler は投票のHTTPハンドラー。
type VoteHandler struct {
	service VoteServiceInterface
}

// NewVoteHandler はVoteHandlerを生成する。
func NewVoteHandler(service VoteServiceInterface) *VoteHandler {
	return &VoteHandler{service: service}
}

// voteResponse は投票のAPIレスポンス。
// MessageId と UserDisplayName は既存クライアントとの互換のため大文字始まりのキーを使う。
type voteResponse struct {
	Vote            bool      `json:"vote"`
	MessageID       string    `json:"MessageId"`
	UserID          string    `json:"UserId"`
	UserDisplayName string    `json:"UserDisplayName"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func toVoteResponse(v *model.Vote, displayName string) voteResponse {
	return voteResponse{
		Vote:            v.Value,
		MessageID:       v.MessageID,
		UserID:          v.VoterID,
		UserDisplayName: displayName,
		CreatedAt:       v.CreatedAt,
		UpdatedAt:       v.UpdatedAt,
	}
}

// voteRequest は投票の作成・変更・取消リクエストのボディ。
type voteRequest struct {
	DisplayName string `json:"displayName"`
	UserAuth    string `json:"userAuth"`
	MessageID   string `json:"messageId"`
	Vote        *bool  `json:"vote"`
	Delete      bool   `json:"delete"`
}

// GetVotes は投票を返す。
// displayName と messageId の両方を指定した場合は1件のオブジェクト、
// どちらか一方の場合は配列を返す。
// GET /votes
func (h *VoteHandler) GetVotes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	result, err := h.service.Query(r.Context(), vote.Selector{
		DisplayName: q.Get("displayName"),
		MessageID:   q.Get("messageId"),
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if result.Single != nil {
		writeJSON(w, http.StatusOK, toVoteResponse(&result.Single.Vote, result.Single.UserDisplayName))
		return
	}

	resp := make([]voteResponse, len(result.List))
	for i := range result.List {
		resp[i] = toVoteResponse(&result.List[i].Vote, result.List[i].UserDisplayName)
	}
	writeJSON(w, http.StatusOK, resp)
}

// PostVote は投票を作成または変更する。delete が true の場合は取り消す。
// POST /votes
func (h *VoteHandler) PostVote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if req.Delete {
		h.removeVote(w, r, req)
		return
	}

	if req.MessageID == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("messageId is required"))
		return
	}
	if req.Vote == nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("vote is required"))
		return
	}

	result, err := h.service.Cast(r.Context(), vote.CastInput{
		DisplayName: req.DisplayName,
		AuthToken:   req.UserAuth,
		MessageID:   req.MessageID,
		Value:       *req.Vote,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	middleware.SetVerifiedDisplayName(r.Context(), req.DisplayName)
	if result.Vote == nil {
		w.WriteHeader(http.StatusCreated)
		return
	}
	writeJSON(w, http.StatusCreated, toVoteResponse(result.Vote, req.DisplayName))
}

// DeleteVote は投票を取り消す。資格情報と messageId はボディで受け取る。
// DELETE /votes
func (h *VoteHandler) DeleteVote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h.removeVote(w, r, req)
}

func (h *VoteHandler) removeVote(w http.ResponseWriter, r *http.Request, req voteRequest) {
	if req.MessageID == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewValidationError("messageId is required"))
		return
	}

	_, err := h.service.Remove(r.Context(), vote.RemoveInput{
		DisplayName: req.DisplayName,
		AuthToken:   req.UserAuth,
		MessageID:   req.MessageID,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	middleware.SetVerifiedDisplayName(r.Context(), req.DisplayName)
	w.WriteHeader(http.StatusNoContent)
}
