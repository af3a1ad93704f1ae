// Package message は位置情報付きメッセージの投稿・削除・取得のドメインロジックを提供する。
package message

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/geoboard/internal/geo"
	"github.com/hitoshi/geoboard/internal/metrics"
	"github.com/hitoshi/geoboard/internal/model"
	"github.com/hitoshi/geoboard/internal/repository"
	"github.com/hitoshi/geoboard/internal/security"
)

// DefaultMaxTextLength はメッセージ本文の標準の最大文字数。
const DefaultMaxTextLength = 500

// Verifier は呼び出し元ユーザーの確認インターフェース。
type Verifier interface {
	Verify(ctx context.Context, displayName, authToken string) (*model.User, error)
}

// Options はServiceの動作設定。
type Options struct {
	RadiusMeters  float64 // 近傍検索の半径。0以下の場合は geo.DefaultRadiusMeters
	MaxTextLength int     // 本文の最大文字数。0以下の場合は DefaultMaxTextLength
}

// PostInput はメッセージ投稿の入力。
// 座標はどちらか一方だけの指定を検出するためポインタで受け取る。
type PostInput struct {
	Text        string
	Latitude    *float64
	Longitude   *float64
	DisplayName string
	AuthToken   string
}

// DeleteInput はメッセージ削除の入力。
type DeleteInput struct {
	ID          string
	DisplayName string
	AuthToken   string
}

// Service はメッセージ管理のサービス層。
type Service struct {
	messages  repository.MessageRepository
	verifier  Verifier
	sanitizer security.TextSanitizer
	metrics   metrics.MetricsCollector
	radius    float64
	maxLength int
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	messages repository.MessageRepository,
	verifier Verifier,
	sanitizer security.TextSanitizer,
	collector metrics.MetricsCollector,
	opts Options,
) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if opts.RadiusMeters <= 0 {
		opts.RadiusMeters = geo.DefaultRadiusMeters
	}
	if opts.MaxTextLength <= 0 {
		opts.MaxTextLength = DefaultMaxTextLength
	}
	return &Service{
		messages:  messages,
		verifier:  verifier,
		sanitizer: sanitizer,
		metrics:   collector,
		radius:    opts.RadiusMeters,
		maxLength: opts.MaxTextLength,
		now:       time.Now,
	}
}

// Post はメッセージを投稿する。
// ユーザー確認に失敗した場合はストアに触れずにInvalidUserエラーを返す。
// 本文が空（サニタイズ後）または長すぎる場合、座標が片方だけまたは両方ない場合はValidationErrorを返す。
func (s *Service) Post(ctx context.Context, in PostInput) (*model.Message, error) {
	author, err := s.verifier.Verify(ctx, in.DisplayName, in.AuthToken)
	if err != nil {
		return nil, err
	}

	text := s.sanitizer.Sanitize(in.Text)
	if text == "" {
		return nil, model.NewValidationError("text must be at least 1 character")
	}
	if utf8.RuneCountInString(text) > s.maxLength {
		return nil, model.NewValidationError(fmt.Sprintf("text must be at most %d characters", s.maxLength))
	}

	point, err := requirePoint(in.Latitude, in.Longitude)
	if err != nil {
		return nil, err
	}

	now := s.now()
	msg := &model.Message{
		ID:        uuid.NewString(),
		Text:      text,
		Latitude:  point.Latitude,
		Longitude: point.Longitude,
		AuthorID:  author.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.messages.Create(ctx, msg); err != nil {
		return nil, fmt.Errorf("メッセージの作成に失敗しました: %w", err)
	}

	s.metrics.RecordMessageOp("post")
	slog.Info("message posted",
		slog.String("message_id", msg.ID),
		slog.String("author_id", author.ID),
	)

	return msg, nil
}

// Delete は投稿者本人によるメッセージ削除を行う。投票は全て一緒に削除され、
// このメッセージが受けた分は投稿者の集計値から差し引かれる。
func (s *Service) Delete(ctx context.Context, in DeleteInput) error {
	requester, err := s.verifier.Verify(ctx, in.DisplayName, in.AuthToken)
	if err != nil {
		return err
	}

	msg, err := s.messages.FindByID(ctx, in.ID)
	if err != nil {
		return fmt.Errorf("メッセージの取得に失敗しました: %w", err)
	}
	if msg == nil {
		return model.NewMessageNotFoundError(in.ID)
	}
	if msg.AuthorID != requester.ID {
		return model.NewForbiddenError("only the author can delete this message")
	}

	deleted, err := s.messages.Delete(ctx, in.ID)
	if err != nil {
		return fmt.Errorf("メッセージの削除に失敗しました: %w", err)
	}
	if !deleted {
		// 確認後に他のリクエストで削除された
		return model.NewMessageNotFoundError(in.ID)
	}

	s.metrics.RecordMessageOp("delete")
	slog.Info("message deleted",
		slog.String("message_id", in.ID),
		slog.String("author_id", requester.ID),
	)

	return nil
}

// List はメッセージを作成順で返す。
// pointが指定された場合は設定された半径以内のメッセージのみを返す。
func (s *Service) List(ctx context.Context, point *model.Point) ([]*model.Message, error) {
	all, err := s.messages.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("メッセージ一覧の取得に失敗しました: %w", err)
	}
	return geo.Filter(all, point, s.radius), nil
}

// Get は指定IDのメッセージを返す。見つからない場合はMessageNotFoundエラーを返す。
func (s *Service) Get(ctx context.Context, id string) (*model.Message, error) {
	msg, err := s.messages.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("メッセージの取得に失敗しました: %w", err)
	}
	if msg == nil {
		return nil, model.NewMessageNotFoundError(id)
	}
	return msg, nil
}

func requirePoint(latitude, longitude *float64) (model.Point, error) {
	switch {
	case latitude == nil && longitude == nil:
		return model.Point{}, model.NewValidationError("latitude and longitude are required")
	case latitude == nil || longitude == nil:
		return model.Point{}, model.NewValidationError("latitude and longitude must be given together")
	}
	p := model.Point{Latitude: *latitude, Longitude: *longitude}
	if err := geo.ValidatePoint(p); err != nil {
		return model.Point{}, err
	}
	return p, nil
}
