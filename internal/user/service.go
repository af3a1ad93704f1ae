// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/geoboard/internal/metrics"
	"github.com/hitoshi/geoboard/internal/model"
	"github.com/hitoshi/geoboard/internal/repository"
)

// 表示名と認証トークンの最大長（文字数）
const (
	MaxDisplayNameLength = 64
	MaxAuthTokenLength   = 256
)

// Service はユーザー管理のサービス層。
type Service struct {
	userRepo repository.UserRepository
	metrics  metrics.MetricsCollector
	now      func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// collectorがnilの場合はメトリクスを記録しない。
func NewService(userRepo repository.UserRepository, collector metrics.MetricsCollector) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{
		userRepo: userRepo,
		metrics:  collector,
		now:      time.Now,
	}
}

// Signup は新しいユーザーを作成する。
// 表示名と認証トークンは作成後に変更できない。
// 表示名が既に使われている場合はDuplicateNameエラーを返す。
func (s *Service) Signup(ctx context.Context, displayName, authToken string) (*model.User, error) {
	if err := validateCredential("displayName", displayName, MaxDisplayNameLength); err != nil {
		return nil, err
	}
	if err := validateCredential("userAuth", authToken, MaxAuthTokenLength); err != nil {
		return nil, err
	}

	now := s.now()
	user := &model.User{
		ID:          uuid.NewString(),
		DisplayName: displayName,
		AuthToken:   authToken,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if model.HasCode(err, model.ErrCodeDuplicateName) {
			return nil, err
		}
		return nil, fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
	}

	s.metrics.RecordUserCreated()
	slog.Info("user created",
		slog.String("user_id", user.ID),
		slog.String("display_name", user.DisplayName),
	)

	return user, nil
}

// FindByAuthToken は認証トークンでユーザーを取得する。
// 該当ユーザーがいない場合はUserNotFoundエラーを返す。
func (s *Service) FindByAuthToken(ctx context.Context, authToken string) (*model.User, error) {
	if authToken == "" {
		return nil, model.NewUserNotFoundError()
	}
	user, err := s.userRepo.FindByAuthToken(ctx, authToken)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return user, nil
}

func validateCredential(field, value string, maxLen int) error {
	if value == "" {
		return model.NewValidationError(field + " is required")
	}
	if !utf8.ValidString(value) {
		return model.NewValidationError(field + " must be valid UTF-8")
	}
	if utf8.RuneCountInString(value) > maxLen {
		return model.NewValidationError(fmt.Sprintf("%s must be at most %d characters", field, maxLen))
	}
	return nil
}
