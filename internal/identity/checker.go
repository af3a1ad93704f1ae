// Package identity は表示名と認証トークンの組によるユーザー確認を提供する。
package identity

import (
	"context"
	"crypto/subtle"
	"fmt"

	"github.com/hitoshi/geoboard/internal/model"
)

// UserFinder は表示名によるユーザー検索インターフェース。
type UserFinder interface {
	FindByDisplayName(ctx context.Context, displayName string) (*model.User, error)
}

// Checker は変更系の操作の前に呼び出し元のユーザーを確認する。
type Checker struct {
	users UserFinder
}

// NewChecker はCheckerを生成する。
func NewChecker(users UserFinder) *Checker {
	return &Checker{users: users}
}

// Verify は (displayName, authToken) の組が既存ユーザーと一致するかを確認し、一致したユーザーを返す。
// 表示名が空、該当ユーザーなし、トークン不一致のいずれもInvalidUserエラーを返す。
// どの理由で失敗したかは呼び出し元に区別させない。
func (c *Checker) Verify(ctx context.Context, displayName, authToken string) (*model.User, error) {
	if displayName == "" || authToken == "" {
		return nil, model.NewInvalidUserError()
	}

	user, err := c.users.FindByDisplayName(ctx, displayName)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		return nil, model.NewInvalidUserError()
	}
	if subtle.ConstantTimeCompare([]byte(user.AuthToken), []byte(authToken)) != 1 {
		return nil, model.NewInvalidUserError()
	}
	return user, nil
}
