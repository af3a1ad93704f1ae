// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"sync"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// identityContextKey はリクエストコンテキストに確認済みユーザーの入れ物を格納するためのキー。
var identityContextKey = contextKey("request_identity")

// requestIdentity はハンドラーが確認した表示名をログミドルウェアへ渡すための入れ物。
// 資格情報はリクエストボディに含まれるため、ミドルウェアの時点では確認できない。
type requestIdentity struct {
	mu          sync.Mutex
	displayName string
}

// withIdentityHolder はコンテキストに空の入れ物を注入する。既に存在する場合はそのまま返す。
func withIdentityHolder(ctx context.Context) context.Context {
	if _, ok := ctx.Value(identityContextKey).(*requestIdentity); ok {
		return ctx
	}
	return context.WithValue(ctx, identityContextKey, &requestIdentity{})
}

// SetVerifiedDisplayName はユーザー確認に成功した表示名をリクエストに記録する。
// ログミドルウェアを通過していないコンテキストでは何もしない。
func SetVerifiedDisplayName(ctx context.Context, displayName string) {
	holder, ok := ctx.Value(identityContextKey).(*requestIdentity)
	if !ok {
		return
	}
	holder.mu.Lock()
	holder.displayName = displayName
	holder.mu.Unlock()
}

// DisplayNameFromContext はリクエストで確認済みの表示名を取得する。
func DisplayNameFromContext(ctx context.Context) (string, error) {
	holder, ok := ctx.Value(identityContextKey).(*requestIdentity)
	if !ok {
		return "", fmt.Errorf("display name not found in context")
	}
	holder.mu.Lock()
	defer holder.mu.Unlock()
	if holder.displayName == "" {
		return "", fmt.Errorf("display name not found in context")
	}
	return holder.displayName, nil
}
