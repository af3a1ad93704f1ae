// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, vote, message, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeInvalidUser     = "INVALID_USER"
	ErrCodeForbidden       = "FORBIDDEN"
	ErrCodeDuplicateName   = "DUPLICATE_NAME"
	ErrCodeMessageNotFound = "MESSAGE_NOT_FOUND"
	ErrCodeVoteNotFound    = "VOTE_NOT_FOUND"
	ErrCodeUserNotFound    = "USER_NOT_FOUND"
	ErrCodeBadRequest      = "BAD_REQUEST"
	ErrCodeInvalidRequest  = "INVALID_REQUEST"
)

// クライアントとの互換性のため文言を固定しているメッセージ。
const (
	MsgUserCreated        = "New user created"
	MsgDuplicateName      = "User displayName already taken"
	MsgInvalidUser        = "user not valid"
	MsgVoteSelectorNeeded = "displayName and/or MessageId required"
)

// NewValidationError は入力値検証エラーを生成する。
func NewValidationError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  reason,
		Category: "validation",
		Action:   "Check the request fields and try again.",
	}
}

// NewInvalidUserError は表示名と認証トークンが一致するユーザーが存在しない場合のエラーを生成する。
func NewInvalidUserError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidUser,
		Message:  MsgInvalidUser,
		Category: "auth",
		Action:   "Send a registered displayName together with its userAuth.",
	}
}

// NewForbiddenError は所有者以外による操作のエラーを生成する。
func NewForbiddenError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  reason,
		Category: "auth",
		Action:   "Only the author can perform this operation.",
	}
}

// NewDuplicateNameError は表示名の重複エラーを生成する。
func NewDuplicateNameError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateName,
		Message:  MsgDuplicateName,
		Category: "validation",
		Action:   "Choose a different displayName.",
	}
}

// NewMessageNotFoundError はメッセージ未検出エラーを生成する。
func NewMessageNotFoundError(messageID string) *APIError {
	return &APIError{
		Code:     ErrCodeMessageNotFound,
		Message:  fmt.Sprintf("message not found: %s", messageID),
		Category: "message",
		Action:   "Check the message id. The message may have been deleted.",
	}
}

// NewVoteNotFoundError は投票未検出エラーを生成する。
func NewVoteNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeVoteNotFound,
		Message:  "vote not found",
		Category: "vote",
		Action:   "There is no vote by this user on the message.",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "user not found",
		Category: "auth",
		Action:   "Sign up before using this credential.",
	}
}

// NewVoteSelectorRequiredError は投票検索の条件が1つも指定されていない場合のエラーを生成する。
func NewVoteSelectorRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeBadRequest,
		Message:  MsgVoteSelectorNeeded,
		Category: "validation",
		Action:   "Specify displayName, messageId, or both.",
	}
}

// NewInvalidRequestError はリクエストボディの解析失敗エラーを生成する。
func NewInvalidRequestError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  "failed to parse request body",
		Category: "validation",
		Action:   "Send a valid JSON body.",
	}
}

// IsPlainText はエラー本文を固定文言のテキストとして返すべきかどうかを返す。
// クライアントは以下のコードの本文を文字列のまま比較する。
func (e *APIError) IsPlainText() bool {
	switch e.Code {
	case ErrCodeDuplicateName, ErrCodeInvalidUser, ErrCodeBadRequest:
		return true
	default:
		return false
	}
}

// HasCode はerrがAPIErrorであり、指定コードを持つかどうかを判定する。
func HasCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}
