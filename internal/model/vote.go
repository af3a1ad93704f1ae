// Package model はドメインモデルを定義する。
package model

import "time"

// Vote はユーザーがメッセージに付けた現在の投票を表す。
// (VoterID, MessageID) の組につき高々1件しか存在しない。
type Vote struct {
	VoterID   string
	MessageID string
	Value     bool // true=賛成, false=反対
	CreatedAt time.Time
	UpdatedAt time.Time
}

// VoteWithRelations は投票に投票者の表示名を結合したモデル。
// 参照系APIで2回目の問い合わせなしに結合できるようにする。
type VoteWithRelations struct {
	Vote
	UserDisplayName string
}

// TransitionKind は投票台帳の状態遷移の種別を表す。
type TransitionKind string

const (
	// TransitionNone は状態を変更しない遷移（同じ値の再投票）。
	TransitionNone TransitionKind = "none"
	// TransitionCreate は NoVote → Voted(v) の遷移。
	TransitionCreate TransitionKind = "create"
	// TransitionChange は Voted(v) → Voted(v') の遷移。
	TransitionChange TransitionKind = "change"
	// TransitionRemove は Voted(v) → NoVote の遷移。
	TransitionRemove TransitionKind = "remove"
)

// VoteTransition は1組の (投票者, メッセージ) に対する遷移と、それに伴う集計値の差分を表す。
// 差分はメッセージと投稿者の両方に同じ値が適用される。
type VoteTransition struct {
	Kind      TransitionKind
	Value     bool // Create/Change 後の値
	UpDelta   int
	DownDelta int
}

// HasDelta は集計値の更新が必要かどうかを返す。
func (t VoteTransition) HasDelta() bool {
	return t.UpDelta != 0 || t.DownDelta != 0
}
