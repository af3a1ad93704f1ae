// Package model はドメインモデルを定義する。
package model

import "time"

// User は掲示板の利用ユーザーを表す。
// UpVotes/DownVotes はこのユーザーが投稿したメッセージに他ユーザーが付けた投票の合計であり、
// このユーザー自身が投じた票ではない。
type User struct {
	ID          string
	DisplayName string // 全ユーザーで一意（大文字小文字を区別）
	AuthToken   string // DisplayName と 1:1 で作成時に固定される
	UpVotes     int
	DownVotes   int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
