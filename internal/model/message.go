// Package model はドメインモデルを定義する。
package model

import "time"

// Point は地球上の座標（度）を表す。
type Point struct {
	Latitude  float64
	Longitude float64
}

// Message は位置情報付きの投稿を表す。
// UpVotes/DownVotes は投票台帳の集計値で、台帳の遷移と同一トランザクションで更新される。
type Message struct {
	ID        string
	Text      string
	Latitude  float64
	Longitude float64
	AuthorID  string
	UpVotes   int
	DownVotes int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Point はメッセージの座標を返す。
func (m *Message) Point() Point {
	return Point{Latitude: m.Latitude, Longitude: m.Longitude}
}
