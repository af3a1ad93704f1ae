// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer は投稿メッセージ本文からHTMLマークアップを全て取り除き、
// 表示側がそのまま描画しても安全なプレーンテキストにする。
package security

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はメッセージ本文のサニタイズ機能のインターフェースを定義する。
type TextSanitizer interface {
	// Sanitize は入力から全てのタグを除去し、エンティティを復元したプレーンテキストを返す。
	// 改行とタブ以外の制御文字は除去し、前後の空白を取り除く。
	// 同一入力に対して常に同一出力を返す。
	Sanitize(raw string) string
}

// textSanitizer はTextSanitizerの実装。
// bluemondayのポリシーはゴルーチン間で共有してよい。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerの新しいインスタンスを生成する。
// 許可タグなしのStrictPolicyを使い、script, styleなどは中身ごと除去される。
func NewTextSanitizer() TextSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はメッセージ本文をプレーンテキストにする。
func (s *textSanitizer) Sanitize(raw string) string {
	stripped := s.policy.Sanitize(raw)
	// StrictPolicyは & < > " ' をエスケープして返すため、保存前に元の文字へ戻す
	text := html.UnescapeString(stripped)
	text = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, text)
	return strings.TrimSpace(text)
}
