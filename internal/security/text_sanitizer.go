// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer はバックエンドやユーザーから受け取った自由記述テキスト
// （取引の説明、記録のメモ）からマークアップを取り除く。
// 返す値はプレーンテキストで、クライアントはHTMLとして解釈しない。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はプレーンテキスト化のインターフェースを定義する。
type TextSanitizer interface {
	// SanitizeText はタグを除去し、エンティティを戻し、連続する空白を1つにまとめる。
	// script と style は中身ごと除去される。空文字列の入力には空文字列を返す。
	SanitizeText(raw string) string
}

// textSanitizer はTextSanitizerの実装。
// bluemondayのStrictPolicyはスレッドセーフに共有できる。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerの新しいインスタンスを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// SanitizeText はTextSanitizerインターフェースを実装する。
func (s *textSanitizer) SanitizeText(raw string) string {
	if raw == "" {
		return ""
	}
	stripped := html.UnescapeString(s.policy.Sanitize(raw))
	return strings.Join(strings.Fields(stripped), " ")
}
