// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer はプロフィールの名前と自己紹介からマークアップを取り除く。
// 値はプレーンテキストとして保存し、表示時のエスケープはテンプレートに任せる。
package security

import (
	"html"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はユーザー入力のテキストからHTMLを除去する。
type TextSanitizer interface {
	// Sanitize はタグを取り除いたプレーンテキストを返す。
	// script、styleの中身は捨てる。それ以外の文字（&や<を含む）はそのまま残す。
	Sanitize(text string) string
}

type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerを生成する。
// bluemondayのStrictPolicy（全タグ不許可）を使う。
func NewTextSanitizer() TextSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はテキストをサニタイズする。
// StrictPolicyの出力はHTMLエスケープ済みなので、プレーンテキストに戻す。
func (s *textSanitizer) Sanitize(text string) string {
	if text == "" {
		return ""
	}
	return html.UnescapeString(s.policy.Sanitize(text))
}
