package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// maxDetailLength はエラー詳細に含める上流本文の最大文字数。
const maxDetailLength = 2048

// DetailSanitizer は上流のエラー本文をレスポンスのdetailsに載せるプレーンテキストに変換する。
// HTMLタグを除去し、文字参照は元の文字に戻す。
type DetailSanitizer struct {
	policy *bluemonday.Policy
}

// NewDetailSanitizer はDetailSanitizerを生成する。
func NewDetailSanitizer() *DetailSanitizer {
	return &DetailSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はrawからタグを除去し、空白を詰めて返す。
// maxDetailLength文字を超える部分は切り詰める。
func (s *DetailSanitizer) Sanitize(raw string) string {
	text := html.UnescapeString(s.policy.Sanitize(raw))
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= maxDetailLength {
		return text
	}
	runes := []rune(text)
	return string(runes[:maxDetailLength]) + "..."
}
