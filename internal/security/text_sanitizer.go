package security

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizerService はユーザー入力やSlackメッセージ由来のテキストを
// プレーンテキストとして保存できる形に整える。
type TextSanitizerService interface {
	// SanitizeText はHTMLタグを除去し、Slackのリンク記法を表示テキストに置き換え、
	// 連続する空白を1つにまとめて前後の空白を取り除く。
	// 同一入力に対して常に同一出力を返す（冪等）。
	SanitizeText(raw string) string
}

// slackLinkPattern は <https://example.com|表示名> または <https://example.com> 形式のリンク。
// bluemondayはこれをタグとして扱い除去してしまうため、サニタイズ前に展開する。
var slackLinkPattern = regexp.MustCompile(`<((?:https?|mailto):[^|>\s]+)(?:\|([^>]*))?>`)

var whitespacePattern = regexp.MustCompile(`\s+`)

// textSanitizer はTextSanitizerServiceの実装。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerServiceの新しいインスタンスを生成する。
// bluemondayのStrictPolicy（全タグ除去）を使用する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// SanitizeText はテキストをサニタイズする。
// <@U123> のようなユーザーメンションはタグとして解釈されないため、そのまま残る。
func (s *textSanitizer) SanitizeText(raw string) string {
	if raw == "" {
		return ""
	}

	expanded := slackLinkPattern.ReplaceAllStringFunc(raw, func(m string) string {
		sub := slackLinkPattern.FindStringSubmatch(m)
		if sub[2] != "" {
			return sub[2]
		}
		return sub[1]
	})

	// StrictPolicyは & < > をエスケープするため、プレーンテキストとして保存する前に戻す
	stripped := html.UnescapeString(s.policy.Sanitize(expanded))
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(stripped, " "))
}
