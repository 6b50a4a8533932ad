package slackevent

import (
	"regexp"

	"github.com/tidwall/gjson"
)

// Events APIエンベロープのtype値。
const (
	EnvelopeURLVerification = "url_verification"
	EnvelopeEventCallback   = "event_callback"
)

// EnvelopeType はEvents APIエンベロープのtypeを返す。解析できない場合は空文字列。
func EnvelopeType(raw []byte) string {
	if !gjson.ValidBytes(raw) {
		return ""
	}
	return stringAt(gjson.ParseBytes(raw), "type")
}

// Challenge はurl_verificationリクエストのchallenge値を返す。
func Challenge(raw []byte) string {
	if !gjson.ValidBytes(raw) {
		return ""
	}
	return stringAt(gjson.ParseBytes(raw), "challenge")
}

// EventID はEvents APIのevent_idを返す。再送判定のログ用。
func EventID(raw []byte) string {
	if !gjson.ValidBytes(raw) {
		return ""
	}
	return stringAt(gjson.ParseBytes(raw), "event_id")
}

// mentionPattern はメッセージ本文中のユーザーメンショントークン（<@U123> / <@U123|name>）。
var mentionPattern = regexp.MustCompile(`<@([UW][A-Z0-9]+)(?:\|[^>]*)?>`)

// MentionedUserIDs は本文中でメンションされたユーザーIDを出現順・重複なしで返す。
func MentionedUserIDs(text string) []string {
	matches := mentionPattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(matches))
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		id := m[1]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}
