// Package deeplink はSlackのパーマリンクをクライアントで直接開けるディープリンクに変換する。
//
// ディープリンク形式はSlackクライアントの非公式な規約に依存する。
// 変換に失敗した場合は必ず元のパーマリンクを表示に使い、利用者にエラーを見せない。
package deeplink

import (
	"fmt"
	"log/slog"
	"net/url"
	"regexp"
)

// tsSecondsLength はパーマリンクのp以降の数字列のうち、秒部分の桁数。
const tsSecondsLength = 10

// permalinkPattern は .../archives/<CHANNEL_ID>/p<digits> 形式のパーマリンク。
var permalinkPattern = regexp.MustCompile(`/archives/([A-Z0-9]+)/p(\d+)`)

// Thread はパーマリンクから取り出したチャンネルとメッセージタイムスタンプ。
type Thread struct {
	ChannelID string
	MessageTs string // 例: 1753404206.917869
}

// Parse はパーマリンクを解析する。形式に一致しない場合はfalseを返す。
// p以降の数字列を先頭10桁で分割し、小数形式のタイムスタンプに変換する。
func Parse(permalink string) (Thread, bool) {
	m := permalinkPattern.FindStringSubmatch(permalink)
	if m == nil {
		return Thread{}, false
	}
	digits := m[2]
	if len(digits) <= tsSecondsLength {
		return Thread{}, false
	}
	return Thread{
		ChannelID: m[1],
		MessageTs: digits[:tsSecondsLength] + "." + digits[tsSecondsLength:],
	}, true
}

// Build はワークスペースID・チャンネルID・タイムスタンプからディープリンクを組み立てる。
func Build(workspaceID string, th Thread) string {
	return fmt.Sprintf("slack://channel?team=%s&id=%s&message=%s",
		url.QueryEscape(workspaceID),
		url.QueryEscape(th.ChannelID),
		url.QueryEscape(th.MessageTs),
	)
}

// Resolver はパーマリンクからディープリンクを解決する。
type Resolver struct {
	logger *slog.Logger
}

// NewResolver はResolverを生成する。
func NewResolver(logger *slog.Logger) *Resolver {
	return &Resolver{logger: logger}
}

// Resolve はパーマリンクとワークスペースIDからディープリンクを生成する。
// パーマリンクが形式に一致しない場合はログを出力してfalseを返す。
// ワークスペースIDは必須で、空の場合の扱いは呼び出し側の責務とする。
func (r *Resolver) Resolve(permalink, workspaceID string) (string, bool) {
	if workspaceID == "" {
		return "", false
	}
	th, ok := Parse(permalink)
	if !ok {
		r.logger.Warn("パーマリンクの形式が想定と異なるためディープリンクを生成できません",
			slog.String("permalink", permalink),
		)
		return "", false
	}
	return Build(workspaceID, th), true
}

// DisplayLink は表示用のリンクを返す。
// ディープリンクを生成できればそれを、できなければパーマリンクをそのまま返す。
// ワークスペースIDが不明な場合はディープリンクの生成自体を行わない。
func (r *Resolver) DisplayLink(permalink, workspaceID string) string {
	if permalink == "" || workspaceID == "" {
		return permalink
	}
	if link, ok := r.Resolve(permalink, workspaceID); ok {
		return link
	}
	return permalink
}
