// Package slackevent はSlackから届くイベントペイロードの判別と正規化を提供する。
//
// Slackは発生源（Events API / インタラクティブ操作）によって
// ワークスペースIDやチャンネルIDの位置が異なるペイロードを送ってくる。
// 形状ごとに正規化関数を用意し、model.NormalizedEventに統一する。
// I/Oは行わず、欠損フィールドは空文字列で表す。
package slackevent

import (
	"github.com/hitoshi/mentionbox/internal/model"
	"github.com/tidwall/gjson"
)

// normalizeFunc は1つのイベント形状に対する正規化関数。
type normalizeFunc func(root gjson.Result) model.NormalizedEvent

// normalizers はイベント形状ごとの正規化関数。
var normalizers = map[model.EventShape]normalizeFunc{
	model.EventShapeMessage:     normalizeMessage,
	model.EventShapeAppMention:  normalizeMessage,
	model.EventShapeBlockAction: normalizeBlockAction,
}

// Classify は生のペイロードからイベント形状を判別する。
// JSONとして不正な場合や未知の形状の場合はEventShapeUnknownを返す。
func Classify(raw []byte) model.EventShape {
	if !gjson.ValidBytes(raw) {
		return model.EventShapeUnknown
	}
	return classify(gjson.ParseBytes(raw))
}

func classify(root gjson.Result) model.EventShape {
	if root.Get("type").String() == "block_actions" {
		return model.EventShapeBlockAction
	}
	switch root.Get("event.type").String() {
	case "app_mention":
		return model.EventShapeAppMention
	case "message":
		return model.EventShapeMessage
	}
	return model.EventShapeUnknown
}

// Normalize は生のペイロードを正規化する。
// 判別できない形状でもエラーにはせず、Shape=EventShapeUnknownの空の結果を返す。
func Normalize(raw []byte) model.NormalizedEvent {
	if !gjson.ValidBytes(raw) {
		return model.NormalizedEvent{Shape: model.EventShapeUnknown}
	}
	root := gjson.ParseBytes(raw)
	shape := classify(root)

	fn, ok := normalizers[shape]
	if !ok {
		return model.NormalizedEvent{Shape: model.EventShapeUnknown}
	}
	ev := fn(root)
	ev.Shape = shape
	return ev
}

// normalizeMessage はmessage / app_mentionイベントを正規化する。
// ワークスペースIDは外側のteam_idが正であり、event.teamは参照しない。
func normalizeMessage(root gjson.Result) model.NormalizedEvent {
	inner := root.Get("event")

	channelID := resolveChannelID(root)
	if channelID == "" {
		channelID = stringAt(inner, "channel")
	}
	authorID := resolveUserID(root)
	if authorID == "" {
		authorID = stringAt(inner, "user")
	}

	return model.NormalizedEvent{
		WorkspaceID: resolveWorkspaceID(root),
		ChannelID:   channelID,
		AuthorID:    authorID,
		MessageTs:   stringAt(inner, "ts"),
		Text:        stringAt(inner, "text"),
		BotID:       stringAt(inner, "bot_id"),
		Subtype:     stringAt(inner, "subtype"),
	}
}

// normalizeBlockAction はblock_actionsペイロードを正規化する。
// エフェメラルメッセージ上の操作ではチャンネルIDがcontainer側にしか存在しない。
func normalizeBlockAction(root gjson.Result) model.NormalizedEvent {
	ev := model.NormalizedEvent{
		WorkspaceID: resolveWorkspaceID(root),
		ChannelID:   resolveChannelID(root),
		ChannelName: stringAt(root, "channel.name"),
		AuthorID:    resolveUserID(root),
		MessageTs:   firstString(root, "container.message_ts", "message.ts"),
		Text:        stringAt(root, "message.text"),
	}

	root.Get("actions").ForEach(func(_, action gjson.Result) bool {
		ev.Actions = append(ev.Actions, model.EventAction{
			ActionID: stringAt(action, "action_id"),
			Value:    stringAt(action, "value"),
		})
		return true
	})

	return ev
}

// resolveWorkspaceID は外側のteam_id → teamオブジェクトのidの順で解決する。
// messageイベントはteam_idのみ、block_actionsはteam.idのみを持つため、
// どちらか一方に寄せると片方の形状で必ず解決に失敗する。
func resolveWorkspaceID(root gjson.Result) string {
	return firstString(root, "team_id", "team.id")
}

// resolveChannelID はcontainer.channel_id → channel.id → channel_id の順で解決する。
func resolveChannelID(root gjson.Result) string {
	return firstString(root, "container.channel_id", "channel.id", "channel_id")
}

// resolveUserID はuser.id → user_id の順で解決する。
func resolveUserID(root gjson.Result) string {
	return firstString(root, "user.id", "user_id")
}

// firstString はパスを順に評価し、最初に見つかった空でない文字列値を返す。
func firstString(root gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := stringAt(root, p); v != "" {
			return v
		}
	}
	return ""
}

// stringAt はパスの値が文字列型の場合のみその値を返す。
func stringAt(root gjson.Result, path string) string {
	v := root.Get(path)
	if v.Type != gjson.String {
		return ""
	}
	return v.Str
}
