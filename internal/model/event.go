package model

// EventShape はSlackから届くイベントペイロードの構造種別を表す。
// 同一プラットフォームでも発生源によりワークスペースIDやチャンネルIDの位置が異なる。
type EventShape string

const (
	// EventShapeUnknown は判別できないペイロード。
	EventShapeUnknown EventShape = "unknown"
	// EventShapeMessage はEvents APIのmessageイベント（外側にteam_idを持つ）。
	EventShapeMessage EventShape = "message"
	// EventShapeAppMention はEvents APIのapp_mentionイベント。messageと同じ構造。
	EventShapeAppMention EventShape = "app_mention"
	// EventShapeBlockAction はインタラクティブ操作（block_actions）のペイロード。
	// ワークスペースIDはteam.idにあり、外側のteam_idは存在しない。
	EventShapeBlockAction EventShape = "block_actions"
)

// NormalizedEvent はイベント形状に依存しない正規化済みの識別情報。
// 値が取得できなかったフィールドは空文字列になる。必須かどうかは呼び出し側が判断する。
type NormalizedEvent struct {
	Shape       EventShape
	WorkspaceID string
	ChannelID   string
	ChannelName string
	AuthorID    string
	MessageTs   string
	Text        string

	// BotID はbot投稿の場合に設定される。
	BotID string
	// Subtype はmessageイベントのsubtype。
	Subtype string
	// Actions はblock_actionsの場合のアクション一覧。
	Actions []EventAction
}

// HasWorkspace はワークスペースIDが解決できたかを返す。
// falseの場合、ディープリンクは生成せずパーマリンクのみを使う。
func (e NormalizedEvent) HasWorkspace() bool {
	return e.WorkspaceID != ""
}

// IsBotMessage はbotによる投稿かどうかを返す。
func (e NormalizedEvent) IsBotMessage() bool {
	return e.BotID != "" || e.Subtype == "bot_message"
}

// EventAction はblock_actionsに含まれる1つのアクションを表す。
type EventAction struct {
	ActionID string
	Value    string
}
