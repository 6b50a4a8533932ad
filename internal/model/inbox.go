// Package model はドメインモデルを定義する。
package model

import "time"

// InboxStatus は受信箱アイテムのトリアージ状態を表す。
// 期限切れのアイテムは行ごと削除されるため、EXPIREDに相当する状態は存在しない。
type InboxStatus string

const (
	// InboxStatusPending は未処理のメンション。
	InboxStatusPending InboxStatus = "PENDING"
	// InboxStatusRead は既読にされたメンション（終端状態）。
	InboxStatusRead InboxStatus = "READ"
	// InboxStatusTaskCreated はタスク化されたメンション（終端状態）。
	InboxStatusTaskCreated InboxStatus = "TASK_CREATED"
)

// IsTerminal は状態が終端（これ以上遷移しない）かどうかを返す。
func (s InboxStatus) IsTerminal() bool {
	return s == InboxStatusRead || s == InboxStatusTaskCreated
}

// CollectionType は受信箱アイテムの収集種別を表す。
type CollectionType string

const (
	// CollectionTypeMention はユーザーへのメンション。
	CollectionTypeMention CollectionType = "MENTION"
)

// InboxItem はトリアージ待ちのメンション1件を表す。
// (channel_id, slack_ts, user_id) の組で一意。
type InboxItem struct {
	ID             string
	SlackTs        string
	ChannelID      string
	ChannelName    string
	MessageText    string
	AuthorID       string
	Permalink      string
	WorkspaceID    string
	UserID         string
	Status         InboxStatus
	CollectionType CollectionType
	Importance     string
	HasReplied     bool
	ReplyCount     int
	IsTaskCreated  bool
	CreatedAt      time.Time
	ExpiresAt      time.Time
	UpdatedAt      time.Time
}

// NewMention はIngestに渡される、保存前のメンションデータを表す。
// Normalizerの出力に受信者とパーマリンクを付与したもの。
type NewMention struct {
	Event      NormalizedEvent
	Permalink  string
	Importance string
}
