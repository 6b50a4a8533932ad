package model

import "time"

// Priority はタスクの優先度ティアを表す。P1が最も高い。
type Priority string

const (
	// PriorityP1 は最優先。
	PriorityP1 Priority = "P1"
	// PriorityP2 は通常。
	PriorityP2 Priority = "P2"
	// PriorityP3 は低優先。
	PriorityP3 Priority = "P3"
)

// Rank はティアの序数を返す。値が大きいほど優先度が高い。未知の値は0。
func (p Priority) Rank() int {
	switch p {
	case PriorityP1:
		return 3
	case PriorityP2:
		return 2
	case PriorityP3:
		return 1
	default:
		return 0
	}
}

// Valid は定義済みのティアかを返す。
func (p Priority) Valid() bool {
	return p.Rank() > 0
}

// TaskStatus はタスクの進捗状態を表す。
type TaskStatus string

const (
	// TaskStatusTodo は未着手。スコア順に並べる対象。
	TaskStatusTodo TaskStatus = "TODO"
	// TaskStatusInProgress は着手中。
	TaskStatusInProgress TaskStatus = "IN_PROGRESS"
	// TaskStatusDone は完了。
	TaskStatusDone TaskStatus = "DONE"
)

// Task はユーザーが追跡するアクションアイテムを表す。
// SourceInboxItemIDは変換元の受信箱アイテムへの一方向の参照で、元アイテムの削除後も残る。
type Task struct {
	ID                string
	Title             string
	Description       string
	Priority          Priority
	PriorityScore     int
	Status            TaskStatus
	DueDate           *time.Time
	UserID            string
	SourceInboxItemID string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// TaskFields はタスク作成時にユーザーが指定する項目。
type TaskFields struct {
	Title       string
	Description string
	Priority    Priority
	DueDate     *time.Time
}
