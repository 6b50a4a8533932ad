// Package repository はデータ永続化のインターフェースを定義する。
//
// 状態遷移はすべて条件付きSQL（INSERT ... ON CONFLICT DO NOTHING、
// UPDATE ... WHERE status = 'PENDING'、DELETE ... WHERE status = 'PENDING'）で行い、
// 同一アイテムへの同時操作はデータベースの行ロックだけで調停する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/mentionbox/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// EnsureExists はユーザーが存在しなければ作成する。既に存在する場合は何もしない。
	EnsureExists(ctx context.Context, user *model.User) error
}

// InboxItemRepository は受信箱アイテムの永続化インターフェース。
type InboxItemRepository interface {
	// InsertIfAbsent は (channel_id, slack_ts, user_id) が未登録の場合のみアイテムを挿入する。
	// 挿入した場合はtrue、既存行があり何もしなかった場合はfalseを返す。
	InsertIfAbsent(ctx context.Context, item *model.InboxItem) (bool, error)

	// FindByIDForUser は指定ユーザーが所有するアイテムを取得する。
	// 見つからない場合、または他ユーザーのアイテムの場合はnilを返す。
	FindByIDForUser(ctx context.Context, id, userID string) (*model.InboxItem, error)

	// MarkReadIfPending はステータスがPENDINGの場合のみREADに更新し、更新後のアイテムを返す。
	// 条件に一致する行がない場合はnilを返す。
	MarkReadIfPending(ctx context.Context, id, userID string, now time.Time) (*model.InboxItem, error)

	// RecordReply は返信済みフラグを立て、返信回数を1増やす。
	// ステータスと保持期限は変更しない。見つからない場合はnilを返す。
	RecordReply(ctx context.Context, id, userID string, now time.Time) (*model.InboxItem, error)

	// ListRecentPending はsince以降に作成されたPENDINGのアイテムを新しい順に返す。
	// now時点で保持期限を過ぎたアイテム（スイープ待ち）は含めない。
	ListRecentPending(ctx context.Context, userID string, since, now time.Time) ([]*model.InboxItem, error)

	// DeleteExpiredPending はPENDINGかつexpires_at <= now のアイテムを最大limit件削除し、
	// 削除したアイテムのIDを返す。他のトランザクションがロック中の行はスキップする。
	DeleteExpiredPending(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// TaskRepository はタスクの永続化インターフェース。
type TaskRepository interface {
	// Create は受信箱アイテムを介さずにタスクを作成する。task.IDが空の場合は採番する。
	Create(ctx context.Context, task *model.Task) error

	// ListTodoByUser はユーザーのTODOタスクをpriority_score降順、created_at降順で返す。
	ListTodoByUser(ctx context.Context, userID string) ([]*model.Task, error)

	// ConvertFromInboxItem は受信箱アイテムをTASK_CREATEDに更新し、タスクを作成する。
	// 2つの書き込みは同一トランザクションで行う。
	// アイテムが指定ユーザーのPENDINGでない場合は何も書き込まずfalseを返す。
	ConvertFromInboxItem(ctx context.Context, itemID, userID string, task *model.Task, now time.Time) (bool, error)
}
