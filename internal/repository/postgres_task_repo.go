package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/mentionbox/internal/model"
)

const insertTaskSQL = `INSERT INTO tasks (
	    id, title, description, priority, priority_score, status, due_date,
	    user_id, source_inbox_item_id, created_at, updated_at
	 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

// sqlExecer は*sql.DBと*sql.Txの共通インターフェース。
type sqlExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// PostgresTaskRepo はPostgreSQLを使用したタスクリポジトリ。
type PostgresTaskRepo struct {
	db *sql.DB
}

// NewPostgresTaskRepo はPostgresTaskRepoを生成する。
func NewPostgresTaskRepo(db *sql.DB) *PostgresTaskRepo {
	return &PostgresTaskRepo{db: db}
}

// Create はタスクを作成する。task.IDが空の場合は新しいUUIDを割り当てる。
func (r *PostgresTaskRepo) Create(ctx context.Context, task *model.Task) error {
	return insertTask(ctx, r.db, task)
}

func insertTask(ctx context.Context, exec sqlExecer, task *model.Task) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}

	var dueDate sql.NullTime
	if task.DueDate != nil {
		dueDate = sql.NullTime{Time: *task.DueDate, Valid: true}
	}

	_, err := exec.ExecContext(ctx, insertTaskSQL,
		task.ID, task.Title, nullString(task.Description), string(task.Priority), task.PriorityScore,
		string(task.Status), dueDate, task.UserID, nullString(task.SourceInboxItemID),
		task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("タスクの作成に失敗しました: %w", err)
	}
	return nil
}

// ListTodoByUser はユーザーのTODOタスクをスコア順に返す。同点の場合は新しいものを先にする。
func (r *PostgresTaskRepo) ListTodoByUser(ctx context.Context, userID string) ([]*model.Task, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, title, description, priority, priority_score, status, due_date,
		        user_id, source_inbox_item_id, created_at, updated_at
		 FROM tasks
		 WHERE user_id = $1 AND status = 'TODO'
		 ORDER BY priority_score DESC, created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("タスク一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var tasks []*model.Task
	for rows.Next() {
		task := &model.Task{}
		var description, sourceID sql.NullString
		var dueDate sql.NullTime
		var priority, status string

		if err := rows.Scan(
			&task.ID, &task.Title, &description, &priority, &task.PriorityScore, &status, &dueDate,
			&task.UserID, &sourceID, &task.CreatedAt, &task.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("タスクのスキャンに失敗しました: %w", err)
		}

		task.Description = nullStringValue(description)
		task.SourceInboxItemID = nullStringValue(sourceID)
		task.Priority = model.Priority(priority)
		task.Status = model.TaskStatus(status)
		if dueDate.Valid {
			task.DueDate = &dueDate.Time
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("タスクの走査に失敗しました: %w", err)
	}
	return tasks, nil
}

// ConvertFromInboxItem は受信箱アイテムのタスク化を1トランザクションで行う。
// アイテムの条件付きUPDATEが0件の場合（既に処理済み、または期限切れで削除済み）は
// タスクを作成せずにfalseを返す。
func (r *PostgresTaskRepo) ConvertFromInboxItem(
	ctx context.Context,
	itemID, userID string,
	task *model.Task,
	now time.Time,
) (bool, error) {
	if _, err := uuid.Parse(itemID); err != nil {
		return false, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE inbox_items
		 SET status = 'TASK_CREATED', is_task_created = TRUE, updated_at = $3
		 WHERE id = $1 AND user_id = $2 AND status = 'PENDING'`,
		itemID, userID, now,
	)
	if err != nil {
		return false, fmt.Errorf("受信箱アイテムのタスク化更新に失敗しました: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	task.SourceInboxItemID = itemID
	if err := insertTask(ctx, tx, task); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}

// compile-time interface check
var _ TaskRepository = (*PostgresTaskRepo)(nil)
