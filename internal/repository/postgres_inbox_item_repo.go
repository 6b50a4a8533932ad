package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/mentionbox/internal/model"
)

// inboxItemColumns はinbox_itemsのSELECT/RETURNING対象カラム。scanInboxItemと順序を揃える。
const inboxItemColumns = `id, slack_ts, channel_id, channel_name, message_text, author_id,
	permalink, workspace_id, user_id, status, collection_type, importance,
	has_replied, reply_count, is_task_created, created_at, expires_at, updated_at`

// PostgresInboxItemRepo はPostgreSQLを使用した受信箱アイテムリポジトリ。
type PostgresInboxItemRepo struct {
	db *sql.DB
}

// NewPostgresInboxItemRepo はPostgresInboxItemRepoを生成する。
func NewPostgresInboxItemRepo(db *sql.DB) *PostgresInboxItemRepo {
	return &PostgresInboxItemRepo{db: db}
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanInboxItem(s rowScanner) (*model.InboxItem, error) {
	item := &model.InboxItem{}
	var channelName, permalink, importance sql.NullString
	var status, collectionType string

	err := s.Scan(
		&item.ID, &item.SlackTs, &item.ChannelID, &channelName, &item.MessageText, &item.AuthorID,
		&permalink, &item.WorkspaceID, &item.UserID, &status, &collectionType, &importance,
		&item.HasReplied, &item.ReplyCount, &item.IsTaskCreated,
		&item.CreatedAt, &item.ExpiresAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	item.ChannelName = nullStringValue(channelName)
	item.Permalink = nullStringValue(permalink)
	item.Importance = nullStringValue(importance)
	item.Status = model.InboxStatus(status)
	item.CollectionType = model.CollectionType(collectionType)
	return item, nil
}

// scanOptionalInboxItem はsql.ErrNoRowsをnilとして扱う。
func scanOptionalInboxItem(row *sql.Row, action string) (*model.InboxItem, error) {
	item, err := scanInboxItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%sに失敗しました: %w", action, err)
	}
	return item, nil
}

// InsertIfAbsent は自然キーが未登録の場合のみアイテムを挿入する。
// 同一キーの同時挿入はinbox_items_natural_key制約により1行のみが残る。
// item.IDが空の場合は新しいUUIDを割り当てる。
func (r *PostgresInboxItemRepo) InsertIfAbsent(ctx context.Context, item *model.InboxItem) (bool, error) {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO inbox_items (
		    id, slack_ts, channel_id, channel_name, message_text, author_id,
		    permalink, workspace_id, user_id, status, collection_type, importance,
		    has_replied, reply_count, is_task_created, created_at, expires_at, updated_at
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		 ON CONFLICT ON CONSTRAINT inbox_items_natural_key DO NOTHING`,
		item.ID, item.SlackTs, item.ChannelID, nullString(item.ChannelName), item.MessageText, item.AuthorID,
		nullString(item.Permalink), item.WorkspaceID, item.UserID, string(item.Status),
		string(item.CollectionType), nullString(item.Importance),
		item.HasReplied, item.ReplyCount, item.IsTaskCreated,
		item.CreatedAt, item.ExpiresAt, item.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("受信箱アイテムの挿入に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("挿入件数の取得に失敗しました: %w", err)
	}
	return affected == 1, nil
}

// FindByIDForUser は指定ユーザーが所有するアイテムを取得する。
// idがUUID形式でない場合も見つからない扱いとしてnilを返す。
func (r *PostgresInboxItemRepo) FindByIDForUser(ctx context.Context, id, userID string) (*model.InboxItem, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	row := r.db.QueryRowContext(ctx,
		`SELECT `+inboxItemColumns+` FROM inbox_items WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	return scanOptionalInboxItem(row, "受信箱アイテムの取得")
}

// MarkReadIfPending はPENDINGの場合のみREADに更新する。expires_atは変更しない。
func (r *PostgresInboxItemRepo) MarkReadIfPending(ctx context.Context, id, userID string, now time.Time) (*model.InboxItem, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	row := r.db.QueryRowContext(ctx,
		`UPDATE inbox_items SET status = 'READ', updated_at = $3
		 WHERE id = $1 AND user_id = $2 AND status = 'PENDING'
		 RETURNING `+inboxItemColumns,
		id, userID, now,
	)
	return scanOptionalInboxItem(row, "受信箱アイテムの既読更新")
}

// RecordReply は返信済みフラグと返信回数を更新する。
func (r *PostgresInboxItemRepo) RecordReply(ctx context.Context, id, userID string, now time.Time) (*model.InboxItem, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	row := r.db.QueryRowContext(ctx,
		`UPDATE inbox_items SET has_replied = TRUE, reply_count = reply_count + 1, updated_at = $3
		 WHERE id = $1 AND user_id = $2
		 RETURNING `+inboxItemColumns,
		id, userID, now,
	)
	return scanOptionalInboxItem(row, "返信記録の更新")
}

// ListRecentPending はsince以降に作成されたPENDINGのアイテムを新しい順に返す。
// 期限切れでスイープ待ちのアイテムは除外する。
func (r *PostgresInboxItemRepo) ListRecentPending(ctx context.Context, userID string, since, now time.Time) ([]*model.InboxItem, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+inboxItemColumns+` FROM inbox_items
		 WHERE user_id = $1 AND status = 'PENDING' AND created_at >= $2 AND expires_at > $3
		 ORDER BY created_at DESC, id DESC`,
		userID, since, now,
	)
	if err != nil {
		return nil, fmt.Errorf("最近のメンション一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var items []*model.InboxItem
	for rows.Next() {
		item, err := scanInboxItem(rows)
		if err != nil {
			return nil, fmt.Errorf("受信箱アイテムのスキャンに失敗しました: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("受信箱アイテムの走査に失敗しました: %w", err)
	}
	return items, nil
}

// DeleteExpiredPending は期限切れのPENDINGアイテムを最大limit件削除する。
// 既読化やタスク化のためにロック中の行はSKIP LOCKEDで飛ばし、次回の実行に回す。
// 削除はDELETE文自体の条件でも再確認するため、選択後に状態が変わった行は削除されない。
func (r *PostgresInboxItemRepo) DeleteExpiredPending(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`WITH expired AS (
		    SELECT id FROM inbox_items
		    WHERE status = 'PENDING' AND expires_at <= $1
		    ORDER BY expires_at ASC
		    LIMIT $2
		    FOR UPDATE SKIP LOCKED
		 )
		 DELETE FROM inbox_items i
		 USING expired e
		 WHERE i.id = e.id AND i.status = 'PENDING' AND i.expires_at <= $1
		 RETURNING i.id`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("期限切れアイテムの削除に失敗しました: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("削除済みIDのスキャンに失敗しました: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("削除済みIDの走査に失敗しました: %w", err)
	}
	return ids, nil
}

// nullString は空文字列をsql.NullStringに変換する。
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullStringValue はsql.NullStringから文字列を取得する。
func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}

// compile-time interface check
var _ InboxItemRepository = (*PostgresInboxItemRepo)(nil)
