package model

import "time"

// User は受信箱アイテムとタスクの所有者を表す。
// IDはSlackのユーザーIDそのもので、初めて観測したときに遅延作成される。
type User struct {
	ID          string
	WorkspaceID string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
