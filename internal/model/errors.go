// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: inbox, task, validation, provider, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Is はエラーコードが一致する場合にtrueを返す。
// errors.Is(err, model.ErrNotFound) のように分類判定に使う。
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// 定義済みエラーコード
const (
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeConflict            = "CONFLICT"
	ErrCodeProviderUnavailable = "PROVIDER_UNAVAILABLE"
	ErrCodeMalformedInput      = "MALFORMED_INPUT"
	ErrCodeInvalidTaskFields   = "INVALID_TASK_FIELDS"
	ErrCodeNotInitialized      = "NOT_INITIALIZED"
)

// 分類判定用のセンチネル。errors.Isでの比較にのみ使用し、レスポンスには使わない。
var (
	ErrNotFound            = &APIError{Code: ErrCodeNotFound}
	ErrConflict            = &APIError{Code: ErrCodeConflict}
	ErrProviderUnavailable = &APIError{Code: ErrCodeProviderUnavailable}
	ErrMalformedInput      = &APIError{Code: ErrCodeMalformedInput}
	ErrNotInitialized      = &APIError{Code: ErrCodeNotInitialized}
)

// NewInboxItemNotFoundError は受信箱アイテム未検出エラーを生成する。
// 他ユーザーのアイテムの場合も同じエラーを返し、存在有無を漏らさない。
func NewInboxItemNotFoundError(itemID string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("指定されたメンションが見つかりません: %s", itemID),
		Category: "inbox",
		Action:   "保持期間を過ぎて削除された可能性があります。受信箱を再読み込みしてください。",
	}
}

// NewAlreadyConvertedError はタスク化済みのアイテムを再度タスク化しようとした場合のエラーを生成する。
func NewAlreadyConvertedError(itemID string) *APIError {
	return &APIError{
		Code:     ErrCodeConflict,
		Message:  fmt.Sprintf("このメンションは既にタスク化されています: %s", itemID),
		Category: "inbox",
		Action:   "タスク一覧から該当タスクを確認してください。",
	}
}

// NewAlreadyResolvedError は既読化などで終端状態になったアイテムに遷移を要求した場合のエラーを生成する。
func NewAlreadyResolvedError(itemID string, status InboxStatus) *APIError {
	return &APIError{
		Code:     ErrCodeConflict,
		Message:  fmt.Sprintf("このメンションは既に処理済みです（%s）: %s", status, itemID),
		Category: "inbox",
		Action:   "対応済みのため操作は不要です。",
	}
}

// NewProviderUnavailableError は返信候補プロバイダの呼び出し失敗エラーを生成する。
// サービス層で回復され、利用者には空の候補として見える。
func NewProviderUnavailableError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeProviderUnavailable,
		Message:  fmt.Sprintf("返信候補を取得できませんでした: %s", reason),
		Category: "provider",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewMalformedInputError は解析できない入力（イベント形状やパーマリンク）のエラーを生成する。
func NewMalformedInputError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeMalformedInput,
		Message:  fmt.Sprintf("入力を解析できませんでした: %s", reason),
		Category: "validation",
		Action:   "リクエスト内容を確認してください。",
	}
}

// NewInvalidTaskFieldsError はタスク作成項目のバリデーションエラーを生成する。
func NewInvalidTaskFieldsError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidTaskFields,
		Message:  fmt.Sprintf("タスクの内容が不正です: %s", reason),
		Category: "validation",
		Action:   "タイトルと優先度（P1/P2/P3）を指定してください。",
	}
}

// NewNotInitializedError は初期化前のプロセス状態を参照した場合のエラーを生成する。
func NewNotInitializedError(component string) *APIError {
	return &APIError{
		Code:     ErrCodeNotInitialized,
		Message:  fmt.Sprintf("%s が初期化されていません", component),
		Category: "system",
		Action:   "起動処理の完了を待ってから再度お試しください。",
	}
}
