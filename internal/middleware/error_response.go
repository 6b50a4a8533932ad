package middleware

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/mentionbox/internal/model"
)

// ServiceUnavailableRetryAfter は503応答でクライアント（ゲートウェイ・Slack）に再試行を促すまでの時間。
const ServiceUnavailableRetryAfter = 30 * time.Second

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// NewErrorResponseBody はAPIErrorからレスポンスボディを組み立てる。
func NewErrorResponseBody(apiErr *model.APIError) ErrorResponseBody {
	return ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	}
}

// InternalError は詳細を伏せた内部エラー。詳細はログのみに記録する。
func InternalError() *model.APIError {
	return &model.APIError{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// UnauthorizedError は送信元を確認できないリクエストに返すエラー。
func UnauthorizedError(message string) *model.APIError {
	return &model.APIError{
		Code:     "UNAUTHORIZED",
		Message:  message,
		Category: "auth",
		Action:   "Slackから再度操作してください。",
	}
}

// InvalidRequestError はリクエストボディやパラメータが不正な場合のエラー。
func InvalidRequestError(message string) *model.APIError {
	return &model.APIError{
		Code:     "INVALID_REQUEST",
		Message:  message,
		Category: "validation",
		Action:   "リクエスト内容を確認してください。",
	}
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// 503の場合、Retry-Afterヘッダーが未設定であればServiceUnavailableRetryAfterを設定する。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	if statusCode == http.StatusServiceUnavailable && w.Header().Get("Retry-After") == "" {
		setRetryAfter(w, ServiceUnavailableRetryAfter)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(NewErrorResponseBody(apiErr))
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, InternalError())
}

// setRetryAfter はRetry-Afterヘッダーを秒単位（最低1秒）で設定する。
func setRetryAfter(w http.ResponseWriter, d time.Duration) {
	sec := int(d.Round(time.Second) / time.Second)
	if sec < 1 {
		sec = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(sec))
}
