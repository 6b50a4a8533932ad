package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

const (
	// RequestIDHeader はリクエストIDのヘッダー名。ゲートウェイが付与した値があれば引き継ぐ。
	RequestIDHeader = "X-Request-ID"
	// slackRetryNumHeader はSlackがイベントを再送した回数。
	slackRetryNumHeader = "X-Slack-Retry-Num"
	// maxRequestIDLength はゲートウェイから受け取るリクエストIDの最大長。
	maxRequestIDLength = 128
)

// statusRecorder はhttp.ResponseWriterをラップし、ステータスコードを記録する。
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.written {
		sr.statusCode = code
		sr.written = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

// Write はWriteHeaderが未呼び出しの場合に200を記録してから書き込む。
func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.written {
		sr.statusCode = http.StatusOK
		sr.written = true
	}
	return sr.ResponseWriter.Write(b)
}

// requestID はゲートウェイが付与したリクエストIDを返す。ない場合や長すぎる場合は新規に採番する。
func requestID(r *http.Request) string {
	if id := r.Header.Get(RequestIDHeader); id != "" && len(id) <= maxRequestIDLength {
		return id
	}
	return uuid.NewString()
}

// NewLoggingMiddleware はリクエストのJSON構造化ログを出力するミドルウェアを返す。
// ログにはrequest_id、method、path、status、duration_msを含み、
// ゲートウェイのユーザーIDヘッダーが妥当な形式であればuser_idを、
// Slackの再送であればslack_retry_numを追加する。
// レスポンスにはX-Request-IDヘッダーを付与する。
func NewLoggingMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqID := requestID(r)
			w.Header().Set(RequestIDHeader, reqID)

			rec := &statusRecorder{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rec, r)

			durationMs := float64(time.Since(start).Nanoseconds()) / float64(time.Millisecond)

			args := []any{
				slog.String("request_id", reqID),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.statusCode),
				slog.Float64("duration_ms", durationMs),
			}

			// ユーザーIDの検証は内側のミドルウェアで行うため、ここでは形式が妥当な場合のみ記録する
			if userID := r.Header.Get(UserIDHeader); slackUserIDPattern.MatchString(userID) {
				args = append(args, slog.String("user_id", userID))
			}
			if retry := r.Header.Get(slackRetryNumHeader); retry != "" {
				args = append(args,
					slog.String("slack_retry_num", retry),
					slog.String("slack_retry_reason", r.Header.Get("X-Slack-Retry-Reason")),
				)
			}

			level := slog.LevelInfo
			if rec.statusCode >= 500 {
				level = slog.LevelError
			} else if rec.statusCode >= 400 {
				level = slog.LevelWarn
			}

			logger.Log(r.Context(), level, "http_request", args...)
		})
	}
}
