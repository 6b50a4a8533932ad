// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
)

// UserIDHeader は前段のゲートウェイが認証済みSlackユーザーIDを渡すヘッダー。
const UserIDHeader = "X-Slack-User-ID"

// slackUserIDPattern はSlackのユーザーID形式（U... / W...）。
var slackUserIDPattern = regexp.MustCompile(`^[UW][A-Z0-9]{2,}$`)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
var userIDContextKey = contextKey("user_id")

// NewUserIdentityMiddleware はゲートウェイが付与したユーザーIDヘッダーを検証し、
// リクエストコンテキストに注入するミドルウェアを返す。
// ヘッダーがない場合や形式が不正な場合は401 Unauthorizedを返す。
func NewUserIdentityMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := r.Header.Get(UserIDHeader)
			if userID == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, UnauthorizedError("ユーザーを識別できません。"))
				return
			}
			if !slackUserIDPattern.MatchString(userID) {
				slog.Warn("invalid user id header",
					slog.String("path", r.URL.Path),
				)
				WriteErrorResponse(w, http.StatusUnauthorized, UnauthorizedError("ユーザーを識別できません。"))
				return
			}

			ctx := context.WithValue(r.Context(), userIDContextKey, userID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// ユーザー識別ミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}
