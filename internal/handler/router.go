package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/mentionbox/internal/inbox"
	"github.com/hitoshi/mentionbox/internal/middleware"
)

// HealthChecker はヘルスチェックで疎通を確認する依存先。*sql.DB が実装する。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ミドルウェア依存
	SlackSignature middleware.SlackSignatureConfig
	RateLimiter    *middleware.RateLimiter
	Metrics        middleware.StatusRecorder
	MetricsHandler http.Handler

	// ヘルスチェック
	HealthChecker HealthChecker

	// 受信箱
	InboxService InboxServiceInterface
	BotIdentity  inbox.BotIdentity
	Permalinks   PermalinkResolver
	RecentWindow time.Duration
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → Metrics → SecurityHeaders
//	  /slack/*: SlackSignature
//	  /api/*:   UserIdentity → RateLimit(General)
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.Metrics != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.Metrics))
	}
	r.Use(middleware.NewSecurityHeadersMiddleware())

	inboxHandler := NewInboxHandler(deps.InboxService, deps.RecentWindow)
	slackHandler := NewSlackHandler(deps.InboxService, deps.BotIdentity, deps.Permalinks, logger)

	// --- 認証不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker).ServeHTTP)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- Slackからのリクエスト（署名検証） ---
	r.Route("/slack", func(r chi.Router) {
		r.Use(middleware.NewSlackSignatureMiddleware(deps.SlackSignature, logger))
		r.Post("/events", slackHandler.Events)
		r.Post("/interactions", slackHandler.Interactions)
	})

	// --- ゲートウェイ経由のAPI ---
	// ミドルウェアスタック: UserIdentity → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewUserIdentityMiddleware())
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/inbox", func(r chi.Router) {
			r.Get("/recent", inboxHandler.ListRecent)

			r.Route("/{id}", func(r chi.Router) {
				r.Post("/read", inboxHandler.MarkRead)
				r.Post("/task", inboxHandler.ConvertToTask)
				r.Post("/reply", inboxHandler.RecordReply)

				// 返信候補は外部APIを呼ぶため専用のレート制限を追加
				r.With(deps.RateLimiter.SuggestionMiddleware()).Get("/suggestions", inboxHandler.Suggestions)
			})
		})

		r.Get("/api/tasks", inboxHandler.ListTasks)
		r.Post("/api/tasks", inboxHandler.CreateTask)
	})

	return r
}
