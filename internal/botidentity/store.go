// Package botidentity はbot自身のSlack上の識別情報を保持する。
//
// 識別情報はプロセス起動後に一度だけ取得し、以降は変更しない。
// 取得前に参照した場合はNotInitializedエラーを返す。
package botidentity

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hitoshi/mentionbox/internal/model"
	"github.com/hitoshi/mentionbox/internal/slackapi"
	"golang.org/x/sync/singleflight"
)

// Identity はbotの識別情報。
type Identity struct {
	UserID      string
	BotID       string
	WorkspaceID string
}

// Fetcher はbotの識別情報を取得する。*slackapi.Client が実装する。
type Fetcher interface {
	AuthTest(ctx context.Context) (*slackapi.AuthTestResult, error)
}

// DefaultFetchTimeout はauth.test呼び出し1回あたりのタイムアウト。
const DefaultFetchTimeout = 10 * time.Second

// Store はbotの識別情報を保持する。
type Store struct {
	fetcher  Fetcher
	logger   *slog.Logger
	group    singleflight.Group
	identity atomic.Pointer[Identity]

	FetchTimeout time.Duration // 0以下の場合はDefaultFetchTimeout
}

// NewStore はStoreを生成する。
func NewStore(fetcher Fetcher, logger *slog.Logger) *Store {
	return &Store{fetcher: fetcher, logger: logger}
}

// Init は識別情報を取得して保持する。
// 取得済みの場合は何もせず保持済みの値を返す。同時に呼ばれた場合も取得は1回だけ行う。
// 取得処理は呼び出し元のキャンセルから切り離してFetchTimeoutで打ち切り、
// ctxが先に終了した呼び出し元だけがctxのエラーを受け取る。
func (s *Store) Init(ctx context.Context) (Identity, error) {
	if id := s.identity.Load(); id != nil {
		return *id, nil
	}

	ch := s.group.DoChan("init", func() (any, error) {
		if id := s.identity.Load(); id != nil {
			return *id, nil
		}
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.fetchTimeout())
		defer cancel()

		res, err := s.fetcher.AuthTest(fetchCtx)
		if err != nil {
			return Identity{}, fmt.Errorf("botの識別情報の取得に失敗しました: %w", err)
		}
		if res.UserID == "" {
			return Identity{}, fmt.Errorf("auth.testの結果にuser_idが含まれていません")
		}
		id := Identity{UserID: res.UserID, BotID: res.BotID, WorkspaceID: res.TeamID}
		s.identity.CompareAndSwap(nil, &id)
		s.logger.Info("botの識別情報を取得しました",
			slog.String("bot_user_id", id.UserID),
			slog.String("workspace_id", id.WorkspaceID),
		)
		return *s.identity.Load(), nil
	})

	select {
	case <-ctx.Done():
		return Identity{}, fmt.Errorf("botの識別情報の取得を待機中に中断しました: %w", ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			return Identity{}, r.Err
		}
		return r.Val.(Identity), nil
	}
}

func (s *Store) fetchTimeout() time.Duration {
	if s.FetchTimeout > 0 {
		return s.FetchTimeout
	}
	return DefaultFetchTimeout
}

// Get は保持している識別情報を返す。未取得の場合はNotInitializedエラーを返す。
func (s *Store) Get() (Identity, error) {
	id := s.identity.Load()
	if id == nil {
		return Identity{}, model.NewNotInitializedError("bot identity")
	}
	return *id, nil
}

// BotUserID はbotのユーザーIDを返す。
func (s *Store) BotUserID() (string, error) {
	id, err := s.Get()
	if err != nil {
		return "", err
	}
	return id.UserID, nil
}
