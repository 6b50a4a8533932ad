// Package inbox はメンション受信箱のライフサイクル（取り込み・既読化・タスク化・期限切れ）を管理する。
//
// 状態遷移は PENDING → READ、PENDING → TASK_CREATED、PENDING →（期限切れで削除）のみ。
// サービスはエンティティの状態をキャッシュせず、操作ごとにリポジトリから読み直す。
// 同一アイテムへの同時操作（利用者の操作とスイープ）はリポジトリの条件付き更新で調停し、
// 競合に負けた側は「処理済み」として扱う。
package inbox

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hitoshi/mentionbox/internal/deeplink"
	"github.com/hitoshi/mentionbox/internal/metrics"
	"github.com/hitoshi/mentionbox/internal/model"
	"github.com/hitoshi/mentionbox/internal/priority"
	"github.com/hitoshi/mentionbox/internal/repository"
)

const (
	// DefaultRetentionBusinessDays は受信箱アイテムのデフォルト保持営業日数。
	DefaultRetentionBusinessDays = 2
	// maxDefaultTitleRunes はタイトル未指定時にメッセージ本文から作るタイトルの最大文字数。
	maxDefaultTitleRunes = 80
)

// Suggester は返信候補の取得インターフェース。
// 実装はタイムアウトと失敗を内部で処理し、失敗時は空スライスを返す。
type Suggester interface {
	Suggest(ctx context.Context, messageText, locale string) []string
}

// TextSanitizer はタスクのタイトル・説明を保存前に整えるインターフェース。
type TextSanitizer interface {
	SanitizeText(raw string) string
}

// Deps はServiceの依存関係。
type Deps struct {
	Users     repository.UserRepository
	Items     repository.InboxItemRepository
	Tasks     repository.TaskRepository
	Resolver  *deeplink.Resolver
	Sanitizer TextSanitizer
	Suggester Suggester
	Metrics   metrics.MetricsCollector
	Logger    *slog.Logger

	// Policy はタスクの優先度スコア計算方針。ゼロ値の場合はpriority.DefaultPolicyを使う。
	Policy priority.Policy
	// RetentionBusinessDays は保持営業日数。0以下の場合はDefaultRetentionBusinessDaysを使う。
	RetentionBusinessDays int
	// Now は現在時刻の取得関数。nilの場合はtime.Nowを使う。
	Now func() time.Time
}

// Service は受信箱のライフサイクルエンジン。
type Service struct {
	users     repository.UserRepository
	items     repository.InboxItemRepository
	tasks     repository.TaskRepository
	resolver  *deeplink.Resolver
	sanitizer TextSanitizer
	suggester Suggester
	metrics   metrics.MetricsCollector
	logger    *slog.Logger

	policy        priority.Policy
	retentionDays int
	now           func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(deps Deps) *Service {
	s := &Service{
		users:         deps.Users,
		items:         deps.Items,
		tasks:         deps.Tasks,
		resolver:      deps.Resolver,
		sanitizer:     deps.Sanitizer,
		suggester:     deps.Suggester,
		metrics:       deps.Metrics,
		logger:        deps.Logger,
		policy:        deps.Policy,
		retentionDays: deps.RetentionBusinessDays,
		now:           deps.Now,
	}
	if s.policy == (priority.Policy{}) {
		s.policy = priority.DefaultPolicy()
	}
	if s.retentionDays <= 0 {
		s.retentionDays = DefaultRetentionBusinessDays
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.metrics == nil {
		s.metrics = metrics.Nop{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.resolver == nil {
		s.resolver = deeplink.NewResolver(s.logger)
	}
	return s
}

// TransitionResult は状態遷移操作の結果。
type TransitionResult struct {
	// Status は操作後のステータス。期限切れで削除済みの場合は空。
	Status model.InboxStatus
	// AlreadyHandled は遷移が行われなかった（既に処理済み、または削除済み）ことを示す。
	// 利用者にはエラーではなく「対応済み」として見せる。
	AlreadyHandled bool
	// Removed は競合したスイープによりアイテムが削除済みだったことを示す。
	Removed bool
}

// MentionView は表示用のメンション。
type MentionView struct {
	Item *model.InboxItem
	// DisplayLink はディープリンク、生成できない場合はパーマリンク。
	DisplayLink string
}

// Ingest はメンション1件を受信者の受信箱に取り込む。
// 同じ (channel_id, slack_ts, user_id) が既に存在する場合は何もせずfalseを返す（再配送対策）。
// 新規の場合はstatus=PENDING、expires_at = 現在時刻 + 保持営業日数 で作成しtrueを返す。
func (s *Service) Ingest(ctx context.Context, mention model.NewMention, recipientUserID string) (bool, error) {
	ev := mention.Event
	if ev.ChannelID == "" || ev.MessageTs == "" || recipientUserID == "" {
		return false, model.NewMalformedInputError("channel, ts, recipient are required")
	}

	if err := s.users.EnsureExists(ctx, &model.User{ID: recipientUserID, WorkspaceID: ev.WorkspaceID}); err != nil {
		return false, err
	}

	now := s.now().UTC()
	item := &model.InboxItem{
		SlackTs:        ev.MessageTs,
		ChannelID:      ev.ChannelID,
		ChannelName:    ev.ChannelName,
		MessageText:    ev.Text,
		AuthorID:       ev.AuthorID,
		Permalink:      mention.Permalink,
		WorkspaceID:    ev.WorkspaceID,
		UserID:         recipientUserID,
		Status:         model.InboxStatusPending,
		CollectionType: model.CollectionTypeMention,
		Importance:     mention.Importance,
		CreatedAt:      now,
		ExpiresAt:      AddBusinessDays(now, s.retentionDays),
		UpdatedAt:      now,
	}

	inserted, err := s.items.InsertIfAbsent(ctx, item)
	if err != nil {
		return false, err
	}
	if !inserted {
		s.metrics.RecordMentionDuplicate()
		s.logger.Debug("既に取り込み済みのメンションを無視しました",
			slog.String("channel_id", ev.ChannelID),
			slog.String("slack_ts", ev.MessageTs),
			slog.String("user_id", recipientUserID),
		)
		return false, nil
	}

	s.metrics.RecordMentionIngested()
	s.logger.Info("メンションを受信箱に追加しました",
		slog.String("item_id", item.ID),
		slog.String("channel_id", ev.ChannelID),
		slog.String("user_id", recipientUserID),
	)
	return true, nil
}

// MarkRead はアイテムを既読にする。
// PENDINGのみREADに遷移し、READ/TASK_CREATEDの場合は現在のステータスをAlreadyHandledとして返す。
// アイテムが存在しないか他ユーザーのものの場合はNotFoundを返す。
func (s *Service) MarkRead(ctx context.Context, userID, itemID string) (*TransitionResult, error) {
	item, err := s.items.FindByIDForUser(ctx, itemID, userID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, model.NewInboxItemNotFoundError(itemID)
	}
	if item.Status.IsTerminal() {
		s.metrics.RecordTransition(metrics.TransitionNoop)
		return &TransitionResult{Status: item.Status, AlreadyHandled: true}, nil
	}

	updated, err := s.items.MarkReadIfPending(ctx, itemID, userID, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if updated != nil {
		s.metrics.RecordTransition(metrics.TransitionRead)
		return &TransitionResult{Status: updated.Status}, nil
	}

	// 読み出しから更新までの間に別の操作が先にコミットした
	return s.resolveLostRace(ctx, userID, itemID)
}

// resolveLostRace は条件付き更新に負けた後の状態を読み直し、処理済みの結果として返す。
func (s *Service) resolveLostRace(ctx context.Context, userID, itemID string) (*TransitionResult, error) {
	s.metrics.RecordTransition(metrics.TransitionNoop)

	current, err := s.items.FindByIDForUser(ctx, itemID, userID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		s.logger.Info("操作対象のメンションは期限切れで削除済みでした",
			slog.String("item_id", itemID),
		)
		return &TransitionResult{AlreadyHandled: true, Removed: true}, nil
	}
	return &TransitionResult{Status: current.Status, AlreadyHandled: true}, nil
}

// ConvertToTask はアイテムからタスクを作成し、アイテムをTASK_CREATEDにする。
// 2つの書き込みは不可分に行われ、元のアイテムは削除しない。
// 既にTASK_CREATEDの場合はConflict、READの場合も遷移できないためConflictを返す。
// アイテムが存在しないか他ユーザーのものの場合はNotFoundを返す。
// タイトルが空の場合はメッセージ本文の先頭をタイトルにする。
func (s *Service) ConvertToTask(ctx context.Context, userID, itemID string, fields model.TaskFields) (*model.Task, error) {
	item, err := s.items.FindByIDForUser(ctx, itemID, userID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, model.NewInboxItemNotFoundError(itemID)
	}
	if err := transitionConflict(item); err != nil {
		return nil, err
	}

	task, err := s.buildTask(userID, item.MessageText, fields)
	if err != nil {
		return nil, err
	}

	converted, err := s.tasks.ConvertFromInboxItem(ctx, itemID, userID, task, task.CreatedAt)
	if err != nil {
		return nil, err
	}
	if !converted {
		current, err := s.items.FindByIDForUser(ctx, itemID, userID)
		if err != nil {
			return nil, err
		}
		if current == nil {
			return nil, model.NewInboxItemNotFoundError(itemID)
		}
		if err := transitionConflict(current); err != nil {
			return nil, err
		}
		// PENDINGのまま更新に失敗することは条件付き更新の性質上起こらない
		return nil, model.NewAlreadyResolvedError(itemID, current.Status)
	}

	s.metrics.RecordTransition(metrics.TransitionTaskCreated)
	s.logger.Info("メンションをタスク化しました",
		slog.String("item_id", itemID),
		slog.String("task_id", task.ID),
		slog.String("priority", string(task.Priority)),
		slog.Int("priority_score", task.PriorityScore),
	)
	return task, nil
}

// transitionConflict は終端状態のアイテムに対するConflictエラーを返す。PENDINGの場合はnil。
func transitionConflict(item *model.InboxItem) error {
	switch item.Status {
	case model.InboxStatusTaskCreated:
		return model.NewAlreadyConvertedError(item.ID)
	case model.InboxStatusRead:
		return model.NewAlreadyResolvedError(item.ID, item.Status)
	}
	return nil
}

// CreateTask は受信箱アイテムを介さずにタスクを直接作成する。タイトルは必須。
func (s *Service) CreateTask(ctx context.Context, userID string, fields model.TaskFields) (*model.Task, error) {
	task, err := s.buildTask(userID, "", fields)
	if err != nil {
		return nil, err
	}
	if err := s.tasks.Create(ctx, task); err != nil {
		return nil, err
	}

	s.logger.Info("タスクを作成しました",
		slog.String("task_id", task.ID),
		slog.String("priority", string(task.Priority)),
		slog.Int("priority_score", task.PriorityScore),
	)
	return task, nil
}

// buildTask はタスク作成項目を検証・サニタイズし、スコアを計算したタスクを組み立てる。
// タイトルが空の場合はfallbackTitleの先頭を使う。
func (s *Service) buildTask(userID, fallbackTitle string, fields model.TaskFields) (*model.Task, error) {
	if !fields.Priority.Valid() {
		return nil, model.NewInvalidTaskFieldsError("priority must be one of P1, P2, P3")
	}

	title := s.sanitize(fields.Title)
	if title == "" {
		title = truncateRunes(s.sanitize(fallbackTitle), maxDefaultTitleRunes)
	}
	if title == "" {
		return nil, model.NewInvalidTaskFieldsError("title is required")
	}

	now := s.now().UTC()
	return &model.Task{
		Title:         title,
		Description:   s.sanitize(fields.Description),
		Priority:      fields.Priority,
		PriorityScore: s.policy.Score(fields.Priority, fields.DueDate, now),
		Status:        model.TaskStatusTodo,
		DueDate:       fields.DueDate,
		UserID:        userID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func (s *Service) sanitize(raw string) string {
	if s.sanitizer == nil {
		return strings.TrimSpace(raw)
	}
	return s.sanitizer.SanitizeText(raw)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// ListRecent はwindow以内に作成されたPENDINGのアイテムを新しい順に返す。
// タスク化済み・既読のアイテムは含めない。
func (s *Service) ListRecent(ctx context.Context, userID string, window time.Duration) ([]MentionView, error) {
	now := s.now().UTC()
	items, err := s.items.ListRecentPending(ctx, userID, now.Add(-window), now)
	if err != nil {
		return nil, err
	}

	views := make([]MentionView, len(items))
	for i, item := range items {
		views[i] = MentionView{
			Item:        item,
			DisplayLink: s.resolver.DisplayLink(item.Permalink, item.WorkspaceID),
		}
	}
	return views, nil
}

// RecordReply はアイテムへの返信を記録する（has_replied=true、reply_count+1）。
// ステータスと保持期限は変更しない。
func (s *Service) RecordReply(ctx context.Context, userID, itemID string) (*model.InboxItem, error) {
	item, err := s.items.RecordReply(ctx, itemID, userID, s.now().UTC())
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, model.NewInboxItemNotFoundError(itemID)
	}
	s.metrics.RecordTransition(metrics.TransitionReply)
	return item, nil
}

// Suggestions はアイテムのメッセージ本文に対する返信候補を返す。
// プロバイダの失敗は空スライスに縮退し、エラーにはならない。
func (s *Service) Suggestions(ctx context.Context, userID, itemID, locale string) ([]string, error) {
	item, err := s.items.FindByIDForUser(ctx, itemID, userID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, model.NewInboxItemNotFoundError(itemID)
	}
	if s.suggester == nil {
		return []string{}, nil
	}
	suggestions := s.suggester.Suggest(ctx, item.MessageText, locale)
	if suggestions == nil {
		suggestions = []string{}
	}
	return suggestions, nil
}

// ListTasks はユーザーのTODOタスクをスコア降順で返す。
func (s *Service) ListTasks(ctx context.Context, userID string) ([]*model.Task, error) {
	return s.tasks.ListTodoByUser(ctx, userID)
}
