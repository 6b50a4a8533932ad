package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/mentionbox/internal/inbox"
	"github.com/hitoshi/mentionbox/internal/model"
	"github.com/hitoshi/mentionbox/internal/slackevent"
)

// Block Kitボタンのaction_id。valueには受信箱アイテムIDを入れる。
const (
	ActionMarkRead   = "inbox_mark_read"
	ActionCreateTask = "inbox_create_task"
)

// defaultInteractionPriority はボタン操作でタスク化する場合の優先度。
const defaultInteractionPriority = model.PriorityP2

// PermalinkResolver はメッセージのパーマリンクを取得する。*slackapi.Client が実装する。
type PermalinkResolver interface {
	GetPermalink(ctx context.Context, channelID, messageTs string) (string, error)
}

// SlackHandler はSlackのEvents APIとインタラクションのHTTPハンドラー。
// 署名検証はミドルウェアで済んでいる前提で動作する。
type SlackHandler struct {
	service    InboxServiceInterface
	bot        inbox.BotIdentity
	permalinks PermalinkResolver
	logger     *slog.Logger
}

// NewSlackHandler はSlackHandlerを生成する。
func NewSlackHandler(service InboxServiceInterface, bot inbox.BotIdentity, permalinks PermalinkResolver, logger *slog.Logger) *SlackHandler {
	return &SlackHandler{
		service:    service,
		bot:        bot,
		permalinks: permalinks,
		logger:     logger,
	}
}

// interactionResult はボタン操作1件の処理結果。
type interactionResult struct {
	ActionID       string `json:"action_id"`
	ItemID         string `json:"item_id"`
	Status         string `json:"status,omitempty"`
	AlreadyHandled bool   `json:"already_handled"`
	TaskID         string `json:"task_id,omitempty"`
}

// Events はEvents APIのリクエストを処理する。
// url_verificationにはchallengeを返し、event_callbackのメッセージはメンションとして取り込む。
// 取り込みに失敗した場合は500を返してSlackに再送させる。取り込みは冪等。
// POST /slack/events
func (h *SlackHandler) Events(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeInvalidRequest(w, "リクエストボディの読み取りに失敗しました。")
		return
	}

	switch slackevent.EnvelopeType(raw) {
	case slackevent.EnvelopeURLVerification:
		writeJSON(w, http.StatusOK, map[string]string{"challenge": slackevent.Challenge(raw)})
		return
	case slackevent.EnvelopeEventCallback:
	default:
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewMalformedInputError("unsupported envelope type"))
		return
	}

	ev := slackevent.Normalize(raw)
	if !isIngestibleMessage(ev) {
		w.WriteHeader(http.StatusOK)
		return
	}

	mention := model.NewMention{Event: ev, Permalink: h.resolvePermalink(r.Context(), ev)}
	created, err := h.service.IngestMentions(r.Context(), mention, h.bot)
	if err != nil {
		h.logger.Error("イベントの取り込みに失敗しました",
			slog.String("event_id", slackevent.EventID(raw)),
			slog.String("retry_num", r.Header.Get("X-Slack-Retry-Num")),
			slog.String("error", err.Error()),
		)
		handleServiceError(w, err)
		return
	}

	h.logger.Info("イベントを処理しました",
		slog.String("event_id", slackevent.EventID(raw)),
		slog.String("channel_id", ev.ChannelID),
		slog.Int("created", created),
	)
	w.WriteHeader(http.StatusOK)
}

// isIngestibleMessage は受信箱の取り込み対象となるメッセージかを返す。
// 編集・削除などのsubtype付きイベントは対象外。bot投稿の除外は取り込み側で行う。
func isIngestibleMessage(ev model.NormalizedEvent) bool {
	if ev.Shape != model.EventShapeMessage && ev.Shape != model.EventShapeAppMention {
		return false
	}
	switch ev.Subtype {
	case "", "thread_broadcast", "bot_message":
		return true
	default:
		return false
	}
}

// resolvePermalink はパーマリンクを取得する。失敗した場合はログを出力して空文字列を返す。
func (h *SlackHandler) resolvePermalink(ctx context.Context, ev model.NormalizedEvent) string {
	if h.permalinks == nil || ev.ChannelID == "" || ev.MessageTs == "" {
		return ""
	}
	link, err := h.permalinks.GetPermalink(ctx, ev.ChannelID, ev.MessageTs)
	if err != nil {
		h.logger.Warn("パーマリンクの取得に失敗しました",
			slog.String("channel_id", ev.ChannelID),
			slog.String("message_ts", ev.MessageTs),
			slog.String("error", err.Error()),
		)
		return ""
	}
	return link
}

// Interactions はBlock Kitのボタン操作（block_actions）を処理する。
// 既に処理済み・削除済みのアイテムへの操作はエラーにせず already_handled として返す。
// POST /slack/interactions
func (h *SlackHandler) Interactions(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeInvalidRequest(w, "フォームの解析に失敗しました。")
		return
	}
	payload := []byte(r.PostForm.Get("payload"))
	if len(payload) == 0 {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewMalformedInputError("payload is required"))
		return
	}

	if slackevent.Classify(payload) != model.EventShapeBlockAction {
		w.WriteHeader(http.StatusOK)
		return
	}

	ev := slackevent.Normalize(payload)
	if ev.AuthorID == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewMalformedInputError("user id is missing"))
		return
	}

	results := make([]interactionResult, 0, len(ev.Actions))
	for _, action := range ev.Actions {
		res, err := h.handleAction(r.Context(), ev.AuthorID, action)
		if err != nil {
			handleServiceError(w, err)
			return
		}
		if res != nil {
			results = append(results, *res)
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// handleAction はアクション1件を処理する。対象外のaction_idの場合はnilを返す。
func (h *SlackHandler) handleAction(ctx context.Context, userID string, action model.EventAction) (*interactionResult, error) {
	res := &interactionResult{ActionID: action.ActionID, ItemID: action.Value}

	switch action.ActionID {
	case ActionMarkRead:
		tr, err := h.service.MarkRead(ctx, userID, action.Value)
		if err != nil {
			return h.benign(res, err)
		}
		res.Status = string(tr.Status)
		res.AlreadyHandled = tr.AlreadyHandled
		return res, nil

	case ActionCreateTask:
		task, err := h.service.ConvertToTask(ctx, userID, action.Value, model.TaskFields{
			Priority: defaultInteractionPriority,
		})
		if err != nil {
			return h.benign(res, err)
		}
		res.Status = string(model.InboxStatusTaskCreated)
		res.TaskID = task.ID
		return res, nil

	default:
		return nil, nil
	}
}

// benign は処理済み・削除済みのエラーを「対応済み」の結果に読み替える。それ以外のエラーはそのまま返す。
func (h *SlackHandler) benign(res *interactionResult, err error) (*interactionResult, error) {
	if !isBenignTransitionError(err) {
		return nil, err
	}
	h.logger.Info("処理済みのアイテムへの操作を受け付けました",
		slog.String("action_id", res.ActionID),
		slog.String("item_id", res.ItemID),
		slog.String("reason", err.Error()),
	)
	res.AlreadyHandled = true
	return res, nil
}
