package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/mentionbox/internal/inbox"
	"github.com/hitoshi/mentionbox/internal/middleware"
	"github.com/hitoshi/mentionbox/internal/model"
)

// maxRecentWindow はListRecentで指定できる期間の上限。
const maxRecentWindow = 7 * 24 * time.Hour

// InboxServiceInterface は受信箱ハンドラーが必要とするサービスインターフェース。
// *inbox.Service が実装する。
type InboxServiceInterface interface {
	IngestMentions(ctx context.Context, mention model.NewMention, bot inbox.BotIdentity) (int, error)
	MarkRead(ctx context.Context, userID, itemID string) (*inbox.TransitionResult, error)
	ConvertToTask(ctx context.Context, userID, itemID string, fields model.TaskFields) (*model.Task, error)
	CreateTask(ctx context.Context, userID string, fields model.TaskFields) (*model.Task, error)
	ListRecent(ctx context.Context, userID string, window time.Duration) ([]inbox.MentionView, error)
	RecordReply(ctx context.Context, userID, itemID string) (*model.InboxItem, error)
	Suggestions(ctx context.Context, userID, itemID, locale string) ([]string, error)
	ListTasks(ctx context.Context, userID string) ([]*model.Task, error)
}

// InboxHandler は受信箱とタスクのHTTPハンドラー。
type InboxHandler struct {
	service       InboxServiceInterface
	defaultWindow time.Duration
}

// NewInboxHandler はInboxHandlerを生成する。
func NewInboxHandler(service InboxServiceInterface, defaultWindow time.Duration) *InboxHandler {
	if defaultWindow <= 0 {
		defaultWindow = 24 * time.Hour
	}
	return &InboxHandler{service: service, defaultWindow: defaultWindow}
}

// --- レスポンス型 ---

// inboxItemResponse は受信箱アイテムのレスポンス。
type inboxItemResponse struct {
	ID          string    `json:"id"`
	ChannelID   string    `json:"channel_id"`
	ChannelName string    `json:"channel_name"`
	MessageText string    `json:"message_text"`
	AuthorID    string    `json:"author_id"`
	Permalink   string    `json:"permalink"`
	DisplayLink string    `json:"display_link"`
	Status      string    `json:"status"`
	HasReplied  bool      `json:"has_replied"`
	ReplyCount  int       `json:"reply_count"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// transitionResponse は状態遷移操作のレスポンス。
type transitionResponse struct {
	ItemID         string `json:"item_id"`
	Status         string `json:"status,omitempty"`
	AlreadyHandled bool   `json:"already_handled"`
	Removed        bool   `json:"removed"`
}

// taskResponse はタスクのレスポンス。
type taskResponse struct {
	ID                string     `json:"id"`
	Title             string     `json:"title"`
	Description       string     `json:"description"`
	Priority          string     `json:"priority"`
	PriorityScore     int        `json:"priority_score"`
	Status            string     `json:"status"`
	DueDate           *time.Time `json:"due_date,omitempty"`
	SourceInboxItemID string     `json:"source_inbox_item_id"`
	CreatedAt         time.Time  `json:"created_at"`
}

// createTaskRequest はタスク作成リクエストのボディ。
type createTaskRequest struct {
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Priority    string     `json:"priority"`
	DueDate     *time.Time `json:"due_date"`
}

func toInboxItemResponse(item *model.InboxItem, displayLink string) inboxItemResponse {
	return inboxItemResponse{
		ID:          item.ID,
		ChannelID:   item.ChannelID,
		ChannelName: item.ChannelName,
		MessageText: item.MessageText,
		AuthorID:    item.AuthorID,
		Permalink:   item.Permalink,
		DisplayLink: displayLink,
		Status:      string(item.Status),
		HasReplied:  item.HasReplied,
		ReplyCount:  item.ReplyCount,
		CreatedAt:   item.CreatedAt,
		ExpiresAt:   item.ExpiresAt,
	}
}

func toTaskResponse(t *model.Task) taskResponse {
	return taskResponse{
		ID:                t.ID,
		Title:             t.Title,
		Description:       t.Description,
		Priority:          string(t.Priority),
		PriorityScore:     t.PriorityScore,
		Status:            string(t.Status),
		DueDate:           t.DueDate,
		SourceInboxItemID: t.SourceInboxItemID,
		CreatedAt:         t.CreatedAt,
	}
}

// ListRecent は直近のPENDINGメンションを新しい順に返す。
// GET /api/inbox/recent?window=24h
func (h *InboxHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	window := h.defaultWindow
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 || d > maxRecentWindow {
			writeInvalidRequest(w, "windowは168h以下の正の期間で指定してください。")
			return
		}
		window = d
	}

	views, err := h.service.ListRecent(r.Context(), userID, window)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	items := make([]inboxItemResponse, len(views))
	for i, v := range views {
		items[i] = toInboxItemResponse(v.Item, v.DisplayLink)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

// MarkRead はアイテムを既読にする。
// 既に処理済みまたは削除済みの場合もエラーにせず already_handled=true を返す。
// POST /api/inbox/{id}/read
func (h *InboxHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	itemID := chi.URLParam(r, "id")
	result, err := h.service.MarkRead(r.Context(), userID, itemID)
	if errors.Is(err, model.ErrNotFound) {
		// スイープに先を越された場合と区別しない
		result, err = &inbox.TransitionResult{AlreadyHandled: true, Removed: true}, nil
	}
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, transitionResponse{
		ItemID:         itemID,
		Status:         string(result.Status),
		AlreadyHandled: result.AlreadyHandled,
		Removed:        result.Removed,
	})
}

// ConvertToTask はアイテムをタスクに変換する。
// POST /api/inbox/{id}/task
func (h *InboxHandler) ConvertToTask(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	itemID := chi.URLParam(r, "id")

	fields, ok := decodeTaskFields(w, r)
	if !ok {
		return
	}

	task, err := h.service.ConvertToTask(r.Context(), userID, itemID, fields)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toTaskResponse(task))
}

// CreateTask は受信箱アイテムを介さずにタスクを作成する。
// POST /api/tasks
func (h *InboxHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	fields, ok := decodeTaskFields(w, r)
	if !ok {
		return
	}

	task, err := h.service.CreateTask(r.Context(), userID, fields)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toTaskResponse(task))
}

// decodeTaskFields はタスク作成リクエストのボディを読み取る。失敗時は400を書き込みfalseを返す。
func decodeTaskFields(w http.ResponseWriter, r *http.Request) (model.TaskFields, bool) {
	var req createTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalidRequest(w, "リクエストボディの解析に失敗しました。")
		return model.TaskFields{}, false
	}
	return model.TaskFields{
		Title:       req.Title,
		Description: req.Description,
		Priority:    model.Priority(req.Priority),
		DueDate:     req.DueDate,
	}, true
}

// RecordReply はアイテムへの返信を記録する。
// POST /api/inbox/{id}/reply
func (h *InboxHandler) RecordReply(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	item, err := h.service.RecordReply(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toInboxItemResponse(item, ""))
}

// Suggestions はアイテムへの返信候補を返す。候補を生成できない場合は空の配列を返す。
// GET /api/inbox/{id}/suggestions?locale=ja
func (h *InboxHandler) Suggestions(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	locale := r.URL.Query().Get("locale")
	suggestions, err := h.service.Suggestions(r.Context(), userID, chi.URLParam(r, "id"), locale)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if suggestions == nil {
		suggestions = []string{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"suggestions": suggestions})
}

// ListTasks はTODOタスクを優先度スコアの高い順に返す。
// GET /api/tasks
func (h *InboxHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	tasks, err := h.service.ListTasks(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]taskResponse, len(tasks))
	for i, t := range tasks {
		resp[i] = toTaskResponse(t)
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": resp})
}
