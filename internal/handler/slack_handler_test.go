package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/hitoshi/mentionbox/internal/inbox"
	"github.com/hitoshi/mentionbox/internal/model"
)

const mentionEventJSON = `{
  "team_id": "T1",
  "type": "event_callback",
  "event_id": "Ev01",
  "event": {
    "type": "message",
    "channel": "C0979H6S0P8",
    "user": "UAUTHOR",
    "text": "<@UTARGET> レビューお願いします",
    "ts": "1753404206.917869"
  }
}`

func newTestSlackHandler(svc InboxServiceInterface, permalinks PermalinkResolver) (*SlackHandler, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	return NewSlackHandler(svc, &mockBotIdentity{userID: "UBOT"}, permalinks, logger), &buf
}

func newInteractionRequest(payload string) *http.Request {
	form := url.Values{}
	form.Set("payload", payload)
	req := httptest.NewRequest(http.MethodPost, "/slack/interactions", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func blockActionPayload(actionID, itemID string) string {
	return `{
  "type": "block_actions",
  "team": {"id": "T1"},
  "user": {"id": "UCLICKER"},
  "container": {"type": "message", "channel_id": "C1", "message_ts": "1753404206.917869"},
  "actions": [{"action_id": "` + actionID + `", "value": "` + itemID + `"}]
}`
}

// --- POST /slack/events テスト ---

func TestSlackHandler_Events_URLVerification(t *testing.T) {
	h, _ := newTestSlackHandler(&mockInboxService{}, nil)

	body := `{"token":"x","challenge":"3eZbrw1aBm2rZgRNFdxV2595E9CY3gmdALWMmHkvFXO7tYXAYM8P","type":"url_verification"}`
	w := httptest.NewRecorder()
	h.Events(w, httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader(body)))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var resp map[string]string
	json.NewDecoder(w.Body).Decode(&resp)
	if resp["challenge"] != "3eZbrw1aBm2rZgRNFdxV2595E9CY3gmdALWMmHkvFXO7tYXAYM8P" {
		t.Errorf("challenge = %q", resp["challenge"])
	}
}

func TestSlackHandler_Events_IngestsMentionWithPermalink(t *testing.T) {
	var got model.NewMention
	var gotBot inbox.BotIdentity
	svc := &mockInboxService{
		ingestMentionsFn: func(ctx context.Context, mention model.NewMention, bot inbox.BotIdentity) (int, error) {
			got = mention
			gotBot = bot
			return 1, nil
		},
	}
	permalinks := &mockPermalinkResolver{
		getPermalinkFn: func(ctx context.Context, channelID, messageTs string) (string, error) {
			if channelID != "C0979H6S0P8" || messageTs != "1753404206.917869" {
				t.Errorf("GetPermalink(%q, %q)", channelID, messageTs)
			}
			return "https://x.slack.com/archives/C0979H6S0P8/p1753404206917869", nil
		},
	}
	h, buf := newTestSlackHandler(svc, permalinks)

	w := httptest.NewRecorder()
	h.Events(w, httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader(mentionEventJSON)))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got.Event.WorkspaceID != "T1" || got.Event.AuthorID != "UAUTHOR" {
		t.Errorf("event = %+v", got.Event)
	}
	if got.Permalink != "https://x.slack.com/archives/C0979H6S0P8/p1753404206917869" {
		t.Errorf("permalink = %q", got.Permalink)
	}
	if id, _ := gotBot.BotUserID(); id != "UBOT" {
		t.Errorf("bot user id = %q, want UBOT", id)
	}
	if !strings.Contains(buf.String(), `"event_id":"Ev01"`) {
		t.Errorf("event id should be logged: %s", buf.String())
	}
}

func TestSlackHandler_Events_PermalinkFailureStillIngests(t *testing.T) {
	called := false
	svc := &mockInboxService{
		ingestMentionsFn: func(ctx context.Context, mention model.NewMention, bot inbox.BotIdentity) (int, error) {
			called = true
			if mention.Permalink != "" {
				t.Errorf("permalink = %q, want empty", mention.Permalink)
			}
			return 1, nil
		},
	}
	permalinks := &mockPermalinkResolver{
		getPermalinkFn: func(ctx context.Context, channelID, messageTs string) (string, error) {
			return "", errors.New("channel_not_found")
		},
	}
	h, buf := newTestSlackHandler(svc, permalinks)

	w := httptest.NewRecorder()
	h.Events(w, httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader(mentionEventJSON)))

	if w.Code != http.StatusOK || !called {
		t.Fatalf("status = %d, called = %v", w.Code, called)
	}
	if !strings.Contains(buf.String(), "channel_not_found") {
		t.Errorf("permalink failure should be logged: %s", buf.String())
	}
}

func TestSlackHandler_Events_IgnoresEditsAndUnknownEvents(t *testing.T) {
	svc := &mockInboxService{
		ingestMentionsFn: func(ctx context.Context, mention model.NewMention, bot inbox.BotIdentity) (int, error) {
			t.Fatal("IngestMentions should not be called")
			return 0, nil
		},
	}
	h, _ := newTestSlackHandler(svc, nil)

	bodies := []string{
		`{"team_id":"T1","type":"event_callback","event":{"type":"message","subtype":"message_changed","channel":"C1","ts":"1.2"}}`,
		`{"team_id":"T1","type":"event_callback","event":{"type":"reaction_added","user":"U1"}}`,
	}
	for _, body := range bodies {
		w := httptest.NewRecorder()
		h.Events(w, httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader(body)))
		if w.Code != http.StatusOK {
			t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
		}
	}
}

func TestSlackHandler_Events_UnsupportedEnvelope(t *testing.T) {
	h, _ := newTestSlackHandler(&mockInboxService{}, nil)

	for _, body := range []string{`not json`, `{"type":"app_rate_limited"}`} {
		w := httptest.NewRecorder()
		h.Events(w, httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader(body)))
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want %d", body, w.Code, http.StatusBadRequest)
		}
	}
}

func TestSlackHandler_Events_BotNotInitialized_Returns503(t *testing.T) {
	svc := &mockInboxService{
		ingestMentionsFn: func(ctx context.Context, mention model.NewMention, bot inbox.BotIdentity) (int, error) {
			return 0, model.NewNotInitializedError("bot identity")
		},
	}
	h, _ := newTestSlackHandler(svc, nil)

	w := httptest.NewRecorder()
	h.Events(w, httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader(mentionEventJSON)))

	// 503を返すとSlackが再送する
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

// --- POST /slack/interactions テスト ---

func TestSlackHandler_Interactions_MarkRead(t *testing.T) {
	svc := &mockInboxService{
		markReadFn: func(ctx context.Context, userID, itemID string) (*inbox.TransitionResult, error) {
			if userID != "UCLICKER" || itemID != "item-1" {
				t.Errorf("MarkRead(%q, %q)", userID, itemID)
			}
			return &inbox.TransitionResult{Status: model.InboxStatusRead}, nil
		},
	}
	h, _ := newTestSlackHandler(svc, nil)

	w := httptest.NewRecorder()
	h.Interactions(w, newInteractionRequest(blockActionPayload(ActionMarkRead, "item-1")))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body struct {
		Results []interactionResult `json:"results"`
	}
	json.NewDecoder(w.Body).Decode(&body)
	if len(body.Results) != 1 || body.Results[0].Status != "READ" || body.Results[0].AlreadyHandled {
		t.Errorf("results = %+v", body.Results)
	}
}

func TestSlackHandler_Interactions_CreateTaskUsesDefaultPriority(t *testing.T) {
	svc := &mockInboxService{
		convertToTaskFn: func(ctx context.Context, userID, itemID string, fields model.TaskFields) (*model.Task, error) {
			if fields.Priority != model.PriorityP2 || fields.Title != "" {
				t.Errorf("fields = %+v", fields)
			}
			return &model.Task{ID: "task-9"}, nil
		},
	}
	h, _ := newTestSlackHandler(svc, nil)

	w := httptest.NewRecorder()
	h.Interactions(w, newInteractionRequest(blockActionPayload(ActionCreateTask, "item-1")))

	var body struct {
		Results []interactionResult `json:"results"`
	}
	json.NewDecoder(w.Body).Decode(&body)
	if len(body.Results) != 1 || body.Results[0].TaskID != "task-9" || body.Results[0].Status != "TASK_CREATED" {
		t.Errorf("results = %+v", body.Results)
	}
}

func TestSlackHandler_Interactions_HandledItemsAreBenign(t *testing.T) {
	tests := []struct {
		name     string
		actionID string
		err      error
	}{
		{"create_task_conflict", ActionCreateTask, model.NewAlreadyConvertedError("item-1")},
		{"create_task_swept", ActionCreateTask, model.NewInboxItemNotFoundError("item-1")},
		{"mark_read_swept", ActionMarkRead, model.NewInboxItemNotFoundError("item-1")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockInboxService{
				markReadFn: func(ctx context.Context, userID, itemID string) (*inbox.TransitionResult, error) {
					return nil, tt.err
				},
				convertToTaskFn: func(ctx context.Context, userID, itemID string, fields model.TaskFields) (*model.Task, error) {
					return nil, tt.err
				},
			}
			h, _ := newTestSlackHandler(svc, nil)

			w := httptest.NewRecorder()
			h.Interactions(w, newInteractionRequest(blockActionPayload(tt.actionID, "item-1")))

			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
			}
			var body struct {
				Results []interactionResult `json:"results"`
			}
			json.NewDecoder(w.Body).Decode(&body)
			if len(body.Results) != 1 || !body.Results[0].AlreadyHandled {
				t.Errorf("results = %+v, want already_handled", body.Results)
			}
		})
	}
}

func TestSlackHandler_Interactions_InternalErrorPropagates(t *testing.T) {
	svc := &mockInboxService{
		markReadFn: func(ctx context.Context, userID, itemID string) (*inbox.TransitionResult, error) {
			return nil, errors.New("db down")
		},
	}
	h, _ := newTestSlackHandler(svc, nil)

	w := httptest.NewRecorder()
	h.Interactions(w, newInteractionRequest(blockActionPayload(ActionMarkRead, "item-1")))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

func TestSlackHandler_Interactions_UnknownActionIgnored(t *testing.T) {
	h, _ := newTestSlackHandler(&mockInboxService{}, nil)

	w := httptest.NewRecorder()
	h.Interactions(w, newInteractionRequest(blockActionPayload("something_else", "x")))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), `"results":[]`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestSlackHandler_Interactions_MissingPayload(t *testing.T) {
	h, _ := newTestSlackHandler(&mockInboxService{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/slack/interactions", strings.NewReader(""))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	h.Interactions(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestSlackHandler_Interactions_MissingUser(t *testing.T) {
	h, _ := newTestSlackHandler(&mockInboxService{}, nil)

	payload := `{"type":"block_actions","team":{"id":"T1"},"actions":[{"action_id":"inbox_mark_read","value":"i"}]}`
	w := httptest.NewRecorder()
	h.Interactions(w, newInteractionRequest(payload))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}
