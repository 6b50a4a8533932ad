package slackevent

import (
	"testing"

	"github.com/hitoshi/mentionbox/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const messageEventJSON = `{
  "token": "x",
  "team_id": "T1",
  "api_app_id": "A1",
  "type": "event_callback",
  "event_id": "Ev01",
  "event": {
    "type": "message",
    "team": "T2",
    "channel": "C0979H6S0P8",
    "user": "U_AUTHOR",
    "text": "hi <@U_TARGET>",
    "ts": "1753404206.917869"
  }
}`

const appMentionEventJSON = `{
  "team_id": "T1",
  "type": "event_callback",
  "event": {
    "type": "app_mention",
    "team": "T9",
    "channel": "C1",
    "user": "U_AUTHOR",
    "text": "<@U_BOT> please look",
    "ts": "1753404206.000100"
  }
}`

const blockActionJSON = `{
  "type": "block_actions",
  "team": {"id": "T2", "domain": "acme"},
  "user": {"id": "U_CLICKER", "name": "alice"},
  "channel": {"id": "C_DIRECT", "name": "general"},
  "container": {"type": "message", "channel_id": "C_CONTAINER", "message_ts": "1753404206.917869"},
  "message": {"ts": "1753404206.917869", "text": "original"},
  "actions": [{"action_id": "inbox_mark_read", "value": "item-1"}]
}`

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want model.EventShape
	}{
		{"message", messageEventJSON, model.EventShapeMessage},
		{"app_mention", appMentionEventJSON, model.EventShapeAppMention},
		{"block_actions", blockActionJSON, model.EventShapeBlockAction},
		{"unknown type", `{"type":"view_submission"}`, model.EventShapeUnknown},
		{"invalid json", `{not json`, model.EventShapeUnknown},
		{"empty", ``, model.EventShapeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify([]byte(tt.raw)))
		})
	}
}

// 外側のteam_idとevent.teamの両方がある場合、外側が優先される。
func TestNormalize_MessageEvent_OuterTeamIDWins(t *testing.T) {
	ev := Normalize([]byte(messageEventJSON))

	assert.Equal(t, model.EventShapeMessage, ev.Shape)
	assert.Equal(t, "T1", ev.WorkspaceID)
	assert.Equal(t, "C0979H6S0P8", ev.ChannelID)
	assert.Equal(t, "U_AUTHOR", ev.AuthorID)
	assert.Equal(t, "1753404206.917869", ev.MessageTs)
	assert.Equal(t, "hi <@U_TARGET>", ev.Text)
	assert.True(t, ev.HasWorkspace())
}

func TestNormalize_AppMention_BehavesLikeMessage(t *testing.T) {
	ev := Normalize([]byte(appMentionEventJSON))

	assert.Equal(t, model.EventShapeAppMention, ev.Shape)
	assert.Equal(t, "T1", ev.WorkspaceID)
	assert.Equal(t, "C1", ev.ChannelID)
	assert.Equal(t, "U_AUTHOR", ev.AuthorID)
}

// team_idが無く、team.idのみを持つ場合はそちらで解決する。
func TestNormalize_BlockAction_NestedTeamID(t *testing.T) {
	ev := Normalize([]byte(blockActionJSON))

	assert.Equal(t, model.EventShapeBlockAction, ev.Shape)
	assert.Equal(t, "T2", ev.WorkspaceID)
	assert.Equal(t, "U_CLICKER", ev.AuthorID)
	assert.Equal(t, "general", ev.ChannelName)
	assert.Equal(t, "1753404206.917869", ev.MessageTs)
	require.Len(t, ev.Actions, 1)
	assert.Equal(t, "inbox_mark_read", ev.Actions[0].ActionID)
	assert.Equal(t, "item-1", ev.Actions[0].Value)
}

// エフェメラル上の操作はcontainer.channel_idがchannel.idより優先される。
func TestNormalize_BlockAction_ContainerChannelFirst(t *testing.T) {
	ev := Normalize([]byte(blockActionJSON))
	assert.Equal(t, "C_CONTAINER", ev.ChannelID)
}

func TestNormalize_BlockAction_FallbackChannelFields(t *testing.T) {
	withChannelObject := `{"type":"block_actions","team":{"id":"T2"},"channel":{"id":"C_DIRECT"}}`
	assert.Equal(t, "C_DIRECT", Normalize([]byte(withChannelObject)).ChannelID)

	withChannelID := `{"type":"block_actions","team":{"id":"T2"},"channel_id":"C_FLAT","user_id":"U_FLAT"}`
	ev := Normalize([]byte(withChannelID))
	assert.Equal(t, "C_FLAT", ev.ChannelID)
	assert.Equal(t, "U_FLAT", ev.AuthorID)
}

// team_idもteam.idも無い場合はワークスペースIDが空になる。
func TestNormalize_NoWorkspace_ResolvesEmpty(t *testing.T) {
	raw := `{"type":"block_actions","user":{"id":"U1"},"channel":{"id":"C1"}}`
	ev := Normalize([]byte(raw))

	assert.Equal(t, "", ev.WorkspaceID)
	assert.False(t, ev.HasWorkspace())
	assert.Equal(t, "C1", ev.ChannelID)
}

func TestNormalize_MessageWithoutOuterTeam_DoesNotUseInnerTeam(t *testing.T) {
	raw := `{"type":"event_callback","event":{"type":"message","team":"T_INNER","channel":"C1","user":"U1","ts":"1.2"}}`
	ev := Normalize([]byte(raw))
	assert.Equal(t, "", ev.WorkspaceID)
}

func TestNormalize_MissingOptionalFields_NoPanic(t *testing.T) {
	raws := []string{
		`{"type":"event_callback","event":{"type":"message"}}`,
		`{"type":"block_actions"}`,
		`{"type":"block_actions","team":"not-an-object","user":42,"channel":null}`,
		`[]`,
		`null`,
	}
	for _, raw := range raws {
		assert.NotPanics(t, func() { _ = Normalize([]byte(raw)) }, raw)
	}
}

func TestNormalize_BotMessage(t *testing.T) {
	raw := `{"team_id":"T1","event":{"type":"message","subtype":"bot_message","bot_id":"B1","channel":"C1","ts":"1.2"}}`
	ev := Normalize([]byte(raw))
	assert.True(t, ev.IsBotMessage())
}

func TestMentionedUserIDs(t *testing.T) {
	ids := MentionedUserIDs("<@U1> and <@W2|bob> and again <@U1>, not <#C1> or <!here>")
	assert.Equal(t, []string{"U1", "W2"}, ids)

	assert.Nil(t, MentionedUserIDs("no mentions here"))
}

func TestEnvelopeHelpers(t *testing.T) {
	raw := []byte(`{"type":"url_verification","challenge":"abc123"}`)
	assert.Equal(t, EnvelopeURLVerification, EnvelopeType(raw))
	assert.Equal(t, "abc123", Challenge(raw))

	assert.Equal(t, EnvelopeEventCallback, EnvelopeType([]byte(messageEventJSON)))
	assert.Equal(t, "Ev01", EventID([]byte(messageEventJSON)))
	assert.Equal(t, "", EnvelopeType([]byte("garbage")))
}
