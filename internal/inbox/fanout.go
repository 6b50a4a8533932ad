package inbox

import (
	"context"
	"log/slog"

	"github.com/hitoshi/mentionbox/internal/model"
	"github.com/hitoshi/mentionbox/internal/slackevent"
)

// BotIdentity はワークスペースbot自身のユーザーIDを提供する。
// 初期化前はmodel.ErrCodeNotInitializedのエラーを返す。
type BotIdentity interface {
	BotUserID() (string, error)
}

// Recipients はメッセージ本文中の <@U...> から受信者を抽出する。
// bot投稿の場合は空。bot自身と投稿者は受信者に含めない。
func Recipients(ev model.NormalizedEvent, botUserID string) []string {
	if ev.IsBotMessage() {
		return nil
	}
	var recipients []string
	for _, id := range slackevent.MentionedUserIDs(ev.Text) {
		if id == botUserID || id == ev.AuthorID {
			continue
		}
		recipients = append(recipients, id)
	}
	return recipients
}

// IngestMentions はメッセージに含まれるメンションを受信者ごとに取り込み、新規に登録した件数を返す。
// 受信者ごとの取り込みは独立しており、失敗した受信者があっても残りの取り込みは続ける。
// 最初に発生したエラーを返す。
func (s *Service) IngestMentions(ctx context.Context, mention model.NewMention, bot BotIdentity) (int, error) {
	botUserID, err := bot.BotUserID()
	if err != nil {
		return 0, err
	}

	var (
		created  int
		firstErr error
	)
	for _, userID := range Recipients(mention.Event, botUserID) {
		inserted, err := s.Ingest(ctx, mention, userID)
		if err != nil {
			s.logger.Error("メンションの取り込みに失敗しました",
				slog.String("error", err.Error()),
				slog.String("channel_id", mention.Event.ChannelID),
				slog.String("user_id", userID),
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if inserted {
			created++
		}
	}
	return created, firstErr
}
