// Package suggest はメンションへの返信候補の取得を提供する。
//
// 返信候補の生成は外部のLLMプロバイダに委ねる。呼び出しには必ずタイムアウトを設け、
// タイムアウトやエラーの場合は空の候補に縮退して、メンションの表示自体は妨げない。
package suggest

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/mentionbox/internal/metrics"
	"github.com/hitoshi/mentionbox/internal/model"
)

const (
	// DefaultTimeout はプロバイダ呼び出しのデフォルトのタイムアウト。
	DefaultTimeout = 5 * time.Second
	// DefaultMaxSuggestions は返す候補のデフォルトの最大数。
	DefaultMaxSuggestions = 3
)

// Provider は返信候補を生成する外部プロバイダのインターフェース。
type Provider interface {
	Suggest(ctx context.Context, messageText, locale string) ([]string, error)
}

// Service はProviderをタイムアウト付きで呼び出し、失敗時は空の候補を返す。
type Service struct {
	provider Provider
	timeout  time.Duration
	maxItems int
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
// providerがnilの場合、Suggestは常に空の候補を返す。
func NewService(provider Provider, timeout time.Duration, maxItems int, collector metrics.MetricsCollector, logger *slog.Logger) *Service {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxItems <= 0 {
		maxItems = DefaultMaxSuggestions
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{
		provider: provider,
		timeout:  timeout,
		maxItems: maxItems,
		metrics:  collector,
		logger:   logger,
	}
}

type suggestResult struct {
	suggestions []string
	err         error
}

// Suggest は返信候補を返す。エラーは返さず、失敗時は空スライスを返す。
// プロバイダがコンテキストを無視した場合でもタイムアウト時点で戻る。
func (s *Service) Suggest(ctx context.Context, messageText, locale string) []string {
	if s.provider == nil || strings.TrimSpace(messageText) == "" {
		return []string{}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ch := make(chan suggestResult, 1)
	go func() {
		suggestions, err := s.provider.Suggest(ctx, messageText, locale)
		ch <- suggestResult{suggestions: suggestions, err: err}
	}()

	select {
	case <-ctx.Done():
		s.fail("timeout", ctx.Err())
		return []string{}
	case r := <-ch:
		if r.err != nil {
			reason := "error"
			if errors.Is(r.err, context.DeadlineExceeded) {
				reason = "timeout"
			}
			s.fail(reason, r.err)
			return []string{}
		}
		return normalize(r.suggestions, s.maxItems)
	}
}

func (s *Service) fail(reason string, err error) {
	s.metrics.RecordSuggestionFailure(reason)
	apiErr := model.NewProviderUnavailableError(reason)
	s.logger.Warn(apiErr.Message,
		slog.String("code", apiErr.Code),
		slog.String("error", err.Error()),
		slog.Duration("timeout", s.timeout),
	)
}

// normalize は空白のみの候補と重複を除き、最大maxItems件に切り詰める。
func normalize(suggestions []string, maxItems int) []string {
	out := make([]string, 0, len(suggestions))
	seen := make(map[string]struct{}, len(suggestions))
	for _, c := range suggestions {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
		if len(out) == maxItems {
			break
		}
	}
	return out
}
