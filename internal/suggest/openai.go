package suggest

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/tidwall/gjson"
)

// DefaultModel は返信候補生成に使うデフォルトのモデル。
const DefaultModel = "gpt-4o-mini"

// OpenAIConfig はOpenAIProviderの設定。
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string // 空の場合はOpenAIの公式エンドポイント
	Model      string
	HTTPClient *http.Client
}

// OpenAIProvider はOpenAI互換のChat Completions APIで返信候補を生成する。
type OpenAIProvider struct {
	client openai.Client
	model  string
}

// NewOpenAIProvider はOpenAIProviderを生成する。
// リトライはService側のタイムアウトと競合するため無効にする。
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	m := cfg.Model
	if m == "" {
		m = DefaultModel
	}
	return &OpenAIProvider{
		client: openai.NewClient(opts...),
		model:  m,
	}
}

// Suggest はメッセージ本文に対する短い返信候補を生成する。
// モデルには {"suggestions": [...]} 形式のJSONでの回答を求め、
// JSONとして読めない場合は1行1候補として扱う。
func (p *OpenAIProvider) Suggest(ctx context.Context, messageText, locale string) ([]string, error) {
	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt(locale)),
			openai.UserMessage(messageText),
		},
		Temperature: openai.Float(0.4),
	})
	if err != nil {
		return nil, fmt.Errorf("返信候補の生成に失敗しました: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("返信候補の生成結果が空です")
	}
	return parseSuggestions(resp.Choices[0].Message.Content), nil
}

func systemPrompt(locale string) string {
	lang := "the same language as the message"
	switch strings.ToLower(strings.SplitN(locale, "-", 2)[0]) {
	case "ja":
		lang = "Japanese"
	case "en":
		lang = "English"
	}
	return "You help a busy person reply to a Slack message that mentioned them. " +
		"Propose up to 3 short, polite replies in " + lang + ". " +
		`Respond only with JSON: {"suggestions": ["...", "..."]}`
}

// listMarker は行頭の箇条書き記号（"- "、"* "、"・"、"1. "、"2) "）。
var listMarker = regexp.MustCompile(`^\s*(?:[-*・]|\d+[.)])\s*`)

// parseSuggestions はモデルの出力から候補を取り出す。
func parseSuggestions(content string) []string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	if gjson.Valid(content) {
		var out []string
		r := gjson.Get(content, "suggestions")
		if !r.Exists() && gjson.Parse(content).IsArray() {
			r = gjson.Parse(content)
		}
		for _, v := range r.Array() {
			if v.Type == gjson.String {
				out = append(out, v.String())
			}
		}
		return out
	}

	var out []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(listMarker.ReplaceAllString(line, ""))
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}
