// Package slackapi はSlack Web APIのうち、受信箱の処理に必要な最小限の呼び出しを提供する。
// bot自身の識別情報の取得（auth.test）と、メッセージのパーマリンク取得（chat.getPermalink）。
package slackapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// DefaultBaseURL はSlack Web APIのベースURL。
const DefaultBaseURL = "https://slack.com/api/"

// maxResponseBytes はレスポンスボディの最大読み取りサイズ。
const maxResponseBytes = 1 << 20

// AuthTestResult はauth.testの結果。
type AuthTestResult struct {
	UserID string `json:"user_id"`
	BotID  string `json:"bot_id"`
	TeamID string `json:"team_id"`
	Team   string `json:"team"`
	URL    string `json:"url"`
}

// APIError はSlack Web APIが ok=false を返した場合のエラー。
type APIError struct {
	Method string
	Code   string // 例: invalid_auth, channel_not_found
}

func (e *APIError) Error() string {
	return fmt.Sprintf("slack %s failed: %s", e.Method, e.Code)
}

// Client はSlack Web APIのクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	token      string
	baseURL    string
}

// NewClient はClientの新しいインスタンスを生成する。baseURLが空の場合はDefaultBaseURLを使う。
func NewClient(httpClient *http.Client, token, baseURL string, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		token:      token,
		baseURL:    baseURL,
	}
}

// AuthTest はトークンに紐づくbotの識別情報を取得する。
func (c *Client) AuthTest(ctx context.Context) (*AuthTestResult, error) {
	var resp struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
		AuthTestResult
	}
	if err := c.call(ctx, http.MethodPost, "auth.test", nil, &resp); err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, &APIError{Method: "auth.test", Code: resp.Error}
	}
	return &resp.AuthTestResult, nil
}

// GetPermalink はメッセージのパーマリンクを取得する。
func (c *Client) GetPermalink(ctx context.Context, channelID, messageTs string) (string, error) {
	params := url.Values{}
	params.Set("channel", channelID)
	params.Set("message_ts", messageTs)

	var resp struct {
		OK        bool   `json:"ok"`
		Error     string `json:"error"`
		Permalink string `json:"permalink"`
	}
	if err := c.call(ctx, http.MethodGet, "chat.getPermalink", params, &resp); err != nil {
		return "", err
	}
	if !resp.OK {
		return "", &APIError{Method: "chat.getPermalink", Code: resp.Error}
	}
	return resp.Permalink, nil
}

// call はWeb APIメソッドを呼び出し、レスポンスJSONをoutにデコードする。
func (c *Client) call(ctx context.Context, httpMethod, apiMethod string, params url.Values, out any) error {
	reqURL := c.baseURL + apiMethod
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, httpMethod, reqURL, nil)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("User-Agent", "mentionbox/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Slack APIの呼び出しに失敗しました",
			slog.String("method", apiMethod),
			slog.String("error", err.Error()),
		)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("Slack APIがエラーステータスを返しました",
			slog.String("method", apiMethod),
			slog.Int("http_status", resp.StatusCode),
		)
		return fmt.Errorf("Slack API %s がステータス %d を返しました", apiMethod, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		c.logger.Error("Slack APIのレスポンスのパースに失敗しました",
			slog.String("method", apiMethod),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}
	return nil
}
