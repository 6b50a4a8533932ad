package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/mentionbox/internal/security"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Slack
	SlackBotToken      string
	SlackSigningSecret string
	SlackAPIBaseURL    string
	SlackAPITimeout    time.Duration

	// Inbox
	InboxRetentionBusinessDays int
	SweepInterval              time.Duration
	SweepBatchSize             int
	RecentWindow               time.Duration
	PriorityPolicyFile         string

	// Suggestion
	OpenAIAPIKey      string
	OpenAIBaseURL     string
	SuggestionModel   string
	SuggestionTimeout time.Duration
	SuggestionMax     int

	// Rate Limit
	RateLimitGeneral int

	// Logging
	LogLevel slog.Level

	// Server
	ServerPort        string
	WorkerMetricsPort string // ワーカーの/metrics待ち受けポート（空なら公開しない）
}

// SuggestionsEnabled は返信候補プロバイダが設定されているかを返す。
func (c *Config) SuggestionsEnabled() bool {
	return c.OpenAIAPIKey != ""
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.SlackBotToken = os.Getenv("SLACK_BOT_TOKEN")
	if cfg.SlackBotToken == "" {
		missing = append(missing, "SLACK_BOT_TOKEN")
	}

	cfg.SlackSigningSecret = os.Getenv("SLACK_SIGNING_SECRET")
	if cfg.SlackSigningSecret == "" {
		missing = append(missing, "SLACK_SIGNING_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.SlackAPIBaseURL = getEnvString("SLACK_API_BASE_URL", "")
	cfg.SlackAPITimeout = getEnvDuration("SLACK_API_TIMEOUT", 10*time.Second)
	cfg.InboxRetentionBusinessDays = getEnvInt("INBOX_RETENTION_BUSINESS_DAYS", 2)
	cfg.SweepInterval = getEnvDuration("SWEEP_INTERVAL", time.Hour)
	cfg.SweepBatchSize = getEnvInt("SWEEP_BATCH_SIZE", 500)
	cfg.RecentWindow = getEnvDuration("RECENT_WINDOW", 24*time.Hour)
	cfg.PriorityPolicyFile = getEnvString("PRIORITY_POLICY_FILE", "")
	cfg.OpenAIAPIKey = getEnvString("OPENAI_API_KEY", "")
	cfg.OpenAIBaseURL = getEnvString("OPENAI_BASE_URL", "")
	cfg.SuggestionModel = getEnvString("SUGGESTION_MODEL", "gpt-4o-mini")
	cfg.SuggestionTimeout = getEnvDuration("SUGGESTION_TIMEOUT", 5*time.Second)
	cfg.SuggestionMax = getEnvInt("SUGGESTION_MAX", 3)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.LogLevel = getEnvLogLevel("LOG_LEVEL", slog.LevelInfo)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.WorkerMetricsPort = getEnvString("WORKER_METRICS_PORT", "9090")

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate は値の範囲と外部APIのベースURLを検証する。
func (c *Config) validate() error {
	if c.InboxRetentionBusinessDays < 1 {
		return fmt.Errorf("INBOX_RETENTION_BUSINESS_DAYS must be at least 1: %d", c.InboxRetentionBusinessDays)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive: %s", c.SweepInterval)
	}

	guard := security.NewSSRFGuard()
	for key, u := range map[string]string{
		"SLACK_API_BASE_URL": c.SlackAPIBaseURL,
		"OPENAI_BASE_URL":    c.OpenAIBaseURL,
	} {
		if u == "" {
			continue
		}
		if err := guard.ValidateURL(u); err != nil {
			return fmt.Errorf("%s is not allowed: %w", key, err)
		}
	}
	return nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func getEnvLogLevel(key string, defaultVal slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(v))); err != nil {
		return defaultVal
	}
	return level
}
