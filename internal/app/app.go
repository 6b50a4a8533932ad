package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/mentionbox/internal/botidentity"
	"github.com/hitoshi/mentionbox/internal/config"
	"github.com/hitoshi/mentionbox/internal/database"
	"github.com/hitoshi/mentionbox/internal/deeplink"
	"github.com/hitoshi/mentionbox/internal/handler"
	"github.com/hitoshi/mentionbox/internal/inbox"
	"github.com/hitoshi/mentionbox/internal/logger"
	"github.com/hitoshi/mentionbox/internal/metrics"
	"github.com/hitoshi/mentionbox/internal/middleware"
	"github.com/hitoshi/mentionbox/internal/priority"
	"github.com/hitoshi/mentionbox/internal/repository"
	"github.com/hitoshi/mentionbox/internal/security"
	"github.com/hitoshi/mentionbox/internal/slackapi"
	"github.com/hitoshi/mentionbox/internal/suggest"
	"github.com/hitoshi/mentionbox/internal/worker/sweep"
)

// maxOutboundResponseBytes は外部API（Slack・LLM）のレスポンスサイズの上限。
const maxOutboundResponseBytes = 4 << 20

// logLevel はグローバルロガーの出力レベル。設定読み込み後にLOG_LEVELで更新する。
var logLevel = new(slog.LevelVar)

// Init はアプリケーションの初期化を行う。
// .envファイルがあれば読み込み、環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logLevel.Set(slog.LevelInfo)
	logger.SetupDefault(w, logLevel)

	// 2. .envファイルの読み込み（ローカル開発用、既存の環境変数は上書きしない）
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn(".envファイルの読み込みに失敗しました", slog.String("error", err.Error()))
	}

	// 3. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logLevel.Set(cfg.LogLevel)

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	if cmd == CommandHelp {
		_, err := io.WriteString(w, Usage())
		return err
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.Bool("suggestions_enabled", cfg.SuggestionsEnabled()),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// loadPriorityPolicy はPRIORITY_POLICY_FILEが指定されていればスコア方針を読み込む。
func loadPriorityPolicy(cfg *config.Config) (priority.Policy, error) {
	if cfg.PriorityPolicyFile == "" {
		return priority.DefaultPolicy(), nil
	}
	p, err := priority.LoadPolicyFile(cfg.PriorityPolicyFile)
	if err != nil {
		return priority.Policy{}, err
	}
	slog.Info("priority policy loaded",
		slog.String("file", cfg.PriorityPolicyFile),
		slog.Int("tier_step", p.TierStep),
		slog.Int("max_proximity_bonus", p.MaxProximityBonus),
		slog.Bool("tier_dominant", p.TierDominant),
	)
	return p, nil
}

// newSuggester は返信候補サービスを構築する。プロバイダ未設定の場合は常に空の候補を返す。
func newSuggester(cfg *config.Config, httpClient *http.Client, collector metrics.MetricsCollector) *suggest.Service {
	var provider suggest.Provider
	if cfg.SuggestionsEnabled() {
		provider = suggest.NewOpenAIProvider(suggest.OpenAIConfig{
			APIKey:     cfg.OpenAIAPIKey,
			BaseURL:    cfg.OpenAIBaseURL,
			Model:      cfg.SuggestionModel,
			HTTPClient: httpClient,
		})
	}
	return suggest.NewService(provider, cfg.SuggestionTimeout, cfg.SuggestionMax, collector, slog.Default())
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、ボット識別情報を取得し、全依存関係をワイヤリングしてHTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	itemRepo := repository.NewPostgresInboxItemRepo(db)
	taskRepo := repository.NewPostgresTaskRepo(db)

	// 3. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)

	// 4. 外部API用クライアント
	ssrfGuard := security.NewSSRFGuard()
	slackHTTP := ssrfGuard.NewSafeClient(cfg.SlackAPITimeout, maxOutboundResponseBytes)
	slackClient := slackapi.NewClient(slackHTTP, cfg.SlackBotToken, cfg.SlackAPIBaseURL, slog.Default())

	// 5. ボット識別情報の取得（取り込み前に必須）
	ctx, cancel := context.WithTimeout(context.Background(), cfg.SlackAPITimeout)
	botStore := botidentity.NewStore(slackClient, slog.Default())
	botStore.FetchTimeout = cfg.SlackAPITimeout
	_, err = botStore.Init(ctx)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to initialize bot identity: %w", err)
	}

	// 6. ドメインサービスの初期化
	policy, err := loadPriorityPolicy(cfg)
	if err != nil {
		return fmt.Errorf("failed to load priority policy: %w", err)
	}
	llmHTTP := ssrfGuard.NewSafeClient(cfg.SuggestionTimeout, maxOutboundResponseBytes)

	inboxService := inbox.NewService(inbox.Deps{
		Users:                 userRepo,
		Items:                 itemRepo,
		Tasks:                 taskRepo,
		Resolver:              deeplink.NewResolver(slog.Default()),
		Sanitizer:             security.NewTextSanitizer(),
		Suggester:             newSuggester(cfg, llmHTTP, collector),
		Metrics:               collector,
		Logger:                slog.Default(),
		Policy:                policy,
		RetentionBusinessDays: cfg.InboxRetentionBusinessDays,
	})

	// 7. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfigPerMinute(cfg.RateLimitGeneral))
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		Logger: slog.Default(),

		SlackSignature: middleware.SlackSignatureConfig{SigningSecret: cfg.SlackSigningSecret},
		RateLimiter:    rateLimiter,
		Metrics:        collector,
		MetricsHandler: metrics.Handler(registry),

		HealthChecker: db,

		InboxService: inboxService,
		BotIdentity:  botStore,
		Permalinks:   slackClient,
		RecentWindow: cfg.RecentWindow,
	}

	router := handler.NewRouter(deps)

	// 8. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、期限切れアイテムのスイープジョブを定期実行する。
// WORKER_METRICS_PORTが設定されていれば、スイープのメトリクスを/metricsで公開する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	// 2. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewCollector(registry)

	// 3. スイープジョブの初期化
	job := sweep.NewJob(repository.NewPostgresInboxItemRepo(db), collector, slog.Default())
	if cfg.SweepBatchSize > 0 {
		job.BatchSize = cfg.SweepBatchSize
	}

	var metricsLn net.Listener
	if cfg.WorkerMetricsPort != "" {
		metricsLn, err = net.Listen("tcp", ":"+cfg.WorkerMetricsPort)
		if err != nil {
			return fmt.Errorf("failed to listen for worker metrics: %w", err)
		}
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	slog.Info("worker starting",
		slog.Duration("sweep_interval", cfg.SweepInterval),
		slog.Int("batch_size", job.BatchSize),
		slog.String("metrics_port", cfg.WorkerMetricsPort),
	)

	if err := runSweepLoop(ctx, job, cfg.SweepInterval, registry, metricsLn); err != nil {
		return err
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runSweepLoop はctxがキャンセルされるまでスイープジョブを実行する。
// lnがnilでなければ、その間registryの内容を/metricsで公開し、終了時に停止する。
func runSweepLoop(ctx context.Context, job *sweep.Job, interval time.Duration, registry prometheus.Gatherer, ln net.Listener) error {
	var server *http.Server
	if ln != nil {
		server = &http.Server{
			Handler:           metrics.SetupMetricsRoute(registry),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			slog.Info("worker metrics server starting", slog.String("addr", ln.Addr().String()))
			if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("worker metrics server error", slog.String("error", err.Error()))
			}
		}()
	}

	// スイープジョブをメインgoroutineで実行（ブロッキング）
	job.Start(ctx, interval)

	if server == nil {
		return nil
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("worker metrics server shutdown failed: %w", err)
	}
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	st, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("version", uint64(st.Version)),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
