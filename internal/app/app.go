// Package app はアプリケーションの起動と依存関係のワイヤリングを提供する。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/chewtoys/kentcdodds.com/internal/account"
	"github.com/chewtoys/kentcdodds.com/internal/auth"
	"github.com/chewtoys/kentcdodds.com/internal/config"
	"github.com/chewtoys/kentcdodds.com/internal/database"
	"github.com/chewtoys/kentcdodds.com/internal/handler"
	"github.com/chewtoys/kentcdodds.com/internal/logger"
	"github.com/chewtoys/kentcdodds.com/internal/magiclink"
	"github.com/chewtoys/kentcdodds.com/internal/mail"
	"github.com/chewtoys/kentcdodds.com/internal/metrics"
	"github.com/chewtoys/kentcdodds.com/internal/middleware"
	"github.com/chewtoys/kentcdodds.com/internal/repository"
	"github.com/chewtoys/kentcdodds.com/internal/security"
	"github.com/chewtoys/kentcdodds.com/internal/session"
	"github.com/chewtoys/kentcdodds.com/internal/userinfo"
	"github.com/chewtoys/kentcdodds.com/internal/worker/cleanup"
)

// sessionCleanupInterval は期限切れセッション削除ジョブの実行間隔。
const sessionCleanupInterval = time.Hour

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込み前にログを使えるようにする
	logger.SetupDefault(w)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

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
		slog.String("base_url", cfg.BaseURL),
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

// runServe はWebサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	userRepo := repository.NewPostgresUserRepo(db)
	sessionRepo := repository.NewPostgresSessionRepo(db)
	postReadRepo := repository.NewPostgresPostReadRepo(db)

	// 3. セキュリティサービスと外部サービスクライアントの初期化
	ssrfGuard := security.NewSSRFGuard()
	gravatar := userinfo.NewGravatarChecker(
		ssrfGuard.NewSafeClient(10*time.Second),
		slog.Default(),
		cfg.UserInfoCacheTTL,
	)
	discord := userinfo.NewDiscordClient(
		ssrfGuard.NewSafeClient(10*time.Second),
		slog.Default(),
		cfg.DiscordBotToken,
		cfg.UserInfoCacheTTL,
	)
	kit := userinfo.NewKitCache(slog.Default(), cfg.UserInfoCacheTTL)

	// 4. マジックリンクとセッションコーデックの初期化
	magicLinks := magiclink.NewService(magiclink.Config{
		Secret:  cfg.MagicLinkSecret,
		MaxAge:  cfg.MagicLinkMaxAge,
		BaseURL: cfg.BaseURL,
	})
	codec := session.NewCodec(session.Config{
		Secret:       cfg.SessionSecret,
		CookieSecure: cfg.CookieSecure,
		CookieDomain: cfg.CookieDomain,
	})

	// 5. メール送信の初期化
	mailer, err := mail.NewMailer(
		mail.Config{
			From:     cfg.MailFrom,
			SiteName: cfg.SiteName,
			BaseURL:  cfg.BaseURL,
		},
		mail.NewSMTPSender(mail.SMTPConfig{
			Host: cfg.SMTPHost,
			Port: cfg.SMTPPort,
			User: cfg.SMTPUser,
			Pass: cfg.SMTPPass,
		}),
		slog.Default(),
	)
	if err != nil {
		return fmt.Errorf("failed to initialize mailer: %w", err)
	}

	// 6. ドメインサービスの初期化
	authService := auth.NewService(
		magicLinks, userRepo, sessionRepo, postReadRepo,
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
	)
	accountService := account.NewService(userRepo, sessionRepo, gravatar, discord, kit)

	// 7. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 8. レート制限の初期化（req/min -> req/sec に変換）
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	if cfg.RateLimitGeneral > 0 {
		rateLimiterCfg.GeneralRate = rateLimitPerSecond(cfg.RateLimitGeneral)
		rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral
	}
	if cfg.RateLimitMagicLink > 0 {
		rateLimiterCfg.MagicLinkRate = rateLimitPerSecond(cfg.RateLimitMagicLink)
		rateLimiterCfg.MagicLinkBurst = cfg.RateLimitMagicLink
	}
	rateLimiter := middleware.NewRateLimiter(rateLimiterCfg)
	defer rateLimiter.Stop()

	// 9. ルーターの構築
	deps := &handler.RouterDeps{
		Logger:        slog.Default(),
		SessionFinder: sessionRepo,
		UserFinder:    userRepo,
		RateLimiter:   rateLimiter,

		AuthService:    authService,
		AccountService: accountService,
		Users:          userRepo,
		SessionCounter: sessionRepo,
		PostReads:      postReadRepo,
		LinkGenerator:  magicLinks,
		Mailer:         mailer,
		SessionCodec:   codec,

		Metrics:         collector,
		MetricsGatherer: registry,

		DB: db,

		MagicConfig: handler.MagicHandlerConfig{
			BaseURL:       cfg.BaseURL,
			SessionMaxAge: cfg.SessionMaxAge,
			CookieSecure:  cfg.CookieSecure,
			CookieDomain:  cfg.CookieDomain,
		},
		MeConfig: handler.MeHandlerConfig{
			CookieSecure:    cfg.CookieSecure,
			CookieDomain:    cfg.CookieDomain,
			MagicLinkMaxAge: cfg.MagicLinkMaxAge,
		},
	}

	router := handler.NewRouter(deps)

	// 10. HTTPサーバーの起動
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
		slog.Info("web server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down web server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("web server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、期限切れセッションの削除ジョブを定期実行する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	cleanupJob := cleanup.NewCleanupJob(db, slog.Default())

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", sessionCleanupInterval),
	)

	// 起動直後に1回実行
	if err := cleanupJob.Run(ctx); err != nil {
		slog.Error("cleanup job failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(sessionCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("worker stopped gracefully")
			return nil
		case <-ticker.C:
			if err := cleanupJob.Run(ctx); err != nil {
				slog.Error("cleanup job failed", slog.String("error", err.Error()))
			}
		}
	}
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
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

// rateLimitPerSecond はreq/min設定をrate.Limit（req/sec）に変換する。
func rateLimitPerSecond(perMinute int) rate.Limit {
	return rate.Limit(float64(perMinute) / 60.0)
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
