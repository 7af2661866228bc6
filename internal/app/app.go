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

	"github.com/hitoshi/walletgate/internal/account"
	"github.com/hitoshi/walletgate/internal/auth"
	"github.com/hitoshi/walletgate/internal/backend"
	"github.com/hitoshi/walletgate/internal/config"
	"github.com/hitoshi/walletgate/internal/dashboard"
	"github.com/hitoshi/walletgate/internal/database"
	"github.com/hitoshi/walletgate/internal/flow"
	"github.com/hitoshi/walletgate/internal/gmail"
	"github.com/hitoshi/walletgate/internal/handler"
	"github.com/hitoshi/walletgate/internal/logger"
	"github.com/hitoshi/walletgate/internal/metrics"
	"github.com/hitoshi/walletgate/internal/middleware"
	"github.com/hitoshi/walletgate/internal/otp"
	"github.com/hitoshi/walletgate/internal/permission"
	"github.com/hitoshi/walletgate/internal/record"
	"github.com/hitoshi/walletgate/internal/repository"
	"github.com/hitoshi/walletgate/internal/security"
	"github.com/hitoshi/walletgate/internal/whatsapp"
	"github.com/hitoshi/walletgate/internal/worker/cleanup"
)

// cleanupInterval はセッションクリーンアップジョブの実行間隔。
const cleanupInterval = 24 * time.Hour

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, os.Getenv("LOG_LEVEL"))

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	// .env で LOG_LEVEL が与えられた場合に反映する
	logger.SetupDefault(w, cfg.LogLevel)

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

// newBackendClient はタイムアウト付きのバックエンドクライアントを生成する。
func newBackendClient(cfg *config.Config, collector *metrics.Collector) *backend.Client {
	return backend.NewClient(
		&http.Client{Timeout: cfg.BackendTimeout},
		slog.Default(),
		cfg.BackendBaseURL,
		collector,
	)
}

// runServe はAPIサーバーモードで起動する。
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

	// 2. リポジトリ・メトリクス・バックエンドクライアントの初期化
	sessionRepo := repository.NewPostgresSessionRepo(db)
	collector := metrics.NewCollector(prometheus.DefaultRegisterer)
	client := newBackendClient(cfg, collector)

	// 3. サインインプロバイダーの初期化
	oauthConfig := auth.GoogleOAuthConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	}
	signInPlatform := auth.NewGooglePlatform(oauthConfig, slog.Default())
	gmailConfig := oauthConfig
	gmailConfig.IncludeGmail = true
	gmailPlatform := auth.NewGooglePlatform(gmailConfig, slog.Default())

	// 4. ドメインサービスの初期化
	otpOpts := []otp.Option{
		otp.WithCooldown(cfg.OTPResendCooldown),
		otp.WithRecorder(collector),
	}

	resolver := auth.NewResolver(client, slog.Default(), collector)
	authService := auth.NewService(resolver, client, sessionRepo,
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
	)
	accountService := account.NewService(client, slog.Default(), otpOpts...)
	whatsAppService := whatsapp.NewService(client, slog.Default(), otpOpts...)
	gmailService := gmail.NewService(client, slog.Default())

	sanitizer := security.NewTextSanitizer()
	permissionService := permission.NewService(client, slog.Default())
	dashboardService := dashboard.NewService(client, permissionService, sanitizer, slog.Default())
	recordService := record.NewService(sanitizer)

	// 5. 画面フローとレート制限
	flowStore := flow.NewStore(flow.Config{
		TTL:             cfg.FlowTTL,
		CleanupInterval: time.Minute,
	}, signInPlatform, gmailPlatform, slog.Default())
	defer flowStore.Stop()

	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitOTP),
	)
	defer rateLimiter.Stop()

	// 6. ルーターの構築
	deps := &handler.RouterDeps{
		Logger:        slog.Default(),
		SessionFinder: sessionRepo,
		FlowStore:     flowStore,
		FlowConfig: middleware.FlowConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
			MaxAge:       int(cfg.FlowTTL / time.Second),
		},
		CSRFConfig: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,

		DB:             db,
		Backend:        client,
		MetricsHandler: metrics.Handler(prometheus.DefaultGatherer),

		AuthService:    authService,
		AccountService: accountService,
		AuthConfig: handler.AuthHandlerConfig{
			CookieDomain:  cfg.CookieDomain,
			CookieSecure:  cfg.CookieSecure,
			SessionMaxAge: cfg.SessionMaxAge,
		},

		HomeService:       dashboardService,
		UserFinder:        client,
		RecordService:     recordService,
		PermissionService: permissionService,

		WhatsAppService: whatsAppService,
		GmailService:    gmailService,
	}

	router := handler.NewRouter(deps)

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return serveUntilSignal(server, "API server")
}

// serveUntilSignal はサーバーを起動し、SIGINTまたはSIGTERMでグレースフルシャットダウンする。
func serveUntilSignal(server *http.Server, name string) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info(name+" starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down " + name + "...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info(name + " stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 期限切れセッションのクリーンアップと、バックエンド・インターネット接続の監視を行う。
// 監視結果は /metrics で公開する。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. メトリクスと監視対象の初期化
	collector := metrics.NewCollector(prometheus.DefaultRegisterer)
	client := newBackendClient(cfg, collector)

	probe, err := security.NewConnectivityProbe(cfg.ConnectivityProbeURL, cfg.BackendTimeout)
	if err != nil {
		return fmt.Errorf("invalid connectivity probe url: %w", err)
	}

	cleanupJob := cleanup.NewCleanupJob(db, slog.Default())

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	slog.Info("worker starting",
		slog.Duration("cleanup_interval", cleanupInterval),
		slog.Duration("health_probe_interval", cfg.HealthProbeInterval),
	)

	// 3. クリーンアップジョブを日次でバックグラウンド実行
	go runEvery(ctx, cleanupInterval, func(ctx context.Context) {
		if err := cleanupJob.Run(ctx); err != nil {
			slog.Error("cleanup job failed", slog.String("error", err.Error()))
		}
	})

	// 4. 接続状況の監視
	go runEvery(ctx, cfg.HealthProbeInterval, func(ctx context.Context) {
		probeHealth(ctx, client, probe, collector)
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      metrics.SetupMetricsRoute(prometheus.DefaultGatherer),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	return serveUntilSignal(server, "worker")
}

// BackendProber はバックエンドの疎通を確認する。
type BackendProber interface {
	Health(ctx context.Context) bool
}

// InternetProber はインターネットへの到達性を確認する。
type InternetProber interface {
	Reachable(ctx context.Context) bool
}

// HealthRecorder は監視結果を記録する。
type HealthRecorder interface {
	SetBackendUp(up bool)
	SetInternetReachable(reachable bool)
}

// probeHealth はバックエンドとインターネットの疎通を1回確認して記録する。
// 到達できなくなった場合のみ警告を出す。
func probeHealth(ctx context.Context, b BackendProber, inet InternetProber, rec HealthRecorder) {
	up := b.Health(ctx)
	rec.SetBackendUp(up)
	if !up {
		slog.Warn("backend health check failed")
	}

	reachable := inet.Reachable(ctx)
	rec.SetInternetReachable(reachable)
	if !reachable {
		slog.Warn("internet connectivity probe failed")
	}
}

// runEvery は起動直後に1回、その後 interval ごとに fn を実行する。
// ctx がキャンセルされると戻る。interval が0以下の場合は1回だけ実行して戻る。
func runEvery(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) {
	fn(ctx)
	if interval <= 0 {
		slog.Warn("non-positive interval, periodic run disabled", slog.Duration("interval", interval))
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
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

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
