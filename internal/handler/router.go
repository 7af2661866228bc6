package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/walletgate/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	SessionFinder     middleware.SessionFinder
	FlowStore         middleware.FlowStore
	FlowConfig        middleware.FlowConfig
	CSRFConfig        middleware.CSRFConfig
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// ヘルスチェック・メトリクス
	DB             DBPinger
	Backend        BackendChecker
	MetricsHandler http.Handler

	// 認証
	AuthService    AuthServiceInterface
	AccountService AccountServiceInterface
	AuthConfig     AuthHandlerConfig

	// 画面
	HomeService       HomeServiceInterface
	UserFinder        UserFinder
	RecordService     RecordServiceInterface
	PermissionService PermissionServiceInterface

	// 連携
	WhatsAppService WhatsAppServiceInterface
	GmailService    GmailServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → RequestID → Logging → SecurityHeaders → CORS → CSRF
//	  /auth/*: → RateLimit(Public)
//	    画面フローを使うルート: → Flow
//	  /api/*: → Session → RateLimit(General)
//	    WhatsApp連携・Gmail連携の開始: → Flow
//
// フローは画面の状態を持つルートでだけ作る。OTPを送信するルートには
// フロー単位のRateLimit(OTP)を追加する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(chimw.RequestID)
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

	authHandler := NewAuthHandler(deps.AuthService, deps.AccountService, deps.AuthConfig)
	homeHandler := NewHomeHandler(deps.HomeService, deps.UserFinder)
	recordHandler := NewRecordHandler(deps.RecordService)
	permissionHandler := NewPermissionHandler(deps.PermissionService)
	integrationHandler := NewIntegrationHandler(deps.WhatsAppService, deps.GmailService)

	withFlow := middleware.NewFlowMiddleware(deps.FlowStore, deps.FlowConfig)
	otpLimit := deps.RateLimiter.OTPMiddleware()

	// --- 認証不要のルート ---

	r.Get("/health", NewHealthHandler(deps.DB, deps.Backend))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	r.Route("/auth", func(r chi.Router) {
		r.Use(deps.RateLimiter.PublicMiddleware())

		r.Get("/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig).ServeHTTP)
		r.Post("/login", authHandler.Login)
		r.Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)

		r.Group(func(r chi.Router) {
			r.Use(withFlow)

			r.Post("/google", authHandler.Google)

			r.With(otpLimit).Post("/signup", authHandler.Signup)
			r.Post("/signup/verify", authHandler.SignupVerify)
			r.With(otpLimit).Post("/signup/resend", authHandler.SignupResend)

			r.With(otpLimit).Post("/password/forgot", authHandler.PasswordForgot)
			r.Post("/password/verify", authHandler.PasswordVerify)
			r.With(otpLimit).Post("/password/resend", authHandler.PasswordResend)
			r.Post("/password/change", authHandler.PasswordChange)
		})
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Session → RateLimit(General)
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Get("/home", homeHandler.Home)
		r.Get("/transactions/recent", homeHandler.RecentTransactions)
		r.Post("/records/preview", recordHandler.Preview)
		r.Get("/permissions", permissionHandler.List)

		r.Route("/integrations/whatsapp", func(r chi.Router) {
			r.Use(withFlow)

			r.Get("/", integrationHandler.WhatsApp)
			r.With(otpLimit).Post("/otp", integrationHandler.WhatsAppOTP)
			r.Post("/verify", integrationHandler.WhatsAppVerify)
		})

		r.Route("/integrations/gmail", func(r chi.Router) {
			r.Get("/", integrationHandler.GmailAccounts)
			r.With(withFlow).Post("/", integrationHandler.GmailLink)
			r.Put("/{accID}/tokens", integrationHandler.GmailUpdateTokens)
			r.Delete("/{accID}", integrationHandler.GmailDelete)
		})
	})

	return r
}
