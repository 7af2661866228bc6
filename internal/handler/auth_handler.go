package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/walletgate/internal/account"
	"github.com/hitoshi/walletgate/internal/auth"
	"github.com/hitoshi/walletgate/internal/flow"
	"github.com/hitoshi/walletgate/internal/middleware"
	"github.com/hitoshi/walletgate/internal/model"
	"github.com/hitoshi/walletgate/internal/otp"
)

// AuthServiceInterface は認証ハンドラーが必要とするセッション関連のサービスインターフェース。
type AuthServiceInterface interface {
	SignInWithGoogle(ctx context.Context, control *auth.SignInControl, grant auth.Grant) (auth.Outcome, *model.Session, error)
	CreateSession(ctx context.Context, user *model.User) (*model.Session, error)
	Logout(ctx context.Context, sessionID string) error
	GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error)
}

// AccountServiceInterface はメールアドレスによるアカウント操作のサービスインターフェース。
type AccountServiceInterface interface {
	StartSignup(ctx context.Context, form account.SignupForm) (*account.Signup, error)
	CompleteSignup(ctx context.Context, signup *account.Signup, code string) (*model.User, error)
	Login(ctx context.Context, form account.LoginForm) (*model.User, error)
	StartReset(ctx context.Context, form account.ResetForm) (*account.Reset, error)
	VerifyReset(ctx context.Context, reset *account.Reset, code string) error
	ChangePassword(ctx context.Context, reset *account.Reset, form account.PasswordChangeForm) error
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	CookieDomain  string
	CookieSecure  bool
	SessionMaxAge int // セッションCookieの有効期間（秒）
}

// AuthHandler はサインイン・サインアップ・パスワード再設定のHTTPハンドラー。
type AuthHandler struct {
	service  AuthServiceInterface
	accounts AccountServiceInterface
	config   AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, accounts AccountServiceInterface, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service:  service,
		accounts: accounts,
		config:   config,
	}
}

// otpRequest はOTP検証リクエストのボディ。
// code の代わりに入力欄ごとの digits を送ってもよい。
type otpRequest struct {
	Code   string   `json:"code"`
	Digits []string `json:"digits"`
}

func (req otpRequest) code() string {
	if req.Code == "" && len(req.Digits) > 0 {
		return otp.EntryFromDigits(req.Digits).Code()
	}
	return req.Code
}

// otpSentResponse はOTP送信後のレスポンス。
type otpSentResponse struct {
	Destination string `json:"destination"`
	ResendIn    int    `json:"resendIn"`
}

// userResponse はサインイン後に返すユーザー情報。
type userResponse struct {
	User *model.User `json:"user"`
}

// Google はGoogleサインインを処理する。
// POST /auth/google
//
// 解決の失敗は 200 で {error: true, errorDetails} を返す。
func (h *AuthHandler) Google(w http.ResponseWriter, r *http.Request) {
	f, ok := flowOrBadRequest(w, r)
	if !ok {
		return
	}

	var grant auth.Grant
	if !decodeJSON(w, r, &grant) {
		return
	}

	outcome, session, err := h.service.SignInWithGoogle(r.Context(), f.SignIn(), grant)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if !outcome.OK() {
		slog.Warn("identity resolution failed",
			slog.String("kind", outcome.Err.Kind),
			slog.String("flow_id", f.ID()),
		)
		writeJSON(w, http.StatusOK, outcome.Failure())
		return
	}

	h.setSessionCookie(w, session)
	writeJSON(w, http.StatusOK, outcome.Result)
}

// Login はメールアドレスとパスワードでログインする。
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var form account.LoginForm
	if !decodeJSON(w, r, &form) {
		return
	}

	user, err := h.accounts.Login(r.Context(), form)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	h.startSession(w, r, user, http.StatusOK)
}

// Signup はサインアップフォームを受け付け、確認コードを送信する。
// POST /auth/signup
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	f, ok := flowOrBadRequest(w, r)
	if !ok {
		return
	}

	var form account.SignupForm
	if !decodeJSON(w, r, &form) {
		return
	}

	signup, err := h.accounts.StartSignup(r.Context(), form)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	f.SetSignup(signup)

	writeJSON(w, http.StatusAccepted, otpSentResponse{
		Destination: signup.Email(),
		ResendIn:    signup.Challenge().Cooldown(),
	})
}

// SignupVerify は確認コードを検証し、アカウントを作成してログインする。
// POST /auth/signup/verify
func (h *AuthHandler) SignupVerify(w http.ResponseWriter, r *http.Request) {
	f, ok := flowOrBadRequest(w, r)
	if !ok {
		return
	}

	var req otpRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	signup := f.Signup()
	if signup == nil {
		handleServiceError(w, otp.ErrNotRequested)
		return
	}

	user, err := h.accounts.CompleteSignup(r.Context(), signup, req.code())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	f.SetSignup(nil)

	h.startSession(w, r, user, http.StatusCreated)
}

// SignupResend は確認コードを再送する。
// POST /auth/signup/resend
func (h *AuthHandler) SignupResend(w http.ResponseWriter, r *http.Request) {
	f, ok := flowOrBadRequest(w, r)
	if !ok {
		return
	}

	signup := f.Signup()
	if signup == nil {
		handleServiceError(w, otp.ErrNotRequested)
		return
	}
	h.resend(w, r, signup.Challenge())
}

// PasswordForgot はパスワード再設定を開始し、確認コードを送信する。
// POST /auth/password/forgot
func (h *AuthHandler) PasswordForgot(w http.ResponseWriter, r *http.Request) {
	f, ok := flowOrBadRequest(w, r)
	if !ok {
		return
	}

	var form account.ResetForm
	if !decodeJSON(w, r, &form) {
		return
	}

	reset, err := h.accounts.StartReset(r.Context(), form)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	f.SetReset(reset)

	writeJSON(w, http.StatusAccepted, otpSentResponse{
		Destination: reset.Email(),
		ResendIn:    reset.Challenge().Cooldown(),
	})
}

// PasswordVerify はパスワード再設定の確認コードを検証する。
// POST /auth/password/verify
func (h *AuthHandler) PasswordVerify(w http.ResponseWriter, r *http.Request) {
	f, ok := flowOrBadRequest(w, r)
	if !ok {
		return
	}

	var req otpRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	reset := f.Reset()
	if reset == nil {
		handleServiceError(w, otp.ErrNotRequested)
		return
	}

	if err := h.accounts.VerifyReset(r.Context(), reset, req.code()); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"verified": true})
}

// PasswordResend はパスワード再設定の確認コードを再送する。
// POST /auth/password/resend
func (h *AuthHandler) PasswordResend(w http.ResponseWriter, r *http.Request) {
	f, ok := flowOrBadRequest(w, r)
	if !ok {
		return
	}

	reset := f.Reset()
	if reset == nil {
		handleServiceError(w, otp.ErrNotRequested)
		return
	}
	h.resend(w, r, reset.Challenge())
}

// PasswordChange は検証済みの再設定で新しいパスワードを設定する。
// POST /auth/password/change
func (h *AuthHandler) PasswordChange(w http.ResponseWriter, r *http.Request) {
	f, ok := flowOrBadRequest(w, r)
	if !ok {
		return
	}

	var form account.PasswordChangeForm
	if !decodeJSON(w, r, &form) {
		return
	}

	reset := f.Reset()
	if reset == nil {
		handleServiceError(w, model.NewNotVerifiedError())
		return
	}

	if err := h.accounts.ChangePassword(r.Context(), reset, form); err != nil {
		handleServiceError(w, err)
		return
	}
	f.SetReset(nil)

	w.WriteHeader(http.StatusNoContent)
}

// Logout はセッションを破棄する。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err == nil && cookie.Value != "" {
		if logoutErr := h.service.Logout(r.Context(), cookie.Value); logoutErr != nil {
			slog.Error("failed to logout", slog.String("error", logoutErr.Error()))
			// ログアウト失敗してもCookieはクリアする
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	w.WriteHeader(http.StatusNoContent)
}

// Me は現在のログインユーザー情報を返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(middleware.SessionCookieName)
	if err != nil || cookie.Value == "" {
		middleware.WriteUnauthorized(w)
		return
	}

	user, err := h.service.GetCurrentUser(r.Context(), cookie.Value)
	if err != nil {
		if errors.Is(err, auth.ErrSessionNotFound) {
			middleware.WriteUnauthorized(w)
			return
		}
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, userResponse{User: user})
}

func (h *AuthHandler) resend(w http.ResponseWriter, r *http.Request, ch *otp.Challenge) {
	if err := ch.Send(r.Context()); err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, otpSentResponse{
		Destination: ch.Destination(),
		ResendIn:    ch.Cooldown(),
	})
}

// startSession はユーザーのセッションを発行してCookieを設定する。
func (h *AuthHandler) startSession(w http.ResponseWriter, r *http.Request, user *model.User, statusCode int) {
	session, err := h.service.CreateSession(r.Context(), user)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	h.setSessionCookie(w, session)
	writeJSON(w, statusCode, userResponse{User: user})
}

func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, session *model.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookieName,
		Value:    session.ID,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   h.config.SessionMaxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// flowOrBadRequest はリクエストのフローを返す。FlowMiddlewareを通っていなければ400を書き込む。
func flowOrBadRequest(w http.ResponseWriter, r *http.Request) (*flow.Flow, bool) {
	f, ok := middleware.FlowFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewFlowNotFoundError())
		return nil, false
	}
	return f, true
}
