package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/walletgate/internal/account"
	"github.com/hitoshi/walletgate/internal/auth"
	"github.com/hitoshi/walletgate/internal/backend"
	"github.com/hitoshi/walletgate/internal/dashboard"
	"github.com/hitoshi/walletgate/internal/flow"
	"github.com/hitoshi/walletgate/internal/middleware"
	"github.com/hitoshi/walletgate/internal/model"
	"github.com/hitoshi/walletgate/internal/permission"
	"github.com/hitoshi/walletgate/internal/record"
)

// --- モック定義 ---

// mockAuthService はAuthServiceInterfaceのモック実装。
type mockAuthService struct {
	signInWithGoogleFn func(ctx context.Context, control *auth.SignInControl, grant auth.Grant) (auth.Outcome, *model.Session, error)
	createSessionFn    func(ctx context.Context, user *model.User) (*model.Session, error)
	logoutFn           func(ctx context.Context, sessionID string) error
	getCurrentUserFn   func(ctx context.Context, sessionID string) (*model.User, error)
}

func (m *mockAuthService) SignInWithGoogle(ctx context.Context, control *auth.SignInControl, grant auth.Grant) (auth.Outcome, *model.Session, error) {
	if m.signInWithGoogleFn != nil {
		return m.signInWithGoogleFn(ctx, control, grant)
	}
	return auth.Outcome{}, nil, nil
}

func (m *mockAuthService) CreateSession(ctx context.Context, user *model.User) (*model.Session, error) {
	if m.createSessionFn != nil {
		return m.createSessionFn(ctx, user)
	}
	return &model.Session{ID: "session-" + user.ID, UserID: user.ID}, nil
}

func (m *mockAuthService) Logout(ctx context.Context, sessionID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

func (m *mockAuthService) GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if m.getCurrentUserFn != nil {
		return m.getCurrentUserFn(ctx, sessionID)
	}
	return nil, nil
}

// mockAccountBackend はaccount.Backendのモック実装。
// ハンドラーのテストでは本物のaccount.Serviceにこのモックを渡す。
type mockAccountBackend struct {
	requestOTPFn        func(ctx context.Context, email string) error
	verifyOTPFn         func(ctx context.Context, email, code string) (*backend.OTPVerification, error)
	findUserByEmailFn   func(ctx context.Context, email string) (*model.User, error)
	createUserFn        func(ctx context.Context, u *model.User) error
	authenticateEmailFn func(ctx context.Context, email, password string) (*backend.EmailAuthResult, error)
	changePasswordFn    func(ctx context.Context, email, newPassword string) error
}

func (m *mockAccountBackend) RequestOTP(ctx context.Context, email string) error {
	if m.requestOTPFn != nil {
		return m.requestOTPFn(ctx, email)
	}
	return nil
}

func (m *mockAccountBackend) VerifyOTP(ctx context.Context, email, code string) (*backend.OTPVerification, error) {
	if m.verifyOTPFn != nil {
		return m.verifyOTPFn(ctx, email, code)
	}
	return &backend.OTPVerification{Success: code == "123456"}, nil
}

func (m *mockAccountBackend) FindUserByEmail(ctx context.Context, email string) (*model.User, error) {
	if m.findUserByEmailFn != nil {
		return m.findUserByEmailFn(ctx, email)
	}
	return nil, nil
}

func (m *mockAccountBackend) GenerateUUID(_ context.Context) (string, error) {
	return "8a6e0804-2bd0-4672-b79d-d97027f9071a", nil
}

func (m *mockAccountBackend) CreateUser(ctx context.Context, u *model.User) error {
	if m.createUserFn != nil {
		return m.createUserFn(ctx, u)
	}
	return nil
}

func (m *mockAccountBackend) AuthenticateEmail(ctx context.Context, email, password string) (*backend.EmailAuthResult, error) {
	if m.authenticateEmailFn != nil {
		return m.authenticateEmailFn(ctx, email, password)
	}
	return &backend.EmailAuthResult{}, nil
}

func (m *mockAccountBackend) ChangePassword(ctx context.Context, email, newPassword string) error {
	if m.changePasswordFn != nil {
		return m.changePasswordFn(ctx, email, newPassword)
	}
	return nil
}

// mockHomeService はHomeServiceInterfaceのモック実装。
type mockHomeService struct {
	homeFn   func(ctx context.Context, user *model.User, mode string) (*dashboard.Home, error)
	recentFn func(ctx context.Context, userID string) ([]model.Transaction, error)
}

func (m *mockHomeService) Home(ctx context.Context, user *model.User, mode string) (*dashboard.Home, error) {
	if m.homeFn != nil {
		return m.homeFn(ctx, user, mode)
	}
	return &dashboard.Home{User: user}, nil
}

func (m *mockHomeService) Recent(ctx context.Context, userID string) ([]model.Transaction, error) {
	if m.recentFn != nil {
		return m.recentFn(ctx, userID)
	}
	return []model.Transaction{}, nil
}

// mockUserFinder はUserFinderのモック実装。
type mockUserFinder struct {
	findUserByEmailFn func(ctx context.Context, email string) (*model.User, error)
}

func (m *mockUserFinder) FindUserByEmail(ctx context.Context, email string) (*model.User, error) {
	if m.findUserByEmailFn != nil {
		return m.findUserByEmailFn(ctx, email)
	}
	return &model.User{ID: "user-1", Email: email}, nil
}

// mockRecordService はRecordServiceInterfaceのモック実装。
type mockRecordService struct {
	previewFn func(d record.Draft) (*record.Preview, error)
}

func (m *mockRecordService) Preview(d record.Draft) (*record.Preview, error) {
	if m.previewFn != nil {
		return m.previewFn(d)
	}
	return &record.Preview{Draft: d}, nil
}

// mockPermissionService はPermissionServiceInterfaceのモック実装。
type mockPermissionService struct {
	listFn func(ctx context.Context, userID string) []permission.Permission
}

func (m *mockPermissionService) List(ctx context.Context, userID string) []permission.Permission {
	if m.listFn != nil {
		return m.listFn(ctx, userID)
	}
	return []permission.Permission{}
}

// mockPlatform はauth.Platformのモック実装。
type mockPlatform struct{}

func (mockPlatform) SignOut(_ context.Context) error { return nil }

func (mockPlatform) CheckAvailable(_ context.Context) error { return nil }

func (mockPlatform) SignIn(_ context.Context, _ auth.Grant) (*model.ExternalIdentity, error) {
	return &model.ExternalIdentity{}, nil
}

// --- テストヘルパー ---

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestFlowStore(t *testing.T) *flow.Store {
	t.Helper()
	s := flow.NewStore(flow.DefaultConfig(), mockPlatform{}, mockPlatform{}, discardLogger())
	t.Cleanup(s.Stop)
	return s
}

func newTestAccountService(b *mockAccountBackend) *account.Service {
	return account.NewService(b, discardLogger())
}

// withIdentity はテスト用にリクエストコンテキストにログインユーザーを注入するヘルパー。
func withIdentity(r *http.Request, id middleware.Identity) *http.Request {
	return r.WithContext(middleware.ContextWithIdentity(r.Context(), id))
}

// withFlow はテスト用にリクエストコンテキストにフローを注入するヘルパー。
func withFlow(r *http.Request, f *flow.Flow) *http.Request {
	return r.WithContext(middleware.ContextWithFlow(r.Context(), f))
}

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var result map[string]string
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}

func findCookie(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}
