package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/walletgate/internal/middleware"
	"github.com/hitoshi/walletgate/internal/model"
	"github.com/hitoshi/walletgate/internal/whatsapp"
)

// mockSessionFinder はmiddleware.SessionFinderのモック実装。
type mockSessionFinder struct {
	sessions map[string]*model.Session
}

func (m *mockSessionFinder) FindByID(_ context.Context, id string) (*model.Session, error) {
	return m.sessions[id], nil
}

type mockPinger struct{ err error }

func (m mockPinger) PingContext(_ context.Context) error { return m.err }

type mockBackendChecker struct{ up bool }

func (m mockBackendChecker) Health(_ context.Context) bool { return m.up }

const testCSRFToken = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func newTestRouterDeps(t *testing.T) *RouterDeps {
	t.Helper()

	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	return &RouterDeps{
		Logger: discardLogger(),
		SessionFinder: &mockSessionFinder{sessions: map[string]*model.Session{
			"valid-session": {ID: "valid-session", UserID: "user-1", Email: "ali@example.com"},
		}},
		FlowStore:      newTestFlowStore(t),
		FlowConfig:     middleware.FlowConfig{MaxAge: 900},
		RateLimiter:    rl,
		DB:             mockPinger{},
		Backend:        mockBackendChecker{up: true},
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.Write([]byte("# metrics")) }),

		AuthService:    &mockAuthService{},
		AccountService: newTestAccountService(&mockAccountBackend{}),
		AuthConfig:     AuthHandlerConfig{SessionMaxAge: 3600},

		HomeService:       &mockHomeService{},
		UserFinder:        &mockUserFinder{},
		RecordService:     &mockRecordService{},
		PermissionService: &mockPermissionService{},

		WhatsAppService: whatsapp.NewService(&mockWhatsAppBackend{}, discardLogger()),
		GmailService:    &mockGmailService{},
	}
}

// withCSRF はダブルサブミット用のCookieとヘッダーを設定する。
func withCSRF(r *http.Request) *http.Request {
	r.AddCookie(&http.Cookie{Name: "csrf_token", Value: testCSRFToken})
	r.Header.Set("X-CSRF-Token", testCSRFToken)
	return r
}

func withSession(r *http.Request) *http.Request {
	r.AddCookie(&http.Cookie{Name: middleware.SessionCookieName, Value: "valid-session"})
	return r
}

func TestRouter_Routes(t *testing.T) {
	router := NewRouter(newTestRouterDeps(t))

	tests := []struct {
		name       string
		req        func() *http.Request
		wantStatus int
	}{
		{
			name:       "health",
			req:        func() *http.Request { return httptest.NewRequest(http.MethodGet, "/health", nil) },
			wantStatus: http.StatusOK,
		},
		{
			name:       "metrics",
			req:        func() *http.Request { return httptest.NewRequest(http.MethodGet, "/metrics", nil) },
			wantStatus: http.StatusOK,
		},
		{
			name:       "csrf token",
			req:        func() *http.Request { return httptest.NewRequest(http.MethodGet, "/auth/csrf-token", nil) },
			wantStatus: http.StatusOK,
		},
		{
			name:       "me without session",
			req:        func() *http.Request { return httptest.NewRequest(http.MethodGet, "/auth/me", nil) },
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "api without session",
			req:        func() *http.Request { return httptest.NewRequest(http.MethodGet, "/api/home", nil) },
			wantStatus: http.StatusUnauthorized,
		},
		{
			name: "home with session",
			req: func() *http.Request {
				return withSession(httptest.NewRequest(http.MethodGet, "/api/home", nil))
			},
			wantStatus: http.StatusOK,
		},
		{
			name: "recent transactions",
			req: func() *http.Request {
				return withSession(httptest.NewRequest(http.MethodGet, "/api/transactions/recent", nil))
			},
			wantStatus: http.StatusOK,
		},
		{
			name: "permissions",
			req: func() *http.Request {
				return withSession(httptest.NewRequest(http.MethodGet, "/api/permissions", nil))
			},
			wantStatus: http.StatusOK,
		},
		{
			name: "whatsapp status",
			req: func() *http.Request {
				return withSession(httptest.NewRequest(http.MethodGet, "/api/integrations/whatsapp", nil))
			},
			wantStatus: http.StatusOK,
		},
		{
			name: "gmail delete",
			req: func() *http.Request {
				return withCSRF(withSession(httptest.NewRequest(http.MethodDelete, "/api/integrations/gmail/acc-1", nil)))
			},
			wantStatus: http.StatusNoContent,
		},
		{
			name: "login without csrf",
			req: func() *http.Request {
				return httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{}`))
			},
			wantStatus: http.StatusForbidden,
		},
		{
			name: "login with csrf reaches handler",
			req: func() *http.Request {
				return withCSRF(httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{}`)))
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "logout",
			req: func() *http.Request {
				return withCSRF(withSession(httptest.NewRequest(http.MethodPost, "/auth/logout", nil)))
			},
			wantStatus: http.StatusNoContent,
		},
		{
			name:       "unknown route",
			req:        func() *http.Request { return httptest.NewRequest(http.MethodGet, "/nope", nil) },
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, tt.req())

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d, body = %s", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}
}

func TestRouter_IssuesFlowCookieOnFlowRoutes(t *testing.T) {
	router := NewRouter(newTestRouterDeps(t))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, withCSRF(httptest.NewRequest(http.MethodPost, "/auth/signup", strings.NewReader(`{}`))))

	cookie := findCookie(w, middleware.FlowCookieName)
	if cookie == nil || cookie.Value == "" {
		t.Fatal("flow cookie should be issued")
	}
	if cookie.MaxAge != 900 {
		t.Errorf("flow cookie MaxAge = %d, want 900", cookie.MaxAge)
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers should be applied")
	}
}

func TestRouter_StatelessRoutesCreateNoFlow(t *testing.T) {
	deps := newTestRouterDeps(t)
	store := newTestFlowStore(t)
	deps.FlowStore = store
	router := NewRouter(deps)

	requests := []func() *http.Request{
		func() *http.Request { return httptest.NewRequest(http.MethodGet, "/health", nil) },
		func() *http.Request { return httptest.NewRequest(http.MethodGet, "/metrics", nil) },
		func() *http.Request { return httptest.NewRequest(http.MethodGet, "/auth/csrf-token", nil) },
		func() *http.Request {
			return withCSRF(httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{}`)))
		},
		func() *http.Request { return withSession(httptest.NewRequest(http.MethodGet, "/api/home", nil)) },
		func() *http.Request { return withSession(httptest.NewRequest(http.MethodGet, "/api/integrations/gmail", nil)) },
	}

	for i := 0; i < 50; i++ {
		for _, req := range requests {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req())
			if findCookie(w, middleware.FlowCookieName) != nil {
				t.Fatalf("%s should not issue a flow cookie", req().URL.Path)
			}
		}
	}

	if store.Len() != 0 {
		t.Errorf("store.Len() = %d, want 0", store.Len())
	}
}

func TestRouter_AuthRoutesRateLimitedPerIP(t *testing.T) {
	deps := newTestRouterDeps(t)
	rl := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(2, 5))
	t.Cleanup(rl.Stop)
	deps.RateLimiter = rl
	router := NewRouter(deps)

	send := func(remoteAddr string) int {
		req := withCSRF(httptest.NewRequest(http.MethodPost, "/auth/signup", strings.NewReader(`{}`)))
		req.RemoteAddr = remoteAddr
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	for i := 0; i < 2; i++ {
		if code := send("203.0.113.7:4000"); code == http.StatusTooManyRequests {
			t.Fatalf("request %d should not be limited", i+1)
		}
	}
	if code := send("203.0.113.7:4000"); code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", code, http.StatusTooManyRequests)
	}
	if code := send("198.51.100.2:4000"); code == http.StatusTooManyRequests {
		t.Error("another client should not be limited")
	}
}

func TestRouter_SignupFlowSharesStateAcrossRequests(t *testing.T) {
	router := NewRouter(newTestRouterDeps(t))

	body := `{"name":"Ali Khan","email":"ali@example.com","password":"secret1","confirmPassword":"secret1","acceptTerms":true}`
	w := httptest.NewRecorder()
	router.ServeHTTP(w, withCSRF(httptest.NewRequest(http.MethodPost, "/auth/signup", strings.NewReader(body))))
	if w.Code != http.StatusAccepted {
		t.Fatalf("signup status = %d, want %d, body = %s", w.Code, http.StatusAccepted, w.Body.String())
	}
	flowCookie := findCookie(w, middleware.FlowCookieName)
	if flowCookie == nil {
		t.Fatal("flow cookie should be issued")
	}

	// 同じフローでは送信済みのコードを検証できる
	req := withCSRF(httptest.NewRequest(http.MethodPost, "/auth/signup/verify", strings.NewReader(`{"code":"12"}`)))
	req.AddCookie(flowCookie)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if got := parseAPIErrorResponse(t, w)["code"]; got != model.ErrCodeOTPIncomplete {
		t.Errorf("same flow code = %q, want %q", got, model.ErrCodeOTPIncomplete)
	}

	// 別のフローでは送信前の扱いになる
	w = httptest.NewRecorder()
	router.ServeHTTP(w, withCSRF(httptest.NewRequest(http.MethodPost, "/auth/signup/verify", strings.NewReader(`{"code":"123456"}`))))
	if got := parseAPIErrorResponse(t, w)["code"]; got != model.ErrCodeOTPNotRequested {
		t.Errorf("new flow code = %q, want %q", got, model.ErrCodeOTPNotRequested)
	}
}

func TestHealthHandler(t *testing.T) {
	tests := []struct {
		name        string
		db          DBPinger
		backend     BackendChecker
		wantStatus  int
		wantOverall string
	}{
		{name: "all up", db: mockPinger{}, backend: mockBackendChecker{up: true}, wantStatus: http.StatusOK, wantOverall: "ok"},
		{name: "backend down", db: mockPinger{}, backend: mockBackendChecker{up: false}, wantStatus: http.StatusOK, wantOverall: "degraded"},
		{name: "database down", db: mockPinger{err: errors.New("refused")}, backend: mockBackendChecker{up: true}, wantStatus: http.StatusServiceUnavailable, wantOverall: "unavailable"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			NewHealthHandler(tt.db, tt.backend)(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			var resp healthResponse
			json.NewDecoder(w.Body).Decode(&resp)
			if resp.Status != tt.wantOverall {
				t.Errorf("status field = %q, want %q", resp.Status, tt.wantOverall)
			}
		})
	}
}
