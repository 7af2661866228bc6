package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/hitoshi/walletgate/internal/model"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *bytes.Buffer) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	var buf bytes.Buffer
	return NewClient(server.Client(), newTestLogger(&buf), server.URL+"/", nil), &buf
}

type recordedCall struct {
	endpoint string
	status   int
}

type mockRecorder struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (m *mockRecorder) ObserveBackendRequest(endpoint string, status int, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, recordedCall{endpoint: endpoint, status: status})
}

func TestHTTPError_Error(t *testing.T) {
	err := &HTTPError{Status: 500, Body: "boom"}
	if err.Error() != "HTTP 500: boom" {
		t.Errorf("Error() = %q, want %q", err.Error(), "HTTP 500: boom")
	}
}

func TestIsNotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"404", &HTTPError{Status: 404}, true},
		{"wrapped 404", fmt.Errorf("lookup: %w", &HTTPError{Status: 404}), true},
		{"500", &HTTPError{Status: 500}, false},
		{"plain error", errors.New("network down"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsNotFound(tt.err); got != tt.want {
				t.Errorf("IsNotFound() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClient_GetUserByEmail_DecodesEnvelope(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		if r.URL.Path != "/user/medium/email" {
			t.Errorf("path = %s, want /user/medium/email", r.URL.Path)
		}
		if got := r.URL.Query().Get("user_id"); got != "a+b@x.com" {
			t.Errorf("user_id = %q, want %q", got, "a+b@x.com")
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"user":{"id":"u1","name":"Ali","pass":"secret","gmail":"a+b@x.com","net_amount":1500.5,"gmail_token":"g1","personal_id":"P-1"}}`)
	})

	u, err := c.GetUserByEmail(context.Background(), "a+b@x.com")
	if err != nil {
		t.Fatalf("GetUserByEmail returned error: %v", err)
	}
	if u.ID != "u1" || u.Email != "a+b@x.com" || u.Name != "Ali" {
		t.Errorf("user = %+v, want id u1 / email a+b@x.com / name Ali", u)
	}
	if !u.NetAmount.Equal(decimal.RequireFromString("1500.5")) {
		t.Errorf("NetAmount = %s, want 1500.5", u.NetAmount)
	}
	if !u.HasGoogleSubject() || *u.GoogleSubjectID != "g1" {
		t.Errorf("GoogleSubjectID = %v, want g1", u.GoogleSubjectID)
	}
	if u.PasswordOrSecret != "secret" {
		t.Errorf("PasswordOrSecret = %q, want secret", u.PasswordOrSecret)
	}
}

func TestClient_FindUserByGoogleID_NotFoundIsNil(t *testing.T) {
	c, logs := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "User not found", http.StatusNotFound)
	})

	u, err := c.FindUserByGoogleID(context.Background(), "g-unknown")
	if err != nil {
		t.Fatalf("FindUserByGoogleID returned error: %v", err)
	}
	if u != nil {
		t.Errorf("user = %+v, want nil", u)
	}
	if strings.Contains(logs.String(), `"level":"ERROR"`) {
		t.Errorf("404 lookup must not be logged at ERROR: %s", logs.String())
	}
}

func TestClient_FindUserByEmail_ServerErrorPropagates(t *testing.T) {
	c, logs := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, "db down")
	})

	u, err := c.FindUserByEmail(context.Background(), "a@x.com")
	if u != nil {
		t.Errorf("user = %+v, want nil", u)
	}
	var he *HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("err = %v, want *HTTPError", err)
	}
	if he.Status != 500 || he.Body != "db down" {
		t.Errorf("HTTPError = %+v, want 500 / db down", he)
	}
	if !strings.Contains(logs.String(), `"level":"ERROR"`) {
		t.Error("non-404 failure should be logged at ERROR")
	}
}

func TestClient_CreateUser_SendsNumericNetAmount(t *testing.T) {
	var body map[string]any
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/user/create" {
			t.Errorf("request = %s %s, want POST /user/create", r.Method, r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		fmt.Fprint(w, `{"message":"created"}`)
	})

	sub := "g2"
	err := c.CreateUser(context.Background(), &model.User{
		ID:               "550e8400-e29b-41d4-a716-446655440000",
		Name:             "New",
		Email:            "new@x.com",
		PasswordOrSecret: "g2",
		NetAmount:        decimal.Zero,
		GoogleSubjectID:  &sub,
	})
	if err != nil {
		t.Fatalf("CreateUser returned error: %v", err)
	}
	if body["pass"] != "g2" {
		t.Errorf("pass = %v, want g2", body["pass"])
	}
	if body["gmail"] != "new@x.com" {
		t.Errorf("gmail = %v, want new@x.com", body["gmail"])
	}
	if body["gmail_token"] != "g2" {
		t.Errorf("gmail_token = %v, want g2", body["gmail_token"])
	}
	if n, ok := body["net_amount"].(float64); !ok || n != 0 {
		t.Errorf("net_amount = %#v, want number 0", body["net_amount"])
	}
}

func TestClient_CreateUser_NullGmailToken(t *testing.T) {
	var raw []byte
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		buf.ReadFrom(r.Body)
		raw = buf.Bytes()
		w.WriteHeader(http.StatusCreated)
	})

	if err := c.CreateUser(context.Background(), &model.User{ID: "id", Email: "e@x.com"}); err != nil {
		t.Fatalf("CreateUser returned error: %v", err)
	}
	if !bytes.Contains(raw, []byte(`"gmail_token":null`)) {
		t.Errorf("body = %s, want gmail_token null", raw)
	}
}

func TestClient_GenerateUUID(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"uuid":"550E8400-E29B-41D4-A716-446655440000"}`)
		})
		id, err := c.GenerateUUID(context.Background())
		if err != nil {
			t.Fatalf("GenerateUUID returned error: %v", err)
		}
		if id != "550e8400-e29b-41d4-a716-446655440000" {
			t.Errorf("id = %q, want canonical lowercase form", id)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"uuid":"not-a-uuid"}`)
		})
		if _, err := c.GenerateUUID(context.Background()); err == nil {
			t.Error("GenerateUUID should reject a malformed uuid")
		}
	})
}

func TestClient_UpdateGmailToken_QueryParams(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if r.URL.Path != "/user/update-gmail-token" {
			t.Errorf("path = %s, want /user/update-gmail-token", r.URL.Path)
		}
		if q.Get("user_id") != "u1" || q.Get("gmail_token") != "g1" {
			t.Errorf("query = %v, want user_id=u1 gmail_token=g1", q)
		}
		fmt.Fprint(w, `{}`)
	})

	if err := c.UpdateGmailToken(context.Background(), "u1", "g1"); err != nil {
		t.Fatalf("UpdateGmailToken returned error: %v", err)
	}
}

func TestClient_VerifyOTP(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("otp_code") != "123456" {
			t.Errorf("otp_code = %q, want 123456", r.URL.Query().Get("otp_code"))
		}
		fmt.Fprint(w, `{"success":true,"user":{"id":"u1","gmail":"a@x.com"}}`)
	})

	res, err := c.VerifyOTP(context.Background(), "a@x.com", "123456")
	if err != nil {
		t.Fatalf("VerifyOTP returned error: %v", err)
	}
	if !res.Success {
		t.Error("Success = false, want true")
	}
	if res.User == nil || res.User.ID != "u1" {
		t.Errorf("User = %+v, want id u1", res.User)
	}
}

func TestClient_AuthenticateEmail_NotExists(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["email"] != "a@x.com" || body["password"] != "pw1234" {
			t.Errorf("body = %v", body)
		}
		fmt.Fprint(w, `{"exists":false}`)
	})

	res, err := c.AuthenticateEmail(context.Background(), "a@x.com", "pw1234")
	if err != nil {
		t.Fatalf("AuthenticateEmail returned error: %v", err)
	}
	if res.Exists || res.User != nil {
		t.Errorf("result = %+v, want exists=false and no user", res)
	}
}

func TestClient_RecentTransactions(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("limit") != "7" {
			t.Errorf("limit = %q, want 7", r.URL.Query().Get("limit"))
		}
		fmt.Fprint(w, `{"transactions":[{"id":"t1","category":"Shopping","amount":250,"is_income":false,"date":"2025-01-02"}]}`)
	})

	txs, err := c.RecentTransactions(context.Background(), "u1", 7)
	if err != nil {
		t.Fatalf("RecentTransactions returned error: %v", err)
	}
	if len(txs) != 1 || txs[0].ID != "t1" || !txs[0].Amount.Equal(decimal.NewFromInt(250)) {
		t.Errorf("transactions = %+v", txs)
	}
}

func TestClient_ConnectedWhatsAppPhones(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":true,"user_id":"u1","whatsapp_numbers":[{"number":"+923001234567"}]}`)
	})

	phones, err := c.ConnectedWhatsAppPhones(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ConnectedWhatsAppPhones returned error: %v", err)
	}
	if len(phones) != 1 || phones[0].Number != "+923001234567" || phones[0].UserID != "u1" {
		t.Errorf("phones = %+v", phones)
	}
}

func TestClient_ConnectedGmailAccounts_UnsuccessfulIsEmpty(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":false,"accounts":[{"id":"1","acc_id":"a@x.com"}]}`)
	})

	accounts, err := c.ConnectedGmailAccounts(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ConnectedGmailAccounts returned error: %v", err)
	}
	if len(accounts) != 0 {
		t.Errorf("len(accounts) = %d, want 0", len(accounts))
	}
}

func TestClient_GoogleAuth(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req GoogleAuthRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.ServerAuthCode != "code" || req.User.Email != "a@x.com" {
			t.Errorf("request = %+v", req)
		}
		fmt.Fprint(w, `{"refresh_access_token":"rt","access_token":"at"}`)
	})

	tokens, err := c.GoogleAuth(context.Background(), GoogleAuthRequest{
		IDToken:        "id",
		ServerAuthCode: "code",
		User:           GoogleUserInfo{ID: "g1", Email: "a@x.com"},
	})
	if err != nil {
		t.Fatalf("GoogleAuth returned error: %v", err)
	}
	if tokens.RefreshToken != "rt" || tokens.AccessToken != "at" {
		t.Errorf("tokens = %+v, want rt/at", tokens)
	}
}

func TestClient_DeleteGmailAccount(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("method = %s, want DELETE", r.Method)
		}
		if r.URL.Query().Get("acc_id") != "acc-1" {
			t.Errorf("acc_id = %q, want acc-1", r.URL.Query().Get("acc_id"))
		}
		fmt.Fprint(w, `{"success":true}`)
	})

	if err := c.DeleteGmailAccount(context.Background(), "acc-1"); err != nil {
		t.Fatalf("DeleteGmailAccount returned error: %v", err)
	}
}

func TestClient_Health(t *testing.T) {
	ok, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "OK")
	})
	if !ok.Health(context.Background()) {
		t.Error("Health() = false, want true for 200")
	}

	bad, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	if bad.Health(context.Background()) {
		t.Error("Health() = true, want false for 503")
	}

	var buf bytes.Buffer
	unreachable := NewClient(&http.Client{Timeout: time.Second}, newTestLogger(&buf), "http://127.0.0.1:1", nil)
	if unreachable.Health(context.Background()) {
		t.Error("Health() = true, want false when unreachable")
	}
}

func TestClient_RecorderObservesStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	rec := &mockRecorder{}
	var buf bytes.Buffer
	c := NewClient(server.Client(), newTestLogger(&buf), server.URL, rec)

	c.FindUserByEmail(context.Background(), "a@x.com")

	if len(rec.calls) != 1 {
		t.Fatalf("recorded calls = %d, want 1", len(rec.calls))
	}
	if rec.calls[0].endpoint != "user_by_email" || rec.calls[0].status != 404 {
		t.Errorf("recorded = %+v, want user_by_email/404", rec.calls[0])
	}
}
