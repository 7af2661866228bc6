package middleware

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/walletgate/internal/auth"
	"github.com/hitoshi/walletgate/internal/flow"
	"github.com/hitoshi/walletgate/internal/model"
)

// --- モック定義 ---

type mockSessionRepository struct {
	findByIDFn func(ctx context.Context, id string) (*model.Session, error)
}

func (m *mockSessionRepository) FindByID(ctx context.Context, id string) (*model.Session, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

type mockPlatform struct{}

func (mockPlatform) SignOut(_ context.Context) error { return nil }

func (mockPlatform) CheckAvailable(_ context.Context) error { return nil }

func (mockPlatform) SignIn(_ context.Context, _ auth.Grant) (*model.ExternalIdentity, error) {
	return &model.ExternalIdentity{}, nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestFlowStore(t *testing.T) *flow.Store {
	t.Helper()
	s := flow.NewStore(flow.DefaultConfig(), mockPlatform{}, mockPlatform{}, discardLogger())
	t.Cleanup(s.Stop)
	return s
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponseBody {
	t.Helper()
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return body
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})
