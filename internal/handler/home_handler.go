package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/walletgate/internal/dashboard"
	"github.com/hitoshi/walletgate/internal/model"
)

// HomeServiceInterface はホーム画面ハンドラーが必要とするサービスインターフェース。
type HomeServiceInterface interface {
	Home(ctx context.Context, user *model.User, mode string) (*dashboard.Home, error)
	Recent(ctx context.Context, userID string) ([]model.Transaction, error)
}

// UserFinder はセッションのユーザーをバックエンドから取得する。
// 見つからない場合は nil, nil を返す。
type UserFinder interface {
	FindUserByEmail(ctx context.Context, email string) (*model.User, error)
}

// HomeHandler はホーム画面のHTTPハンドラー。
type HomeHandler struct {
	service HomeServiceInterface
	users   UserFinder
}

// NewHomeHandler はHomeHandlerを生成する。
func NewHomeHandler(service HomeServiceInterface, users UserFinder) *HomeHandler {
	return &HomeHandler{service: service, users: users}
}

// Home はホーム画面のデータを返す。
// GET /api/home?mode=both|income|expense
func (h *HomeHandler) Home(w http.ResponseWriter, r *http.Request) {
	id, ok := identityOrUnauthorized(w, r)
	if !ok {
		return
	}

	user, err := h.users.FindUserByEmail(r.Context(), id.Email)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if user == nil {
		// バックエンドからユーザーが消えている
		handleServiceError(w, model.NewUserNotFoundError())
		return
	}

	home, err := h.service.Home(r.Context(), user, r.URL.Query().Get("mode"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, home)
}

// RecentTransactions は直近の取引を返す。
// GET /api/transactions/recent
func (h *HomeHandler) RecentTransactions(w http.ResponseWriter, r *http.Request) {
	id, ok := identityOrUnauthorized(w, r)
	if !ok {
		return
	}

	txs, err := h.service.Recent(r.Context(), id.UserID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string][]model.Transaction{"transactions": txs})
}
