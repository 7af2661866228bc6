package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/walletgate/internal/permission"
)

// PermissionServiceInterface は権限一覧ハンドラーが必要とするサービスインターフェース。
type PermissionServiceInterface interface {
	List(ctx context.Context, userID string) []permission.Permission
}

// PermissionHandler は権限管理画面のHTTPハンドラー。
type PermissionHandler struct {
	service PermissionServiceInterface
}

// NewPermissionHandler はPermissionHandlerを生成する。
func NewPermissionHandler(service PermissionServiceInterface) *PermissionHandler {
	return &PermissionHandler{service: service}
}

// List は連携状況つきの権限一覧を返す。
// GET /api/permissions
func (h *PermissionHandler) List(w http.ResponseWriter, r *http.Request) {
	id, ok := identityOrUnauthorized(w, r)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, map[string][]permission.Permission{
		"permissions": h.service.List(r.Context(), id.UserID),
	})
}
