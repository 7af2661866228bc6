package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// healthCheckTimeout は依存先の確認に使う時間の上限。
const healthCheckTimeout = 3 * time.Second

// DBPinger はデータベースの疎通を確認する。*sql.DB が実装する。
type DBPinger interface {
	PingContext(ctx context.Context) error
}

// BackendChecker はバックエンドの疎通を確認する。backend.Client が実装する。
type BackendChecker interface {
	Health(ctx context.Context) bool
}

// healthResponse はヘルスチェックのレスポンス。
type healthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Backend  string `json:"backend"`
}

// NewHealthHandler はヘルスチェックのハンドラーを返す。
// データベースに接続できなければ503を返す。バックエンドの停止は degraded として報告する。
func NewHealthHandler(db DBPinger, backend BackendChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
		defer cancel()

		resp := healthResponse{Status: "ok", Database: "ok", Backend: "ok"}
		statusCode := http.StatusOK

		if db != nil {
			if err := db.PingContext(ctx); err != nil {
				slog.Error("health check: database unreachable", slog.String("error", err.Error()))
				resp.Status = "unavailable"
				resp.Database = "unreachable"
				statusCode = http.StatusServiceUnavailable
			}
		}
		if backend != nil && !backend.Health(ctx) {
			resp.Backend = "unreachable"
			if statusCode == http.StatusOK {
				resp.Status = "degraded"
			}
		}

		writeJSON(w, statusCode, resp)
	}
}
