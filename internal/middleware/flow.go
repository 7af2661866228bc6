package middleware

import (
	"context"
	"net/http"

	"github.com/hitoshi/walletgate/internal/flow"
)

// FlowCookieName は画面フローIDを保持するCookieの名前。
const FlowCookieName = "flow_id"

// FlowStore はフローの取得と生成に必要なインターフェース。
// flow.Store が実装する。
type FlowStore interface {
	GetOrCreate(id string) (*flow.Flow, bool)
}

// FlowConfig はフローCookieの設定。
type FlowConfig struct {
	CookieSecure bool
	CookieDomain string
	MaxAge       int
}

// NewFlowMiddleware はCookieの flow_id に対応するフローをコンテキストに注入するミドルウェアを返す。
// フローが存在しないか期限切れの場合は新しいフローを作り、Cookieを発行し直す。
func NewFlowMiddleware(store FlowStore, config FlowConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var id string
			if cookie, err := r.Cookie(FlowCookieName); err == nil {
				id = cookie.Value
			}

			f, created := store.GetOrCreate(id)
			if created {
				http.SetCookie(w, &http.Cookie{
					Name:     FlowCookieName,
					Value:    f.ID(),
					Path:     "/",
					Domain:   config.CookieDomain,
					MaxAge:   config.MaxAge,
					HttpOnly: true,
					Secure:   config.CookieSecure,
					SameSite: http.SameSiteLaxMode,
				})
			}

			next.ServeHTTP(w, r.WithContext(ContextWithFlow(r.Context(), f)))
		})
	}
}

// FlowFromContext はリクエストコンテキストからフローを取得する。
func FlowFromContext(ctx context.Context) (*flow.Flow, bool) {
	f, ok := ctx.Value(flowContextKey).(*flow.Flow)
	return f, ok && f != nil
}

// ContextWithFlow はコンテキストにフローを注入する。
func ContextWithFlow(ctx context.Context, f *flow.Flow) context.Context {
	return context.WithValue(ctx, flowContextKey, f)
}
