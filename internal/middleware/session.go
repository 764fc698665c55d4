// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"net/http"

	"github.com/hitoshi/campusmap/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	usernameContextKey  = contextKey("username")
	requestIDContextKey = contextKey("request_id")
)

// SessionChecker はセッション状態の参照に必要なインターフェース。
// session.Storeの部分集合として定義する。
type SessionChecker interface {
	IsAuthenticated() bool
	Identity() *model.User
}

// NewRequireSessionMiddleware は認証済みセッションがない場合に401を返すミドルウェアを返す。
// 認証済みの場合はユーザー名をリクエストコンテキストに注入する。
func NewRequireSessionMiddleware(sessions SessionChecker) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !sessions.IsAuthenticated() {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			ctx := r.Context()
			if u := sessions.Identity(); u != nil {
				ctx = ContextWithUsername(ctx, u.Username)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UsernameFromContext はリクエストコンテキストからユーザー名を取得する。
// セッションミドルウェアを通過していない場合は空文字列を返す。
func UsernameFromContext(ctx context.Context) string {
	name, _ := ctx.Value(usernameContextKey).(string)
	return name
}

// ContextWithUsername はコンテキストにユーザー名を注入する。
func ContextWithUsername(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, usernameContextKey, username)
}
