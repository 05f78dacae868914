// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hitoshi/sellerdesk/internal/model"
	"github.com/hitoshi/sellerdesk/internal/session"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
var userIDContextKey = contextKey("user_id")

// SnapshotReader は現在のセッション状態を返す。session.Reconcilerが実装する。
type SnapshotReader interface {
	Snapshot() session.Snapshot
}

// NewSessionMiddleware は認証済み状態でのみ後続のハンドラを呼び出すミドルウェアを返す。
// 認証済みユーザーIDをリクエストコンテキストに注入する。
// 未認証（ブートストラップ中を含む）の場合は401 Unauthorizedを返す。
func NewSessionMiddleware(reader SnapshotReader) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			snap := reader.Snapshot()
			if !snap.Authenticated || snap.User == nil || snap.User.ID == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewNotAuthenticatedError())
				return
			}

			ctx := context.WithValue(r.Context(), userIDContextKey, snap.User.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}
