package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/sellerdesk/internal/middleware"
	"github.com/hitoshi/sellerdesk/internal/model"
	"github.com/hitoshi/sellerdesk/internal/session"
)

// --- モック定義 ---

// mockReconciler はReconcilerInterfaceのモック実装。
type mockReconciler struct {
	snapshotFn    func() session.Snapshot
	changedFn     func() <-chan struct{}
	bootstrapFn   func(ctx context.Context)
	loginFn       func(ctx context.Context, email, password string) error
	registerFn    func(ctx context.Context, reg model.Registration) error
	logoutFn      func(ctx context.Context) error
	selectShopFn  func(shopID string) error
	addShopFn     func(shop model.Shop) error
	replaceShopFn func(shop model.Shop) error
}

func (m *mockReconciler) Snapshot() session.Snapshot {
	if m.snapshotFn != nil {
		return m.snapshotFn()
	}
	return session.Snapshot{}
}

// Changed はchangedFn未設定の場合nilチャネルを返す（通知されない）。
func (m *mockReconciler) Changed() <-chan struct{} {
	if m.changedFn != nil {
		return m.changedFn()
	}
	return nil
}

func (m *mockReconciler) Bootstrap(ctx context.Context) {
	if m.bootstrapFn != nil {
		m.bootstrapFn(ctx)
	}
}

func (m *mockReconciler) Login(ctx context.Context, email, password string) error {
	if m.loginFn != nil {
		return m.loginFn(ctx, email, password)
	}
	return nil
}

func (m *mockReconciler) Register(ctx context.Context, reg model.Registration) error {
	if m.registerFn != nil {
		return m.registerFn(ctx, reg)
	}
	return nil
}

func (m *mockReconciler) Logout(ctx context.Context) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx)
	}
	return nil
}

func (m *mockReconciler) SelectShop(shopID string) error {
	if m.selectShopFn != nil {
		return m.selectShopFn(shopID)
	}
	return nil
}

func (m *mockReconciler) AddShop(shop model.Shop) error {
	if m.addShopFn != nil {
		return m.addShopFn(shop)
	}
	return nil
}

func (m *mockReconciler) ReplaceShop(shop model.Shop) error {
	if m.replaceShopFn != nil {
		return m.replaceShopFn(shop)
	}
	return nil
}

// mockShopLoader はShopLoaderのモック実装。
type mockShopLoader struct {
	loadShopFn func(ctx context.Context, ownerID, shopID string) (*model.Shop, error)
}

func (m *mockShopLoader) LoadShop(ctx context.Context, ownerID, shopID string) (*model.Shop, error) {
	if m.loadShopFn != nil {
		return m.loadShopFn(ctx, ownerID, shopID)
	}
	return nil, model.NewUnknownShopError(shopID)
}

// mockHealthChecker はHealthCheckerのモック実装。
type mockHealthChecker struct {
	pingFn func(ctx context.Context) error
}

func (m *mockHealthChecker) PingContext(ctx context.Context) error {
	if m.pingFn != nil {
		return m.pingFn(ctx)
	}
	return nil
}

var _ ReconcilerInterface = (*mockReconciler)(nil)

// --- テストヘルパー ---

const (
	testShopA = "0b6c3c1e-4a52-4d7e-9a3c-111111111111"
	testShopB = "0b6c3c1e-4a52-4d7e-9a3c-222222222222"
)

func sellerSnapshot(shops ...model.Shop) session.Snapshot {
	snap := session.Snapshot{
		User:          &model.UserProfile{ID: "user-123", Name: "Hana", Email: "hana@example.com", Role: model.RoleSeller},
		Shops:         shops,
		Authenticated: true,
		Version:       3,
	}
	if len(shops) > 0 {
		cur := shops[0]
		snap.CurrentShop = &cur
	}
	return snap
}

// withUserID はテスト用にリクエストコンテキストにユーザーIDを注入するヘルパー。
func withUserID(r *http.Request, userID string) *http.Request {
	return r.WithContext(middleware.ContextWithUserID(r.Context(), userID))
}

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
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

// decodeBody はJSONレスポンスを構造体にデコードするヘルパー。
func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return v
}
