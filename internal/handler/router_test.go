package handler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/sellerdesk/internal/metrics"
	"github.com/hitoshi/sellerdesk/internal/middleware"
	"github.com/hitoshi/sellerdesk/internal/model"
	"github.com/hitoshi/sellerdesk/internal/session"
	"github.com/prometheus/client_golang/prometheus"
)

func newTestRouter(t *testing.T, rec *mockReconciler, loader ShopLoader, checker HealthChecker) (http.Handler, *prometheus.Registry) {
	t.Helper()
	rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		AuthRate:        1,
		AuthBurst:       2,
		GeneralRate:     10,
		GeneralBurst:    10,
		CleanupInterval: time.Minute,
	}, nil)
	t.Cleanup(rl.Stop)

	reg := prometheus.NewRegistry()
	router := NewRouter(&RouterDeps{
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       rl,
		Logger:            slog.New(slog.NewJSONHandler(io.Discard, nil)),
		HealthChecker:     checker,
		Metrics:           metrics.NewCollector(reg),
		Gatherer:          reg,
		Reconciler:        rec,
		ShopLoader:        loader,
	})
	return router, reg
}

func TestNewRouter_Health(t *testing.T) {
	healthy := true
	checker := &mockHealthChecker{pingFn: func(ctx context.Context) error {
		if !healthy {
			return errors.New("connection refused")
		}
		return nil
	}}
	router, _ := newTestRouter(t, &mockReconciler{}, &mockShopLoader{}, checker)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("healthy status = %d, want %d", w.Code, http.StatusOK)
	}

	healthy = false
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("unhealthy status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestNewRouter_Metrics_ExposesHTTPStatus(t *testing.T) {
	router, _ := newTestRouter(t, &mockReconciler{}, &mockShopLoader{}, &mockHealthChecker{})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/session", nil))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), `sellerdesk_http_status_total{status_code="200"}`) {
		t.Errorf("metrics output missing http status counter:\n%s", w.Body.String())
	}
}

func TestNewRouter_SessionRoutes_NoAuthRequired(t *testing.T) {
	rec := &mockReconciler{
		loginFn: func(ctx context.Context, email, password string) error {
			return model.NewLoginFailedError(model.ErrInvalidCredentials)
		},
	}
	router, _ := newTestRouter(t, rec, &mockShopLoader{}, &mockHealthChecker{})

	tests := []struct {
		method string
		path   string
		body   string
		want   int
	}{
		{http.MethodGet, "/api/session", "", http.StatusOK},
		{http.MethodPost, "/api/session/refresh", "", http.StatusOK},
		{http.MethodPost, "/api/session/logout", "", http.StatusNoContent},
		{http.MethodPost, "/api/session/login", `{"email":"a@example.com","password":"x"}`, http.StatusUnauthorized},
		{http.MethodPost, "/api/session/register", `{"email":"a@example.com","password":"x","name":"A"}`, http.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, bytes.NewBufferString(tt.body))
			req.RemoteAddr = "192.0.2.10:5000"
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestNewRouter_ShopRoutes_RequireAuthentication(t *testing.T) {
	router, _ := newTestRouter(t, &mockReconciler{}, &mockShopLoader{}, &mockHealthChecker{})

	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/api/shops"},
		{http.MethodPost, "/api/shops"},
		{http.MethodPut, "/api/shops/current"},
		{http.MethodPut, "/api/shops/" + testShopA},
	} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(route.method, route.path, nil))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: status = %d, want %d", route.method, route.path, w.Code, http.StatusUnauthorized)
		}
	}
}

func TestNewRouter_ShopRoutes_Authenticated(t *testing.T) {
	shops := []model.Shop{{ID: testShopA, Name: "A"}, {ID: testShopB, Name: "B"}}
	var selected, replaced string
	rec := &mockReconciler{
		snapshotFn:    func() session.Snapshot { return sellerSnapshot(shops...) },
		selectShopFn:  func(shopID string) error { selected = shopID; return nil },
		replaceShopFn: func(shop model.Shop) error { replaced = shop.ID; return nil },
	}
	loader := &mockShopLoader{loadShopFn: func(ctx context.Context, ownerID, shopID string) (*model.Shop, error) {
		return &model.Shop{ID: shopID, OwnerID: ownerID}, nil
	}}
	router, _ := newTestRouter(t, rec, loader, &mockHealthChecker{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/api/shops/current",
		bytes.NewBufferString(fmt.Sprintf(`{"shop_id":%q}`, testShopB))))
	if w.Code != http.StatusOK || selected != testShopB {
		t.Errorf("select: status = %d selected = %q", w.Code, selected)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/api/shops/"+testShopA, nil))
	if w.Code != http.StatusOK || replaced != testShopA {
		t.Errorf("replace: status = %d replaced = %q", w.Code, replaced)
	}
}

func TestNewRouter_LoginIsRateLimitedPerClient(t *testing.T) {
	router, _ := newTestRouter(t, &mockReconciler{}, &mockShopLoader{}, &mockHealthChecker{})

	login := func() int {
		req := httptest.NewRequest(http.MethodPost, "/api/session/login",
			bytes.NewBufferString(`{"email":"a@example.com","password":"x"}`))
		req.RemoteAddr = "198.51.100.1:4000"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	login()
	login()
	if code := login(); code != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", code, http.StatusTooManyRequests)
	}
}

func TestNewRouter_CORSPreflight(t *testing.T) {
	router, _ := newTestRouter(t, &mockReconciler{}, &mockShopLoader{}, &mockHealthChecker{})

	req := httptest.NewRequest(http.MethodOptions, "/api/session/login", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}
