package handler

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/sellerdesk/internal/model"
	"github.com/hitoshi/sellerdesk/internal/session"
)

// --- GET /api/session ---

func TestSessionHandler_Get_Authenticated(t *testing.T) {
	shop := model.Shop{ID: testShopA, Name: "Kids Corner", Types: []model.StoreType{model.StoreTypeKids}}
	h := NewSessionHandler(&mockReconciler{
		snapshotFn: func() session.Snapshot { return sellerSnapshot(shop) },
	})

	w := httptest.NewRecorder()
	h.Get(w, httptest.NewRequest(http.MethodGet, "/api/session", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}

	body := decodeBody[sessionResponse](t, w)
	if body.Phase != "authenticated" || !body.Authenticated {
		t.Errorf("phase = %q authenticated = %v", body.Phase, body.Authenticated)
	}
	if body.User == nil || body.User.Email != "hana@example.com" || body.User.Role != "seller" {
		t.Errorf("user = %+v", body.User)
	}
	if len(body.Shops) != 1 || body.Shops[0].Types[0] != "kids" {
		t.Errorf("shops = %+v", body.Shops)
	}
	if body.CurrentShop == nil || body.CurrentShop.ID != testShopA {
		t.Errorf("current_shop = %+v, want %s", body.CurrentShop, testShopA)
	}
	if body.Version != 3 {
		t.Errorf("version = %d, want 3", body.Version)
	}
}

func TestSessionHandler_Get_Bootstrapping(t *testing.T) {
	h := NewSessionHandler(&mockReconciler{
		snapshotFn: func() session.Snapshot { return session.Snapshot{Loading: true} },
	})

	w := httptest.NewRecorder()
	h.Get(w, httptest.NewRequest(http.MethodGet, "/api/session", nil))

	body := decodeBody[map[string]any](t, w)
	if body["phase"] != "bootstrapping" {
		t.Errorf("phase = %v, want bootstrapping", body["phase"])
	}
	if body["user"] != nil {
		t.Errorf("user = %v, want null", body["user"])
	}
	if shops, ok := body["shops"].([]any); !ok || len(shops) != 0 {
		t.Errorf("shops = %v, want empty array", body["shops"])
	}
}

func TestSessionHandler_Get_SinceOlderVersion_ReturnsImmediately(t *testing.T) {
	h := NewSessionHandler(&mockReconciler{
		snapshotFn: func() session.Snapshot { return session.Snapshot{Version: 5} },
	})

	w := httptest.NewRecorder()
	h.Get(w, httptest.NewRequest(http.MethodGet, "/api/session?since=4", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if body := decodeBody[sessionResponse](t, w); body.Version != 5 {
		t.Errorf("version = %d, want 5", body.Version)
	}
}

func TestSessionHandler_Get_WaitsForChange(t *testing.T) {
	var mu sync.Mutex
	version := uint64(2)
	changed := make(chan struct{})
	h := NewSessionHandler(&mockReconciler{
		snapshotFn: func() session.Snapshot {
			mu.Lock()
			defer mu.Unlock()
			return session.Snapshot{Version: version, Authenticated: version > 2}
		},
		changedFn: func() <-chan struct{} { return changed },
	})

	done := make(chan *httptest.ResponseRecorder)
	go func() {
		w := httptest.NewRecorder()
		h.Get(w, httptest.NewRequest(http.MethodGet, "/api/session?since=2&wait=5s", nil))
		done <- w
	}()

	select {
	case <-done:
		t.Fatal("handler returned before the state changed")
	case <-time.After(50 * time.Millisecond):
	}

	mu.Lock()
	version = 3
	mu.Unlock()
	close(changed)

	select {
	case w := <-done:
		body := decodeBody[sessionResponse](t, w)
		if body.Version != 3 || !body.Authenticated {
			t.Errorf("body = %+v, want version 3 authenticated", body)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return after the state changed")
	}
}

func TestSessionHandler_Get_WaitTimeout_ReturnsCurrentState(t *testing.T) {
	h := NewSessionHandler(&mockReconciler{
		snapshotFn: func() session.Snapshot { return session.Snapshot{Version: 7} },
	})

	w := httptest.NewRecorder()
	h.Get(w, httptest.NewRequest(http.MethodGet, "/api/session?since=7&wait=10ms", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if body := decodeBody[sessionResponse](t, w); body.Version != 7 {
		t.Errorf("version = %d, want 7", body.Version)
	}
}

func TestSessionHandler_Get_InvalidLongPollParams(t *testing.T) {
	h := NewSessionHandler(&mockReconciler{})

	for _, target := range []string{
		"/api/session?since=abc",
		"/api/session?since=1&wait=soon",
		"/api/session?since=1&wait=-1s",
	} {
		w := httptest.NewRecorder()
		h.Get(w, httptest.NewRequest(http.MethodGet, target, nil))
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want %d", target, w.Code, http.StatusBadRequest)
		}
	}
}

// --- POST /api/session/login ---

func TestSessionHandler_Login_Success(t *testing.T) {
	loggedIn := false
	h := NewSessionHandler(&mockReconciler{
		loginFn: func(ctx context.Context, email, password string) error {
			if email != "hana@example.com" || password != "secret" {
				t.Errorf("Login(%q, %q)", email, password)
			}
			loggedIn = true
			return nil
		},
		snapshotFn: func() session.Snapshot {
			if !loggedIn {
				return session.Snapshot{}
			}
			return sellerSnapshot()
		},
	})

	body := `{"email": "  hana@example.com ", "password": "secret"}`
	w := httptest.NewRecorder()
	h.Login(w, httptest.NewRequest(http.MethodPost, "/api/session/login", bytes.NewBufferString(body)))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if resp := decodeBody[sessionResponse](t, w); !resp.Authenticated {
		t.Error("expected authenticated snapshot in response")
	}
}

func TestSessionHandler_Login_Failures(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		loginErr   error
		wantStatus int
		wantCode   string
	}{
		{"invalid JSON", `{`, nil, http.StatusBadRequest, model.ErrCodeInvalidRequest},
		{"missing password", `{"email":"a@example.com"}`, nil, http.StatusBadRequest, model.ErrCodeInvalidRequest},
		{"invalid credentials", `{"email":"a@example.com","password":"x"}`,
			model.NewLoginFailedError(model.ErrInvalidCredentials), http.StatusUnauthorized, model.ErrCodeInvalidCredentials},
		{"email not confirmed", `{"email":"a@example.com","password":"x"}`,
			model.NewLoginFailedError(model.ErrEmailNotConfirmed), http.StatusForbidden, model.ErrCodeEmailNotConfirmed},
		{"profile missing", `{"email":"a@example.com","password":"x"}`,
			model.NewLoginFailedError(model.ErrProfileNotFound), http.StatusForbidden, model.ErrCodeProfileNotFound},
		{"timeout", `{"email":"a@example.com","password":"x"}`,
			model.NewLoginFailedError(model.ErrTimeout), http.StatusGatewayTimeout, model.ErrCodeAuthUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			h := NewSessionHandler(&mockReconciler{
				loginFn: func(ctx context.Context, email, password string) error {
					called = true
					return tt.loginErr
				},
			})

			w := httptest.NewRecorder()
			h.Login(w, httptest.NewRequest(http.MethodPost, "/api/session/login", bytes.NewBufferString(tt.body)))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := parseAPIErrorResponse(t, w)["code"]; got != tt.wantCode {
				t.Errorf("code = %q, want %q", got, tt.wantCode)
			}
			if tt.loginErr == nil && called {
				t.Error("Login should not be called for invalid input")
			}
		})
	}
}

// --- POST /api/session/register ---

func TestSessionHandler_Register_Success(t *testing.T) {
	var got model.Registration
	h := NewSessionHandler(&mockReconciler{
		registerFn: func(ctx context.Context, reg model.Registration) error {
			got = reg
			return nil
		},
		snapshotFn: func() session.Snapshot { return sellerSnapshot() },
	})

	body := `{"email":"new@example.com","password":"pw","name":" New Seller ","role":""}`
	w := httptest.NewRecorder()
	h.Register(w, httptest.NewRequest(http.MethodPost, "/api/session/register", bytes.NewBufferString(body)))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	if got.Email != "new@example.com" || got.Name != "New Seller" || got.Role != model.RoleSeller {
		t.Errorf("registration = %+v", got)
	}
}

func TestSessionHandler_Register_ConfirmationRequired_Returns202(t *testing.T) {
	h := NewSessionHandler(&mockReconciler{
		registerFn: func(ctx context.Context, reg model.Registration) error {
			return model.NewRegisterFailedError(model.ErrConfirmationRequired)
		},
	})

	body := `{"email":"new@example.com","password":"pw","name":"New","role":"buyer"}`
	w := httptest.NewRecorder()
	h.Register(w, httptest.NewRequest(http.MethodPost, "/api/session/register", bytes.NewBufferString(body)))

	if w.Code != http.StatusAccepted {
		t.Errorf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
	if got := parseAPIErrorResponse(t, w)["code"]; got != model.ErrCodeConfirmationRequired {
		t.Errorf("code = %q, want %q", got, model.ErrCodeConfirmationRequired)
	}
}

func TestSessionHandler_Register_EmailInUse_Returns409(t *testing.T) {
	h := NewSessionHandler(&mockReconciler{
		registerFn: func(ctx context.Context, reg model.Registration) error {
			return model.NewRegisterFailedError(model.ErrEmailInUse)
		},
	})

	body := `{"email":"dup@example.com","password":"pw","name":"Dup"}`
	w := httptest.NewRecorder()
	h.Register(w, httptest.NewRequest(http.MethodPost, "/api/session/register", bytes.NewBufferString(body)))

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestSessionHandler_Register_MissingName_ReturnsBadRequest(t *testing.T) {
	h := NewSessionHandler(&mockReconciler{
		registerFn: func(ctx context.Context, reg model.Registration) error {
			t.Error("Register should not be called")
			return nil
		},
	})

	body := `{"email":"new@example.com","password":"pw","name":"  "}`
	w := httptest.NewRecorder()
	h.Register(w, httptest.NewRequest(http.MethodPost, "/api/session/register", bytes.NewBufferString(body)))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

// --- POST /api/session/logout, /refresh ---

func TestSessionHandler_Logout_AlwaysNoContent(t *testing.T) {
	for _, logoutErr := range []error{nil, errors.New("remote sign out failed")} {
		h := NewSessionHandler(&mockReconciler{
			logoutFn: func(ctx context.Context) error { return logoutErr },
		})

		w := httptest.NewRecorder()
		h.Logout(w, httptest.NewRequest(http.MethodPost, "/api/session/logout", nil))

		if w.Code != http.StatusNoContent {
			t.Errorf("logoutErr=%v: status = %d, want %d", logoutErr, w.Code, http.StatusNoContent)
		}
	}
}

func TestSessionHandler_Refresh_RunsBootstrap(t *testing.T) {
	bootstrapped := false
	h := NewSessionHandler(&mockReconciler{
		bootstrapFn: func(ctx context.Context) { bootstrapped = true },
		snapshotFn: func() session.Snapshot {
			if bootstrapped {
				return sellerSnapshot()
			}
			return session.Snapshot{}
		},
	})

	w := httptest.NewRecorder()
	h.Refresh(w, httptest.NewRequest(http.MethodPost, "/api/session/refresh", nil))

	if !bootstrapped {
		t.Error("expected Bootstrap to be called")
	}
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if resp := decodeBody[sessionResponse](t, w); !resp.Authenticated {
		t.Error("expected snapshot taken after bootstrap")
	}
}
