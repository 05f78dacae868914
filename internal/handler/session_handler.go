package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/sellerdesk/internal/middleware"
	"github.com/hitoshi/sellerdesk/internal/model"
	"github.com/hitoshi/sellerdesk/internal/session"
)

// SessionServiceInterface はセッションハンドラーが必要とするサービスインターフェース。
// session.Reconcilerが実装する。
type SessionServiceInterface interface {
	Snapshot() session.Snapshot
	Changed() <-chan struct{}
	Bootstrap(ctx context.Context)
	Login(ctx context.Context, email, password string) error
	Register(ctx context.Context, reg model.Registration) error
	Logout(ctx context.Context) error
}

// SessionHandler はログイン・登録・ログアウトとセッション状態のHTTPハンドラー。
type SessionHandler struct {
	service SessionServiceInterface
}

// NewSessionHandler はSessionHandlerを生成する。
func NewSessionHandler(service SessionServiceInterface) *SessionHandler {
	return &SessionHandler{service: service}
}

// ロングポーリングの待機時間。サーバーのWriteTimeoutより短く保つ。
const (
	defaultSessionWait = 25 * time.Second
	maxSessionWait     = 30 * time.Second
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     string `json:"role"`
}

// Get は現在のセッション状態を返す。
// sinceにバージョンを指定した場合は、それより新しい状態になるかwaitが経過するまで待ってから返す。
// GET /api/session?since=<version>&wait=<duration>
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("since") == "" {
		writeJSON(w, http.StatusOK, toSessionResponse(h.service.Snapshot()))
		return
	}

	since, err := strconv.ParseUint(q.Get("since"), 10, 64)
	if err != nil {
		middleware.WriteError(w, model.NewInvalidRequestError("since must be a version number"))
		return
	}
	wait := defaultSessionWait
	if raw := q.Get("wait"); raw != "" {
		wait, err = time.ParseDuration(raw)
		if err != nil || wait < 0 {
			middleware.WriteError(w, model.NewInvalidRequestError("wait must be a non-negative duration"))
			return
		}
		wait = min(wait, maxSessionWait)
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		// 通知の取りこぼしを避けるため、スナップショットより先に購読する
		changed := h.service.Changed()
		snap := h.service.Snapshot()
		if snap.Version > since {
			writeJSON(w, http.StatusOK, toSessionResponse(snap))
			return
		}

		select {
		case <-changed:
		case <-timer.C:
			writeJSON(w, http.StatusOK, toSessionResponse(snap))
			return
		case <-r.Context().Done():
			return
		}
	}
}

// Login はメールアドレスとパスワードでログインする。
// POST /api/session/login
func (h *SessionHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, model.NewInvalidRequestError("invalid JSON body"))
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		middleware.WriteError(w, model.NewInvalidRequestError("email and password are required"))
		return
	}

	if err := h.service.Login(r.Context(), req.Email, req.Password); err != nil {
		middleware.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toSessionResponse(h.service.Snapshot()))
}

// Register は新規登録を行う。メール確認が必要な場合は202を返す。
// POST /api/session/register
func (h *SessionHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, model.NewInvalidRequestError("invalid JSON body"))
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	req.Name = strings.TrimSpace(req.Name)
	if req.Email == "" || req.Password == "" || req.Name == "" {
		middleware.WriteError(w, model.NewInvalidRequestError("email, password and name are required"))
		return
	}

	reg := model.Registration{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		Role:     model.ParseRole(req.Role),
	}
	if err := h.service.Register(r.Context(), reg); err != nil {
		middleware.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toSessionResponse(h.service.Snapshot()))
}

// Logout はローカルのセッション状態を消去する。
// IdPのサインアウト失敗はReconcilerがログに記録するため、レスポンスには影響しない。
// POST /api/session/logout
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	_ = h.service.Logout(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// Refresh はIdPのセッションを再確認し、最新の状態を返す。
// POST /api/session/refresh
func (h *SessionHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	h.service.Bootstrap(r.Context())
	writeJSON(w, http.StatusOK, toSessionResponse(h.service.Snapshot()))
}
