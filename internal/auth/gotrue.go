// Package auth はGoTrue互換の認証APIクライアントを提供する。
// セッションのローカル永続化、変更通知の配信、トークンの自動更新を含む。
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/sellerdesk/internal/model"
	"github.com/hitoshi/sellerdesk/internal/session"
)

// SessionKey はセッションを保存するローカルストレージのキー。
const SessionKey = "auth.session"

const (
	defaultRefreshMargin   = 60 * time.Second
	defaultRefreshInterval = 30 * time.Second
	maxErrorBodyBytes      = 64 << 10
)

// Storage はセッションの永続化先。
type Storage interface {
	GetItem(key string) (string, bool)
	SetItem(key, value string) error
	RemoveItem(key string) error
}

// Config はGoTrueClientの設定。
type Config struct {
	BaseURL         string        // 認証APIのベースURL（例: http://localhost:9999）
	APIKey          string        // apikeyヘッダーに付与するキー
	RefreshMargin   time.Duration // 有効期限のこの時間前からトークンを更新する
	RefreshInterval time.Duration // 自動更新ループの確認間隔
}

// GoTrueClient はGoTrue互換APIのクライアント。
type GoTrueClient struct {
	httpClient *http.Client
	storage    Storage
	logger     *slog.Logger
	config     Config
	hub        *Hub
	now        func() time.Time

	mu      sync.Mutex
	session *model.Session
	loaded  bool
}

// NewGoTrueClient はGoTrueClientを生成する。
func NewGoTrueClient(httpClient *http.Client, storage Storage, logger *slog.Logger, config Config) *GoTrueClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config.RefreshMargin <= 0 {
		config.RefreshMargin = defaultRefreshMargin
	}
	if config.RefreshInterval <= 0 {
		config.RefreshInterval = defaultRefreshInterval
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	return &GoTrueClient{
		httpClient: httpClient,
		storage:    storage,
		logger:     logger,
		config:     config,
		hub:        NewHub(),
		now:        time.Now,
	}
}

// tokenResponse はトークン発行・サインアップのレスポンス。
// メール確認が必要なサインアップではトークンを含まず、ユーザー情報がトップレベルに入る。
type tokenResponse struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    int       `json:"expires_in"`
	ExpiresAt    int64     `json:"expires_at"`
	RefreshToken string    `json:"refresh_token"`
	User         *userJSON `json:"user"`

	ID    string `json:"id"`
	Email string `json:"email"`
}

type userJSON struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// errorResponse は旧形式（error/error_description）と新形式（error_code/msg）の両方を受け付ける。
type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
}

// storedSession はローカルストレージに保存するセッションの形式。
type storedSession struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
}

// Subscribe はセッション変更通知のハンドラーを登録する。
func (c *GoTrueClient) Subscribe(handler func(model.AuthEvent)) func() {
	return c.hub.Subscribe(handler)
}

// GetCurrentSession は保存済みのセッションを返す。
// 有効期限が近い場合はリフレッシュトークンで更新してから返す。
// リフレッシュトークンが拒否された場合はセッションを破棄してnilを返す。
func (c *GoTrueClient) GetCurrentSession(ctx context.Context) (*model.Session, error) {
	sess := c.current()
	if sess == nil {
		return nil, nil
	}
	if !sess.ExpiresWithin(c.now(), c.config.RefreshMargin) {
		return sess, nil
	}

	refreshed, err := c.refresh(ctx, sess)
	if err != nil {
		if errors.Is(err, model.ErrInvalidCredentials) {
			return nil, nil
		}
		return nil, err
	}
	return refreshed, nil
}

// SignInWithPassword はメールアドレスとパスワードでセッションを発行する。
func (c *GoTrueClient) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	body := map[string]string{"email": email, "password": password}

	var resp tokenResponse
	if err := c.do(ctx, http.MethodPost, "/token?grant_type=password", "", body, &resp); err != nil {
		return nil, fmt.Errorf("sign in: %w", err)
	}

	sess := c.sessionFrom(&resp)
	if sess.Pending() {
		return nil, fmt.Errorf("sign in: %w: empty access token in response", model.ErrProviderError)
	}
	c.store(sess)
	c.hub.Publish(model.AuthEvent{Kind: model.AuthEventSignedIn, Session: sess})
	return sess, nil
}

// SignUp は新しいIDを作成する。
// メール確認が必要な場合はアクセストークンのないセッションを返し、保存も通知もしない。
func (c *GoTrueClient) SignUp(ctx context.Context, reg model.Registration) (*model.Session, error) {
	body := map[string]any{
		"email":    reg.Email,
		"password": reg.Password,
		"data": map[string]string{
			"display_name": reg.Name,
			"role":         string(reg.Role),
		},
	}

	var resp tokenResponse
	if err := c.do(ctx, http.MethodPost, "/signup", "", body, &resp); err != nil {
		return nil, fmt.Errorf("sign up: %w", err)
	}

	sess := c.sessionFrom(&resp)
	if sess.User.ID == "" {
		return nil, fmt.Errorf("sign up: %w: empty user id in response", model.ErrProviderError)
	}
	if sess.Pending() {
		c.logger.Info("メール確認待ちのアカウントが作成されました", slog.String("user_id", sess.User.ID))
		return sess, nil
	}

	c.store(sess)
	c.hub.Publish(model.AuthEvent{Kind: model.AuthEventSignedIn, Session: sess})
	return sess, nil
}

// SignOut はサーバー側のセッションを無効化し、ローカルのセッションを破棄する。
// サーバー側の無効化に失敗してもローカルのセッションは破棄する。
func (c *GoTrueClient) SignOut(ctx context.Context) error {
	sess := c.current()

	var remoteErr error
	if sess != nil && !sess.Pending() {
		remoteErr = c.do(ctx, http.MethodPost, "/logout", sess.AccessToken, nil, nil)
		// 失効済みのトークンはサインアウト済みとみなす
		if errors.Is(remoteErr, model.ErrInvalidCredentials) {
			remoteErr = nil
		}
	}

	c.clear()
	c.hub.Publish(model.AuthEvent{Kind: model.AuthEventSignedOut})

	if remoteErr != nil {
		return fmt.Errorf("sign out: %w", remoteErr)
	}
	return nil
}

// refresh はリフレッシュトークンでセッションを更新し、TOKEN_REFRESHEDを通知する。
// 拒否された場合はセッションを破棄してSIGNED_OUTを通知する。
func (c *GoTrueClient) refresh(ctx context.Context, sess *model.Session) (*model.Session, error) {
	body := map[string]string{"refresh_token": sess.RefreshToken}

	var resp tokenResponse
	err := c.do(ctx, http.MethodPost, "/token?grant_type=refresh_token", "", body, &resp)
	if err != nil {
		if errors.Is(err, model.ErrInvalidCredentials) {
			c.logger.Warn("リフレッシュトークンが拒否されたためセッションを破棄します",
				slog.String("user_id", sess.User.ID),
			)
			c.clear()
			c.hub.Publish(model.AuthEvent{Kind: model.AuthEventSignedOut})
		}
		return nil, fmt.Errorf("refresh session: %w", err)
	}

	next := c.sessionFrom(&resp)
	if next.Pending() {
		return nil, fmt.Errorf("refresh session: %w: empty access token in response", model.ErrProviderError)
	}
	if next.User.ID == "" {
		next.User = sess.User
	}
	c.store(next)
	c.hub.Publish(model.AuthEvent{Kind: model.AuthEventTokenRefreshed, Session: next})
	return next, nil
}

// do はJSONリクエストを送信し、レスポンスをoutにデコードする。
// accessTokenが空の場合はAPIキーでリクエストする。
func (c *GoTrueClient) do(ctx context.Context, method, path, accessToken string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("apikey", c.config.APIKey)
	bearer := accessToken
	if bearer == "" {
		bearer = c.config.APIKey
	}
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return fmt.Errorf("%w: %w", model.ErrNetwork, err)
		}
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			return fmt.Errorf("%w: %s %s: %w", model.ErrNetwork, method, path, urlErr.Err)
		}
		return fmt.Errorf("%w: %w", model.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return classifyError(resp.StatusCode, raw)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: failed to parse response: %w", model.ErrProviderError, err)
	}
	return nil
}

// classifyError はエラーレスポンスを分類済みのエラーに変換する。
func classifyError(status int, raw []byte) error {
	var e errorResponse
	_ = json.Unmarshal(raw, &e)

	code := strings.ToLower(e.ErrorCode)
	if code == "" {
		code = strings.ToLower(e.Error)
	}
	desc := e.ErrorDescription
	if desc == "" {
		desc = e.Msg
	}
	if desc == "" {
		desc = e.Message
	}
	detail := fmt.Sprintf("status %d", status)
	if desc != "" {
		detail = fmt.Sprintf("status %d: %s", status, desc)
	}

	switch {
	case code == "email_not_confirmed" || strings.Contains(strings.ToLower(desc), "email not confirmed"):
		return fmt.Errorf("%w (%s)", model.ErrEmailNotConfirmed, detail)
	case code == "invalid_grant" || code == "invalid_credentials" || code == "refresh_token_not_found" || status == http.StatusUnauthorized:
		return fmt.Errorf("%w (%s)", model.ErrInvalidCredentials, detail)
	case code == "user_already_exists" || code == "email_exists" || status == http.StatusUnprocessableEntity:
		return fmt.Errorf("%w (%s)", model.ErrEmailInUse, detail)
	default:
		return fmt.Errorf("%w (%s)", model.ErrProviderError, detail)
	}
}

// sessionFrom はレスポンスをセッションに変換する。
func (c *GoTrueClient) sessionFrom(resp *tokenResponse) *model.Session {
	sess := &model.Session{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
	}
	switch {
	case resp.ExpiresAt > 0:
		sess.ExpiresAt = time.Unix(resp.ExpiresAt, 0)
	case resp.ExpiresIn > 0:
		sess.ExpiresAt = c.now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}
	if resp.User != nil {
		sess.User = model.SessionUser{ID: resp.User.ID, Email: resp.User.Email}
	} else {
		sess.User = model.SessionUser{ID: resp.ID, Email: resp.Email}
	}
	return sess
}

// current はメモリ上のセッションを返す。初回はローカルストレージから読み込む。
func (c *GoTrueClient) current() *model.Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loaded {
		c.session = c.loadLocked()
		c.loaded = true
	}
	if c.session == nil {
		return nil
	}
	s := *c.session
	return &s
}

func (c *GoTrueClient) loadLocked() *model.Session {
	raw, ok := c.storage.GetItem(SessionKey)
	if !ok || raw == "" {
		return nil
	}

	var st storedSession
	if err := json.Unmarshal([]byte(raw), &st); err != nil || st.AccessToken == "" {
		c.logger.Warn("保存済みセッションを読み取れないため破棄します")
		if err := c.storage.RemoveItem(SessionKey); err != nil {
			c.logger.Error("保存済みセッションの削除に失敗しました", slog.String("error", err.Error()))
		}
		return nil
	}

	return &model.Session{
		AccessToken:  st.AccessToken,
		RefreshToken: st.RefreshToken,
		ExpiresAt:    st.ExpiresAt,
		User:         model.SessionUser{ID: st.UserID, Email: st.Email},
	}
}

func (c *GoTrueClient) store(sess *model.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := *sess
	c.session = &s
	c.loaded = true

	raw, err := json.Marshal(storedSession{
		AccessToken:  sess.AccessToken,
		RefreshToken: sess.RefreshToken,
		ExpiresAt:    sess.ExpiresAt,
		UserID:       sess.User.ID,
		Email:        sess.User.Email,
	})
	if err != nil {
		c.logger.Error("セッションのエンコードに失敗しました", slog.String("error", err.Error()))
		return
	}
	if err := c.storage.SetItem(SessionKey, string(raw)); err != nil {
		c.logger.Error("セッションの保存に失敗しました", slog.String("error", err.Error()))
	}
}

func (c *GoTrueClient) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.session = nil
	c.loaded = true
	if err := c.storage.RemoveItem(SessionKey); err != nil {
		c.logger.Error("保存済みセッションの削除に失敗しました", slog.String("error", err.Error()))
	}
}

// compile-time interface check
var _ session.IdentityProvider = (*GoTrueClient)(nil)
