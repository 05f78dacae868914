// Package session はIdPとのセッション状態の突き合わせ（リコンサイル）を提供する。
//
// Reconcilerがセッション状態の唯一の書き込み手であり、
// 他のコンポーネントはStoreからスナップショットを読み取る。
package session

import (
	"context"
	"time"

	"github.com/hitoshi/sellerdesk/internal/model"
)

// IdentityProvider は外部IdPのクライアントインターフェース。
type IdentityProvider interface {
	// GetCurrentSession は現在のセッションを返す。存在しない場合はnilを返す。
	GetCurrentSession(ctx context.Context) (*model.Session, error)
	// SignInWithPassword はメールアドレスとパスワードでセッションを発行する。
	SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error)
	// SignUp は新しいIDを作成する。メール確認が必要な場合はトークンのないセッションを返す。
	SignUp(ctx context.Context, reg model.Registration) (*model.Session, error)
	// SignOut はセッションを無効化する。
	SignOut(ctx context.Context) error
	// Subscribe はセッション変更通知のハンドラーを登録し、解除用の関数を返す。
	Subscribe(handler func(model.AuthEvent)) (unsubscribe func())
}

// ProfileService はプロフィールと所有ショップの取得・作成を行うインターフェース。
type ProfileService interface {
	// FetchProfileAndShops はセッションのユーザーのプロフィールとショップ一覧を取得する。
	// プロフィールが存在しない場合はmodel.ErrProfileNotFoundを返す。
	FetchProfileAndShops(ctx context.Context, sess *model.Session) (*model.Profile, error)
	// CreateProfile は新規登録ユーザーのプロフィールレコードを作成する。
	CreateProfile(ctx context.Context, sess *model.Session, reg model.Registration) (*model.Profile, error)
}

// LocalStorage は端末ローカルの永続キーバリューストア。
type LocalStorage interface {
	GetItem(key string) (string, bool)
	SetItem(key, value string) error
	RemoveItem(key string) error
}

// MetricsRecorder はリコンサイルのメトリクス記録インターフェース。
type MetricsRecorder interface {
	RecordReconcile(trigger, outcome string)
	RecordReconcileSkipped(trigger string)
	RecordStaleResult(trigger string)
	RecordEvent(kind string)
	RecordEventSuppressed(kind string)
	RecordProfileFetch(duration time.Duration, err error)
}

type nopMetrics struct{}

func (nopMetrics) RecordReconcile(string, string)          {}
func (nopMetrics) RecordReconcileSkipped(string)           {}
func (nopMetrics) RecordStaleResult(string)                {}
func (nopMetrics) RecordEvent(string)                      {}
func (nopMetrics) RecordEventSuppressed(string)            {}
func (nopMetrics) RecordProfileFetch(time.Duration, error) {}
