// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// 認証・プロフィール取得で発生するエラーの分類。
// ハード失敗（認可に関わる確定的な失敗）は未認証状態への遷移を強制し、
// ソフト失敗（一時的な失敗）は直前の認証状態を維持する。
var (
	// ErrInvalidCredentials はメールアドレスまたはパスワードが誤っていることを示す。
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrEmailNotConfirmed はメール確認が完了していないアカウントであることを示す。
	ErrEmailNotConfirmed = errors.New("email not confirmed")
	// ErrEmailInUse は登録済みのメールアドレスであることを示す。
	ErrEmailInUse = errors.New("email already in use")
	// ErrProfileNotFound はセッションは存在するがプロフィールが存在しないことを示す。
	ErrProfileNotFound = errors.New("profile not found")
	// ErrConfirmationRequired はサインアップ後にメール確認が必要であることを示す。
	ErrConfirmationRequired = errors.New("email confirmation required")

	// ErrNetwork はネットワークまたはデータストアの一時的な失敗を示す。
	ErrNetwork = errors.New("network error")
	// ErrTimeout は待機上限時間を超えたことを示す。
	ErrTimeout = errors.New("timeout")

	// ErrProviderError はIdPがその他のエラーを返したことを示す。
	ErrProviderError = errors.New("provider error")
	// ErrUnknownShop は所有ショップ一覧に存在しないショップが指定されたことを示す。
	ErrUnknownShop = errors.New("unknown shop")
)

// IsSoftFailure は一時的な失敗（タイムアウト、ネットワーク）かどうかを判定する。
func IsSoftFailure(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrNetwork)
}

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, shop, system
	Action   string // ユーザー向け対処方法
	Err      error  // 原因となったエラー（分類判定用）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因エラーを返す。errors.Isによる分類判定に使用する。
func (e *APIError) Unwrap() error {
	return e.Err
}

// 定義済みエラーコード
const (
	ErrCodeInvalidCredentials   = "INVALID_CREDENTIALS"
	ErrCodeEmailNotConfirmed    = "EMAIL_NOT_CONFIRMED"
	ErrCodeEmailInUse           = "EMAIL_IN_USE"
	ErrCodeProfileNotFound      = "PROFILE_NOT_FOUND"
	ErrCodeConfirmationRequired = "CONFIRMATION_REQUIRED"
	ErrCodeAuthUnavailable      = "AUTH_UNAVAILABLE"
	ErrCodeLoginFailed          = "LOGIN_FAILED"
	ErrCodeRegisterFailed       = "REGISTER_FAILED"
	ErrCodeUnknownShop          = "UNKNOWN_SHOP"
	ErrCodeInvalidRequest       = "INVALID_REQUEST"
	ErrCodeNotAuthenticated     = "NOT_AUTHENTICATED"
)

// NewLoginFailedError はログイン失敗の原因に応じたエラーを生成する。
func NewLoginFailedError(cause error) *APIError {
	switch {
	case errors.Is(cause, ErrInvalidCredentials):
		return &APIError{
			Code:     ErrCodeInvalidCredentials,
			Message:  "メールアドレスまたはパスワードが正しくありません。",
			Category: "auth",
			Action:   "入力内容を確認して再度お試しください。",
			Err:      cause,
		}
	case errors.Is(cause, ErrEmailNotConfirmed):
		return &APIError{
			Code:     ErrCodeEmailNotConfirmed,
			Message:  "メールアドレスの確認が完了していません。",
			Category: "auth",
			Action:   "受信した確認メールのリンクを開いてから再度ログインしてください。",
			Err:      cause,
		}
	case errors.Is(cause, ErrProfileNotFound):
		return &APIError{
			Code:     ErrCodeProfileNotFound,
			Message:  "ユーザーがデータベースに見つかりません。",
			Category: "auth",
			Action:   "確認メールからアカウントを有効化したか確認してください。",
			Err:      cause,
		}
	case IsSoftFailure(cause):
		return newAuthUnavailableError(cause)
	default:
		return &APIError{
			Code:     ErrCodeLoginFailed,
			Message:  "ログインに失敗しました。",
			Category: "auth",
			Action:   "しばらく待ってから再度お試しください。",
			Err:      cause,
		}
	}
}

// NewRegisterFailedError は登録失敗の原因に応じたエラーを生成する。
func NewRegisterFailedError(cause error) *APIError {
	switch {
	case errors.Is(cause, ErrEmailInUse):
		return &APIError{
			Code:     ErrCodeEmailInUse,
			Message:  "このメールアドレスは既に登録されています。",
			Category: "auth",
			Action:   "ログインするか、別のメールアドレスで登録してください。",
			Err:      cause,
		}
	case errors.Is(cause, ErrConfirmationRequired):
		return &APIError{
			Code:     ErrCodeConfirmationRequired,
			Message:  "確認メールを送信しました。",
			Category: "auth",
			Action:   "メール内のリンクでアカウントを有効化してからログインしてください。",
			Err:      cause,
		}
	case IsSoftFailure(cause):
		return newAuthUnavailableError(cause)
	default:
		return &APIError{
			Code:     ErrCodeRegisterFailed,
			Message:  "登録に失敗しました。",
			Category: "auth",
			Action:   "入力内容を確認し、しばらく待ってから再度お試しください。",
			Err:      cause,
		}
	}
}

func newAuthUnavailableError(cause error) *APIError {
	return &APIError{
		Code:     ErrCodeAuthUnavailable,
		Message:  "認証サービスに接続できませんでした。",
		Category: "system",
		Action:   "ネットワーク接続を確認し、しばらく待ってから再度お試しください。",
		Err:      cause,
	}
}

// NewUnknownShopError は所有していないショップが指定された場合のエラーを生成する。
func NewUnknownShopError(shopID string) *APIError {
	return &APIError{
		Code:     ErrCodeUnknownShop,
		Message:  fmt.Sprintf("指定されたショップが見つかりません: %s", shopID),
		Category: "shop",
		Action:   "ショップ一覧から選択し直してください。",
		Err:      ErrUnknownShop,
	}
}

// NewInvalidRequestError はリクエスト内容が不正な場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewNotAuthenticatedError は未ログイン状態で保護された操作を行った場合のエラーを生成する。
func NewNotAuthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeNotAuthenticated,
		Message:  "ログインしていません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}
