package model

import (
	"strings"
	"time"
)

// SessionUser はIdPが発行したセッションに紐づくユーザー識別情報。
type SessionUser struct {
	ID    string
	Email string
}

// Session はIdPが発行した認証セッションを表す。
// AccessTokenが空の場合はメール確認待ちのセッションを意味する。
type Session struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	User         SessionUser
}

// Pending はメール確認待ち（トークン未発行）かどうかを返す。
func (s *Session) Pending() bool {
	return s == nil || s.AccessToken == ""
}

// ExpiresWithin は指定時間内に期限切れになるかどうかを返す。
func (s *Session) ExpiresWithin(now time.Time, d time.Duration) bool {
	if s == nil || s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(d).Before(s.ExpiresAt)
}

// AuthEventKind はIdPから通知されるセッション変更イベントの種別。
type AuthEventKind int

const (
	AuthEventOther AuthEventKind = iota
	AuthEventSignedIn
	AuthEventSignedOut
	AuthEventUserUpdated
	AuthEventTokenRefreshed
)

// String はイベント種別のワイヤ表現を返す。
func (k AuthEventKind) String() string {
	switch k {
	case AuthEventSignedIn:
		return "SIGNED_IN"
	case AuthEventSignedOut:
		return "SIGNED_OUT"
	case AuthEventUserUpdated:
		return "USER_UPDATED"
	case AuthEventTokenRefreshed:
		return "TOKEN_REFRESHED"
	default:
		return "OTHER"
	}
}

// ParseAuthEventKind はワイヤ表現をイベント種別に変換する。
// 未知の値はAuthEventOtherになる。
func ParseAuthEventKind(s string) AuthEventKind {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SIGNED_IN":
		return AuthEventSignedIn
	case "SIGNED_OUT":
		return AuthEventSignedOut
	case "USER_UPDATED":
		return AuthEventUserUpdated
	case "TOKEN_REFRESHED":
		return AuthEventTokenRefreshed
	default:
		return AuthEventOther
	}
}

// AuthEvent はIdPからのセッション変更通知。Sessionはnilの場合がある。
type AuthEvent struct {
	Kind    AuthEventKind
	Session *Session
}
