// Package model はドメインモデルを定義する。
package model

import (
	"strings"
	"time"
)

// Role はユーザーの役割を表す。
type Role string

const (
	// RoleSeller はショップを所有する販売者。
	RoleSeller Role = "seller"
	// RoleBuyer は購入者。ショップ一覧は取得しない。
	RoleBuyer Role = "buyer"
	// RoleAdmin は管理者。
	RoleAdmin Role = "admin"
)

// ParseRole は文字列をRoleに変換する。
// 空文字列および未知の値はRoleSellerとして扱う。
func ParseRole(s string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleBuyer:
		return RoleBuyer
	case RoleAdmin:
		return RoleAdmin
	default:
		return RoleSeller
	}
}

// UserProfile はデータストア上のユーザープロフィールを表す。
// このサービスからは読み取り専用として扱う。
type UserProfile struct {
	ID        string
	Name      string
	Email     string
	Role      Role
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsSeller は販売者かどうかを返す。
func (u *UserProfile) IsSeller() bool {
	return u != nil && u.Role == RoleSeller
}

// Registration は新規登録時に入力されるプロフィール項目。
type Registration struct {
	Email    string
	Password string
	Name     string
	Role     Role
}

// Profile はプロフィール取得結果。ユーザーと所有ショップの一覧を保持する。
type Profile struct {
	User  UserProfile
	Shops []Shop
}
