// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/sellerdesk/internal/model"
)

// UserRepository はユーザープロフィールの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.UserProfile, error)

	// Create はユーザーを作成する。
	// メールアドレスまたはIDが登録済みの場合はmodel.ErrEmailInUseを返す。
	Create(ctx context.Context, user *model.UserProfile) error
}

// ShopRepository はショップの永続化インターフェース。
type ShopRepository interface {
	// ListByOwner は指定ユーザーが所有するショップを作成日時順に取得する。
	ListByOwner(ctx context.Context, ownerID string) ([]model.Shop, error)

	// FindByOwnerAndID は指定ユーザーが所有する指定IDのショップを取得する。
	// 見つからない場合はnilを返す。
	FindByOwnerAndID(ctx context.Context, ownerID, shopID string) (*model.Shop, error)
}
