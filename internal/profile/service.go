// Package profile はセッションのユーザーに対応するプロフィールと所有ショップの取得・作成を提供する。
package profile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/sellerdesk/internal/model"
	"github.com/hitoshi/sellerdesk/internal/repository"
	"github.com/hitoshi/sellerdesk/internal/security"
	"github.com/hitoshi/sellerdesk/internal/session"
)

// Service はプロフィールとショップの取得・作成を行う。
type Service struct {
	users     repository.UserRepository
	shops     repository.ShopRepository
	sanitizer *security.ShopSanitizer
	logger    *slog.Logger
	now       func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	users repository.UserRepository,
	shops repository.ShopRepository,
	sanitizer *security.ShopSanitizer,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		users:     users,
		shops:     shops,
		sanitizer: sanitizer,
		logger:    logger,
		now:       time.Now,
	}
}

// FetchProfileAndShops はセッションのユーザーのプロフィールを取得する。
// 販売者の場合は所有ショップも取得する。
// usersレコードがない場合はmodel.ErrProfileNotFound、データストアの失敗はmodel.ErrNetworkを返す。
func (s *Service) FetchProfileAndShops(ctx context.Context, sess *model.Session) (*model.Profile, error) {
	if sess == nil || sess.User.ID == "" {
		return nil, fmt.Errorf("fetch profile: %w", model.ErrProfileNotFound)
	}

	user, err := s.users.FindByID(ctx, sess.User.ID)
	if err != nil {
		return nil, fmt.Errorf("fetch profile: %w: %w", model.ErrNetwork, err)
	}
	if user == nil {
		return nil, fmt.Errorf("fetch profile %s: %w", sess.User.ID, model.ErrProfileNotFound)
	}

	profile := &model.Profile{User: *user}
	if !user.IsSeller() {
		return profile, nil
	}

	shops, err := s.shops.ListByOwner(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("fetch shops: %w: %w", model.ErrNetwork, err)
	}
	profile.Shops = make([]model.Shop, 0, len(shops))
	for _, shop := range shops {
		profile.Shops = append(profile.Shops, s.sanitizer.Shop(shop))
	}

	return profile, nil
}

// CreateProfile は新規登録ユーザーのusersレコードを作成する。ショップは作成しない。
// メールアドレスが登録済みの場合はmodel.ErrEmailInUseを返す。
func (s *Service) CreateProfile(ctx context.Context, sess *model.Session, reg model.Registration) (*model.Profile, error) {
	if sess == nil || sess.User.ID == "" {
		return nil, fmt.Errorf("create profile: %w: session has no user", model.ErrProviderError)
	}

	email := strings.TrimSpace(reg.Email)
	if email == "" {
		email = sess.User.Email
	}
	role := reg.Role
	if role == "" {
		role = model.RoleSeller
	}

	now := s.now().UTC()
	user := &model.UserProfile{
		ID:        sess.User.ID,
		Name:      s.sanitizer.Text(reg.Name),
		Email:     email,
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, model.ErrEmailInUse) {
			return nil, fmt.Errorf("create profile: %w", err)
		}
		return nil, fmt.Errorf("create profile: %w: %w", model.ErrNetwork, err)
	}

	s.logger.Info("プロフィールを作成しました",
		slog.String("user_id", user.ID),
		slog.String("role", string(user.Role)),
	)
	return &model.Profile{User: *user}, nil
}

// LoadShop は指定ユーザーが所有するショップを取得する。
// 見つからない場合はmodel.ErrUnknownShopを返す。
func (s *Service) LoadShop(ctx context.Context, ownerID, shopID string) (*model.Shop, error) {
	shop, err := s.shops.FindByOwnerAndID(ctx, ownerID, shopID)
	if err != nil {
		return nil, fmt.Errorf("load shop: %w: %w", model.ErrNetwork, err)
	}
	if shop == nil {
		return nil, model.NewUnknownShopError(shopID)
	}
	sanitized := s.sanitizer.Shop(*shop)
	return &sanitized, nil
}

// compile-time interface check
var _ session.ProfileService = (*Service)(nil)
