package session

import (
	"github.com/hitoshi/sellerdesk/internal/model"
)

// SelectedShopKey は選択中ショップIDを保存するローカルストレージのキー。
const SelectedShopKey = "selectedShopId"

// ShopSelector は所有ショップのうち「現在のショップ」を決定し、永続化する。
// ローカルストレージの選択中ショップIDを読み書きするのはShopSelectorのみ。
type ShopSelector struct {
	storage LocalStorage
}

// NewShopSelector はShopSelectorを生成する。
func NewShopSelector(storage LocalStorage) *ShopSelector {
	return &ShopSelector{storage: storage}
}

// Restore は保存済みのショップIDに一致するショップを返す。
// 一致しなければ先頭のショップを、一覧が空ならnilを返す。
func (s *ShopSelector) Restore(shops []model.Shop) *model.Shop {
	if len(shops) == 0 {
		return nil
	}
	if id, ok := s.storage.GetItem(SelectedShopKey); ok {
		if i := model.FindShop(shops, id); i >= 0 {
			shop := shops[i].Clone()
			return &shop
		}
	}
	shop := shops[0].Clone()
	return &shop
}

// Select は指定IDのショップを現在のショップとして保存する。
// 一覧に存在しないIDの場合はmodel.ErrUnknownShopを返す。
func (s *ShopSelector) Select(shops []model.Shop, shopID string) (*model.Shop, error) {
	i := model.FindShop(shops, shopID)
	if i < 0 {
		return nil, model.NewUnknownShopError(shopID)
	}
	if err := s.Remember(shopID); err != nil {
		return nil, err
	}
	shop := shops[i].Clone()
	return &shop, nil
}

// Add はショップを一覧に追加する。現在のショップが未設定なら追加したショップを選択して保存する。
// 同じIDのショップが既に存在する場合は置き換える。
func (s *ShopSelector) Add(shops []model.Shop, current *model.Shop, shop model.Shop) ([]model.Shop, *model.Shop, error) {
	if model.FindShop(shops, shop.ID) >= 0 {
		next, cur := s.Replace(shops, current, shop)
		return next, cur, nil
	}

	next := append(model.CloneShops(shops), shop.Clone())
	if current != nil {
		return next, current, nil
	}

	if err := s.Remember(shop.ID); err != nil {
		return next, nil, err
	}
	selected := shop.Clone()
	return next, &selected, nil
}

// Replace は一覧内の同じIDのショップを置き換える。
// 置き換えたショップが現在のショップであれば現在のショップも更新する。
func (s *ShopSelector) Replace(shops []model.Shop, current *model.Shop, updated model.Shop) ([]model.Shop, *model.Shop) {
	next := model.CloneShops(shops)
	i := model.FindShop(next, updated.ID)
	if i < 0 {
		return next, current
	}
	next[i] = updated.Clone()

	if current != nil && current.ID == updated.ID {
		cur := updated.Clone()
		return next, &cur
	}
	return next, current
}

// Remember は選択中ショップIDを保存する。
func (s *ShopSelector) Remember(shopID string) error {
	return s.storage.SetItem(SelectedShopKey, shopID)
}

// Forget は選択中ショップIDを削除する。
func (s *ShopSelector) Forget() error {
	return s.storage.RemoveItem(SelectedShopKey)
}

// stored は保存済みのショップIDを返す。
func (s *ShopSelector) stored() string {
	id, _ := s.storage.GetItem(SelectedShopKey)
	return id
}
