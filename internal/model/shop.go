package model

import "time"

// StoreType はショップの対象カテゴリを表す。
// 値はstore_typesテーブルの数値IDと一致する。
type StoreType int

const (
	StoreTypeMen   StoreType = 1
	StoreTypeWomen StoreType = 2
	StoreTypeKids  StoreType = 3
)

// Valid は既知のStoreTypeかどうかを返す。
func (t StoreType) Valid() bool {
	return t >= StoreTypeMen && t <= StoreTypeKids
}

// String はStoreTypeのラベルを返す。
func (t StoreType) String() string {
	switch t {
	case StoreTypeMen:
		return "men"
	case StoreTypeWomen:
		return "women"
	case StoreTypeKids:
		return "kids"
	default:
		return "unknown"
	}
}

// Shop は販売者が所有するショップを表す。
type Shop struct {
	ID          string
	Name        string
	Description string
	LogoURL     string
	OwnerID     string
	Types       []StoreType
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Clone はスライスを共有しないコピーを返す。
func (s Shop) Clone() Shop {
	if s.Types != nil {
		types := make([]StoreType, len(s.Types))
		copy(types, s.Types)
		s.Types = types
	}
	return s
}

// CloneShops はショップ一覧のディープコピーを返す。
func CloneShops(shops []Shop) []Shop {
	if len(shops) == 0 {
		return nil
	}
	dup := make([]Shop, len(shops))
	for i, s := range shops {
		dup[i] = s.Clone()
	}
	return dup
}

// FindShop はIDに一致するショップのインデックスを返す。見つからない場合は-1を返す。
func FindShop(shops []Shop, id string) int {
	for i := range shops {
		if shops[i].ID == id {
			return i
		}
	}
	return -1
}
