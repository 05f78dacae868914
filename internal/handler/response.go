package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/hitoshi/sellerdesk/internal/model"
	"github.com/hitoshi/sellerdesk/internal/session"
)

// userResponse はユーザープロフィールのAPIレスポンス。
type userResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// shopResponse はショップのAPIレスポンス。
type shopResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	LogoURL     string    `json:"logo_url"`
	Types       []string  `json:"types"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// sessionResponse はセッション状態のAPIレスポンス。
type sessionResponse struct {
	Phase         string         `json:"phase"`
	Authenticated bool           `json:"authenticated"`
	Loading       bool           `json:"loading"`
	Reconciling   bool           `json:"reconciling"`
	User          *userResponse  `json:"user"`
	Shops         []shopResponse `json:"shops"`
	CurrentShop   *shopResponse  `json:"current_shop"`
	Version       uint64         `json:"version"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// shopsResponse はショップ一覧のAPIレスポンス。
type shopsResponse struct {
	Shops       []shopResponse `json:"shops"`
	CurrentShop *shopResponse  `json:"current_shop"`
}

func toShopResponse(s model.Shop) shopResponse {
	types := make([]string, 0, len(s.Types))
	for _, t := range s.Types {
		types = append(types, t.String())
	}
	return shopResponse{
		ID:          s.ID,
		Name:        s.Name,
		Description: s.Description,
		LogoURL:     s.LogoURL,
		Types:       types,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}

func toShopsResponse(snap session.Snapshot) shopsResponse {
	resp := shopsResponse{Shops: make([]shopResponse, 0, len(snap.Shops))}
	for _, s := range snap.Shops {
		resp.Shops = append(resp.Shops, toShopResponse(s))
	}
	if snap.CurrentShop != nil {
		cur := toShopResponse(*snap.CurrentShop)
		resp.CurrentShop = &cur
	}
	return resp
}

func toSessionResponse(snap session.Snapshot) sessionResponse {
	shops := toShopsResponse(snap)
	resp := sessionResponse{
		Phase:         string(snap.Phase()),
		Authenticated: snap.Authenticated,
		Loading:       snap.Loading,
		Reconciling:   snap.Reconciling,
		Shops:         shops.Shops,
		CurrentShop:   shops.CurrentShop,
		Version:       snap.Version,
		UpdatedAt:     snap.UpdatedAt,
	}
	if snap.User != nil {
		resp.User = &userResponse{
			ID:    snap.User.ID,
			Name:  snap.User.Name,
			Email: snap.User.Email,
			Role:  string(snap.User.Role),
		}
	}
	return resp
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}
