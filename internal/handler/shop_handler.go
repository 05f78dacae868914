package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hitoshi/sellerdesk/internal/middleware"
	"github.com/hitoshi/sellerdesk/internal/model"
	"github.com/hitoshi/sellerdesk/internal/session"
)

// ShopSelectorInterface はショップハンドラーが必要とする状態操作のインターフェース。
// session.Reconcilerが実装する。
type ShopSelectorInterface interface {
	Snapshot() session.Snapshot
	SelectShop(shopID string) error
	AddShop(shop model.Shop) error
	ReplaceShop(shop model.Shop) error
}

// ShopLoader はデータストアから所有ショップを読み込む。profile.Serviceが実装する。
type ShopLoader interface {
	LoadShop(ctx context.Context, ownerID, shopID string) (*model.Shop, error)
}

// ShopHandler はショップ選択のHTTPハンドラー。
// ショップの作成・更新自体は別サービスで行われ、ここでは結果を状態に取り込む。
type ShopHandler struct {
	selector ShopSelectorInterface
	loader   ShopLoader
}

// NewShopHandler はShopHandlerを生成する。
func NewShopHandler(selector ShopSelectorInterface, loader ShopLoader) *ShopHandler {
	return &ShopHandler{selector: selector, loader: loader}
}

type shopIDRequest struct {
	ShopID string `json:"shop_id"`
}

// List は所有ショップ一覧と現在のショップを返す。
// GET /api/shops
func (h *ShopHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toShopsResponse(h.selector.Snapshot()))
}

// Select は現在のショップを切り替える。
// PUT /api/shops/current
func (h *ShopHandler) Select(w http.ResponseWriter, r *http.Request) {
	shopID, ok := decodeShopID(w, r)
	if !ok {
		return
	}

	if err := h.selector.SelectShop(shopID); err != nil {
		middleware.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toShopsResponse(h.selector.Snapshot()))
}

// Add は作成済みのショップを一覧に取り込む。
// POST /api/shops
func (h *ShopHandler) Add(w http.ResponseWriter, r *http.Request) {
	shopID, ok := decodeShopID(w, r)
	if !ok {
		return
	}

	shop, ok := h.loadOwned(w, r, shopID)
	if !ok {
		return
	}
	if err := h.selector.AddShop(*shop); err != nil {
		middleware.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toShopsResponse(h.selector.Snapshot()))
}

// Replace は更新済みのショップで一覧内の同じショップを置き換える。
// PUT /api/shops/{id}
func (h *ShopHandler) Replace(w http.ResponseWriter, r *http.Request) {
	shopID := chi.URLParam(r, "id")
	if _, err := uuid.Parse(shopID); err != nil {
		middleware.WriteError(w, model.NewInvalidRequestError("shop id must be a UUID"))
		return
	}

	shop, ok := h.loadOwned(w, r, shopID)
	if !ok {
		return
	}
	if err := h.selector.ReplaceShop(*shop); err != nil {
		middleware.WriteError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toShopsResponse(h.selector.Snapshot()))
}

// loadOwned はログイン中のユーザーが所有するショップをデータストアから読み込む。
func (h *ShopHandler) loadOwned(w http.ResponseWriter, r *http.Request, shopID string) (*model.Shop, bool) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		middleware.WriteError(w, model.NewNotAuthenticatedError())
		return nil, false
	}

	shop, err := h.loader.LoadShop(r.Context(), userID, shopID)
	if err != nil {
		middleware.WriteError(w, err)
		return nil, false
	}
	return shop, true
}

// decodeShopID はリクエストボディのshop_idを読み取り、UUID形式を検証する。
func decodeShopID(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req shopIDRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, model.NewInvalidRequestError("invalid JSON body"))
		return "", false
	}
	if _, err := uuid.Parse(req.ShopID); err != nil {
		middleware.WriteError(w, model.NewInvalidRequestError("shop_id must be a UUID"))
		return "", false
	}
	return req.ShopID, true
}
