package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/sellerdesk/internal/model"
)

// selectShops はショップと対象カテゴリを1行にまとめて取得する。
const selectShops = `
	SELECT s.id, s.owner_id, s.name, s.description, s.logo_url, s.created_at, s.updated_at,
	       COALESCE(array_agg(sst.store_type_id ORDER BY sst.store_type_id)
	                FILTER (WHERE sst.store_type_id IS NOT NULL), '{}')
	FROM stores s
	LEFT JOIN store_store_types sst ON sst.store_id = s.id`

// PostgresShopRepo はPostgreSQLを使用したショップリポジトリ。
type PostgresShopRepo struct {
	db *sql.DB
}

// NewPostgresShopRepo はPostgresShopRepoを生成する。
func NewPostgresShopRepo(db *sql.DB) *PostgresShopRepo {
	return &PostgresShopRepo{db: db}
}

// ListByOwner は指定ユーザーが所有するショップを作成日時順に取得する。
// 所有ショップがない場合は空のスライスを返す。
func (r *PostgresShopRepo) ListByOwner(ctx context.Context, ownerID string) ([]model.Shop, error) {
	rows, err := r.db.QueryContext(ctx,
		selectShops+`
		WHERE s.owner_id = $1
		GROUP BY s.id
		ORDER BY s.created_at, s.id`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list shops: %w", err)
	}
	defer rows.Close()

	shops := []model.Shop{}
	for rows.Next() {
		shop, err := scanShop(rows)
		if err != nil {
			return nil, err
		}
		shops = append(shops, *shop)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate shops: %w", err)
	}

	return shops, nil
}

// FindByOwnerAndID は指定ユーザーが所有する指定IDのショップを取得する。見つからない場合はnilを返す。
func (r *PostgresShopRepo) FindByOwnerAndID(ctx context.Context, ownerID, shopID string) (*model.Shop, error) {
	row := r.db.QueryRowContext(ctx,
		selectShops+`
		WHERE s.owner_id = $1 AND s.id = $2
		GROUP BY s.id`,
		ownerID, shopID,
	)

	shop, err := scanShop(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return shop, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanShop(row rowScanner) (*model.Shop, error) {
	shop := &model.Shop{}
	var typeIDs []int64
	err := row.Scan(
		&shop.ID, &shop.OwnerID, &shop.Name, &shop.Description, &shop.LogoURL,
		&shop.CreatedAt, &shop.UpdatedAt, pq.Array(&typeIDs),
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan shop: %w", err)
	}

	for _, id := range typeIDs {
		t := model.StoreType(id)
		if t.Valid() {
			shop.Types = append(shop.Types, t)
		}
	}
	return shop, nil
}

// compile-time interface check
var _ ShopRepository = (*PostgresShopRepo)(nil)
