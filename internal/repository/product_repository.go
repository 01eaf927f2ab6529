package repository

import (
	"context"
	"errors"

	"storefront/internal/domain/model"
)

var ErrNotFound = errors.New("not found")

// ストアの応答が制限時間を超えた（リトライ可能）
var ErrTimeout = errors.New("store timeout")

// ユニーク制約違反（同時確定の注文番号・二重送信キーの衝突）
var ErrDuplicate = errors.New("duplicate")

// 商品カタログの読み取り窓口。
// 在庫の書き込みはInventoryRepositoryが担当する。
type ProductRepository interface {
	//商品IDで1件取得
	FindByID(ctx context.Context, productID int64) (model.Product, error)

	//公開中の商品一覧
	ListActive(ctx context.Context, page int, limit int) ([]model.Product, int64, error)
}
