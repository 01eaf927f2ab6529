package repository

import (
	"context"

	"storefront/internal/domain/model"
)

// カート明細を保存・取得する窓口。
// (user_id, product_id)で1行。
type CartItemRepository interface {
	//ユーザーの明細一覧を返す
	ListByUserID(ctx context.Context, userID int64) ([]model.CartItem, error)

	//明細IDで1件取得
	FindByID(ctx context.Context, cartItemID int64) (model.CartItem, error)

	//同一商品の既存明細を取得
	FindByUserAndProduct(ctx context.Context, userID, productID int64) (model.CartItem, error)

	//明細を新規作成（IDが埋まったものを返す）
	Create(ctx context.Context, item model.CartItem) (model.CartItem, error)

	//明細の数量を更新
	UpdateQuantity(ctx context.Context, cartItemID int64, qty int64) error

	//明細を削除
	DeleteByID(ctx context.Context, cartItemID int64) error

	//ユーザーの明細を全削除（注文確定後のクリア）
	DeleteByUserID(ctx context.Context, userID int64) error

	//明細がそのユーザーのものか
	IsOwnedByUser(ctx context.Context, cartItemID, userID int64) (bool, error)
}
