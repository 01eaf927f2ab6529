package repository

import (
	"context"

	"storefront/internal/domain/model"
)

type OrderRepository interface {
	//注文を作成してIDを返す
	Create(ctx context.Context, order model.Order) (int64, error)

	//注文IDで1件取得
	FindByID(ctx context.Context, orderID int64) (model.Order, error)

	//ユーザーの注文一覧（新しい順）
	ListByUserID(ctx context.Context, userID int64, page int, limit int) ([]model.Order, int64, error)

	//二重送信防止キーで検索
	FindByIdempotencyKey(ctx context.Context, userID int64, key string) (model.Order, bool, error)

	//prefix（ORD-YYYYMMDD-）に一致する注文番号のうち最大のものを返す。
	//1件も無ければErrNotFound
	FindLatestOrderNumber(ctx context.Context, prefix string) (string, error)

	//状態遷移の保存。作成後に変わるのは状態・理由・時刻だけ
	UpdateTransition(ctx context.Context, order model.Order) error
}

type OrderItemRepository interface {
	//注文明細を一括作成
	CreateBulk(ctx context.Context, orderID int64, items []model.OrderItem) error

	//注文の明細一覧
	ListByOrderID(ctx context.Context, orderID int64) ([]model.OrderItem, error)
}
