package repository

import "context"

// 在庫と販売数の書き込み窓口
type InventoryRepository interface {
	//在庫が足りるときだけ減らす
	DecreaseStockIfEnough(ctx context.Context, productID int64, qty int64) (bool, error)

	//在庫戻し（キャンセル）
	IncreaseStock(ctx context.Context, productID int64, qty int64) error

	//販売数カウンタを加算
	IncrementSold(ctx context.Context, productID int64, qty int64) error
}
