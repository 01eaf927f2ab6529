package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// 注文明細。商品名・カテゴリ・価格は注文時点の値で凍結する。
// 後から商品マスタが変わっても過去の注文は変わらない。
type OrderItem struct {
	ID                  int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID             int64           `gorm:"not null;index" json:"order_id"`
	ProductID           int64           `gorm:"not null;index" json:"product_id"`
	ProductNameSnapshot string          `gorm:"type:varchar(255);not null" json:"product_name_snapshot"`
	CategorySnapshot    string          `gorm:"type:varchar(100);not null" json:"category_snapshot"`
	UnitPriceSnapshot   decimal.Decimal `gorm:"not null;type:decimal(10,2)" json:"unit_price_snapshot"`
	Quantity            int64           `gorm:"not null" json:"quantity"`
	Subtotal            decimal.Decimal `gorm:"not null;type:decimal(10,2)" json:"subtotal"`
	CreatedAt           time.Time       `gorm:"not null;autoCreateTime" json:"created_at"`
}
