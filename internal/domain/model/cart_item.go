package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// カートの明細。(user_id, product_id)で1行。
// 追加時点の価格と商品名を必ず保存。
type CartItem struct {
	ID                int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID            int64           `gorm:"not null;uniqueIndex:idx_cart_user_product" json:"user_id"`
	ProductID         int64           `gorm:"not null;uniqueIndex:idx_cart_user_product" json:"product_id"`
	Quantity          int64           `gorm:"not null" json:"quantity"`
	UnitPriceSnapshot decimal.Decimal `gorm:"not null;type:decimal(10,2);column:unit_price_snapshot" json:"unit_price_snapshot"`
	NameSnapshot      string          `gorm:"type:varchar(255);not null;column:name_snapshot" json:"name_snapshot"`
	CreatedAt         time.Time       `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"not null;autoUpdateTime" json:"updated_at"`

	// 期限切れの明細は取得時に削除される
	ExpiresAt *time.Time `gorm:"index" json:"expires_at,omitempty"`
}
