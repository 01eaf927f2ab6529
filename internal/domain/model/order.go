package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipped    OrderStatus = "SHIPPED"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

// 前進のみ。後戻りの遷移は無い
var orderStatusTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:    {OrderStatusDelivered},
	OrderStatusDelivered:  {},
	OrderStatusCancelled:  {},
}

func (s OrderStatus) Valid() bool {
	_, ok := orderStatusTransitions[s]
	return ok
}

func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderStatusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type PaymentStatus string

const (
	PaymentStatusUnpaid     PaymentStatus = "UNPAID"
	PaymentStatusProcessing PaymentStatus = "PROCESSING"
	PaymentStatusPaid       PaymentStatus = "PAID"
	PaymentStatusFailed     PaymentStatus = "FAILED"
	PaymentStatusRefunded   PaymentStatus = "REFUNDED"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentStatusUnpaid, PaymentStatusProcessing, PaymentStatusPaid,
		PaymentStatusFailed, PaymentStatusRefunded:
		return true
	}
	return false
}

// unpaid→processing→paid。failed/refundedへはどの状態からでも落とせる
func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	if !next.Valid() {
		return false
	}
	if next == PaymentStatusFailed || next == PaymentStatusRefunded {
		return s != PaymentStatusFailed && s != PaymentStatusRefunded
	}
	switch s {
	case PaymentStatusUnpaid:
		return next == PaymentStatusProcessing
	case PaymentStatusProcessing:
		return next == PaymentStatusPaid
	}
	return false
}

// 確定済み注文。明細と支払いスナップショットは作成後に変更されない
type Order struct {
	ID     int64 `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID int64 `gorm:"not null;index" json:"user_id"`

	//ORD-YYYYMMDD-NNNNN 形式。ユーザー向け確認画面に出るのでフォーマットは固定
	OrderNumber string `gorm:"type:varchar(40);not null;uniqueIndex" json:"order_number"`

	//配送先（任意）
	AddressID *int64 `gorm:"index" json:"address_id,omitempty"`

	//支払いスナップショット
	AmountPaid     decimal.Decimal `gorm:"not null;type:decimal(10,2)" json:"amount_paid"`
	PaymentChannel string          `gorm:"type:varchar(50);not null" json:"payment_channel"`
	//マスク済み口座番号（末尾4桁以外は伏せる。生の値は保存しない）
	MaskedAccount string `gorm:"type:varchar(100)" json:"masked_account"`
	AccountHolder string `gorm:"type:varchar(255)" json:"account_holder"`

	TotalAmount    decimal.Decimal `gorm:"not null;type:decimal(10,2)" json:"total_amount"`
	TaxAmount      decimal.Decimal `gorm:"not null;type:decimal(10,2)" json:"tax_amount"`
	ShippingAmount decimal.Decimal `gorm:"not null;type:decimal(10,2)" json:"shipping_amount"`

	PaymentStatus PaymentStatus `gorm:"type:varchar(20);not null;index" json:"payment_status"`
	Status        OrderStatus   `gorm:"type:varchar(20);not null;index" json:"status"`

	CancelReason string `gorm:"type:varchar(255)" json:"cancel_reason,omitempty"`

	IdempotencyKey string `gorm:"type:varchar(255);not null;uniqueIndex" json:"-"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime" json:"updated_at"`

	//状態遷移の時刻。それぞれ1回だけ打たれる
	PaidAt      *time.Time `json:"paid_at,omitempty"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}
