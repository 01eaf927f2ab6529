package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"storefront/internal/domain/model"
	"storefront/internal/monitor"
	repo "storefront/internal/repository"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// 合計金額の許容誤差。これを超える差は計算値で黙って上書きする
var totalTolerance = decimal.RequireFromString("0.01")

// OrderUsecase はカートと住所から変更不能な注文を組み立てる。
// 在庫減算は注文作成後のベストエフォートで、失敗しても注文は取り消さない
type OrderUsecase struct {
	tx        repo.TransactionManager
	addresses repo.AddressRepository
	inventory repo.InventoryRepository
	numbers   *OrderNumberGenerator
	mon       monitor.Monitor
	timeout   time.Duration

	//非同期の在庫更新を待ち合わせる（シャットダウンとテスト用）
	stockWG sync.WaitGroup
}

func NewOrderUsecase(
	tx repo.TransactionManager,
	addresses repo.AddressRepository,
	inventory repo.InventoryRepository,
	numbers *OrderNumberGenerator,
	mon monitor.Monitor,
	timeout time.Duration,
) *OrderUsecase {
	return &OrderUsecase{
		tx:        tx,
		addresses: addresses,
		inventory: inventory,
		numbers:   numbers,
		mon:       mon,
		timeout:   timeout,
	}
}

type PaymentInput struct {
	Channel       string          `json:"channel"`
	AccountNumber string          `json:"account_number"`
	AccountHolder string          `json:"account_holder"`
	Amount        decimal.Decimal `json:"amount"`
}

type PlaceOrderInput struct {
	AddressID      *int64
	IdempotencyKey string
	Payment        PaymentInput
	TaxAmount      decimal.Decimal
	ShippingAmount decimal.Decimal

	//呼び出し側が計算した合計（省略可）。誤差0.01超は信用しない
	TotalAmount *decimal.Decimal
}

type OrderItemOutput struct {
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int64           `json:"quantity"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

type OrderOutput struct {
	ID             int64             `json:"id"`
	UserID         int64             `json:"user_id"`
	OrderNumber    string            `json:"order_number"`
	AddressID      *int64            `json:"address_id,omitempty"`
	Status         string            `json:"status"`
	PaymentStatus  string            `json:"payment_status"`
	PaymentChannel string            `json:"payment_channel"`
	MaskedAccount  string            `json:"masked_account"`
	TotalAmount    decimal.Decimal   `json:"total_amount"`
	TaxAmount      decimal.Decimal   `json:"tax_amount"`
	ShippingAmount decimal.Decimal   `json:"shipping_amount"`
	CreatedAt      time.Time         `json:"created_at"`
	PaidAt         *time.Time        `json:"paid_at,omitempty"`
	DeliveredAt    *time.Time        `json:"delivered_at,omitempty"`
	CancelledAt    *time.Time        `json:"cancelled_at,omitempty"`
	Items          []OrderItemOutput `json:"items"`
}

// PlaceOrder はチェックアウトを確定する。
// カートの行を凍結し、注文番号を採番し、合計を検算して1トランザクションで保存する。
// 在庫減算はコミット後に非同期で行う
func (u *OrderUsecase) PlaceOrder(ctx context.Context, userID int64, in PlaceOrderInput) (OrderOutput, error) {
	if userID <= 0 {
		return OrderOutput{}, ErrUnauthorized
	}
	if in.Payment.Channel == "" {
		return OrderOutput{}, ErrValidation
	}
	if in.Payment.Amount.IsNegative() || in.TaxAmount.IsNegative() || in.ShippingAmount.IsNegative() {
		return OrderOutput{}, ErrValidation
	}

	key := strings.TrimSpace(in.IdempotencyKey)
	if key == "" {
		key = uuid.NewString()
	}
	if len(key) > 255 {
		return OrderOutput{}, ErrValidation
	}

	ctx, cancel := withTimeout(ctx, u.timeout)
	defer cancel()

	//address_idの存在確認＋所有チェック
	if in.AddressID != nil {
		addr, err := u.addresses.FindByID(ctx, *in.AddressID)
		if isNotFound(err) {
			return OrderOutput{}, ErrNotFound
		}
		if err != nil {
			return OrderOutput{}, storeErr(err)
		}
		if addr.UserID != userID {
			return OrderOutput{}, ErrUnauthorized
		}
	}

	number := u.numbers.Next(ctx)

	var out OrderOutput
	var createdItems []model.OrderItem

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		// 同じキーなら同じ結果
		existing, found, err := r.Orders().FindByIdempotencyKey(ctx, userID, key)
		if err != nil {
			return storeErr(err)
		}
		if found {
			items, err := r.OrderItems().ListByOrderID(ctx, existing.ID)
			if err != nil {
				return storeErr(err)
			}
			out = toOrderOutput(existing, items)
			return nil
		}

		//カートの行を凍結する
		orderItems, itemsTotal, err := u.freezeCartLines(ctx, r, userID)
		if err != nil {
			return err
		}
		if len(orderItems) == 0 {
			return ErrEmptyCart
		}

		//合計の検算。誤差0.01以内なら呼び出し側の値を尊重する
		total := itemsTotal.Add(in.ShippingAmount).Add(in.TaxAmount)
		if in.TotalAmount != nil && in.TotalAmount.Sub(total).Abs().LessThanOrEqual(totalTolerance) {
			total = *in.TotalAmount
		}

		now := time.Now()
		order := model.Order{
			UserID:         userID,
			OrderNumber:    number,
			AddressID:      in.AddressID,
			AmountPaid:     in.Payment.Amount,
			PaymentChannel: in.Payment.Channel,
			MaskedAccount:  maskAccount(in.Payment.AccountNumber),
			AccountHolder:  in.Payment.AccountHolder,
			TotalAmount:    total,
			TaxAmount:      in.TaxAmount,
			ShippingAmount: in.ShippingAmount,
			PaymentStatus:  model.PaymentStatusUnpaid,
			Status:         model.OrderStatusProcessing,
			IdempotencyKey: key,
			CreatedAt:      now,
			UpdatedAt:      now,
		}

		orderID, err := r.Orders().Create(ctx, order)
		if err != nil {
			if !errors.Is(err, repo.ErrDuplicate) {
				return storeErr(err)
			}

			//同時確定で同じキーか同じ番号が入った。
			//キー競合ならもう一度検索して同じ結果を返す
			ex2, found2, err2 := r.Orders().FindByIdempotencyKey(ctx, userID, key)
			if err2 == nil && found2 {
				items2, err3 := r.OrderItems().ListByOrderID(ctx, ex2.ID)
				if err3 != nil {
					return storeErr(err3)
				}
				out = toOrderOutput(ex2, items2)
				return nil
			}

			//番号競合はフォールバック番号で1回だけ作り直す
			order.OrderNumber = u.numbers.fallback("ORD-" + u.numbers.now().UTC().Format(orderNumberDateFormat) + "-")
			orderID, err = r.Orders().Create(ctx, order)
			if err != nil {
				return storeErr(err)
			}
		}

		if err := r.OrderItems().CreateBulk(ctx, orderID, orderItems); err != nil {
			return storeErr(err)
		}

		//カートをクリア（再注文防止）
		if err := r.CartItems().DeleteByUserID(ctx, userID); err != nil {
			return storeErr(err)
		}

		order.ID = orderID
		createdItems = orderItems
		out = toOrderOutput(order, orderItems)
		return nil
	})

	if err != nil {
		return OrderOutput{}, err
	}

	//在庫減算はベストエフォート。失敗しても注文は生きる
	if len(createdItems) > 0 {
		u.stockWG.Add(1)
		go func() {
			defer u.stockWG.Done()
			u.applyStockDecrement(userID, createdItems)
		}()
	}

	return out, nil
}

// WaitInventory は飛行中の在庫更新を待つ（シャットダウン時に呼ぶ）
func (u *OrderUsecase) WaitInventory() {
	u.stockWG.Wait()
}

// コミット後の在庫減算と販売数加算。
// 失敗は監視へ送るだけで、外部の突合せ処理が後で直す
func (u *OrderUsecase) applyStockDecrement(userID int64, items []model.OrderItem) {
	ctx, cancel := withTimeout(context.Background(), u.timeout)
	defer cancel()

	for _, it := range items {
		ok, err := u.inventory.DecreaseStockIfEnough(ctx, it.ProductID, it.Quantity)
		if err != nil || !ok {
			u.mon.ReportSystemError(ctx, monitor.Event{
				Kind:    "stock_decrement_failed",
				OwnerID: userID,
				Err:     err,
				Fields: map[string]any{
					"product_id": it.ProductID,
					"quantity":   it.Quantity,
				},
			})
			continue
		}

		if err := u.inventory.IncrementSold(ctx, it.ProductID, it.Quantity); err != nil {
			u.mon.ReportSystemError(ctx, monitor.Event{
				Kind:    "sold_increment_failed",
				OwnerID: userID,
				Err:     err,
				Fields:  map[string]any{"product_id": it.ProductID},
			})
		}
	}
}

// カートの行を注文明細に凍結する。
// 数量は現在庫でクランプし、死んだ商品・期限切れの行は除外する
func (u *OrderUsecase) freezeCartLines(ctx context.Context, r repo.TxRepos, userID int64) ([]model.OrderItem, decimal.Decimal, error) {
	cartItems, err := r.CartItems().ListByUserID(ctx, userID)
	if err != nil {
		return nil, decimal.Zero, storeErr(err)
	}

	orderItems := make([]model.OrderItem, 0, len(cartItems))
	itemsTotal := decimal.Zero
	now := time.Now()

	for _, ci := range cartItems {
		if ci.ExpiresAt != nil && ci.ExpiresAt.Before(now) {
			continue
		}

		p, err := r.Products().FindByID(ctx, ci.ProductID)
		if isNotFound(err) {
			continue
		}
		if err != nil {
			return nil, decimal.Zero, storeErr(err)
		}
		if !p.IsActive || p.Stock <= 0 {
			continue
		}

		qty := ci.Quantity
		if qty > p.Stock {
			qty = p.Stock
		}

		subtotal := ci.UnitPriceSnapshot.Mul(decimal.NewFromInt(qty))
		orderItems = append(orderItems, model.OrderItem{
			ProductID:           ci.ProductID,
			ProductNameSnapshot: ci.NameSnapshot,
			CategorySnapshot:    p.Category,
			UnitPriceSnapshot:   ci.UnitPriceSnapshot,
			Quantity:            qty,
			Subtotal:            subtotal,
			CreatedAt:           now,
		})

		itemsTotal = itemsTotal.Add(subtotal)
	}

	return orderItems, itemsTotal, nil
}

func (u *OrderUsecase) ListMyOrders(ctx context.Context, userID int64) ([]OrderOutput, error) {
	if userID <= 0 {
		return nil, ErrUnauthorized
	}

	ctx, cancel := withTimeout(ctx, u.timeout)
	defer cancel()

	var outs []OrderOutput

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		orders, _, err := r.Orders().ListByUserID(ctx, userID, 1, 50)
		if err != nil {
			return storeErr(err)
		}

		outs = make([]OrderOutput, 0, len(orders))
		for _, o := range orders {
			items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
			if err != nil {
				return storeErr(err)
			}
			outs = append(outs, toOrderOutput(o, items))
		}
		return nil
	})

	if err != nil {
		return nil, err
	}
	return outs, nil
}

func (u *OrderUsecase) GetMyOrderDetail(ctx context.Context, userID int64, orderID int64) (OrderOutput, error) {
	if userID <= 0 {
		return OrderOutput{}, ErrUnauthorized
	}
	if orderID <= 0 {
		return OrderOutput{}, ErrValidation
	}

	ctx, cancel := withTimeout(ctx, u.timeout)
	defer cancel()

	var out OrderOutput

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := u.findOwnedOrder(ctx, r, userID, orderID)
		if err != nil {
			return err
		}

		items, err := r.OrderItems().ListByOrderID(ctx, orderID)
		if err != nil {
			return storeErr(err)
		}

		out = toOrderOutput(o, items)
		return nil
	})

	if err != nil {
		return OrderOutput{}, err
	}
	return out, nil
}

// UpdateOrderStatus は注文状態を前へ進める。
// 同じ状態への再遷移は何もしない成功。キャンセルには理由が必須
func (u *OrderUsecase) UpdateOrderStatus(ctx context.Context, userID int64, orderID int64, next model.OrderStatus, reason string) (OrderOutput, error) {
	if userID <= 0 {
		return OrderOutput{}, ErrUnauthorized
	}
	if orderID <= 0 || !next.Valid() {
		return OrderOutput{}, ErrValidation
	}
	if next == model.OrderStatusCancelled && strings.TrimSpace(reason) == "" {
		return OrderOutput{}, ErrValidation
	}

	ctx, cancel := withTimeout(ctx, u.timeout)
	defer cancel()

	var out OrderOutput
	var restock []model.OrderItem

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := u.findOwnedOrder(ctx, r, userID, orderID)
		if err != nil {
			return err
		}

		items, err := r.OrderItems().ListByOrderID(ctx, orderID)
		if err != nil {
			return storeErr(err)
		}

		if o.Status == next {
			//冪等。時刻も打ち直さない
			out = toOrderOutput(o, items)
			return nil
		}
		if !o.Status.CanTransitionTo(next) {
			return ErrInvalidStatusTransition
		}

		now := time.Now()
		o.Status = next
		o.UpdatedAt = now

		switch next {
		case model.OrderStatusDelivered:
			if o.DeliveredAt == nil {
				o.DeliveredAt = &now
			}
		case model.OrderStatusCancelled:
			o.CancelReason = strings.TrimSpace(reason)
			if o.CancelledAt == nil {
				o.CancelledAt = &now
			}
			restock = items
		}

		if err := r.Orders().UpdateTransition(ctx, o); err != nil {
			if isNotFound(err) {
				return ErrNotFound
			}
			return storeErr(err)
		}

		out = toOrderOutput(o, items)
		return nil
	})

	if err != nil {
		return OrderOutput{}, err
	}

	//キャンセル時の在庫戻しもベストエフォート
	if len(restock) > 0 {
		u.stockWG.Add(1)
		go func() {
			defer u.stockWG.Done()
			u.applyRestock(userID, restock)
		}()
	}

	return out, nil
}

func (u *OrderUsecase) applyRestock(userID int64, items []model.OrderItem) {
	ctx, cancel := withTimeout(context.Background(), u.timeout)
	defer cancel()

	for _, it := range items {
		if err := u.inventory.IncreaseStock(ctx, it.ProductID, it.Quantity); err != nil {
			u.mon.ReportSystemError(ctx, monitor.Event{
				Kind:    "stock_restore_failed",
				OwnerID: userID,
				Err:     err,
				Fields:  map[string]any{"product_id": it.ProductID},
			})
		}
	}
}

// UpdatePayment は支払い状態を進める。最初にpaidへ達したときだけpaid_atを打つ
func (u *OrderUsecase) UpdatePayment(ctx context.Context, userID int64, orderID int64, next model.PaymentStatus) (OrderOutput, error) {
	if userID <= 0 {
		return OrderOutput{}, ErrUnauthorized
	}
	if orderID <= 0 || !next.Valid() {
		return OrderOutput{}, ErrValidation
	}

	ctx, cancel := withTimeout(ctx, u.timeout)
	defer cancel()

	var out OrderOutput

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := u.findOwnedOrder(ctx, r, userID, orderID)
		if err != nil {
			return err
		}

		items, err := r.OrderItems().ListByOrderID(ctx, orderID)
		if err != nil {
			return storeErr(err)
		}

		if o.PaymentStatus == next {
			out = toOrderOutput(o, items)
			return nil
		}
		if !o.PaymentStatus.CanTransitionTo(next) {
			return ErrInvalidStatusTransition
		}

		now := time.Now()
		o.PaymentStatus = next
		o.UpdatedAt = now
		if next == model.PaymentStatusPaid && o.PaidAt == nil {
			o.PaidAt = &now
		}

		if err := r.Orders().UpdateTransition(ctx, o); err != nil {
			if isNotFound(err) {
				return ErrNotFound
			}
			return storeErr(err)
		}

		out = toOrderOutput(o, items)
		return nil
	})

	if err != nil {
		return OrderOutput{}, err
	}
	return out, nil
}

// 他人の注文は「存在しない扱い」にする
func (u *OrderUsecase) findOwnedOrder(ctx context.Context, r repo.TxRepos, userID, orderID int64) (model.Order, error) {
	o, err := r.Orders().FindByID(ctx, orderID)
	if isNotFound(err) {
		return model.Order{}, ErrNotFound
	}
	if err != nil {
		return model.Order{}, storeErr(err)
	}
	if o.UserID != userID {
		return model.Order{}, ErrNotFound
	}
	return o, nil
}

func toOrderOutput(o model.Order, items []model.OrderItem) OrderOutput {
	return OrderOutput{
		ID:             o.ID,
		UserID:         o.UserID,
		OrderNumber:    o.OrderNumber,
		AddressID:      o.AddressID,
		Status:         string(o.Status),
		PaymentStatus:  string(o.PaymentStatus),
		PaymentChannel: o.PaymentChannel,
		MaskedAccount:  o.MaskedAccount,
		TotalAmount:    o.TotalAmount,
		TaxAmount:      o.TaxAmount,
		ShippingAmount: o.ShippingAmount,
		CreatedAt:      o.CreatedAt,
		PaidAt:         o.PaidAt,
		DeliveredAt:    o.DeliveredAt,
		CancelledAt:    o.CancelledAt,
		Items: lo.Map(items, func(it model.OrderItem, _ int) OrderItemOutput {
			return OrderItemOutput{
				ProductID: it.ProductID,
				Name:      it.ProductNameSnapshot,
				Category:  it.CategorySnapshot,
				Price:     it.UnitPriceSnapshot,
				Quantity:  it.Quantity,
				Subtotal:  it.Subtotal,
			}
		}),
	}
}

// 口座番号のマスク。末尾4桁以外は伏せ、生の値は保存しない
func maskAccount(s string) string {
	if s == "" {
		return ""
	}
	r := []rune(s)
	if len(r) <= 4 {
		return strings.Repeat("*", len(r))
	}
	return strings.Repeat("*", len(r)-4) + string(r[len(r)-4:])
}
