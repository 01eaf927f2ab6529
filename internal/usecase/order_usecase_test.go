package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"storefront/internal/domain/model"
	"storefront/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// テストで使う部品一式
type orderFixture struct {
	uc         *OrderUsecase
	orders     *orderRepoMock
	orderItems *orderItemRepoMock
	cartItems  *cartItemRepoMock
	inventory  *inventoryRepoMock
	products   *productRepoMock
	addresses  *addressRepoMock
	mon        *recordingMonitor
}

func newOrderFixture() *orderFixture {
	f := &orderFixture{
		orders:     new(orderRepoMock),
		orderItems: new(orderItemRepoMock),
		cartItems:  new(cartItemRepoMock),
		inventory:  new(inventoryRepoMock),
		products:   new(productRepoMock),
		addresses:  new(addressRepoMock),
		mon:        &recordingMonitor{},
	}

	tx := &txManagerStub{repos: &txReposStub{
		orders:     f.orders,
		orderItems: f.orderItems,
		cartItems:  f.cartItems,
		inventory:  f.inventory,
		products:   f.products,
		addresses:  f.addresses,
	}}

	numbers := NewOrderNumberGenerator(f.orders, f.mon)
	f.uc = NewOrderUsecase(tx, f.addresses, f.inventory, numbers, f.mon, time.Second)
	return f
}

func validPlaceInput() PlaceOrderInput {
	return PlaceOrderInput{
		IdempotencyKey: "key-1",
		Payment: PaymentInput{
			Channel:       "bank_transfer",
			AccountNumber: "1234567890",
			AccountHolder: "Taro Yamada",
			Amount:        price("10.00"),
		},
		TaxAmount:      price("0.50"),
		ShippingAmount: price("1.00"),
	}
}

// カートに1行（商品5を2個、単価2.00）ある状態を作る
func (f *orderFixture) seedCart() {
	f.orders.On("FindLatestOrderNumber", mock.Anything, mock.AnythingOfType("string")).Return("", repository.ErrNotFound)
	f.orders.On("FindByIdempotencyKey", mock.Anything, int64(1), "key-1").Return(model.Order{}, false, nil)
	f.cartItems.On("ListByUserID", mock.Anything, int64(1)).Return([]model.CartItem{
		{ID: 10, UserID: 1, ProductID: 5, Quantity: 2, UnitPriceSnapshot: price("2.00"), NameSnapshot: "Coffee"},
	}, nil)
	f.products.On("FindByID", mock.Anything, int64(5)).Return(model.Product{ID: 5, IsActive: true, Stock: 9, Category: "drink"}, nil)
}

func TestOrderUsecase_PlaceOrder_Validation(t *testing.T) {
	f := newOrderFixture()

	_, err := f.uc.PlaceOrder(context.Background(), 0, validPlaceInput())
	assert.ErrorIs(t, err, ErrUnauthorized)

	in := validPlaceInput()
	in.Payment.Channel = ""
	_, err = f.uc.PlaceOrder(context.Background(), 1, in)
	assert.ErrorIs(t, err, ErrValidation)

	in = validPlaceInput()
	in.TaxAmount = price("-1.00")
	_, err = f.uc.PlaceOrder(context.Background(), 1, in)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestOrderUsecase_PlaceOrder_ForeignAddress(t *testing.T) {
	f := newOrderFixture()

	addrID := int64(7)
	f.addresses.On("FindByID", mock.Anything, addrID).Return(model.Address{ID: 7, UserID: 99}, nil)

	in := validPlaceInput()
	in.AddressID = &addrID
	_, err := f.uc.PlaceOrder(context.Background(), 1, in)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestOrderUsecase_PlaceOrder_MissingAddress(t *testing.T) {
	f := newOrderFixture()

	addrID := int64(7)
	f.addresses.On("FindByID", mock.Anything, addrID).Return(model.Address{}, repository.ErrNotFound)

	in := validPlaceInput()
	in.AddressID = &addrID
	_, err := f.uc.PlaceOrder(context.Background(), 1, in)
	assert.ErrorIs(t, err, ErrNotFound)
}

// 空カートでは何も作らない
func TestOrderUsecase_PlaceOrder_EmptyCart(t *testing.T) {
	f := newOrderFixture()

	f.orders.On("FindLatestOrderNumber", mock.Anything, mock.AnythingOfType("string")).Return("", repository.ErrNotFound)
	f.orders.On("FindByIdempotencyKey", mock.Anything, int64(1), "key-1").Return(model.Order{}, false, nil)
	f.cartItems.On("ListByUserID", mock.Anything, int64(1)).Return([]model.CartItem{}, nil)

	_, err := f.uc.PlaceOrder(context.Background(), 1, validPlaceInput())
	assert.ErrorIs(t, err, ErrEmptyCart)

	f.orders.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	f.cartItems.AssertNotCalled(t, "DeleteByUserID", mock.Anything, mock.Anything)
}

// 正常系。スナップショット、採番、マスク、カートクリア、非同期の在庫減算まで
func TestOrderUsecase_PlaceOrder_Success(t *testing.T) {
	f := newOrderFixture()
	f.seedCart()

	f.orders.On("Create", mock.Anything, mock.MatchedBy(func(o model.Order) bool {
		return o.UserID == 1 &&
			o.OrderNumber != "" &&
			o.Status == model.OrderStatusProcessing &&
			o.PaymentStatus == model.PaymentStatusUnpaid &&
			o.MaskedAccount == "******7890" &&
			o.TotalAmount.Equal(price("5.50")) // 4.00 + 1.00送料 + 0.50税
	})).Return(int64(100), nil)

	f.orderItems.On("CreateBulk", mock.Anything, int64(100), mock.MatchedBy(func(items []model.OrderItem) bool {
		return len(items) == 1 && items[0].ProductID == 5 && items[0].Quantity == 2 &&
			items[0].Subtotal.Equal(price("4.00")) && items[0].ProductNameSnapshot == "Coffee"
	})).Return(nil)

	f.cartItems.On("DeleteByUserID", mock.Anything, int64(1)).Return(nil)

	f.inventory.On("DecreaseStockIfEnough", mock.Anything, int64(5), int64(2)).Return(true, nil)
	f.inventory.On("IncrementSold", mock.Anything, int64(5), int64(2)).Return(nil)

	out, err := f.uc.PlaceOrder(context.Background(), 1, validPlaceInput())
	assert.NoError(t, err)
	assert.Equal(t, int64(100), out.ID)
	assert.Equal(t, "******7890", out.MaskedAccount)
	assert.Len(t, out.Items, 1)

	f.uc.WaitInventory()

	f.orders.AssertExpectations(t)
	f.orderItems.AssertExpectations(t)
	f.cartItems.AssertExpectations(t)
	f.inventory.AssertExpectations(t)
	assert.Empty(t, f.mon.Events())
}

// 呼び出し側の合計が0.01以内ならそれを信じる
func TestOrderUsecase_PlaceOrder_CallerTotalWithinTolerance(t *testing.T) {
	f := newOrderFixture()
	f.seedCart()

	caller := price("5.51")
	f.orders.On("Create", mock.Anything, mock.MatchedBy(func(o model.Order) bool {
		return o.TotalAmount.Equal(price("5.51"))
	})).Return(int64(100), nil)
	f.orderItems.On("CreateBulk", mock.Anything, int64(100), mock.Anything).Return(nil)
	f.cartItems.On("DeleteByUserID", mock.Anything, int64(1)).Return(nil)
	f.inventory.On("DecreaseStockIfEnough", mock.Anything, int64(5), int64(2)).Return(true, nil)
	f.inventory.On("IncrementSold", mock.Anything, int64(5), int64(2)).Return(nil)

	in := validPlaceInput()
	in.TotalAmount = &caller
	_, err := f.uc.PlaceOrder(context.Background(), 1, in)
	assert.NoError(t, err)

	f.uc.WaitInventory()
	f.orders.AssertExpectations(t)
}

// 0.01を超える差は黙って計算値で上書きする
func TestOrderUsecase_PlaceOrder_CallerTotalBeyondTolerance_Recomputed(t *testing.T) {
	f := newOrderFixture()
	f.seedCart()

	caller := price("999.99")
	f.orders.On("Create", mock.Anything, mock.MatchedBy(func(o model.Order) bool {
		return o.TotalAmount.Equal(price("5.50"))
	})).Return(int64(100), nil)
	f.orderItems.On("CreateBulk", mock.Anything, int64(100), mock.Anything).Return(nil)
	f.cartItems.On("DeleteByUserID", mock.Anything, int64(1)).Return(nil)
	f.inventory.On("DecreaseStockIfEnough", mock.Anything, int64(5), int64(2)).Return(true, nil)
	f.inventory.On("IncrementSold", mock.Anything, int64(5), int64(2)).Return(nil)

	in := validPlaceInput()
	in.TotalAmount = &caller
	_, err := f.uc.PlaceOrder(context.Background(), 1, in)
	assert.NoError(t, err)

	f.uc.WaitInventory()
	f.orders.AssertExpectations(t)
}

// 同じキーの再送は前回と同じ注文を返す
func TestOrderUsecase_PlaceOrder_IdempotentReplay(t *testing.T) {
	f := newOrderFixture()

	existing := model.Order{ID: 100, UserID: 1, OrderNumber: "ORD-20260314-00001", IdempotencyKey: "key-1"}
	f.orders.On("FindLatestOrderNumber", mock.Anything, mock.AnythingOfType("string")).Return("", repository.ErrNotFound)
	f.orders.On("FindByIdempotencyKey", mock.Anything, int64(1), "key-1").Return(existing, true, nil)
	f.orderItems.On("ListByOrderID", mock.Anything, int64(100)).Return([]model.OrderItem{}, nil)

	out, err := f.uc.PlaceOrder(context.Background(), 1, validPlaceInput())
	assert.NoError(t, err)
	assert.Equal(t, int64(100), out.ID)
	assert.Equal(t, "ORD-20260314-00001", out.OrderNumber)

	f.orders.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	f.cartItems.AssertNotCalled(t, "DeleteByUserID", mock.Anything, mock.Anything)
}

// 注文番号の同時確定で衝突したら、フォールバック番号で1回だけ作り直す
func TestOrderUsecase_PlaceOrder_NumberCollision_RetriesWithFallback(t *testing.T) {
	f := newOrderFixture()
	f.seedCart()

	var firstNumber string
	f.orders.On("Create", mock.Anything, mock.MatchedBy(func(o model.Order) bool {
		// testifyは消費済みの期待値のマッチャも再評価するので、初回だけ記録する
		if firstNumber == "" {
			firstNumber = o.OrderNumber
		}
		return true
	})).Return(int64(0), repository.ErrDuplicate).Once()
	f.orders.On("Create", mock.Anything, mock.MatchedBy(func(o model.Order) bool {
		//2回目は連番ではないタイムスタンプ由来の番号
		return o.OrderNumber != firstNumber
	})).Return(int64(100), nil).Once()

	f.orderItems.On("CreateBulk", mock.Anything, int64(100), mock.Anything).Return(nil)
	f.cartItems.On("DeleteByUserID", mock.Anything, int64(1)).Return(nil)
	f.inventory.On("DecreaseStockIfEnough", mock.Anything, int64(5), int64(2)).Return(true, nil)
	f.inventory.On("IncrementSold", mock.Anything, int64(5), int64(2)).Return(nil)

	out, err := f.uc.PlaceOrder(context.Background(), 1, validPlaceInput())
	assert.NoError(t, err)
	assert.Equal(t, int64(100), out.ID)

	f.uc.WaitInventory()
	f.orders.AssertExpectations(t)
}

// ユニーク制約以外のDBエラーでは作り直さない
func TestOrderUsecase_PlaceOrder_CreateError_NoRetry(t *testing.T) {
	f := newOrderFixture()
	f.seedCart()

	f.orders.On("Create", mock.Anything, mock.AnythingOfType("model.Order")).Return(int64(0), errors.New("db down")).Once()

	_, err := f.uc.PlaceOrder(context.Background(), 1, validPlaceInput())
	assert.ErrorIs(t, err, ErrInternal)

	f.orders.AssertExpectations(t)
	f.cartItems.AssertNotCalled(t, "DeleteByUserID", mock.Anything, mock.Anything)
}

// 在庫減算の失敗で注文は取り消さない。監視に送るだけ
func TestOrderUsecase_PlaceOrder_StockDecrementFailure_OrderSurvives(t *testing.T) {
	f := newOrderFixture()
	f.seedCart()

	f.orders.On("Create", mock.Anything, mock.AnythingOfType("model.Order")).Return(int64(100), nil)
	f.orderItems.On("CreateBulk", mock.Anything, int64(100), mock.Anything).Return(nil)
	f.cartItems.On("DeleteByUserID", mock.Anything, int64(1)).Return(nil)

	//在庫が足りず減らせなかった
	f.inventory.On("DecreaseStockIfEnough", mock.Anything, int64(5), int64(2)).Return(false, nil)

	out, err := f.uc.PlaceOrder(context.Background(), 1, validPlaceInput())
	assert.NoError(t, err)
	assert.Equal(t, int64(100), out.ID)

	f.uc.WaitInventory()

	assert.Equal(t, []string{"stock_decrement_failed"}, f.mon.Kinds())
	f.inventory.AssertNotCalled(t, "IncrementSold", mock.Anything, mock.Anything, mock.Anything)
}

func TestOrderUsecase_PlaceOrder_SoldIncrementFailure_Reported(t *testing.T) {
	f := newOrderFixture()
	f.seedCart()

	f.orders.On("Create", mock.Anything, mock.AnythingOfType("model.Order")).Return(int64(100), nil)
	f.orderItems.On("CreateBulk", mock.Anything, int64(100), mock.Anything).Return(nil)
	f.cartItems.On("DeleteByUserID", mock.Anything, int64(1)).Return(nil)
	f.inventory.On("DecreaseStockIfEnough", mock.Anything, int64(5), int64(2)).Return(true, nil)
	f.inventory.On("IncrementSold", mock.Anything, int64(5), int64(2)).Return(errors.New("db down"))

	_, err := f.uc.PlaceOrder(context.Background(), 1, validPlaceInput())
	assert.NoError(t, err)

	f.uc.WaitInventory()
	assert.Equal(t, []string{"sold_increment_failed"}, f.mon.Kinds())
}

func TestOrderUsecase_GetMyOrderDetail_ForeignOrder_NotFound(t *testing.T) {
	f := newOrderFixture()

	f.orders.On("FindByID", mock.Anything, int64(100)).Return(model.Order{ID: 100, UserID: 99}, nil)

	_, err := f.uc.GetMyOrderDetail(context.Background(), 1, 100)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOrderUsecase_ListMyOrders(t *testing.T) {
	f := newOrderFixture()

	f.orders.On("ListByUserID", mock.Anything, int64(1), 1, 50).Return([]model.Order{
		{ID: 100, UserID: 1, OrderNumber: "ORD-20260314-00001"},
	}, int64(1), nil)
	f.orderItems.On("ListByOrderID", mock.Anything, int64(100)).Return([]model.OrderItem{}, nil)

	out, err := f.uc.ListMyOrders(context.Background(), 1)
	assert.NoError(t, err)
	assert.Len(t, out, 1)
}

// =====================
// 状態遷移
// =====================

func TestOrderUsecase_UpdateOrderStatus_SameStatus_NoOp(t *testing.T) {
	f := newOrderFixture()

	f.orders.On("FindByID", mock.Anything, int64(100)).Return(model.Order{ID: 100, UserID: 1, Status: model.OrderStatusShipped}, nil)
	f.orderItems.On("ListByOrderID", mock.Anything, int64(100)).Return([]model.OrderItem{}, nil)

	out, err := f.uc.UpdateOrderStatus(context.Background(), 1, 100, model.OrderStatusShipped, "")
	assert.NoError(t, err)
	assert.Equal(t, string(model.OrderStatusShipped), out.Status)

	//時刻も打ち直さない
	f.orders.AssertNotCalled(t, "UpdateTransition", mock.Anything, mock.Anything)
}

func TestOrderUsecase_UpdateOrderStatus_BackwardRejected(t *testing.T) {
	f := newOrderFixture()

	f.orders.On("FindByID", mock.Anything, int64(100)).Return(model.Order{ID: 100, UserID: 1, Status: model.OrderStatusShipped}, nil)
	f.orderItems.On("ListByOrderID", mock.Anything, int64(100)).Return([]model.OrderItem{}, nil)

	_, err := f.uc.UpdateOrderStatus(context.Background(), 1, 100, model.OrderStatusProcessing, "")
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)
}

func TestOrderUsecase_UpdateOrderStatus_CancelRequiresReason(t *testing.T) {
	f := newOrderFixture()

	_, err := f.uc.UpdateOrderStatus(context.Background(), 1, 100, model.OrderStatusCancelled, "   ")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestOrderUsecase_UpdateOrderStatus_Delivered_StampsOnce(t *testing.T) {
	f := newOrderFixture()

	f.orders.On("FindByID", mock.Anything, int64(100)).Return(model.Order{ID: 100, UserID: 1, Status: model.OrderStatusShipped}, nil)
	f.orderItems.On("ListByOrderID", mock.Anything, int64(100)).Return([]model.OrderItem{}, nil)
	f.orders.On("UpdateTransition", mock.Anything, mock.MatchedBy(func(o model.Order) bool {
		return o.Status == model.OrderStatusDelivered && o.DeliveredAt != nil
	})).Return(nil)

	out, err := f.uc.UpdateOrderStatus(context.Background(), 1, 100, model.OrderStatusDelivered, "")
	assert.NoError(t, err)
	assert.NotNil(t, out.DeliveredAt)

	f.orders.AssertExpectations(t)
}

// キャンセルで明細分の在庫が戻る
func TestOrderUsecase_UpdateOrderStatus_Cancel_Restocks(t *testing.T) {
	f := newOrderFixture()

	f.orders.On("FindByID", mock.Anything, int64(100)).Return(model.Order{ID: 100, UserID: 1, Status: model.OrderStatusProcessing}, nil)
	f.orderItems.On("ListByOrderID", mock.Anything, int64(100)).Return([]model.OrderItem{
		{ID: 1, OrderID: 100, ProductID: 5, Quantity: 2},
	}, nil)
	f.orders.On("UpdateTransition", mock.Anything, mock.MatchedBy(func(o model.Order) bool {
		return o.Status == model.OrderStatusCancelled && o.CancelReason == "changed my mind" && o.CancelledAt != nil
	})).Return(nil)
	f.inventory.On("IncreaseStock", mock.Anything, int64(5), int64(2)).Return(nil)

	_, err := f.uc.UpdateOrderStatus(context.Background(), 1, 100, model.OrderStatusCancelled, " changed my mind ")
	assert.NoError(t, err)

	f.uc.WaitInventory()
	f.inventory.AssertExpectations(t)
}

// =====================
// 支払い状態
// =====================

func TestOrderUsecase_UpdatePayment_UnpaidToPaid_Rejected(t *testing.T) {
	f := newOrderFixture()

	f.orders.On("FindByID", mock.Anything, int64(100)).Return(model.Order{ID: 100, UserID: 1, PaymentStatus: model.PaymentStatusUnpaid}, nil)
	f.orderItems.On("ListByOrderID", mock.Anything, int64(100)).Return([]model.OrderItem{}, nil)

	_, err := f.uc.UpdatePayment(context.Background(), 1, 100, model.PaymentStatusPaid)
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)
}

func TestOrderUsecase_UpdatePayment_ProcessingToPaid_StampsPaidAt(t *testing.T) {
	f := newOrderFixture()

	f.orders.On("FindByID", mock.Anything, int64(100)).Return(model.Order{ID: 100, UserID: 1, PaymentStatus: model.PaymentStatusProcessing}, nil)
	f.orderItems.On("ListByOrderID", mock.Anything, int64(100)).Return([]model.OrderItem{}, nil)
	f.orders.On("UpdateTransition", mock.Anything, mock.MatchedBy(func(o model.Order) bool {
		return o.PaymentStatus == model.PaymentStatusPaid && o.PaidAt != nil
	})).Return(nil)

	out, err := f.uc.UpdatePayment(context.Background(), 1, 100, model.PaymentStatusPaid)
	assert.NoError(t, err)
	assert.NotNil(t, out.PaidAt)
}

// 既にpaid_atが打たれている注文は時刻を打ち直さない
func TestOrderUsecase_UpdatePayment_PaidAtNotRestamped(t *testing.T) {
	f := newOrderFixture()

	paidAt := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	f.orders.On("FindByID", mock.Anything, int64(100)).Return(model.Order{
		ID: 100, UserID: 1, PaymentStatus: model.PaymentStatusProcessing, PaidAt: &paidAt,
	}, nil)
	f.orderItems.On("ListByOrderID", mock.Anything, int64(100)).Return([]model.OrderItem{}, nil)
	f.orders.On("UpdateTransition", mock.Anything, mock.MatchedBy(func(o model.Order) bool {
		return o.PaymentStatus == model.PaymentStatusPaid && o.PaidAt != nil && o.PaidAt.Equal(paidAt)
	})).Return(nil)

	_, err := f.uc.UpdatePayment(context.Background(), 1, 100, model.PaymentStatusPaid)
	assert.NoError(t, err)

	f.orders.AssertExpectations(t)
}

// =====================
// マスク
// =====================

func TestMaskAccount(t *testing.T) {
	assert.Equal(t, "", maskAccount(""))
	assert.Equal(t, "***", maskAccount("123"))
	assert.Equal(t, "****", maskAccount("1234"))
	assert.Equal(t, "*7890", maskAccount("67890"))
	assert.Equal(t, "******7890", maskAccount("1234567890"))
}

func TestDecimalTotalPrecision(t *testing.T) {
	//0.1+0.2の丸め誤差で合計検算が誤作動しないこと
	a := price("0.1")
	b := price("0.2")
	assert.True(t, a.Add(b).Equal(price("0.3")))
	assert.True(t, decimal.Zero.LessThanOrEqual(totalTolerance))
}
