package usecase

import (
	"context"
	"fmt"
	"time"

	"storefront/internal/domain/model"
	repo "storefront/internal/repository"

	"github.com/shopspring/decimal"
)

// カートに入れられる数量の範囲
const (
	cartMinQty int64 = 1
	cartMaxQty int64 = 99
)

// CartUsecase は /cart の業務ロジックです。
// 在庫はここでは読むだけで、減らすのは注文確定時。
type CartUsecase struct {
	cartItems repo.CartItemRepository
	products  repo.ProductRepository
	timeout   time.Duration
}

func NewCartUsecase(
	cartItems repo.CartItemRepository,
	products repo.ProductRepository,
	timeout time.Duration,
) *CartUsecase {
	return &CartUsecase{
		cartItems: cartItems,
		products:  products,
		timeout:   timeout,
	}
}

// カートの1行。Quantityは現在庫でクランプ済み。
// クランプが起きた行は Adjusted=true（画面で「数量を減らしました」を出す）
type CartLineResponse struct {
	ID        int64           `json:"id"`
	ProductID int64           `json:"product_id"`
	Name      string          `json:"name"`
	Category  string          `json:"category"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int64           `json:"quantity"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Adjusted  bool            `json:"adjusted"`
}

type CartResponse struct {
	Items []CartLineResponse `json:"items"`
	Total decimal.Decimal    `json:"total"`
}

type AddCartInput struct {
	ProductID int64
	Quantity  int64
}

// GetCart はカート取得。数量は現在庫でクランプして返す
func (u *CartUsecase) GetCart(ctx context.Context, userID int64) (CartResponse, error) {
	if userID <= 0 {
		return CartResponse{}, ErrUnauthorized
	}

	ctx, cancel := withTimeout(ctx, u.timeout)
	defer cancel()

	return u.buildCartResponse(ctx, userID)
}

// Add はカートに追加（同一商品は数量加算、在庫超過分はクランプ）。
func (u *CartUsecase) Add(ctx context.Context, userID int64, in AddCartInput) (CartResponse, error) {
	if userID <= 0 {
		return CartResponse{}, ErrUnauthorized
	}
	if in.ProductID <= 0 {
		return CartResponse{}, ErrValidation
	}
	if in.Quantity < cartMinQty || in.Quantity > cartMaxQty {
		return CartResponse{}, ErrInvalidQuantity
	}

	ctx, cancel := withTimeout(ctx, u.timeout)
	defer cancel()

	//商品チェック（公開中で在庫ありのみ）
	p, err := u.products.FindByID(ctx, in.ProductID)
	if isNotFound(err) {
		return CartResponse{}, ErrProductUnavailable
	}
	if err != nil {
		return CartResponse{}, storeErr(err)
	}
	if !p.IsActive || p.Stock <= 0 {
		return CartResponse{}, ErrProductUnavailable
	}

	existing, err := u.cartItems.FindByUserAndProduct(ctx, userID, in.ProductID)
	switch {
	case err == nil:
		//既存明細は加算してクランプ
		newQty := existing.Quantity + in.Quantity
		if newQty > p.Stock {
			newQty = p.Stock
		}
		if err := u.cartItems.UpdateQuantity(ctx, existing.ID, newQty); err != nil {
			return CartResponse{}, storeErr(err)
		}

	case isNotFound(err):
		//追加時点の価格と商品名を保存する
		qty := in.Quantity
		if qty > p.Stock {
			qty = p.Stock
		}
		now := time.Now()
		if _, err := u.cartItems.Create(ctx, model.CartItem{
			UserID:            userID,
			ProductID:         in.ProductID,
			Quantity:          qty,
			UnitPriceSnapshot: p.Price,
			NameSnapshot:      p.Name,
			CreatedAt:         now,
			UpdatedAt:         now,
		}); err != nil {
			return CartResponse{}, storeErr(err)
		}

	default:
		return CartResponse{}, storeErr(err)
	}

	return u.buildCartResponse(ctx, userID)
}

// Increase は数量を1増やす。在庫を超えるならエラー
func (u *CartUsecase) Increase(ctx context.Context, userID int64, cartItemID int64) (CartResponse, error) {
	if userID <= 0 {
		return CartResponse{}, ErrUnauthorized
	}
	if cartItemID <= 0 {
		return CartResponse{}, ErrValidation
	}

	ctx, cancel := withTimeout(ctx, u.timeout)
	defer cancel()

	item, err := u.findOwnedItem(ctx, userID, cartItemID)
	if err != nil {
		return CartResponse{}, err
	}

	p, err := u.products.FindByID(ctx, item.ProductID)
	if isNotFound(err) {
		return CartResponse{}, ErrProductUnavailable
	}
	if err != nil {
		return CartResponse{}, storeErr(err)
	}
	if !p.IsActive {
		return CartResponse{}, ErrProductUnavailable
	}
	if item.Quantity+1 > p.Stock {
		return CartResponse{}, fmt.Errorf("%w: only %d units available", ErrInsufficientStock, p.Stock)
	}

	if err := u.cartItems.UpdateQuantity(ctx, item.ID, item.Quantity+1); err != nil {
		return CartResponse{}, storeErr(err)
	}

	return u.buildCartResponse(ctx, userID)
}

// Decrease は数量を1減らす。1だった行は削除する（数量0の行は残さない）
func (u *CartUsecase) Decrease(ctx context.Context, userID int64, cartItemID int64) (CartResponse, error) {
	if userID <= 0 {
		return CartResponse{}, ErrUnauthorized
	}
	if cartItemID <= 0 {
		return CartResponse{}, ErrValidation
	}

	ctx, cancel := withTimeout(ctx, u.timeout)
	defer cancel()

	item, err := u.findOwnedItem(ctx, userID, cartItemID)
	if err != nil {
		return CartResponse{}, err
	}

	if item.Quantity <= 1 {
		if err := u.cartItems.DeleteByID(ctx, item.ID); err != nil && !isNotFound(err) {
			return CartResponse{}, storeErr(err)
		}
		return u.buildCartResponse(ctx, userID)
	}

	if err := u.cartItems.UpdateQuantity(ctx, item.ID, item.Quantity-1); err != nil {
		return CartResponse{}, storeErr(err)
	}

	return u.buildCartResponse(ctx, userID)
}

// Remove は明細を削除。無い明細の削除は成功扱い（冪等）
func (u *CartUsecase) Remove(ctx context.Context, userID int64, cartItemID int64) (CartResponse, error) {
	if userID <= 0 {
		return CartResponse{}, ErrUnauthorized
	}
	if cartItemID <= 0 {
		return CartResponse{}, ErrValidation
	}

	ctx, cancel := withTimeout(ctx, u.timeout)
	defer cancel()

	owned, err := u.cartItems.IsOwnedByUser(ctx, cartItemID, userID)
	if err != nil {
		return CartResponse{}, storeErr(err)
	}
	if owned {
		if err := u.cartItems.DeleteByID(ctx, cartItemID); err != nil && !isNotFound(err) {
			return CartResponse{}, storeErr(err)
		}
	}

	return u.buildCartResponse(ctx, userID)
}

// ListForCheckout は確定直前のスナップショットを返す。
// 数量は現在庫で再クランプし、非公開・在庫ゼロ・期限切れの行は除外する
func (u *CartUsecase) ListForCheckout(ctx context.Context, userID int64) ([]CartLineResponse, error) {
	if userID <= 0 {
		return nil, ErrUnauthorized
	}

	ctx, cancel := withTimeout(ctx, u.timeout)
	defer cancel()

	lines, _, err := u.assembleLines(ctx, userID)
	if err != nil {
		return nil, err
	}
	return lines, nil
}

func (u *CartUsecase) findOwnedItem(ctx context.Context, userID, cartItemID int64) (model.CartItem, error) {
	owned, err := u.cartItems.IsOwnedByUser(ctx, cartItemID, userID)
	if err != nil {
		return model.CartItem{}, storeErr(err)
	}
	if !owned {
		return model.CartItem{}, ErrNotFound
	}

	item, err := u.cartItems.FindByID(ctx, cartItemID)
	if isNotFound(err) {
		return model.CartItem{}, ErrNotFound
	}
	if err != nil {
		return model.CartItem{}, storeErr(err)
	}
	return item, nil
}

func (u *CartUsecase) buildCartResponse(ctx context.Context, userID int64) (CartResponse, error) {
	lines, total, err := u.assembleLines(ctx, userID)
	if err != nil {
		return CartResponse{}, err
	}
	return CartResponse{Items: lines, Total: total}, nil
}

// 明細を現在庫と突き合わせて表示用の行を作る。
// 期限切れと死んだ商品の行はこのタイミングで消す
func (u *CartUsecase) assembleLines(ctx context.Context, userID int64) ([]CartLineResponse, decimal.Decimal, error) {
	items, err := u.cartItems.ListByUserID(ctx, userID)
	if err != nil {
		return nil, decimal.Zero, storeErr(err)
	}

	lines := make([]CartLineResponse, 0, len(items))
	total := decimal.Zero
	now := time.Now()

	for _, it := range items {
		if it.ExpiresAt != nil && it.ExpiresAt.Before(now) {
			_ = u.cartItems.DeleteByID(ctx, it.ID)
			continue
		}

		p, err := u.products.FindByID(ctx, it.ProductID)
		if isNotFound(err) {
			_ = u.cartItems.DeleteByID(ctx, it.ID)
			continue
		}
		if err != nil {
			return nil, decimal.Zero, storeErr(err)
		}
		if !p.IsActive || p.Stock <= 0 {
			_ = u.cartItems.DeleteByID(ctx, it.ID)
			continue
		}

		qty := it.Quantity
		adjusted := false
		if qty > p.Stock {
			qty = p.Stock
			adjusted = true
		}

		subtotal := it.UnitPriceSnapshot.Mul(decimal.NewFromInt(qty))
		lines = append(lines, CartLineResponse{
			ID:        it.ID,
			ProductID: it.ProductID,
			Name:      it.NameSnapshot,
			Category:  p.Category,
			Price:     it.UnitPriceSnapshot,
			Quantity:  qty,
			Subtotal:  subtotal,
			Adjusted:  adjusted,
		})

		total = total.Add(subtotal)
	}

	return lines, total, nil
}
