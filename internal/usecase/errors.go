package usecase

import (
	"context"
	"errors"
	"time"

	repo "storefront/internal/repository"
)

var (
	//入力の誤り（呼び出し側で直せる）
	ErrValidation = errors.New("validation error")

	ErrInvalidQuantity = errors.New("invalid quantity")

	ErrEmptyCart = errors.New("cart empty")

	ErrInvalidStatusTransition = errors.New("invalid status transition")

	//本人のリソースではない
	ErrUnauthorized = errors.New("unauthorized")

	ErrNotFound = errors.New("not found")

	//商品が非公開か在庫ゼロ
	ErrProductUnavailable = errors.New("product unavailable")

	ErrInsufficientStock = errors.New("insufficient stock")

	ErrConflict = errors.New("conflict")

	//ストアの応答が制限時間を超えた（リトライ可能）
	ErrStoreTimeout = errors.New("store timeout")

	ErrInternal = errors.New("internal error")
)

// ストア呼び出しの失敗を呼び出し側向けのエラーに直す。
// タイムアウトだけ区別してリトライ可能と伝える
func storeErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, repo.ErrTimeout) {
		return ErrStoreTimeout
	}
	return ErrInternal
}

// ストア呼び出し1回分の制限時間
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func isNotFound(err error) bool {
	return errors.Is(err, repo.ErrNotFound)
}
