package usecase

import (
	"context"
	"time"

	"storefront/internal/domain/model"
	repo "storefront/internal/repository"
)

// 商品カタログの読み取り。カートと注文が参照する外部コラボレータ側の面
type ProductUsecase struct {
	products repo.ProductRepository
	timeout  time.Duration
}

func NewProductUsecase(products repo.ProductRepository, timeout time.Duration) *ProductUsecase {
	return &ProductUsecase{products: products, timeout: timeout}
}

type ProductListOutput struct {
	Items []model.Product `json:"items"`
	Total int64           `json:"total"`
	Page  int             `json:"page"`
	Limit int             `json:"limit"`
}

func (u *ProductUsecase) ListActiveProducts(ctx context.Context, page, limit int) (ProductListOutput, error) {
	if page < 1 {
		return ProductListOutput{}, ErrValidation
	}
	if limit < 1 || limit > 100 {
		return ProductListOutput{}, ErrValidation
	}

	ctx, cancel := withTimeout(ctx, u.timeout)
	defer cancel()

	items, total, err := u.products.ListActive(ctx, page, limit)
	if err != nil {
		return ProductListOutput{}, storeErr(err)
	}

	return ProductListOutput{Items: items, Total: total, Page: page, Limit: limit}, nil
}

func (u *ProductUsecase) GetProductDetail(ctx context.Context, productID int64) (model.Product, error) {
	if productID <= 0 {
		return model.Product{}, ErrValidation
	}

	ctx, cancel := withTimeout(ctx, u.timeout)
	defer cancel()

	p, err := u.products.FindByID(ctx, productID)
	if isNotFound(err) {
		return model.Product{}, ErrNotFound
	}
	if err != nil {
		return model.Product{}, storeErr(err)
	}
	if !p.IsActive {
		//非公開は存在しない扱い
		return model.Product{}, ErrNotFound
	}
	return p, nil
}
