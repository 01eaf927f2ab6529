package usecase

import (
	"context"
	"time"

	"storefront/internal/domain/model"
	"storefront/internal/repository"

	"github.com/samber/lo"
)

// 1ユーザーが持てる住所の上限
const maxAddressesPerUser = 10

type AddressDTO struct {
	ID             int64  `json:"id"`
	UserID         int64  `json:"user_id"`
	Street         string `json:"street"`
	City           string `json:"city"`
	State          string `json:"state"`
	PostalCode     string `json:"postal_code"`
	Country        string `json:"country"`
	AdditionalInfo string `json:"additional_info"`
	IsDefault      bool   `json:"is_default"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

type AddressCreateRequest struct {
	Street         string `json:"street"`
	City           string `json:"city"`
	State          string `json:"state"`
	PostalCode     string `json:"postal_code"`
	Country        string `json:"country"`
	AdditionalInfo string `json:"additional_info"`
	IsDefault      bool   `json:"is_default"`
}

type AddressUpdateRequest struct {
	Street         string `json:"street"`
	City           string `json:"city"`
	State          string `json:"state"`
	PostalCode     string `json:"postal_code"`
	Country        string `json:"country"`
	AdditionalInfo string `json:"additional_info"`
	IsDefault      bool   `json:"is_default"`
}

// AddressUsecase は「ユーザー内でデフォルトは最大1件」を守る
type AddressUsecase struct {
	addresses repository.AddressRepository
	timeout   time.Duration
}

func NewAddressUsecase(addresses repository.AddressRepository, timeout time.Duration) *AddressUsecase {
	return &AddressUsecase{addresses: addresses, timeout: timeout}
}

func (u *AddressUsecase) List(ctx context.Context, userID int64) ([]AddressDTO, error) {
	if userID <= 0 {
		return nil, ErrUnauthorized
	}

	ctx, cancel := withTimeout(ctx, u.timeout)
	defer cancel()

	list, err := u.addresses.ListByUserID(ctx, userID)
	if err != nil {
		return nil, storeErr(err)
	}

	return lo.Map(list, func(a model.Address, _ int) AddressDTO {
		return toAddressDTO(&a)
	}), nil
}

func (u *AddressUsecase) Create(ctx context.Context, userID int64, req AddressCreateRequest) (AddressDTO, error) {
	if userID <= 0 {
		return AddressDTO{}, ErrUnauthorized
	}

	//入力チェック
	if req.Street == "" || req.City == "" || req.PostalCode == "" || req.Country == "" {
		return AddressDTO{}, ErrValidation
	}

	ctx, cancel := withTimeout(ctx, u.timeout)
	defer cancel()

	//件数上限
	count, err := u.addresses.CountByUserID(ctx, userID)
	if err != nil {
		return AddressDTO{}, storeErr(err)
	}
	if count >= maxAddressesPerUser {
		return AddressDTO{}, ErrValidation
	}

	//デフォルト指定なら先に他のフラグを解除してから作る
	if req.IsDefault {
		if err := u.addresses.ClearDefault(ctx, userID); err != nil {
			return AddressDTO{}, storeErr(err)
		}
	}

	now := time.Now()
	a := model.Address{
		UserID:         userID,
		Street:         req.Street,
		City:           req.City,
		State:          req.State,
		PostalCode:     req.PostalCode,
		Country:        req.Country,
		AdditionalInfo: req.AdditionalInfo,
		IsDefault:      req.IsDefault,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	created, err := u.addresses.Create(ctx, a)
	if err != nil {
		return AddressDTO{}, storeErr(err)
	}

	return toAddressDTO(&created), nil
}

func (u *AddressUsecase) Update(ctx context.Context, userID int64, addressID int64, req AddressUpdateRequest) error {
	if userID <= 0 {
		return ErrUnauthorized
	}
	if addressID <= 0 {
		return ErrValidation
	}
	if req.Street == "" || req.City == "" || req.PostalCode == "" || req.Country == "" {
		return ErrValidation
	}

	ctx, cancel := withTimeout(ctx, u.timeout)
	defer cancel()

	existing, err := u.findOwned(ctx, userID, addressID)
	if err != nil {
		return err
	}

	a := model.Address{
		ID:             addressID,
		Street:         req.Street,
		City:           req.City,
		State:          req.State,
		PostalCode:     req.PostalCode,
		Country:        req.Country,
		AdditionalInfo: req.AdditionalInfo,
		UpdatedAt:      time.Now(),
	}

	if err := u.addresses.Update(ctx, a); err != nil {
		if isNotFound(err) {
			return ErrNotFound
		}
		return storeErr(err)
	}

	//非デフォルト→デフォルトの遷移のときだけ他のフラグに触る。
	//既にデフォルトの住所にisDefault:trueを再送しても他の行は更新しない
	if req.IsDefault && !existing.IsDefault {
		if err := u.addresses.SetDefault(ctx, userID, addressID); err != nil {
			if isNotFound(err) {
				return ErrNotFound
			}
			return storeErr(err)
		}
	}

	return nil
}

// Delete は住所を削除する。
// 削除したのがデフォルトで他に住所が残っていれば、
// 最後に作成された住所をデフォルトに昇格させる。戻り値は昇格が起きたか
func (u *AddressUsecase) Delete(ctx context.Context, userID int64, addressID int64) (bool, error) {
	if userID <= 0 {
		return false, ErrUnauthorized
	}
	if addressID <= 0 {
		return false, ErrValidation
	}

	ctx, cancel := withTimeout(ctx, u.timeout)
	defer cancel()

	existing, err := u.findOwned(ctx, userID, addressID)
	if err != nil {
		return false, err
	}

	if err := u.addresses.Delete(ctx, addressID); err != nil {
		if isNotFound(err) {
			return false, ErrNotFound
		}
		return false, storeErr(err)
	}

	if !existing.IsDefault {
		return false, nil
	}

	//昇格先を探す
	newest, err := u.addresses.FindNewestByUserID(ctx, userID)
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, storeErr(err)
	}

	if err := u.addresses.SetDefault(ctx, userID, newest.ID); err != nil {
		return false, storeErr(err)
	}
	return true, nil
}

func (u *AddressUsecase) SetDefault(ctx context.Context, userID int64, addressID int64) error {
	if userID <= 0 {
		return ErrUnauthorized
	}
	if addressID <= 0 {
		return ErrValidation
	}

	ctx, cancel := withTimeout(ctx, u.timeout)
	defer cancel()

	if _, err := u.findOwned(ctx, userID, addressID); err != nil {
		return err
	}

	//user内でdefaultは1つ
	if err := u.addresses.SetDefault(ctx, userID, addressID); err != nil {
		if isNotFound(err) {
			return ErrNotFound
		}
		return storeErr(err)
	}

	return nil
}

// 所有チェック。他人の住所には一切触らない
func (u *AddressUsecase) findOwned(ctx context.Context, userID, addressID int64) (model.Address, error) {
	a, err := u.addresses.FindByID(ctx, addressID)
	if isNotFound(err) {
		return model.Address{}, ErrNotFound
	}
	if err != nil {
		return model.Address{}, storeErr(err)
	}
	if a.UserID != userID {
		return model.Address{}, ErrUnauthorized
	}
	return a, nil
}

func toAddressDTO(a *model.Address) AddressDTO {
	return AddressDTO{
		ID:             a.ID,
		UserID:         a.UserID,
		Street:         a.Street,
		City:           a.City,
		State:          a.State,
		PostalCode:     a.PostalCode,
		Country:        a.Country,
		AdditionalInfo: a.AdditionalInfo,
		IsDefault:      a.IsDefault,
		CreatedAt:      a.CreatedAt.Format(time.RFC3339),
		UpdatedAt:      a.UpdatedAt.Format(time.RFC3339),
	}
}
