package repository

import (
	"context"

	"storefront/internal/domain/model"
)

// 住所(Address)を保存・取得する窓口
type AddressRepository interface {
	//Create は住所を新規作成する。
	//作成後はaddress（IDなどが埋まったもの）を返す
	Create(ctx context.Context, address model.Address) (model.Address, error)

	//ユーザーが持つ住所一覧を返す（デフォルトを先頭に）
	ListByUserID(ctx context.Context, userID int64) ([]model.Address, error)

	//住所IDから住所を1件取得
	FindByID(ctx context.Context, addressID int64) (model.Address, error)

	//ユーザーの住所件数
	CountByUserID(ctx context.Context, userID int64) (int64, error)

	//住所の更新。
	Update(ctx context.Context, address model.Address) error

	//住所の削除。
	Delete(ctx context.Context, addressID int64) error

	//デフォルト住所の切り替え。他の住所のフラグ解除と設定を1トランザクションで行う
	SetDefault(ctx context.Context, userID, addressID int64) error

	//ユーザーのデフォルトフラグを全て解除
	ClearDefault(ctx context.Context, userID int64) error

	//最後に作成された住所を1件取得（削除時の昇格先）
	FindNewestByUserID(ctx context.Context, userID int64) (model.Address, error)
}
