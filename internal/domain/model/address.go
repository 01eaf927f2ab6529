package model

import "time"

// 配送先住所
type Address struct {
	ID     int64 `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID int64 `gorm:"not null;index" json:"user_id"`

	//番地など
	Street string `gorm:"type:varchar(255);not null" json:"street"`

	//市区町村
	City string `gorm:"type:varchar(255);not null" json:"city"`

	//都道府県・州
	State string `gorm:"type:varchar(100)" json:"state"`

	//郵便番号
	PostalCode string `gorm:"type:varchar(20);not null" json:"postal_code"`

	Country string `gorm:"type:varchar(100);not null" json:"country"`

	//建物名や配達メモなど自由記入
	AdditionalInfo string `gorm:"type:varchar(255)" json:"additional_info"`

	//このユーザーのデフォルト住所か（ユーザー内で最大1件）
	IsDefault bool `gorm:"not null;default:false" json:"is_default"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}
