package db

import "time"

// BrandingAsset holds the single customizable logo, kept as a data URL the
// way the public pages consume it. There is at most one row.
type BrandingAsset struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	DataURL   string    `json:"data_url" gorm:"type:text"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (BrandingAsset) TableName() string {
	return "branding_assets"
}

// BrandingAssetID is the fixed id of the singleton logo row.
const BrandingAssetID = "default"
