package service

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agentdesk/agentdesk/pkg/db"
	"github.com/agentdesk/agentdesk/pkg/event"
	"gorm.io/gorm"
)

// MaxLogoBytes caps the decoded logo image. The stored data URL is roughly
// a third larger than the file the owner picked.
const MaxLogoBytes = 2 << 20 // 2 MiB

var ErrLogoTooLarge = errors.New("logo exceeds size limit")

// BrandingService manages the single customizable logo.
type BrandingService struct {
	db *gorm.DB
}

func NewBrandingService(database *gorm.DB) *BrandingService {
	return &BrandingService{db: database}
}

// GetLogo returns the stored logo data URL, or "" when none is set.
func (s *BrandingService) GetLogo() (string, error) {
	var row db.BrandingAsset
	err := s.db.First(&row, "id = ?", db.BrandingAssetID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return row.DataURL, nil
}

// SetLogo stores the logo. The payload must be an image data URL.
func (s *BrandingService) SetLogo(dataURL string) error {
	if !strings.HasPrefix(dataURL, "data:image/") {
		return fmt.Errorf("logo must be an image data url")
	}
	if logoPayloadSize(dataURL) > MaxLogoBytes {
		return ErrLogoTooLarge
	}

	row := &db.BrandingAsset{
		ID:        db.BrandingAssetID,
		DataURL:   dataURL,
		UpdatedAt: time.Now(),
	}
	if err := s.db.Save(row).Error; err != nil {
		return err
	}
	event.Emit(event.BrandingChangedEvent{})
	return nil
}

// logoPayloadSize returns the decoded size of the data URL's base64 payload.
// The size limit applies to the image itself, not its encoded form.
func logoPayloadSize(dataURL string) int {
	payload := dataURL
	if i := strings.IndexByte(dataURL, ','); i >= 0 {
		payload = dataURL[i+1:]
	}
	return base64.StdEncoding.DecodedLen(len(payload))
}

// ClearLogo removes the logo, reverting the pages to the default mark.
func (s *BrandingService) ClearLogo() error {
	if err := s.db.Delete(&db.BrandingAsset{}, "id = ?", db.BrandingAssetID).Error; err != nil {
		return err
	}
	event.Emit(event.BrandingChangedEvent{})
	return nil
}
