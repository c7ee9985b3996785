// Package db owns the persistent record store: users, agents (with their
// attachments), conversations (with their messages) and the branding asset.
package db

import (
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Bootstrap account credentials. The original deployment shipped with this
// manager account; it has elevated privileges (sees every owner's agents and
// conversations).
const (
	BootstrapAdminEmail    = "gestor"
	BootstrapAdminName     = "Gestor"
	BootstrapAdminPassword = "cambinda@2025#"
)

// Open opens (or creates) the sqlite database at path, runs migrations and
// seeds the bootstrap admin account when the user table is empty. Pass
// ":memory:" for an ephemeral store.
func Open(path string) (*gorm.DB, error) {
	database, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open database %s", path)
	}

	if err := database.AutoMigrate(
		&User{},
		&Agent{},
		&Attachment{},
		&Conversation{},
		&Message{},
		&BrandingAsset{},
	); err != nil {
		return nil, errors.Wrap(err, "migrate database")
	}

	if err := seed(database); err != nil {
		return nil, errors.Wrap(err, "seed database")
	}

	return database, nil
}

// seed installs the bootstrap admin when no users exist, mirroring the
// "collection defaults to seed data when absent" behavior of the original.
func seed(database *gorm.DB) error {
	var count int64
	if err := database.Model(&User{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(BootstrapAdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	admin := &User{
		ID:           uuid.New().String(),
		Name:         BootstrapAdminName,
		Email:        BootstrapAdminEmail,
		PasswordHash: string(hash),
		Status:       UserStatusActive,
		IsAdmin:      true,
		CreatedAt:    time.Now(),
	}
	return database.Create(admin).Error
}
