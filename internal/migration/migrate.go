// Package migration creates the content schema and imports documents
// from the previous generation of the platform.
package migration

import (
	"gorm.io/gorm"

	"github.com/inkwell-cms/inkwell-backend/internal/domain"
)

// Run executes AutoMigrate for all content tables.
func Run(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Document{},
		&domain.Version{},
		&domain.VersionContent{},
		&domain.Availability{},
	)
}
