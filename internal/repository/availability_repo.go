package repository

import (
	"github.com/inkwell-cms/inkwell-backend/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AvailabilityRepository handles per-language availability markers
type AvailabilityRepository interface {
	// Upsert records that a (document, version, language) combination exists
	Upsert(a *domain.Availability) error
	// ListByDocument returns all availability rows for a document
	ListByDocument(documentID string) ([]domain.Availability, error)
	// SetStatusOverride writes the display-only status for one language
	SetStatusOverride(documentID string, versionNumber int, language string, status *string) error
	// DeleteByVersion removes rows when a version is deleted
	DeleteByVersion(documentID string, versionNumber int) error
}

type availabilityRepository struct {
	db *gorm.DB
}

// NewAvailabilityRepository creates a new AvailabilityRepository
func NewAvailabilityRepository(db *gorm.DB) AvailabilityRepository {
	return &availabilityRepository{db: db}
}

func (r *availabilityRepository) Upsert(a *domain.Availability) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "document_id"}, {Name: "version_number"}, {Name: "language"}},
		DoNothing: true,
	}).Create(a).Error
}

func (r *availabilityRepository) ListByDocument(documentID string) ([]domain.Availability, error) {
	var rows []domain.Availability
	err := r.db.Where("document_id = ?", documentID).
		Order("version_number ASC, language ASC").
		Find(&rows).Error
	return rows, err
}

func (r *availabilityRepository) SetStatusOverride(documentID string, versionNumber int, language string, status *string) error {
	return r.db.Model(&domain.Availability{}).
		Where("document_id = ? AND version_number = ? AND language = ?",
			documentID, versionNumber, language).
		Update("status_override", status).Error
}

func (r *availabilityRepository) DeleteByVersion(documentID string, versionNumber int) error {
	return r.db.Where("document_id = ? AND version_number = ?", documentID, versionNumber).
		Delete(&domain.Availability{}).Error
}
