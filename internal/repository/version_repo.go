package repository

import (
	"errors"

	"github.com/inkwell-cms/inkwell-backend/internal/common"
	"github.com/inkwell-cms/inkwell-backend/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// VersionRepository handles document version data operations
type VersionRepository interface {
	// Create persists a new version
	Create(v *domain.Version) error
	// FindByNumber returns one version with its contents preloaded
	FindByNumber(documentID string, number int) (*domain.Version, error)
	// FindPublished returns the published version of a document, if any
	FindPublished(documentID string) (*domain.Version, error)
	// List returns all versions of a document, newest number first
	List(documentID string) ([]*domain.Version, error)
	// ListNumbers returns the version numbers of a document, ascending
	ListNumbers(documentID string) ([]int, error)
	// NextNumber returns max(number)+1 for a document (1 when none exist)
	NextNumber(documentID string) (int, error)
	// UpdateMeta persists title/featured changes on a version
	UpdateMeta(v *domain.Version) error
	// UpsertContent creates or replaces one language's content row
	UpsertContent(c *domain.VersionContent) error
	// SetStatus writes a version's status
	SetStatus(documentID string, number int, status domain.VersionStatus) error
	// PublishExclusive marks one version published and archives any other
	// published version of the same document, in a single transaction.
	PublishExclusive(documentID string, number int) error
	// Fork creates a new version copying content from a source version
	Fork(documentID string, sourceNumber int) (*domain.Version, error)
	// Delete removes one version and its contents
	Delete(documentID string, number int) error
}

type versionRepository struct {
	db *gorm.DB
}

// NewVersionRepository creates a new VersionRepository
func NewVersionRepository(db *gorm.DB) VersionRepository {
	return &versionRepository{db: db}
}

func (r *versionRepository) Create(v *domain.Version) error {
	return r.db.Create(v).Error
}

func (r *versionRepository) FindByNumber(documentID string, number int) (*domain.Version, error) {
	var v domain.Version
	err := r.db.Preload("Contents").
		Where("document_id = ? AND number = ?", documentID, number).
		First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, common.ErrVersionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *versionRepository) FindPublished(documentID string) (*domain.Version, error) {
	var v domain.Version
	err := r.db.Preload("Contents").
		Where("document_id = ? AND status = ?", documentID, domain.StatusPublished).
		First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, common.ErrVersionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *versionRepository) List(documentID string) ([]*domain.Version, error) {
	var versions []*domain.Version
	err := r.db.Preload("Contents").
		Where("document_id = ?", documentID).
		Order("number DESC").
		Find(&versions).Error
	return versions, err
}

func (r *versionRepository) ListNumbers(documentID string) ([]int, error) {
	var numbers []int
	err := r.db.Model(&domain.Version{}).
		Where("document_id = ?", documentID).
		Order("number ASC").
		Pluck("number", &numbers).Error
	return numbers, err
}

func (r *versionRepository) NextNumber(documentID string) (int, error) {
	var maxNumber *int
	err := r.db.Model(&domain.Version{}).
		Where("document_id = ?", documentID).
		Select("MAX(number)").
		Scan(&maxNumber).Error
	if err != nil {
		return 1, err
	}
	if maxNumber == nil {
		return 1, nil
	}
	return *maxNumber + 1, nil
}

func (r *versionRepository) UpdateMeta(v *domain.Version) error {
	return r.db.Model(&domain.Version{}).
		Where("document_id = ? AND number = ?", v.DocumentID, v.Number).
		Updates(map[string]interface{}{
			"title":    v.Title,
			"featured": v.Featured,
		}).Error
}

func (r *versionRepository) UpsertContent(c *domain.VersionContent) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "version_id"}, {Name: "language"}},
		DoUpdates: clause.AssignmentColumns([]string{"body", "form_fields", "updated_at"}),
	}).Create(c).Error
}

func (r *versionRepository) SetStatus(documentID string, number int, status domain.VersionStatus) error {
	result := r.db.Model(&domain.Version{}).
		Where("document_id = ? AND number = ?", documentID, number).
		Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return common.ErrVersionNotFound
	}
	return nil
}

// PublishExclusive upholds the one-published-version invariant: both status
// writes happen in one transaction or neither does.
func (r *versionRepository) PublishExclusive(documentID string, number int) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&domain.Version{}).
			Where("document_id = ? AND status = ? AND number <> ?",
				documentID, domain.StatusPublished, number).
			Update("status", domain.StatusArchived).Error; err != nil {
			return err
		}

		result := tx.Model(&domain.Version{}).
			Where("document_id = ? AND number = ?", documentID, number).
			Update("status", domain.StatusPublished)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return common.ErrVersionNotFound
		}
		return nil
	})
}

func (r *versionRepository) Fork(documentID string, sourceNumber int) (*domain.Version, error) {
	var forked *domain.Version

	err := r.db.Transaction(func(tx *gorm.DB) error {
		var source domain.Version
		if err := tx.Preload("Contents").
			Where("document_id = ? AND number = ?", documentID, sourceNumber).
			First(&source).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return common.ErrVersionNotFound
			}
			return err
		}

		var maxNumber *int
		if err := tx.Model(&domain.Version{}).
			Where("document_id = ?", documentID).
			Select("MAX(number)").
			Scan(&maxNumber).Error; err != nil {
			return err
		}
		next := 1
		if maxNumber != nil {
			next = *maxNumber + 1
		}

		v := &domain.Version{
			DocumentID: documentID,
			Number:     next,
			Status:     domain.StatusDraft,
			Title:      source.Title,
			Featured:   source.Featured,
		}
		if err := tx.Create(v).Error; err != nil {
			return err
		}

		for _, c := range source.Contents {
			copied := domain.VersionContent{
				VersionID:  v.ID,
				Language:   c.Language,
				Body:       c.Body,
				FormFields: c.FormFields,
			}
			if err := tx.Create(&copied).Error; err != nil {
				return err
			}
			v.Contents = append(v.Contents, copied)
		}

		forked = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return forked, nil
}

func (r *versionRepository) Delete(documentID string, number int) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		var v domain.Version
		if err := tx.Where("document_id = ? AND number = ?", documentID, number).
			First(&v).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return common.ErrVersionNotFound
			}
			return err
		}
		if err := tx.Where("version_id = ?", v.ID).
			Delete(&domain.VersionContent{}).Error; err != nil {
			return err
		}
		return tx.Delete(&v).Error
	})
}
