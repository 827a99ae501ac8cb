package repository

import (
	"errors"

	"github.com/inkwell-cms/inkwell-backend/internal/common"
	"github.com/inkwell-cms/inkwell-backend/internal/domain"
	"gorm.io/gorm"
)

// DocumentRepository handles document data operations
type DocumentRepository interface {
	// Create persists a new document
	Create(doc *domain.Document) error
	// FindByID returns a document by its identifier
	FindByID(id string) (*domain.Document, error)
	// FindByGroupSlug returns a document by its (group, slug) pair
	FindByGroupSlug(groupID, slug string) (*domain.Document, error)
	// SlugExists checks whether another document in the group uses the slug
	SlugExists(groupID, slug, excludeDocumentID string) (bool, error)
	// UpdateSlug renames a document's slug
	UpdateSlug(id, slug string) error
	// Delete removes a document
	Delete(id string) error
}

type documentRepository struct {
	db *gorm.DB
}

// NewDocumentRepository creates a new DocumentRepository
func NewDocumentRepository(db *gorm.DB) DocumentRepository {
	return &documentRepository{db: db}
}

func (r *documentRepository) Create(doc *domain.Document) error {
	return r.db.Create(doc).Error
}

func (r *documentRepository) FindByID(id string) (*domain.Document, error) {
	var doc domain.Document
	err := r.db.Where("id = ?", id).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, common.ErrDocumentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *documentRepository) FindByGroupSlug(groupID, slug string) (*domain.Document, error) {
	var doc domain.Document
	err := r.db.Where("group_id = ? AND slug = ?", groupID, slug).First(&doc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, common.ErrDocumentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

func (r *documentRepository) SlugExists(groupID, slug, excludeDocumentID string) (bool, error) {
	var count int64
	q := r.db.Model(&domain.Document{}).
		Where("group_id = ? AND slug = ?", groupID, slug)
	if excludeDocumentID != "" {
		q = q.Where("id <> ?", excludeDocumentID)
	}
	err := q.Count(&count).Error
	return count > 0, err
}

func (r *documentRepository) UpdateSlug(id, slug string) error {
	return r.db.Model(&domain.Document{}).
		Where("id = ?", id).
		Update("slug", slug).Error
}

func (r *documentRepository) Delete(id string) error {
	return r.db.Where("id = ?", id).Delete(&domain.Document{}).Error
}
