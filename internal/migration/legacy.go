package migration

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/inkwell-cms/inkwell-backend/internal/domain"
)

// legacyArticle mirrors one row of a first-generation articles table.
// Those articles had no version history: one body per language-less row.
type legacyArticle struct {
	ID        int64  `gorm:"column:id"`
	GroupID   string `gorm:"column:group_id"`
	Slug      string `gorm:"column:slug"`
	Title     string `gorm:"column:title"`
	Body      string `gorm:"column:body"`
	Language  string `gorm:"column:language"`
	Published bool   `gorm:"column:published"`
}

// ImportLegacy copies rows from a legacy articles table into documents.
// Each row becomes a document marked Legacy with a single version. Rows
// whose (group, slug) already exist are skipped, so re-runs are safe.
func ImportLegacy(db *gorm.DB, table string) (int, error) {
	var rows []legacyArticle
	if err := db.Table(table).Find(&rows).Error; err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", table, err)
	}

	imported := 0
	for _, row := range rows {
		var count int64
		if err := db.Model(&domain.Document{}).
			Where("group_id = ? AND slug = ?", row.GroupID, row.Slug).
			Count(&count).Error; err != nil {
			return imported, err
		}
		if count > 0 {
			continue
		}

		if err := importOne(db, row); err != nil {
			return imported, fmt.Errorf("failed to import %s/%s (legacy id %d): %w",
				row.GroupID, row.Slug, row.ID, err)
		}
		imported++
	}
	return imported, nil
}

func importOne(db *gorm.DB, row legacyArticle) error {
	language := row.Language
	if language == "" {
		language = "ko"
	}
	status := domain.StatusDraft
	if row.Published {
		status = domain.StatusPublished
	}

	return db.Transaction(func(tx *gorm.DB) error {
		doc := &domain.Document{
			ID:              uuid.New().String(),
			GroupID:         row.GroupID,
			Slug:            row.Slug,
			PrimaryLanguage: language,
			Legacy:          true,
		}
		if err := tx.Create(doc).Error; err != nil {
			return err
		}

		version := &domain.Version{
			DocumentID: doc.ID,
			Number:     1,
			Status:     status,
			Title:      row.Title,
		}
		if err := tx.Create(version).Error; err != nil {
			return err
		}

		content := &domain.VersionContent{
			VersionID: version.ID,
			Language:  language,
			Body:      row.Body,
		}
		if err := tx.Create(content).Error; err != nil {
			return err
		}

		availability := &domain.Availability{
			DocumentID:    doc.ID,
			VersionNumber: version.Number,
			Language:      language,
		}
		return tx.Create(availability).Error
	})
}
