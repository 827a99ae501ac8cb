package domain

import "time"

// Document is a logical content item. It is never edited directly;
// all content lives in its Versions.
type Document struct {
	ID              string    `gorm:"column:id;type:varchar(36);primaryKey" json:"id"`
	GroupID         string    `gorm:"column:group_id;type:varchar(50);uniqueIndex:uq_group_slug" json:"group_id"`
	Slug            string    `gorm:"column:slug;type:varchar(120);uniqueIndex:uq_group_slug" json:"slug"`
	PrimaryLanguage string    `gorm:"column:primary_language;type:varchar(10);default:'en'" json:"primary_language"`
	// Legacy documents were migrated with a single version and never fork
	// when a published version is edited.
	Legacy    bool      `gorm:"column:legacy;default:false" json:"legacy"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Document) TableName() string { return "documents" }

// Availability marks a (document, version, language) combination as existing,
// with an optional display-only status override for that language.
// The override is presentation state: the publish transition never reads it.
type Availability struct {
	ID             uint64    `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	DocumentID     string    `gorm:"column:document_id;type:varchar(36);uniqueIndex:uq_doc_ver_lang" json:"document_id"`
	VersionNumber  int       `gorm:"column:version_number;uniqueIndex:uq_doc_ver_lang" json:"version_number"`
	Language       string    `gorm:"column:language;type:varchar(10);uniqueIndex:uq_doc_ver_lang" json:"language"`
	StatusOverride *string   `gorm:"column:status_override;type:varchar(20)" json:"status_override,omitempty"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Availability) TableName() string { return "document_availability" }

// VersionStatusInfo is the read-only projection exposed to presentation:
// which version a reader should see and how to label it.
type VersionStatusInfo struct {
	VersionNumber int           `json:"version"`
	Status        VersionStatus `json:"status"`
	Label         string        `json:"label"` // live, draft, latest
}
