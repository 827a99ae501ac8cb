package domain

import "time"

// VersionStatus lifecycle state of a document version
type VersionStatus string

const (
	StatusDraft     VersionStatus = "draft"
	StatusPublished VersionStatus = "published"
	StatusArchived  VersionStatus = "archived"
)

// Valid reports whether s is a known lifecycle state
func (s VersionStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusPublished, StatusArchived:
		return true
	}
	return false
}

// Version is one revision line of a Document. Numbers are monotonic per
// document starting at 1. At most one version per document may be published.
type Version struct {
	ID         uint64        `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	DocumentID string        `gorm:"column:document_id;type:varchar(36);uniqueIndex:uq_doc_version" json:"document_id"`
	Number     int           `gorm:"column:number;uniqueIndex:uq_doc_version" json:"number"`
	Status     VersionStatus `gorm:"column:status;type:varchar(20);default:'draft';index" json:"status"`
	Title      string        `gorm:"column:title;type:varchar(255)" json:"title"`
	Featured   bool          `gorm:"column:featured;default:false" json:"featured"`
	CreatedAt  time.Time     `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time     `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`

	Contents []VersionContent `gorm:"foreignKey:VersionID" json:"contents,omitempty"`
}

func (Version) TableName() string { return "document_versions" }

// VersionContent holds one language's body and structured form fields
// for a version.
type VersionContent struct {
	ID         uint64    `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	VersionID  uint64    `gorm:"column:version_id;uniqueIndex:uq_version_lang" json:"version_id"`
	Language   string    `gorm:"column:language;type:varchar(10);uniqueIndex:uq_version_lang" json:"language"`
	Body       string    `gorm:"column:body;type:mediumtext" json:"body"`
	FormFields string    `gorm:"column:form_fields;type:json" json:"form_fields"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (VersionContent) TableName() string { return "document_version_contents" }

// ContentFor returns the content row for a language, nil when absent
func (v *Version) ContentFor(language string) *VersionContent {
	for i := range v.Contents {
		if v.Contents[i].Language == language {
			return &v.Contents[i]
		}
	}
	return nil
}
