package domain

import (
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// SaveInput is everything an owner submits on save (explicit or autosave)
type SaveInput struct {
	Title      string         `json:"title"`
	Slug       string         `json:"slug"`
	Body       string         `json:"body"`
	FormFields string         `json:"form_fields"`
	Language   string         `json:"language"`
	Status     *VersionStatus `json:"status,omitempty"`
	Featured   bool           `json:"featured"`
}

// Validate checks save input field formats
func (in SaveInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Title, validation.Required, validation.Length(1, 255)),
		validation.Field(&in.Slug, validation.Required, validation.Length(1, 120),
			validation.Match(slugPattern).Error("must be lowercase words separated by hyphens")),
		validation.Field(&in.Language, validation.Required, validation.Length(2, 10)),
		validation.Field(&in.Status, validation.By(func(value interface{}) error {
			st, _ := value.(*VersionStatus)
			if st == nil {
				return nil
			}
			if !st.Valid() {
				return validation.NewError("validation_status", "unknown status")
			}
			return nil
		})),
	)
}

// SessionState is the in-memory unsaved view a session carries:
// form fields plus body for the language it edits. It is what the owner
// mirrors to spectators and what autosave persists.
type SessionState struct {
	FormFields string `json:"form_fields"`
	Body       string `json:"body"`
	Title      string `json:"title"`
}
