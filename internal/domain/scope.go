package domain

import "fmt"

// EditScope is the unit of mutual exclusion for editing. Two sessions
// compete for ownership only when their scopes are identical: different
// versions of the same document, or different languages once a translation
// has its own scope, never block each other.
type EditScope struct {
	DocumentID string `json:"document_id"`
	Version    int    `json:"version"`
	Language   string `json:"language"`
	// New marks a scope for content that has no persisted document yet.
	New bool `json:"new"`
}

// Key returns the registry/broadcast key for the scope
func (s EditScope) Key() string {
	kind := "existing"
	if s.New {
		kind = "new"
	}
	return fmt.Sprintf("edit:%s:v%d:%s:%s", s.DocumentID, s.Version, s.Language, kind)
}

// WithVersion returns a copy of the scope pointing at another version.
// Used when a save forks and the session is redirected to the new version.
func (s EditScope) WithVersion(n int) EditScope {
	s.Version = n
	s.New = false
	return s
}
