package common

import "errors"

// Business logic errors
var (
	// General errors
	ErrNotFound  = errors.New("resource not found")
	ErrForbidden = errors.New("forbidden")

	// Document errors
	ErrDocumentNotFound = errors.New("document not found")
	ErrVersionNotFound  = errors.New("version not found")

	// Save validation errors
	ErrInvalidFormat     = errors.New("invalid field format")
	ErrSlugAlreadyExists = errors.New("slug already exists in group")

	// Session errors
	ErrAlreadyAttached   = errors.New("session already attached to scope")
	ErrSessionNotFound   = errors.New("session not found")
	ErrSpectatorReadOnly = errors.New("spectator sessions are read-only")

	// Auth errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")

	// Validation errors
	ErrInvalidInput = errors.New("invalid input")
)
