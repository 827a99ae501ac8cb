package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/inkwell-cms/inkwell-backend/internal/common"
	"github.com/inkwell-cms/inkwell-backend/internal/domain"
	"github.com/inkwell-cms/inkwell-backend/internal/repository"
	"github.com/inkwell-cms/inkwell-backend/pkg/cache"
	"github.com/inkwell-cms/inkwell-backend/pkg/logger"
)

// SaveResult reports what a save did: the persisted version, whether the
// save forked, and the scope the session should edit from now on.
type SaveResult struct {
	Document *domain.Document `json:"document"`
	Version  *domain.Version  `json:"version"`
	Forked   bool             `json:"forked"`
	Scope    domain.EditScope `json:"scope"`
}

// DocumentService is the single write path for documents and versions.
// No other code may change a version's status.
type DocumentService interface {
	// Save decides update-in-place vs fork, persists the edit, and runs
	// the publish transition when the input sets status to published.
	Save(scope domain.EditScope, in *domain.SaveInput) (*SaveResult, error)
	// CreateDocument persists a brand-new document with its first version
	CreateDocument(groupID string, in *domain.SaveInput) (*SaveResult, error)
	// GetDocument returns the document for a (group, slug) pair
	GetDocument(groupID, slug string) (*domain.Document, error)
	// GetDocumentByID returns the document for an identifier
	GetDocumentByID(id string) (*domain.Document, error)
	// GetVersion returns one version with contents
	GetVersion(documentID string, number int) (*domain.Version, error)
	// DisplayVersion resolves the version a reader should see
	DisplayVersion(documentID string) (*domain.Version, error)
	// ListVersionNumbers returns a document's version numbers, ascending
	ListVersionNumbers(documentID string) ([]int, error)
	// DeleteVersion removes one version and re-resolves the display version
	DeleteVersion(documentID string, number int) (*domain.VersionStatusInfo, error)
	// CurrentVersionStatus projects {version, status, label} for the UI
	CurrentVersionStatus(documentID string) (*domain.VersionStatusInfo, error)
}

type documentService struct {
	docs         repository.DocumentRepository
	versions     repository.VersionRepository
	availability repository.AvailabilityRepository
	cache        cache.Service

	// Publish transitions and fork decisions are serialized per document,
	// not per version: two concurrent publishes of different versions of
	// the same document must not both succeed.
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewDocumentService creates a new DocumentService
func NewDocumentService(
	docs repository.DocumentRepository,
	versions repository.VersionRepository,
	availability repository.AvailabilityRepository,
	cacheService cache.Service,
) DocumentService {
	return &documentService{
		docs:         docs,
		versions:     versions,
		availability: availability,
		cache:        cacheService,
		locks:        make(map[string]*sync.Mutex),
	}
}

func (s *documentService) lockDocument(documentID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	mu, ok := s.locks[documentID]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[documentID] = mu
	}
	return mu
}

// CreateDocument persists a new document whose first version starts as draft
func (s *documentService) CreateDocument(groupID string, in *domain.SaveInput) (*SaveResult, error) {
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidFormat, err)
	}

	exists, err := s.docs.SlugExists(groupID, in.Slug, "")
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, common.ErrSlugAlreadyExists
	}

	doc := &domain.Document{
		ID:              uuid.New().String(),
		GroupID:         groupID,
		Slug:            in.Slug,
		PrimaryLanguage: in.Language,
	}
	if err := s.docs.Create(doc); err != nil {
		return nil, err
	}

	v := &domain.Version{
		DocumentID: doc.ID,
		Number:     1,
		Status:     domain.StatusDraft,
		Title:      in.Title,
		Featured:   in.Featured,
	}
	if err := s.versions.Create(v); err != nil {
		return nil, err
	}

	content := &domain.VersionContent{
		VersionID:  v.ID,
		Language:   in.Language,
		Body:       in.Body,
		FormFields: in.FormFields,
	}
	if err := s.versions.UpsertContent(content); err != nil {
		return nil, err
	}
	v.Contents = []domain.VersionContent{*content}

	if err := s.availability.Upsert(&domain.Availability{
		DocumentID:    doc.ID,
		VersionNumber: v.Number,
		Language:      in.Language,
	}); err != nil {
		return nil, err
	}

	// A brand-new save may publish immediately.
	if in.Status != nil && *in.Status == domain.StatusPublished {
		if err := s.versions.PublishExclusive(doc.ID, v.Number); err != nil {
			return nil, err
		}
		v.Status = domain.StatusPublished
	}

	return &SaveResult{
		Document: doc,
		Version:  v,
		Scope:    domain.EditScope{DocumentID: doc.ID, Version: v.Number, Language: in.Language},
	}, nil
}

// Save is the save-time decision of the version state machine:
//  1. modern document + published version + changed content on the primary
//     language -> fork a new draft and redirect the scope
//  2. otherwise -> update in place
//  3. status=published on the primary language -> exclusive publish
//     transition (archives any competing published version)
//  4. status on a non-primary language -> display-only override
func (s *documentService) Save(scope domain.EditScope, in *domain.SaveInput) (*SaveResult, error) {
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidFormat, err)
	}

	doc, err := s.docs.FindByID(scope.DocumentID)
	if err != nil {
		return nil, err
	}

	mu := s.lockDocument(doc.ID)
	mu.Lock()
	defer mu.Unlock()

	version, err := s.versions.FindByNumber(doc.ID, scope.Version)
	if err != nil {
		return nil, err
	}

	primary := in.Language == doc.PrimaryLanguage
	result := &SaveResult{Document: doc, Version: version, Scope: scope}

	// Slug renames only apply from the primary language.
	if primary && in.Slug != doc.Slug {
		exists, err := s.docs.SlugExists(doc.GroupID, in.Slug, doc.ID)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, common.ErrSlugAlreadyExists
		}
		if err := s.docs.UpdateSlug(doc.ID, in.Slug); err != nil {
			return nil, err
		}
		_ = s.cache.InvalidateDocument(context.Background(), doc.GroupID, doc.Slug)
		doc.Slug = in.Slug
	}

	// Fork decision. Translations never fork; legacy documents never fork.
	if primary && !doc.Legacy &&
		version.Status == domain.StatusPublished &&
		s.contentChanged(version, in) {
		forked, err := s.versions.Fork(doc.ID, version.Number)
		if err != nil {
			return nil, err
		}
		logger.GetLogger().Info().
			Str("document_id", doc.ID).
			Int("source_version", version.Number).
			Int("new_version", forked.Number).
			Msg("forked published version on edit")
		version = forked
		result.Forked = true
		result.Scope = scope.WithVersion(forked.Number)

		// The fork copied every language's content; each copy needs its
		// own availability row.
		for _, c := range forked.Contents {
			if err := s.availability.Upsert(&domain.Availability{
				DocumentID:    doc.ID,
				VersionNumber: forked.Number,
				Language:      c.Language,
			}); err != nil {
				return nil, err
			}
		}
	}
	result.Version = version

	// Persist the edit against the (possibly new) version.
	version.Title = in.Title
	version.Featured = in.Featured
	if err := s.versions.UpdateMeta(version); err != nil {
		return nil, err
	}
	content := &domain.VersionContent{
		VersionID:  version.ID,
		Language:   in.Language,
		Body:       in.Body,
		FormFields: in.FormFields,
	}
	if err := s.versions.UpsertContent(content); err != nil {
		return nil, err
	}
	if err := s.availability.Upsert(&domain.Availability{
		DocumentID:    doc.ID,
		VersionNumber: version.Number,
		Language:      in.Language,
	}); err != nil {
		return nil, err
	}

	if in.Status != nil {
		if err := s.applyStatus(doc, version, in.Language, *in.Status, primary); err != nil {
			return nil, err
		}
	}

	_ = s.cache.InvalidateStatus(context.Background(), doc.ID)
	return result, nil
}

// applyStatus runs step 3/4 of the save decision. Callers hold the
// per-document lock.
func (s *documentService) applyStatus(doc *domain.Document, version *domain.Version, language string, status domain.VersionStatus, primary bool) error {
	if !primary {
		// Display-only override for this language; canonical status untouched.
		st := string(status)
		return s.availability.SetStatusOverride(doc.ID, version.Number, language, &st)
	}

	if status == version.Status {
		return nil
	}

	if status == domain.StatusPublished {
		if err := s.versions.PublishExclusive(doc.ID, version.Number); err != nil {
			return err
		}
		version.Status = domain.StatusPublished
		return nil
	}

	if err := s.versions.SetStatus(doc.ID, version.Number, status); err != nil {
		return err
	}
	version.Status = status
	return nil
}

// contentChanged reports whether the input differs from the stored content
// for its language. Metadata-only saves do not fork.
func (s *documentService) contentChanged(v *domain.Version, in *domain.SaveInput) bool {
	stored := v.ContentFor(in.Language)
	if stored == nil {
		return in.Body != "" || in.FormFields != ""
	}
	return stored.Body != in.Body || stored.FormFields != in.FormFields
}

func (s *documentService) GetDocument(groupID, slug string) (*domain.Document, error) {
	var cached domain.Document
	if err := s.cache.GetDocument(context.Background(), groupID, slug, &cached); err == nil {
		return &cached, nil
	}

	doc, err := s.docs.FindByGroupSlug(groupID, slug)
	if err != nil {
		return nil, err
	}
	_ = s.cache.SetDocument(context.Background(), groupID, slug, doc)
	return doc, nil
}

func (s *documentService) GetDocumentByID(id string) (*domain.Document, error) {
	return s.docs.FindByID(id)
}

func (s *documentService) GetVersion(documentID string, number int) (*domain.Version, error) {
	return s.versions.FindByNumber(documentID, number)
}

func (s *documentService) ListVersionNumbers(documentID string) ([]int, error) {
	return s.versions.ListNumbers(documentID)
}

// DisplayVersion resolves what a reader sees:
// published > newest draft > highest number.
func (s *documentService) DisplayVersion(documentID string) (*domain.Version, error) {
	info, err := s.CurrentVersionStatus(documentID)
	if err != nil {
		return nil, err
	}
	return s.versions.FindByNumber(documentID, info.VersionNumber)
}

func (s *documentService) CurrentVersionStatus(documentID string) (*domain.VersionStatusInfo, error) {
	var cached domain.VersionStatusInfo
	if err := s.cache.GetStatus(context.Background(), documentID, &cached); err == nil {
		return &cached, nil
	}

	info, err := s.resolveVersionStatus(documentID)
	if err != nil {
		return nil, err
	}
	_ = s.cache.SetStatus(context.Background(), documentID, info)
	return info, nil
}

func (s *documentService) resolveVersionStatus(documentID string) (*domain.VersionStatusInfo, error) {
	versions, err := s.versions.List(documentID)
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, common.ErrVersionNotFound
	}

	// versions are ordered by number descending
	var newestDraft *domain.Version
	for _, v := range versions {
		if v.Status == domain.StatusPublished {
			return &domain.VersionStatusInfo{
				VersionNumber: v.Number,
				Status:        v.Status,
				Label:         "live",
			}, nil
		}
		if v.Status == domain.StatusDraft && newestDraft == nil {
			newestDraft = v
		}
	}
	if newestDraft != nil {
		return &domain.VersionStatusInfo{
			VersionNumber: newestDraft.Number,
			Status:        newestDraft.Status,
			Label:         "draft",
		}, nil
	}
	return &domain.VersionStatusInfo{
		VersionNumber: versions[0].Number,
		Status:        versions[0].Status,
		Label:         "latest",
	}, nil
}

// DeleteVersion removes one version, its availability rows, and returns the
// re-resolved display version (nil info when no versions remain).
func (s *documentService) DeleteVersion(documentID string, number int) (*domain.VersionStatusInfo, error) {
	mu := s.lockDocument(documentID)
	mu.Lock()
	defer mu.Unlock()

	if err := s.versions.Delete(documentID, number); err != nil {
		return nil, err
	}
	if err := s.availability.DeleteByVersion(documentID, number); err != nil {
		return nil, err
	}
	_ = s.cache.InvalidateStatus(context.Background(), documentID)

	info, err := s.CurrentVersionStatus(documentID)
	if errors.Is(err, common.ErrVersionNotFound) {
		return nil, nil
	}
	return info, err
}
