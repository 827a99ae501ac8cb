package service

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-cms/inkwell-backend/internal/common"
	"github.com/inkwell-cms/inkwell-backend/internal/domain"
	"github.com/inkwell-cms/inkwell-backend/pkg/cache"
)

// --- In-memory fakes ---

type fakeDocRepo struct {
	mu   sync.Mutex
	docs map[string]*domain.Document
}

func newFakeDocRepo() *fakeDocRepo {
	return &fakeDocRepo{docs: make(map[string]*domain.Document)}
}

func (r *fakeDocRepo) Create(doc *domain.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *doc
	r.docs[doc.ID] = &copied
	return nil
}

func (r *fakeDocRepo) FindByID(id string) (*domain.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	doc, ok := r.docs[id]
	if !ok {
		return nil, common.ErrDocumentNotFound
	}
	copied := *doc
	return &copied, nil
}

func (r *fakeDocRepo) FindByGroupSlug(groupID, slug string) (*domain.Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, doc := range r.docs {
		if doc.GroupID == groupID && doc.Slug == slug {
			copied := *doc
			return &copied, nil
		}
	}
	return nil, common.ErrDocumentNotFound
}

func (r *fakeDocRepo) SlugExists(groupID, slug, excludeDocumentID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, doc := range r.docs {
		if doc.GroupID == groupID && doc.Slug == slug && doc.ID != excludeDocumentID {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeDocRepo) UpdateSlug(id, slug string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if doc, ok := r.docs[id]; ok {
		doc.Slug = slug
	}
	return nil
}

func (r *fakeDocRepo) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.docs, id)
	return nil
}

type fakeVersionRepo struct {
	mu       sync.Mutex
	nextID   uint64
	versions []*domain.Version
}

func newFakeVersionRepo() *fakeVersionRepo {
	return &fakeVersionRepo{nextID: 1}
}

func (r *fakeVersionRepo) Create(v *domain.Version) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v.ID = r.nextID
	r.nextID++
	copied := *v
	copied.Contents = append([]domain.VersionContent(nil), v.Contents...)
	r.versions = append(r.versions, &copied)
	return nil
}

func (r *fakeVersionRepo) find(documentID string, number int) *domain.Version {
	for _, v := range r.versions {
		if v.DocumentID == documentID && v.Number == number {
			return v
		}
	}
	return nil
}

func (r *fakeVersionRepo) copyOf(v *domain.Version) *domain.Version {
	copied := *v
	copied.Contents = append([]domain.VersionContent(nil), v.Contents...)
	return &copied
}

func (r *fakeVersionRepo) FindByNumber(documentID string, number int) (*domain.Version, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v := r.find(documentID, number); v != nil {
		return r.copyOf(v), nil
	}
	return nil, common.ErrVersionNotFound
}

func (r *fakeVersionRepo) FindPublished(documentID string) (*domain.Version, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.versions {
		if v.DocumentID == documentID && v.Status == domain.StatusPublished {
			return r.copyOf(v), nil
		}
	}
	return nil, common.ErrVersionNotFound
}

func (r *fakeVersionRepo) List(documentID string) ([]*domain.Version, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Version
	for _, v := range r.versions {
		if v.DocumentID == documentID {
			out = append(out, r.copyOf(v))
		}
	}
	// newest number first
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].Number > out[i].Number {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

func (r *fakeVersionRepo) ListNumbers(documentID string) ([]int, error) {
	versions, _ := r.List(documentID)
	numbers := make([]int, 0, len(versions))
	for i := len(versions) - 1; i >= 0; i-- {
		numbers = append(numbers, versions[i].Number)
	}
	return numbers, nil
}

func (r *fakeVersionRepo) NextNumber(documentID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextNumberLocked(documentID), nil
}

func (r *fakeVersionRepo) nextNumberLocked(documentID string) int {
	max := 0
	for _, v := range r.versions {
		if v.DocumentID == documentID && v.Number > max {
			max = v.Number
		}
	}
	return max + 1
}

func (r *fakeVersionRepo) UpdateMeta(v *domain.Version) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if stored := r.find(v.DocumentID, v.Number); stored != nil {
		stored.Title = v.Title
		stored.Featured = v.Featured
	}
	return nil
}

func (r *fakeVersionRepo) UpsertContent(c *domain.VersionContent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.versions {
		if v.ID != c.VersionID {
			continue
		}
		for i := range v.Contents {
			if v.Contents[i].Language == c.Language {
				v.Contents[i].Body = c.Body
				v.Contents[i].FormFields = c.FormFields
				return nil
			}
		}
		v.Contents = append(v.Contents, *c)
		return nil
	}
	return common.ErrVersionNotFound
}

func (r *fakeVersionRepo) SetStatus(documentID string, number int, status domain.VersionStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.find(documentID, number)
	if v == nil {
		return common.ErrVersionNotFound
	}
	v.Status = status
	return nil
}

func (r *fakeVersionRepo) PublishExclusive(documentID string, number int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	target := r.find(documentID, number)
	if target == nil {
		return common.ErrVersionNotFound
	}
	for _, v := range r.versions {
		if v.DocumentID == documentID && v.Status == domain.StatusPublished && v.Number != number {
			v.Status = domain.StatusArchived
		}
	}
	target.Status = domain.StatusPublished
	return nil
}

func (r *fakeVersionRepo) Fork(documentID string, sourceNumber int) (*domain.Version, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	source := r.find(documentID, sourceNumber)
	if source == nil {
		return nil, common.ErrVersionNotFound
	}
	forked := &domain.Version{
		ID:         r.nextID,
		DocumentID: documentID,
		Number:     r.nextNumberLocked(documentID),
		Status:     domain.StatusDraft,
		Title:      source.Title,
		Featured:   source.Featured,
	}
	r.nextID++
	for _, c := range source.Contents {
		copied := c
		copied.VersionID = forked.ID
		forked.Contents = append(forked.Contents, copied)
	}
	r.versions = append(r.versions, forked)
	return r.copyOf(forked), nil
}

func (r *fakeVersionRepo) Delete(documentID string, number int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, v := range r.versions {
		if v.DocumentID == documentID && v.Number == number {
			r.versions = append(r.versions[:i], r.versions[i+1:]...)
			return nil
		}
	}
	return common.ErrVersionNotFound
}

type fakeAvailabilityRepo struct {
	mu   sync.Mutex
	rows []domain.Availability
}

func newFakeAvailabilityRepo() *fakeAvailabilityRepo {
	return &fakeAvailabilityRepo{}
}

func (r *fakeAvailabilityRepo) Upsert(a *domain.Availability) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.DocumentID == a.DocumentID && row.VersionNumber == a.VersionNumber && row.Language == a.Language {
			return nil
		}
	}
	r.rows = append(r.rows, *a)
	return nil
}

func (r *fakeAvailabilityRepo) ListByDocument(documentID string) ([]domain.Availability, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Availability
	for _, row := range r.rows {
		if row.DocumentID == documentID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *fakeAvailabilityRepo) SetStatusOverride(documentID string, versionNumber int, language string, status *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.rows {
		if r.rows[i].DocumentID == documentID && r.rows[i].VersionNumber == versionNumber && r.rows[i].Language == language {
			r.rows[i].StatusOverride = status
			return nil
		}
	}
	return nil
}

func (r *fakeAvailabilityRepo) DeleteByVersion(documentID string, versionNumber int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.rows[:0]
	for _, row := range r.rows {
		if !(row.DocumentID == documentID && row.VersionNumber == versionNumber) {
			kept = append(kept, row)
		}
	}
	r.rows = kept
	return nil
}

// --- Helpers ---

func newTestService() (DocumentService, *fakeDocRepo, *fakeVersionRepo, *fakeAvailabilityRepo) {
	docs := newFakeDocRepo()
	versions := newFakeVersionRepo()
	availability := newFakeAvailabilityRepo()
	return NewDocumentService(docs, versions, availability, cache.NewService(nil)), docs, versions, availability
}

func draftInput(lang string) *domain.SaveInput {
	return &domain.SaveInput{
		Title:    "My Post",
		Slug:     "my-post",
		Body:     "original body",
		Language: lang,
	}
}

func createPublished(t *testing.T, svc DocumentService) *SaveResult {
	t.Helper()
	in := draftInput("en")
	published := domain.StatusPublished
	in.Status = &published
	result, err := svc.CreateDocument("blog", in)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPublished, result.Version.Status)
	return result
}

func statusOf(t *testing.T, svc DocumentService, documentID string, number int) domain.VersionStatus {
	t.Helper()
	v, err := svc.GetVersion(documentID, number)
	require.NoError(t, err)
	return v.Status
}

// --- Tests ---

func TestCreateDocument_StartsAsDraft(t *testing.T) {
	svc, _, _, _ := newTestService()

	result, err := svc.CreateDocument("blog", draftInput("en"))
	require.NoError(t, err)

	assert.Equal(t, 1, result.Version.Number)
	assert.Equal(t, domain.StatusDraft, result.Version.Status)
	assert.Equal(t, "en", result.Document.PrimaryLanguage)
	assert.False(t, result.Forked)
}

func TestCreateDocument_SlugCollision(t *testing.T) {
	svc, _, _, _ := newTestService()

	_, err := svc.CreateDocument("blog", draftInput("en"))
	require.NoError(t, err)

	_, err = svc.CreateDocument("blog", draftInput("en"))
	assert.ErrorIs(t, err, common.ErrSlugAlreadyExists)
}

func TestCreateDocument_SameSlugDifferentGroup(t *testing.T) {
	svc, _, _, _ := newTestService()

	_, err := svc.CreateDocument("blog", draftInput("en"))
	require.NoError(t, err)
	_, err = svc.CreateDocument("news", draftInput("en"))
	assert.NoError(t, err)
}

func TestCreateDocument_InvalidSlug(t *testing.T) {
	svc, _, _, _ := newTestService()

	in := draftInput("en")
	in.Slug = "Not A Slug!"
	_, err := svc.CreateDocument("blog", in)
	assert.ErrorIs(t, err, common.ErrInvalidFormat)
}

// Scenario A: document with version 1 published; owner edits content and
// saves -> version 2 created as draft; version 1 still published and its
// stored content unchanged.
func TestSave_ForksWhenEditingPublished(t *testing.T) {
	svc, _, _, _ := newTestService()
	created := createPublished(t, svc)
	docID := created.Document.ID

	in := draftInput("en")
	in.Body = "edited body"
	scope := domain.EditScope{DocumentID: docID, Version: 1, Language: "en"}

	result, err := svc.Save(scope, in)
	require.NoError(t, err)

	assert.True(t, result.Forked)
	assert.Equal(t, 2, result.Version.Number)
	assert.Equal(t, domain.StatusDraft, result.Version.Status)
	assert.Equal(t, 2, result.Scope.Version, "session scope redirected to the fork")

	// The published version is untouched and remains live.
	v1, err := svc.GetVersion(docID, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPublished, v1.Status)
	assert.Equal(t, "original body", v1.ContentFor("en").Body)

	v2, err := svc.GetVersion(docID, 2)
	require.NoError(t, err)
	assert.Equal(t, "edited body", v2.ContentFor("en").Body)
}

func TestSave_NoForkWhenContentUnchanged(t *testing.T) {
	svc, _, _, _ := newTestService()
	created := createPublished(t, svc)

	in := draftInput("en")
	in.Title = "Renamed Title" // metadata-only change
	scope := domain.EditScope{DocumentID: created.Document.ID, Version: 1, Language: "en"}

	result, err := svc.Save(scope, in)
	require.NoError(t, err)
	assert.False(t, result.Forked)
	assert.Equal(t, 1, result.Version.Number)
}

func TestSave_NoForkOnDraft(t *testing.T) {
	svc, _, _, _ := newTestService()
	created, err := svc.CreateDocument("blog", draftInput("en"))
	require.NoError(t, err)

	in := draftInput("en")
	in.Body = "edited body"
	scope := domain.EditScope{DocumentID: created.Document.ID, Version: 1, Language: "en"}

	result, err := svc.Save(scope, in)
	require.NoError(t, err)
	assert.False(t, result.Forked)
	assert.Equal(t, "edited body", result.Version.ContentFor("en").Body)
}

func TestSave_TranslationNeverForks(t *testing.T) {
	svc, _, _, _ := newTestService()
	created := createPublished(t, svc)

	in := draftInput("es")
	in.Body = "cuerpo editado"
	scope := domain.EditScope{DocumentID: created.Document.ID, Version: 1, Language: "es"}

	result, err := svc.Save(scope, in)
	require.NoError(t, err)

	assert.False(t, result.Forked)
	assert.Equal(t, 1, result.Version.Number)
	// The published version picked up the translation without forking.
	assert.Equal(t, domain.StatusPublished, statusOf(t, svc, created.Document.ID, 1))
}

func TestSave_LegacyDocumentNeverForks(t *testing.T) {
	svc, docs, _, _ := newTestService()
	created := createPublished(t, svc)

	docs.mu.Lock()
	docs.docs[created.Document.ID].Legacy = true
	docs.mu.Unlock()

	in := draftInput("en")
	in.Body = "edited body"
	scope := domain.EditScope{DocumentID: created.Document.ID, Version: 1, Language: "en"}

	result, err := svc.Save(scope, in)
	require.NoError(t, err)
	assert.False(t, result.Forked)
	assert.Equal(t, "edited body", result.Version.ContentFor("en").Body)
}

// Scenario C: publishing version 2 while version 1 is published archives
// version 1 in the same operation.
func TestSave_PublishTransitionArchivesCompetitor(t *testing.T) {
	svc, _, _, _ := newTestService()
	created := createPublished(t, svc)
	docID := created.Document.ID

	// Fork by editing the published version.
	in := draftInput("en")
	in.Body = "v2 body"
	scope := domain.EditScope{DocumentID: docID, Version: 1, Language: "en"}
	forked, err := svc.Save(scope, in)
	require.NoError(t, err)
	require.Equal(t, 2, forked.Version.Number)

	// Publish version 2.
	published := domain.StatusPublished
	in2 := draftInput("en")
	in2.Body = "v2 body"
	in2.Status = &published
	_, err = svc.Save(forked.Scope, in2)
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPublished, statusOf(t, svc, docID, 2))
	assert.Equal(t, domain.StatusArchived, statusOf(t, svc, docID, 1))
}

// Publish exclusivity: whatever sequence of saves and publishes runs,
// at most one version is ever published.
func TestPublishExclusivity(t *testing.T) {
	svc, _, versions, _ := newTestService()
	created := createPublished(t, svc)
	docID := created.Document.ID

	published := domain.StatusPublished
	draft := domain.StatusDraft

	steps := []*domain.SaveInput{
		{Title: "My Post", Slug: "my-post", Body: "b1", Language: "en"},
		{Title: "My Post", Slug: "my-post", Body: "b2", Language: "en", Status: &published},
		{Title: "My Post", Slug: "my-post", Body: "b3", Language: "en"},
		{Title: "My Post", Slug: "my-post", Body: "b3", Language: "en", Status: &published},
		{Title: "My Post", Slug: "my-post", Body: "b4", Language: "en", Status: &draft},
	}

	for _, in := range steps {
		info, err := svc.CurrentVersionStatus(docID)
		require.NoError(t, err)
		scope := domain.EditScope{DocumentID: docID, Version: info.VersionNumber, Language: "en"}
		_, err = svc.Save(scope, in)
		require.NoError(t, err)

		versions.mu.Lock()
		publishedCount := 0
		for _, v := range versions.versions {
			if v.DocumentID == docID && v.Status == domain.StatusPublished {
				publishedCount++
			}
		}
		versions.mu.Unlock()
		assert.LessOrEqual(t, publishedCount, 1)
	}
}

func TestSave_TranslationStatusIsDisplayOnly(t *testing.T) {
	svc, _, _, availability := newTestService()
	created := createPublished(t, svc)
	docID := created.Document.ID

	archived := domain.StatusArchived
	in := draftInput("es")
	in.Body = "cuerpo"
	in.Status = &archived
	scope := domain.EditScope{DocumentID: docID, Version: 1, Language: "es"}

	_, err := svc.Save(scope, in)
	require.NoError(t, err)

	// Canonical status untouched.
	assert.Equal(t, domain.StatusPublished, statusOf(t, svc, docID, 1))

	rows, err := availability.ListByDocument(docID)
	require.NoError(t, err)
	var found bool
	for _, row := range rows {
		if row.Language == "es" && row.StatusOverride != nil {
			assert.Equal(t, "archived", *row.StatusOverride)
			found = true
		}
	}
	assert.True(t, found, "translation status stored as display override")
}

func TestSave_SlugRenameCollision(t *testing.T) {
	svc, _, _, _ := newTestService()
	first, err := svc.CreateDocument("blog", draftInput("en"))
	require.NoError(t, err)

	other := draftInput("en")
	other.Slug = "other-post"
	_, err = svc.CreateDocument("blog", other)
	require.NoError(t, err)

	in := draftInput("en")
	in.Slug = "other-post"
	scope := domain.EditScope{DocumentID: first.Document.ID, Version: 1, Language: "en"}
	_, err = svc.Save(scope, in)
	assert.ErrorIs(t, err, common.ErrSlugAlreadyExists)
}

func TestCurrentVersionStatus_Priority(t *testing.T) {
	svc, _, _, _ := newTestService()
	created := createPublished(t, svc)
	docID := created.Document.ID

	// published wins
	info, err := svc.CurrentVersionStatus(docID)
	require.NoError(t, err)
	assert.Equal(t, 1, info.VersionNumber)
	assert.Equal(t, "live", info.Label)

	// fork a draft; published still wins
	in := draftInput("en")
	in.Body = "draft body"
	_, err = svc.Save(domain.EditScope{DocumentID: docID, Version: 1, Language: "en"}, in)
	require.NoError(t, err)

	info, err = svc.CurrentVersionStatus(docID)
	require.NoError(t, err)
	assert.Equal(t, 1, info.VersionNumber)
	assert.Equal(t, "live", info.Label)
}

func TestDeleteVersion_ReResolvesDisplay(t *testing.T) {
	svc, _, _, _ := newTestService()
	created := createPublished(t, svc)
	docID := created.Document.ID

	in := draftInput("en")
	in.Body = "draft body"
	forked, err := svc.Save(domain.EditScope{DocumentID: docID, Version: 1, Language: "en"}, in)
	require.NoError(t, err)
	require.Equal(t, 2, forked.Version.Number)

	// Deleting the published version falls back to the newest draft.
	info, err := svc.DeleteVersion(docID, 1)
	require.NoError(t, err)
	require.NotNil(t, info)
	assert.Equal(t, 2, info.VersionNumber)
	assert.Equal(t, "draft", info.Label)

	// Deleting the last version leaves nothing to display.
	info, err = svc.DeleteVersion(docID, 2)
	require.NoError(t, err)
	assert.Nil(t, info)
}

func TestConcurrentPublish_SingleWinnerInvariant(t *testing.T) {
	svc, _, versions, _ := newTestService()
	created := createPublished(t, svc)
	docID := created.Document.ID

	// Build three more draft versions by forking.
	for i := 0; i < 3; i++ {
		info, err := svc.CurrentVersionStatus(docID)
		require.NoError(t, err)
		in := draftInput("en")
		in.Body = "body " + string(rune('a'+i))
		_, err = svc.Save(domain.EditScope{DocumentID: docID, Version: info.VersionNumber, Language: "en"}, in)
		require.NoError(t, err)
	}

	numbers, err := svc.ListVersionNumbers(docID)
	require.NoError(t, err)

	published := domain.StatusPublished
	var wg sync.WaitGroup
	for _, n := range numbers {
		wg.Add(1)
		go func(number int) {
			defer wg.Done()
			in := draftInput("en")
			in.Status = &published
			// Re-submit stored body so the publish does not itself fork.
			v, err := svc.GetVersion(docID, number)
			if err != nil {
				return
			}
			if c := v.ContentFor("en"); c != nil {
				in.Body = c.Body
			}
			scope := domain.EditScope{DocumentID: docID, Version: number, Language: "en"}
			svc.Save(scope, in) //nolint:errcheck
		}(n)
	}
	wg.Wait()

	versions.mu.Lock()
	publishedCount := 0
	for _, v := range versions.versions {
		if v.DocumentID == docID && v.Status == domain.StatusPublished {
			publishedCount++
		}
	}
	versions.mu.Unlock()
	assert.Equal(t, 1, publishedCount, "concurrent publishes must leave exactly one published version")
}
