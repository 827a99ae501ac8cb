package collab

import (
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkwell-cms/inkwell-backend/internal/broadcast"
	"github.com/inkwell-cms/inkwell-backend/internal/common"
	"github.com/inkwell-cms/inkwell-backend/internal/config"
	"github.com/inkwell-cms/inkwell-backend/internal/domain"
	"github.com/inkwell-cms/inkwell-backend/internal/service"
	"github.com/inkwell-cms/inkwell-backend/internal/session"
)

// fakeDocService implements service.DocumentService against a tiny
// in-memory version table, recording save calls.
type fakeDocService struct {
	mu         sync.Mutex
	doc        *domain.Document
	version    *domain.Version
	saveCalls  int
	saveErr    error
	versionErr error
	forkTo     int // when >0, the next Save reports a fork to this version
}

func newFakeDocService() *fakeDocService {
	return &fakeDocService{
		doc: &domain.Document{ID: "doc-1", GroupID: "blog", Slug: "my-post", PrimaryLanguage: "en"},
		version: &domain.Version{
			DocumentID: "doc-1",
			Number:     1,
			Status:     domain.StatusDraft,
			Title:      "Stored Title",
			Contents: []domain.VersionContent{
				{Language: "en", Body: "stored body"},
			},
		},
	}
}

func (f *fakeDocService) Save(scope domain.EditScope, in *domain.SaveInput) (*service.SaveResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveCalls++
	if f.saveErr != nil {
		return nil, f.saveErr
	}

	f.version.Title = in.Title
	if c := f.version.ContentFor(in.Language); c != nil {
		c.Body = in.Body
		c.FormFields = in.FormFields
	} else {
		f.version.Contents = append(f.version.Contents, domain.VersionContent{
			Language: in.Language, Body: in.Body, FormFields: in.FormFields,
		})
	}

	result := &service.SaveResult{Document: f.doc, Version: f.version, Scope: scope}
	if f.forkTo > 0 {
		result.Forked = true
		result.Scope = scope.WithVersion(f.forkTo)
		f.forkTo = 0
	}
	return result, nil
}

func (f *fakeDocService) CreateDocument(groupID string, in *domain.SaveInput) (*service.SaveResult, error) {
	return f.Save(domain.EditScope{DocumentID: f.doc.ID, Version: 1, Language: in.Language}, in)
}

func (f *fakeDocService) GetDocument(groupID, slug string) (*domain.Document, error) {
	return f.doc, nil
}

func (f *fakeDocService) GetDocumentByID(id string) (*domain.Document, error) {
	return f.doc, nil
}

func (f *fakeDocService) GetVersion(documentID string, number int) (*domain.Version, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.versionErr != nil {
		return nil, f.versionErr
	}
	copied := *f.version
	copied.Contents = append([]domain.VersionContent(nil), f.version.Contents...)
	return &copied, nil
}

func (f *fakeDocService) DisplayVersion(documentID string) (*domain.Version, error) {
	return f.GetVersion(documentID, 1)
}

func (f *fakeDocService) ListVersionNumbers(documentID string) ([]int, error) {
	return []int{1}, nil
}

func (f *fakeDocService) DeleteVersion(documentID string, number int) (*domain.VersionStatusInfo, error) {
	return nil, nil
}

func (f *fakeDocService) CurrentVersionStatus(documentID string) (*domain.VersionStatusInfo, error) {
	return &domain.VersionStatusInfo{VersionNumber: 1, Status: domain.StatusDraft, Label: "draft"}, nil
}

func (f *fakeDocService) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saveCalls
}

// --- Harness ---

func testConfig(debounce time.Duration) config.EditorConfig {
	return config.EditorConfig{
		AutosaveDebounce:   debounce,
		InactivityWarn:     time.Hour,
		InactivityRelease:  2 * time.Hour,
		SyncResponseWait:   100 * time.Millisecond,
		BroadcastQueueSize: 64,
	}
}

// newTestCoordinator disables autosave (hour-long debounce) so protocol
// tests are not raced by background saves; autosave tests use
// newAutosaveCoordinator.
func newTestCoordinator(t *testing.T, docs service.DocumentService) *Coordinator {
	return newCoordinatorWithConfig(t, docs, testConfig(time.Hour))
}

func newAutosaveCoordinator(t *testing.T, docs service.DocumentService) *Coordinator {
	return newCoordinatorWithConfig(t, docs, testConfig(50*time.Millisecond))
}

func newCoordinatorWithConfig(t *testing.T, docs service.DocumentService, cfg config.EditorConfig) *Coordinator {
	t.Helper()
	hub := broadcast.NewHub(nil, zerolog.Nop(), 64)
	go hub.Run()
	t.Cleanup(hub.Stop)

	registry := session.NewRegistry(session.SystemClock())
	return NewCoordinator(registry, hub, docs, cfg, zerolog.Nop())
}

func editScope() domain.EditScope {
	return domain.EditScope{DocumentID: "doc-1", Version: 1, Language: "en"}
}

func waitEvent(t *testing.T, sess *Session, eventType string, timeout time.Duration) *Outbound {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case out, ok := <-sess.Events():
			if !ok {
				t.Fatalf("session closed while waiting for %q", eventType)
			}
			if out.Type == eventType {
				return out
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q", eventType)
		}
	}
}

// --- Tests ---

func TestAttach_OwnerLoadsCanonicalContent(t *testing.T) {
	coord := newTestCoordinator(t, newFakeDocService())

	sess, err := coord.Attach(editScope(), "blog", "alice", "conn-1")
	require.NoError(t, err)
	defer sess.Detach()

	out := waitEvent(t, sess, OutboundRole, time.Second)
	assert.Equal(t, session.RoleOwner, out.Role)
	assert.Equal(t, "stored body", sess.View().Body)
}

// Scenario D: a spectator joining after the owner typed unsaved text sees
// that text, not the last persisted content.
func TestSpectator_SeesOwnersUnsavedState(t *testing.T) {
	coord := newTestCoordinator(t, newFakeDocService())
	scope := editScope()

	owner, err := coord.Attach(scope, "blog", "alice", "conn-1")
	require.NoError(t, err)
	defer owner.Detach()
	waitEvent(t, owner, OutboundRole, time.Second)

	require.NoError(t, owner.ApplyEdit(EditContent, domain.SessionState{Title: "Stored Title", Body: "Hello"}))

	spectator, err := coord.Attach(scope, "blog", "bob", "conn-2")
	require.NoError(t, err)
	defer spectator.Detach()

	assert.Eventually(t, func() bool {
		return spectator.View().Body == "Hello"
	}, time.Second, 10*time.Millisecond, "spectator must mirror the owner's unsaved text")
	assert.True(t, spectator.Pending(), "spectator is showing unsaved work")
}

func TestSpectator_MirrorsLiveEdits(t *testing.T) {
	coord := newTestCoordinator(t, newFakeDocService())
	scope := editScope()

	owner, _ := coord.Attach(scope, "blog", "alice", "conn-1")
	defer owner.Detach()
	spectator, _ := coord.Attach(scope, "blog", "bob", "conn-2")
	defer spectator.Detach()

	require.NoError(t, owner.ApplyEdit(EditContent, domain.SessionState{Body: "first"}))
	require.NoError(t, owner.ApplyEdit(EditContent, domain.SessionState{Body: "second"}))

	assert.Eventually(t, func() bool {
		return spectator.View().Body == "second"
	}, time.Second, 10*time.Millisecond)
}

func TestSpectator_EditRejectedBeforeChannel(t *testing.T) {
	docs := newFakeDocService()
	coord := newTestCoordinator(t, docs)
	scope := editScope()

	owner, _ := coord.Attach(scope, "blog", "alice", "conn-1")
	defer owner.Detach()
	spectator, _ := coord.Attach(scope, "blog", "bob", "conn-2")
	defer spectator.Detach()

	err := spectator.ApplyEdit(EditContent, domain.SessionState{Body: "hijack"})
	assert.ErrorIs(t, err, common.ErrSpectatorReadOnly)

	_, err = spectator.Save(&domain.SaveInput{Title: "x", Slug: "my-post", Language: "en"})
	assert.ErrorIs(t, err, common.ErrSpectatorReadOnly)
	assert.Zero(t, docs.calls(), "spectator writes must never reach the store")
}

// Scenario B: S1 then S2 attach; S1 is owner. S1 detaches; S2 becomes owner.
func TestPromotion_FIFO(t *testing.T) {
	coord := newTestCoordinator(t, newFakeDocService())
	scope := editScope()

	s1, _ := coord.Attach(scope, "blog", "alice", "conn-1")
	s2, _ := coord.Attach(scope, "blog", "bob", "conn-2")
	defer s2.Detach()

	assert.Equal(t, session.RoleOwner, s1.Role())
	assert.Equal(t, session.RoleSpectator, s2.Role())

	s1.Detach()

	assert.Eventually(t, func() bool {
		return s2.Role() == session.RoleOwner
	}, time.Second, 10*time.Millisecond)
}

// A promoted session discards the mirrored spectator view and reloads
// canonical content before accepting edits.
func TestPromotion_ReloadsCanonicalState(t *testing.T) {
	coord := newTestCoordinator(t, newFakeDocService())
	scope := editScope()

	owner, _ := coord.Attach(scope, "blog", "alice", "conn-1")
	spectator, _ := coord.Attach(scope, "blog", "bob", "conn-2")
	defer spectator.Detach()

	require.NoError(t, owner.ApplyEdit(EditContent, domain.SessionState{Body: "unsaved owner work"}))
	assert.Eventually(t, func() bool {
		return spectator.View().Body == "unsaved owner work"
	}, time.Second, 10*time.Millisecond)

	owner.Detach()

	assert.Eventually(t, func() bool {
		return spectator.Role() == session.RoleOwner && spectator.View().Body == "stored body"
	}, time.Second, 10*time.Millisecond, "promoted owner must not keep the stale mirrored snapshot")
	assert.False(t, spectator.Pending())
}

func TestSaved_PeersReloadCanonical(t *testing.T) {
	docs := newFakeDocService()
	coord := newTestCoordinator(t, docs)
	scope := editScope()

	owner, _ := coord.Attach(scope, "blog", "alice", "conn-1")
	defer owner.Detach()
	spectator, _ := coord.Attach(scope, "blog", "bob", "conn-2")
	defer spectator.Detach()

	// Let the join-time sync settle before saving, so the saved event is
	// the last thing the spectator processes.
	assert.Eventually(t, func() bool {
		return spectator.View().Body == "stored body"
	}, time.Second, 10*time.Millisecond)

	_, err := owner.Save(&domain.SaveInput{
		Title: "Saved Title", Slug: "my-post", Body: "saved body", Language: "en",
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return spectator.View().Body == "saved body" && !spectator.Pending()
	}, time.Second, 10*time.Millisecond)
	assert.False(t, owner.Pending())
}

func TestSave_ForkRedirectsScope(t *testing.T) {
	docs := newFakeDocService()
	docs.forkTo = 2
	coord := newTestCoordinator(t, docs)
	scope := editScope()

	owner, _ := coord.Attach(scope, "blog", "alice", "conn-1")
	defer owner.Detach()

	result, err := owner.Save(&domain.SaveInput{
		Title: "T", Slug: "my-post", Body: "edited", Language: "en",
	})
	require.NoError(t, err)
	require.True(t, result.Forked)

	assert.Equal(t, 2, owner.Scope().Version)
	// The session owns the new scope.
	members := coord.Members(owner.Scope())
	require.Len(t, members, 1)
	assert.Equal(t, session.RoleOwner, members[0].Role)
}

func TestAutosave_FiresAfterDebounce(t *testing.T) {
	docs := newFakeDocService()
	coord := newAutosaveCoordinator(t, docs)

	owner, _ := coord.Attach(editScope(), "blog", "alice", "conn-1")
	defer owner.Detach()
	waitEvent(t, owner, OutboundRole, time.Second)

	require.NoError(t, owner.ApplyEdit(EditContent, domain.SessionState{
		Title: "Stored Title", Body: "typed text",
	}))

	assert.Eventually(t, func() bool {
		return docs.calls() == 1 && !owner.Pending()
	}, time.Second, 10*time.Millisecond)
}

func TestAutosave_DebounceCancelsPrior(t *testing.T) {
	docs := newFakeDocService()
	coord := newAutosaveCoordinator(t, docs)

	owner, _ := coord.Attach(editScope(), "blog", "alice", "conn-1")
	defer owner.Detach()
	waitEvent(t, owner, OutboundRole, time.Second)

	// Rapid edits inside the debounce window collapse into one save.
	for i := 0; i < 5; i++ {
		require.NoError(t, owner.ApplyEdit(EditContent, domain.SessionState{
			Title: "Stored Title", Body: "typing",
		}))
		time.Sleep(5 * time.Millisecond)
	}

	assert.Eventually(t, func() bool {
		return docs.calls() >= 1
	}, time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, docs.calls())
}

func TestAutosave_FailureKeepsPendingForRetry(t *testing.T) {
	docs := newFakeDocService()
	docs.saveErr = common.ErrInvalidFormat
	coord := newAutosaveCoordinator(t, docs)

	owner, _ := coord.Attach(editScope(), "blog", "alice", "conn-1")
	defer owner.Detach()
	waitEvent(t, owner, OutboundRole, time.Second)

	require.NoError(t, owner.ApplyEdit(EditContent, domain.SessionState{
		Title: "Stored Title", Body: "typed text",
	}))

	assert.Eventually(t, func() bool {
		return docs.calls() >= 1
	}, time.Second, 10*time.Millisecond)
	assert.True(t, owner.Pending(), "failed autosave keeps the pending flag")

	// Clearing the error and editing again retries and succeeds.
	docs.mu.Lock()
	docs.saveErr = nil
	docs.mu.Unlock()
	require.NoError(t, owner.ApplyEdit(EditContent, domain.SessionState{
		Title: "Stored Title", Body: "typed more",
	}))

	assert.Eventually(t, func() bool {
		return !owner.Pending()
	}, time.Second, 10*time.Millisecond)
}

func TestAttach_Idempotent(t *testing.T) {
	coord := newTestCoordinator(t, newFakeDocService())
	scope := editScope()

	s1, err := coord.Attach(scope, "blog", "alice", "conn-1")
	require.NoError(t, err)
	defer s1.Detach()

	// Same actor+connection re-attaching reuses the registration and
	// the running session behind it.
	s2, err := coord.Attach(scope, "blog", "alice", "conn-1")
	require.NoError(t, err)
	defer s2.Detach()
	assert.Same(t, s1, s2)
	assert.Equal(t, s1.Ref(), s2.Ref())
	assert.Len(t, coord.Members(scope), 1)
}

// An owner registration with no live session behind it never answers a
// sync request. The spectator must fall back to the persisted content
// once the sync wait elapses.
func TestSyncFallback_LoadsPersistedWhenOwnerSilent(t *testing.T) {
	coord := newTestCoordinator(t, newFakeDocService())
	scope := editScope()

	_, err := coord.registry.Attach(scope, "ghost", "conn-0", nil)
	require.NoError(t, err)

	spectator, err := coord.Attach(scope, "blog", "bob", "conn-2")
	require.NoError(t, err)
	defer spectator.Detach()

	out := waitEvent(t, spectator, OutboundState, time.Second)
	require.NotNil(t, out.State)
	assert.Equal(t, "stored body", out.State.Body)
	assert.False(t, spectator.Pending())
}

// Detaching while the sync fallback timer is still armed must not fire
// an event into the already-closed channel.
func TestDetach_DuringSyncWait(t *testing.T) {
	coord := newTestCoordinator(t, newFakeDocService())
	scope := editScope()

	owner, _ := coord.Attach(scope, "blog", "alice", "conn-1")
	defer owner.Detach()

	spectator, err := coord.Attach(scope, "blog", "bob", "conn-2")
	require.NoError(t, err)
	spectator.Detach()

	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-spectator.Events():
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)

	// Outlive the sync wait; a send on the closed channel here would
	// crash the whole test binary.
	time.Sleep(3 * coord.cfg.SyncResponseWait)
}

// When the canonical reload at promotion fails, the promoted owner
// keeps the last mirrored state and is marked stale instead of being
// handed an empty document.
func TestPromotion_ReloadFailureKeepsLastKnownState(t *testing.T) {
	docs := newFakeDocService()
	coord := newTestCoordinator(t, docs)
	scope := editScope()

	owner, _ := coord.Attach(scope, "blog", "alice", "conn-1")
	spectator, _ := coord.Attach(scope, "blog", "bob", "conn-2")
	defer spectator.Detach()

	require.NoError(t, owner.ApplyEdit(EditContent, domain.SessionState{Body: "unsaved owner work"}))
	assert.Eventually(t, func() bool {
		return spectator.View().Body == "unsaved owner work"
	}, time.Second, 10*time.Millisecond)

	docs.mu.Lock()
	docs.versionErr = common.ErrVersionNotFound
	docs.mu.Unlock()

	owner.Detach()

	assert.Eventually(t, func() bool {
		return spectator.Role() == session.RoleOwner
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, "unsaved owner work", spectator.View().Body)
	assert.True(t, spectator.Stale())
	assert.True(t, spectator.Pending())
}
