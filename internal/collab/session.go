package collab

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/inkwell-cms/inkwell-backend/internal/broadcast"
	"github.com/inkwell-cms/inkwell-backend/internal/common"
	"github.com/inkwell-cms/inkwell-backend/internal/domain"
	"github.com/inkwell-cms/inkwell-backend/internal/service"
	"github.com/inkwell-cms/inkwell-backend/internal/session"
)

// Outbound message kinds delivered to the connected client
const (
	OutboundRole     = "role"
	OutboundPresence = "presence"
	OutboundState    = "state"
	OutboundMirror   = "mirror"
	OutboundSaved    = "saved"
	OutboundWarning  = "warning"
)

// Outbound is a protocol-processed event for the client UI
type Outbound struct {
	Type    string               `json:"type"`
	Role    session.Role         `json:"role,omitempty"`
	Members []session.Member     `json:"members,omitempty"`
	State   *domain.SessionState `json:"state,omitempty"`
	Scope   *domain.EditScope    `json:"scope,omitempty"`
	Message string               `json:"message,omitempty"`
	Stale   bool                 `json:"stale,omitempty"`
}

// EditKind distinguishes form-field edits from body edits
type EditKind string

const (
	EditForm    EditKind = "form"
	EditContent EditKind = "content"
)

// Session is one connection's view of an edit scope. It mirrors the
// owner's unsaved state while spectating and is the only path through
// which an owner's edits reach the broadcast channel.
type Session struct {
	coord   *Coordinator
	scope   domain.EditScope
	groupID string
	ref     session.Ref
	actorID string
	sub     *broadcast.Subscription

	events chan *Outbound
	done   chan struct{}
	once   sync.Once

	mu        sync.Mutex
	role      session.Role
	view      domain.SessionState
	pending   bool
	stale     bool
	synced    bool
	closed    bool
	docSlug   string
	syncTimer *time.Timer
}

// Ref returns the registry reference of this session
func (s *Session) Ref() session.Ref { return s.ref }

// Scope returns the session's current edit scope (it changes after a fork)
func (s *Session) Scope() domain.EditScope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scope
}

// Events delivers protocol output until the session detaches
func (s *Session) Events() <-chan *Outbound { return s.events }

// Role recomputes the session's role from the registry
func (s *Session) Role() session.Role {
	info, err := s.coord.registry.RoleOf(s.Scope(), s.ref)
	if err != nil {
		return ""
	}
	return info.Role
}

// Pending reports whether the session holds unsaved changes
func (s *Session) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Stale reports whether the view may lag the persisted content
func (s *Session) Stale() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stale
}

// View returns the session's current in-memory state
func (s *Session) View() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

func (s *Session) snapshotView() *domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.view
	return &v
}

// emit queues protocol output. Timer and watchdog goroutines may call it
// after the run loop ended, so the closed flag and the channel close share
// the session mutex.
func (s *Session) emit(out *Outbound) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.events <- out:
	default:
		s.coord.log.Warn().Str("ref", string(s.ref)).Msg("session event queue full, dropping")
	}
}

func (s *Session) closeEvents() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	close(s.events)
}

// ApplyEdit mirrors a local edit to spectators. Spectator mutations are
// rejected here, before anything reaches the broadcast channel.
func (s *Session) ApplyEdit(kind EditKind, state domain.SessionState) error {
	scope := s.Scope()
	info, err := s.coord.registry.RoleOf(scope, s.ref)
	if err != nil {
		return err
	}
	if info.Role != session.RoleOwner {
		return common.ErrSpectatorReadOnly
	}

	s.mu.Lock()
	s.view = state
	s.pending = true
	s.mu.Unlock()

	s.coord.registry.UpdateState(scope, s.ref, &state)

	eventType := broadcast.EventFormChanged
	if kind == EditContent {
		eventType = broadcast.EventContentChanged
	}
	payload, err := json.Marshal(state)
	if err != nil {
		return err
	}
	s.coord.hub.Publish(&broadcast.Event{
		Type:     eventType,
		ScopeKey: scope.Key(),
		Source:   string(s.ref),
		Payload:  payload,
	})

	s.coord.scheduleAutosave(s)
	return nil
}

// Save persists through the version state machine and notifies peers.
// Only the owner may save; the rejection never reaches the store.
func (s *Session) Save(in *domain.SaveInput) (*service.SaveResult, error) {
	scope := s.Scope()
	info, err := s.coord.registry.RoleOf(scope, s.ref)
	if err != nil {
		return nil, err
	}
	if info.Role != session.RoleOwner {
		return nil, common.ErrSpectatorReadOnly
	}

	var result *service.SaveResult
	if scope.New {
		result, err = s.coord.docs.CreateDocument(s.groupID, in)
	} else {
		result, err = s.coord.docs.Save(scope, in)
	}
	if err != nil {
		return nil, err
	}

	s.coord.registry.Touch(scope, s.ref)
	s.coord.cancelAutosave(s.ref)

	s.mu.Lock()
	s.pending = false
	s.stale = false
	s.docSlug = result.Document.Slug
	s.view = domain.SessionState{
		Title:      in.Title,
		Body:       in.Body,
		FormFields: in.FormFields,
	}
	s.mu.Unlock()

	// Peers on the old scope reload canonical content.
	s.coord.hub.Publish(&broadcast.Event{
		Type:     broadcast.EventSaved,
		ScopeKey: scope.Key(),
		Source:   string(s.ref),
	})

	if result.Scope != scope {
		s.redirect(scope, result.Scope)
	}
	return result, nil
}

// redirect moves the session onto the scope of a newly forked version
func (s *Session) redirect(from, to domain.EditScope) {
	s.coord.registry.Move(from, to, s.ref)

	newSub := s.coord.hub.Subscribe(to.Key())
	s.mu.Lock()
	oldSub := s.sub
	s.sub = newSub
	s.scope = to
	s.mu.Unlock()
	s.coord.hub.Unsubscribe(oldSub)

	s.coord.publishPresence(from, string(s.ref))
	s.coord.publishPresence(to, string(s.ref))
	s.emit(&Outbound{Type: OutboundRole, Role: session.RoleOwner, Scope: &to, Members: s.coord.registry.Members(to)})
}

// Detach leaves the scope. Idempotent.
func (s *Session) Detach() {
	s.once.Do(func() {
		scope := s.Scope()
		s.mu.Lock()
		if s.syncTimer != nil {
			s.syncTimer.Stop()
		}
		s.mu.Unlock()
		s.coord.cancelAutosave(s.ref)
		s.coord.forgetSession(s.ref)
		s.coord.registry.Detach(scope, s.ref)
		s.coord.hub.Unsubscribe(s.sub)
		s.coord.publishPresence(scope, string(s.ref))
		close(s.done)
	})
}

// run is the protocol loop: it consumes broadcast events for the scope
// until the subscription closes or the session detaches.
func (s *Session) run() {
	defer s.closeEvents()
	for {
		sub := s.currentSub()
		select {
		case event, ok := <-sub.C:
			if !ok {
				// A fork redirect swaps the subscription; only a close of
				// the current one ends the loop.
				if s.currentSub() != sub {
					continue
				}
				return
			}
			s.handleEvent(event)
		case <-s.done:
			return
		}
	}
}

func (s *Session) currentSub() *broadcast.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sub
}

func (s *Session) handleEvent(event *broadcast.Event) {
	switch event.Type {
	case broadcast.EventPresenceChanged:
		s.onPresenceChanged()
	case broadcast.EventSyncRequest:
		s.onSyncRequest(event)
	case broadcast.EventSyncResponse:
		s.onSyncResponse(event)
	case broadcast.EventFormChanged, broadcast.EventContentChanged:
		s.onMirroredEdit(event)
	case broadcast.EventSaved:
		s.onSaved(event)
	case broadcast.EventInactivityWarn:
		if event.Target == string(s.ref) {
			s.emit(&Outbound{Type: OutboundWarning, Message: "inactive owner: scope will be released soon"})
		}
	}
}

// onPresenceChanged recomputes role. A spectator promoted to owner must
// discard the mirrored view and reload canonical content before editing:
// the inherited snapshot may be another actor's incomplete work, and
// saving it would be data loss. When the reload fails, the last known
// state is kept and flagged stale rather than destroyed.
func (s *Session) onPresenceChanged() {
	scope := s.Scope()
	info, err := s.coord.registry.RoleOf(scope, s.ref)
	if err != nil {
		return
	}

	s.mu.Lock()
	promoted := s.role == session.RoleSpectator && info.Role == session.RoleOwner
	s.role = info.Role
	s.mu.Unlock()

	if promoted {
		if s.loadCanonical() {
			s.mu.Lock()
			s.pending = false
			s.mu.Unlock()
		}
		s.coord.log.Info().
			Str("ref", string(s.ref)).
			Str("scope", scope.Key()).
			Msg("session promoted to owner")
	}

	out := &Outbound{Type: OutboundPresence, Role: info.Role, Members: info.Members}
	if promoted {
		out.Type = OutboundRole
		out.State = s.snapshotView()
		s.mu.Lock()
		out.Stale = s.stale
		s.mu.Unlock()
	}
	s.emit(out)
}

// onSyncRequest answers with this session's unsaved in-memory state,
// owner only.
func (s *Session) onSyncRequest(event *broadcast.Event) {
	if event.Source == string(s.ref) {
		return
	}
	scope := s.Scope()
	info, err := s.coord.registry.RoleOf(scope, s.ref)
	if err != nil || info.Role != session.RoleOwner {
		return
	}

	s.mu.Lock()
	payload, err := json.Marshal(s.view)
	s.mu.Unlock()
	if err != nil {
		return
	}

	s.coord.hub.Publish(&broadcast.Event{
		Type:     broadcast.EventSyncResponse,
		ScopeKey: scope.Key(),
		Source:   string(s.ref),
		Target:   event.Source,
		Payload:  payload,
	})
}

// onSyncResponse applies the owner's live state. The spectator is now
// showing unsaved work, so its pending flag is set.
func (s *Session) onSyncResponse(event *broadcast.Event) {
	if event.Target != string(s.ref) {
		return
	}

	var state domain.SessionState
	if err := json.Unmarshal(event.Payload, &state); err != nil {
		s.coord.log.Warn().Err(err).Msg("malformed sync response")
		return
	}

	s.mu.Lock()
	s.view = state
	s.pending = true
	s.synced = true
	s.mu.Unlock()

	s.emit(&Outbound{Type: OutboundState, State: &state})
}

// onMirroredEdit overwrites the spectator view with the owner's payload.
// Own echoes are dropped.
func (s *Session) onMirroredEdit(event *broadcast.Event) {
	if event.Source == string(s.ref) {
		return
	}
	info, err := s.coord.registry.RoleOf(s.Scope(), s.ref)
	if err != nil || info.Role != session.RoleSpectator {
		return
	}

	var state domain.SessionState
	if err := json.Unmarshal(event.Payload, &state); err != nil {
		s.coord.log.Warn().Err(err).Msg("malformed mirrored edit")
		return
	}

	s.mu.Lock()
	s.view = state
	s.pending = true
	s.synced = true
	s.mu.Unlock()

	s.emit(&Outbound{Type: OutboundMirror, State: &state})
}

// onSaved reloads canonical content after another session saved.
// Last-write-wins across sessions and tabs; the saver skips its own
// notification.
func (s *Session) onSaved(event *broadcast.Event) {
	if event.Source == string(s.ref) {
		return
	}

	s.loadCanonical()

	s.mu.Lock()
	s.pending = false
	s.mu.Unlock()

	s.emit(&Outbound{Type: OutboundSaved, State: s.snapshotView()})
}

// requestSync asks the owner for its live state and arms the fallback:
// when no response arrives in time, the last persisted version is shown.
func (s *Session) requestSync() {
	scope := s.Scope()
	s.coord.hub.Publish(&broadcast.Event{
		Type:     broadcast.EventSyncRequest,
		ScopeKey: scope.Key(),
		Source:   string(s.ref),
	})

	timer := time.AfterFunc(s.coord.cfg.SyncResponseWait, func() {
		s.mu.Lock()
		skip := s.synced || s.closed
		s.mu.Unlock()
		if skip {
			return
		}
		s.loadCanonical()
		s.emit(&Outbound{Type: OutboundState, State: s.snapshotView()})
	})
	s.mu.Lock()
	s.syncTimer = timer
	s.mu.Unlock()
}

// loadCanonical replaces the view with the last persisted content and
// reports whether it did. Failure keeps the current view but flags it as
// potentially stale; a scope with nothing persisted yet has no canonical
// content to load.
func (s *Session) loadCanonical() bool {
	scope := s.Scope()
	if scope.New {
		return false
	}

	version, err := s.coord.docs.GetVersion(scope.DocumentID, scope.Version)
	if err != nil {
		s.mu.Lock()
		s.stale = true
		s.mu.Unlock()
		s.coord.log.Error().Err(err).
			Str("scope", scope.Key()).
			Msg("canonical reload failed, session may be stale")
		return false
	}

	doc, err := s.coord.docs.GetDocumentByID(scope.DocumentID)
	if err == nil {
		s.mu.Lock()
		s.docSlug = doc.Slug
		s.mu.Unlock()
	}

	state := domain.SessionState{Title: version.Title}
	if content := version.ContentFor(scope.Language); content != nil {
		state.Body = content.Body
		state.FormFields = content.FormFields
	}

	s.mu.Lock()
	s.view = state
	s.stale = false
	s.mu.Unlock()
	return true
}

// autosaveFire runs when the debounce timer expires. A reverted session
// (no pending changes) does nothing; a failed save keeps the pending
// flag so the next cycle retries.
func (s *Session) autosaveFire() {
	s.mu.Lock()
	pending := s.pending
	view := s.view
	slug := s.docSlug
	s.mu.Unlock()
	if !pending {
		return
	}

	scope := s.Scope()
	info, err := s.coord.registry.RoleOf(scope, s.ref)
	if err != nil || info.Role != session.RoleOwner {
		return
	}
	if slug == "" {
		// Nothing persisted to autosave against yet; an explicit save
		// must create the document first.
		return
	}

	in := &domain.SaveInput{
		Title:      view.Title,
		Slug:       slug,
		Body:       view.Body,
		FormFields: view.FormFields,
		Language:   scope.Language,
	}
	// A failed save leaves the pending flag set, so the next debounce
	// cycle retries.
	if _, err := s.Save(in); err != nil {
		s.coord.log.Warn().Err(err).
			Str("scope", scope.Key()).
			Msg("autosave failed, will retry on next cycle")
		s.emit(&Outbound{Type: OutboundWarning, Message: "autosave failed"})
	}
}

// watchdog warns an inactive owner and eventually releases the scope so
// the next session can take over. Advisory: spectators are never killed.
func (s *Session) watchdog() {
	interval := s.coord.cfg.InactivityWarn / 4
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			scope := s.Scope()
			info, err := s.coord.registry.RoleOf(scope, s.ref)
			if err != nil || info.Role != session.RoleOwner {
				continue
			}
			last, ok := s.coord.registry.LastActivity(scope, s.ref)
			if !ok {
				continue
			}
			idle := time.Since(last)
			switch {
			case idle >= s.coord.cfg.InactivityRelease:
				s.coord.log.Info().
					Str("scope", scope.Key()).
					Dur("idle", idle).
					Msg("releasing inactive owner")
				s.emit(&Outbound{Type: OutboundWarning, Message: "scope released after inactivity"})
				s.Detach()
				return
			case idle >= s.coord.cfg.InactivityWarn:
				s.coord.hub.Publish(&broadcast.Event{
					Type:     broadcast.EventInactivityWarn,
					ScopeKey: scope.Key(),
					Source:   string(s.ref),
					Target:   string(s.ref),
				})
			}
		case <-s.done:
			return
		}
	}
}
