// Package collab implements the editing-session protocol: ownership
// election through the session registry, spectator synchronization and
// change mirroring over the broadcast hub, save reconciliation, debounced
// autosave, and the inactivity watchdog.
package collab

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/inkwell-cms/inkwell-backend/internal/broadcast"
	"github.com/inkwell-cms/inkwell-backend/internal/config"
	"github.com/inkwell-cms/inkwell-backend/internal/domain"
	"github.com/inkwell-cms/inkwell-backend/internal/service"
	"github.com/inkwell-cms/inkwell-backend/internal/session"
)

// Coordinator wires the registry, the hub, and the document write path
// together and owns the autosave timer arena.
type Coordinator struct {
	registry *session.Registry
	hub      *broadcast.Hub
	docs     service.DocumentService
	cfg      config.EditorConfig
	log      zerolog.Logger

	// Autosave timers keyed by session ref. One cancellable deferred
	// task per session; rescheduling cancels the prior timer.
	timersMu sync.Mutex
	timers   map[session.Ref]*time.Timer

	// Live sessions by registry ref, so a re-attach of the same
	// actor+connection returns the existing session instead of building
	// a second one around the same registration.
	sessionsMu sync.Mutex
	sessions   map[session.Ref]*Session
}

// NewCoordinator creates a Coordinator
func NewCoordinator(
	registry *session.Registry,
	hub *broadcast.Hub,
	docs service.DocumentService,
	cfg config.EditorConfig,
	log zerolog.Logger,
) *Coordinator {
	return &Coordinator{
		registry: registry,
		hub:      hub,
		docs:     docs,
		cfg:      cfg,
		log:      log,
		timers:   make(map[session.Ref]*time.Timer),
		sessions: make(map[session.Ref]*Session),
	}
}

// Attach joins an actor to an edit scope and starts the session's
// protocol loop. The returned Session delivers protocol output on
// Events() until Detach.
func (c *Coordinator) Attach(scope domain.EditScope, groupID, actorID, connID string) (*Session, error) {
	ref, err := c.registry.Attach(scope, actorID, connID, nil)
	if err != nil && ref == "" {
		return nil, err
	}
	// ErrAlreadyAttached with a valid ref is benign: same actor+connection
	// re-attaching gets its live session back.
	if err != nil {
		if existing := c.liveSession(ref); existing != nil {
			return existing, nil
		}
	}

	sess := &Session{
		coord:   c,
		scope:   scope,
		groupID: groupID,
		ref:     ref,
		actorID: actorID,
		sub:     c.hub.Subscribe(scope.Key()),
		events:  make(chan *Outbound, 64),
		done:    make(chan struct{}),
	}

	info, err := c.registry.RoleOf(scope, ref)
	if err != nil {
		c.registry.Detach(scope, ref)
		c.hub.Unsubscribe(sess.sub)
		return nil, err
	}
	sess.role = info.Role

	switch info.Role {
	case session.RoleOwner:
		sess.loadCanonical()
	case session.RoleSpectator:
		// The registry may already hold the owner's cached unsaved state;
		// apply it immediately, then still ask for a fresh copy.
		if info.OwnerState != nil {
			sess.view = *info.OwnerState
			sess.pending = true
		}
		sess.requestSync()
	}

	c.sessionsMu.Lock()
	c.sessions[ref] = sess
	c.sessionsMu.Unlock()

	go sess.run()
	go sess.watchdog()

	c.publishPresence(scope, string(ref))
	sess.emit(&Outbound{Type: OutboundRole, Role: info.Role, Members: info.Members, State: sess.snapshotView()})
	return sess, nil
}

// Members exposes the presence projection for a scope
func (c *Coordinator) Members(scope domain.EditScope) []session.Member {
	return c.registry.Members(scope)
}

func (c *Coordinator) liveSession(ref session.Ref) *Session {
	c.sessionsMu.Lock()
	defer c.sessionsMu.Unlock()
	return c.sessions[ref]
}

func (c *Coordinator) forgetSession(ref session.Ref) {
	c.sessionsMu.Lock()
	defer c.sessionsMu.Unlock()
	delete(c.sessions, ref)
}

func (c *Coordinator) publishPresence(scope domain.EditScope, source string) {
	c.hub.Publish(&broadcast.Event{
		Type:     broadcast.EventPresenceChanged,
		ScopeKey: scope.Key(),
		Source:   source,
	})
}

// scheduleAutosave (re)starts the session's debounce timer
func (c *Coordinator) scheduleAutosave(sess *Session) {
	c.timersMu.Lock()
	defer c.timersMu.Unlock()

	if t, ok := c.timers[sess.ref]; ok {
		t.Stop()
	}
	c.timers[sess.ref] = time.AfterFunc(c.cfg.AutosaveDebounce, sess.autosaveFire)
}

func (c *Coordinator) cancelAutosave(ref session.Ref) {
	c.timersMu.Lock()
	defer c.timersMu.Unlock()

	if t, ok := c.timers[ref]; ok {
		t.Stop()
		delete(c.timers, ref)
	}
}
