// Package session tracks which actors are attached to a given edit scope
// and derives each session's role. Role is always recomputed from join
// order, never cached: the owner can change without any handoff message
// when an earlier session detaches.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/inkwell-cms/inkwell-backend/internal/common"
	"github.com/inkwell-cms/inkwell-backend/internal/domain"
)

// Clock abstracts time for deterministic join-order tests
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock returns the wall-clock implementation
func SystemClock() Clock { return systemClock{} }

// Ref identifies one attached session
type Ref string

// Role of a session within its edit scope
type Role string

const (
	RoleOwner     Role = "owner"
	RoleSpectator Role = "spectator"
)

// Member is the presence projection of one attached session
type Member struct {
	Ref          Ref       `json:"ref"`
	ActorID      string    `json:"actor_id"`
	Role         Role      `json:"role"`
	JoinedAt     time.Time `json:"joined_at"`
	LastActivity time.Time `json:"last_activity"`
}

// RoleInfo is the result of a role query: the caller's role, the scope
// membership, and (for spectators) the owner's cached unsaved state.
type RoleInfo struct {
	Role       Role
	Members    []Member
	OwnerState *domain.SessionState
}

type entry struct {
	ref          Ref
	actorID      string
	connID       string
	joinedAt     time.Time
	lastActivity time.Time
	state        *domain.SessionState
}

// Registry maintains join-ordered session lists per edit-scope key
type Registry struct {
	mu     sync.RWMutex
	clock  Clock
	scopes map[string][]*entry
}

// NewRegistry creates a Registry with the given clock
func NewRegistry(clock Clock) *Registry {
	if clock == nil {
		clock = SystemClock()
	}
	return &Registry{
		clock:  clock,
		scopes: make(map[string][]*entry),
	}
}

// Attach registers a session for the scope. Re-attaching the same
// actor+connection pair is idempotent: the existing ref is returned
// together with ErrAlreadyAttached, which callers may treat as benign.
func (r *Registry) Attach(scope domain.EditScope, actorID, connID string, state *domain.SessionState) (Ref, error) {
	key := scope.Key()

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.scopes[key] {
		if e.actorID == actorID && e.connID == connID {
			return e.ref, common.ErrAlreadyAttached
		}
	}

	now := r.clock.Now()
	e := &entry{
		ref:          Ref(uuid.New().String()),
		actorID:      actorID,
		connID:       connID,
		joinedAt:     now,
		lastActivity: now,
		state:        state,
	}
	// Append keeps the slice join-ordered even when clock timestamps collide.
	r.scopes[key] = append(r.scopes[key], e)
	return e.ref, nil
}

// Detach removes a session. No-op when already removed.
func (r *Registry) Detach(scope domain.EditScope, ref Ref) {
	key := scope.Key()

	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.scopes[key]
	for i, e := range entries {
		if e.ref == ref {
			r.scopes[key] = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	if len(r.scopes[key]) == 0 {
		delete(r.scopes, key)
	}
}

// RoleOf computes the session's current role. The earliest-joined
// still-attached session is owner; everyone else spectates.
func (r *Registry) RoleOf(scope domain.EditScope, ref Ref) (*RoleInfo, error) {
	key := scope.Key()

	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := r.scopes[key]
	if len(entries) == 0 {
		return nil, common.ErrSessionNotFound
	}

	found := false
	for _, e := range entries {
		if e.ref == ref {
			found = true
			break
		}
	}
	if !found {
		return nil, common.ErrSessionNotFound
	}

	info := &RoleInfo{
		Role:    RoleSpectator,
		Members: r.membersLocked(entries),
	}
	if entries[0].ref == ref {
		info.Role = RoleOwner
	} else {
		info.OwnerState = entries[0].state
	}
	return info, nil
}

// Members returns join-ordered session metadata for presence display
func (r *Registry) Members(scope domain.EditScope) []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.membersLocked(r.scopes[scope.Key()])
}

func (r *Registry) membersLocked(entries []*entry) []Member {
	members := make([]Member, len(entries))
	for i, e := range entries {
		role := RoleSpectator
		if i == 0 {
			role = RoleOwner
		}
		members[i] = Member{
			Ref:          e.ref,
			ActorID:      e.actorID,
			Role:         role,
			JoinedAt:     e.joinedAt,
			LastActivity: e.lastActivity,
		}
	}
	return members
}

// UpdateState stores the session's unsaved in-memory view so it can be
// handed to late-joining spectators.
func (r *Registry) UpdateState(scope domain.EditScope, ref Ref, state *domain.SessionState) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.scopes[scope.Key()] {
		if e.ref == ref {
			e.state = state
			e.lastActivity = r.clock.Now()
			return
		}
	}
}

// Touch refreshes the session's last-activity timestamp
func (r *Registry) Touch(scope domain.EditScope, ref Ref) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.scopes[scope.Key()] {
		if e.ref == ref {
			e.lastActivity = r.clock.Now()
			return
		}
	}
}

// LastActivity returns the session's last-activity timestamp
func (r *Registry) LastActivity(scope domain.EditScope, ref Ref) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.scopes[scope.Key()] {
		if e.ref == ref {
			return e.lastActivity, true
		}
	}
	return time.Time{}, false
}

// Move reassigns a session to another scope, keeping its join identity.
// Used when a fork redirects the owner's edit scope to the new version.
func (r *Registry) Move(from, to domain.EditScope, ref Ref) {
	fromKey, toKey := from.Key(), to.Key()
	if fromKey == toKey {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.scopes[fromKey]
	for i, e := range entries {
		if e.ref == ref {
			r.scopes[fromKey] = append(entries[:i], entries[i+1:]...)
			if len(r.scopes[fromKey]) == 0 {
				delete(r.scopes, fromKey)
			}
			r.scopes[toKey] = append(r.scopes[toKey], e)
			return
		}
	}
}
