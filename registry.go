// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package nosip

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Registry is the handle->Session map from §2 item 6: reference counting
// and hangup fan-out (recorder close, worker wakeup, cleanup). One Registry
// is shared by the Dispatcher, the Relay Workers it spawns, and the Host
// upcall handlers.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	host     Host
}

// NewRegistry builds an empty registry bound to host, the single Host
// capability instance for the process.
func NewRegistry(host Host) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		host:     host,
	}
}

// Host returns the bound capability interface.
func (r *Registry) Host() Host { return r.host }

// Create inserts a fresh Idle session for handle with ref=1, per §3's
// "Session created on host create upcall" lifecycle rule. Returns the
// existing session unchanged if handle is already registered.
func (r *Registry) Create(handle string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[handle]; ok {
		return s
	}
	s := NewSession(handle)
	r.sessions[handle] = s
	return s
}

// Get looks up a session by handle.
func (r *Registry) Get(handle string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[handle]
	return s, ok
}

// Remove deletes handle from the map and marks the session hanging up; the
// caller's Relay Worker (if running) observes this and performs the actual
// teardown and ref release, matching "Session destroyed when the host
// removes the handle; reference is released after the worker exits" (§3).
func (r *Registry) Remove(handle string) {
	r.mu.Lock()
	s, ok := r.sessions[handle]
	if ok {
		delete(r.sessions, handle)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	r.Hangup(s)
}

// Hangup runs the host on_hangup contract from §4.7: idempotently mark
// hanging_up, wake the worker, close recorders under the recorder lock; if
// the Relay Worker was never started, clean up media inline since nothing
// else will. Safe to call directly (on_hangup, which never removes the
// handle from the registry) or via Remove (destroy_session, which does).
func (r *Registry) Hangup(s *Session) {
	wasHangingUp := s.IsHangingUp()
	workerStarted := s.State() == StateReady
	s.MarkHangingUp()

	s.recMu.Lock()
	s.Recorders.CloseAll()
	s.recMu.Unlock()

	if !workerStarted && !wasHangingUp {
		s.mu.Lock()
		s.cleanupMediaLocked()
		s.mu.Unlock()
		if s.MarkDestroyed() {
			s.Release()
		}
	}
}

// Len reports the number of live sessions, used by tests and diagnostics.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) logEvent(handle string, ev Event) {
	if r.host != nil && r.host.EventsEnabled() {
		r.host.NotifyEvent(handle, ev)
	}
	log.Debug().Str("session", handle).Str("event", string(ev.Name)).Msg("nosip event")
}
