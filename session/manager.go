// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

// Package session tracks agent invocation sessions: idle/active/suspended
// lifecycle, single-flight dedup for the wake endpoint, and persistence
// across restarts via the store.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/swarmproto/swarmd/internal/logger"
	"github.com/swarmproto/swarmd/store"
)

// State is one of the three invocation-session states.
type State string

const (
	StateIdle      State = "idle"
	StateActive    State = "active"
	StateSuspended State = "suspended"
)

// DefaultTimeout is how long a session stays active/suspended without
// activity before it's swept back to idle.
const DefaultTimeout = 30 * time.Minute

// Session is the in-memory view of one invocation session, mirroring
// store.SessionRecord.
type Session struct {
	ID                string
	State             State
	StartedAt         time.Time
	LastActivityAt    time.Time
	ContextSummary    string
	MessagesProcessed int
}

func (s Session) idleSince(now time.Time, timeout time.Duration) bool {
	return s.State != StateIdle && now.Sub(s.LastActivityAt) >= timeout
}

// Manager tracks invocation sessions, one active session being the
// common case for a single-agent node. A background ticker sweeps
// timed-out sessions back to idle.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	timeout  time.Duration
	store    *store.Store
	log      logger.Logger

	ticker      *time.Ticker
	stopCleanup chan struct{}
}

// New builds a Manager, loading any persisted sessions from st so state
// survives a restart.
func New(st *store.Store, timeout time.Duration, log logger.Logger) (*Manager, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = logger.Noop()
	}
	m := &Manager{
		sessions:    make(map[string]*Session),
		timeout:     timeout,
		store:       st,
		log:         log,
		stopCleanup: make(chan struct{}),
	}
	if st != nil {
		records, err := st.ListSessions()
		if err != nil {
			return nil, err
		}
		for _, r := range records {
			m.sessions[r.SessionID] = &Session{
				ID: r.SessionID, State: State(r.State), StartedAt: r.StartedAt,
				LastActivityAt: r.LastActivityAt, ContextSummary: r.ContextSummary,
			}
		}
	}
	m.ticker = time.NewTicker(time.Minute)
	go m.runCleanup()
	return m, nil
}

// Close stops the background sweep.
func (m *Manager) Close() {
	close(m.stopCleanup)
	m.ticker.Stop()
}

// ActiveSession returns the current active or suspended session, if any
// is within its timeout window (the dedup check WakeEndpoint needs).
func (m *Manager) ActiveSession(now time.Time) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if (s.State == StateActive || s.State == StateSuspended) && now.Sub(s.LastActivityAt) < m.timeout {
			cp := *s
			return &cp, true
		}
	}
	return nil, false
}

// Start transitions idle → active, creating a fresh session.
func (m *Manager) Start(now time.Time) (*Session, error) {
	m.mu.Lock()
	s := &Session{ID: uuid.NewString(), State: StateActive, StartedAt: now, LastActivityAt: now}
	m.sessions[s.ID] = s
	cp := *s
	m.mu.Unlock()
	return &cp, m.persist(s)
}

// StartIfIdle is the atomic check-and-set backing the wake endpoint's
// single-flight dedup: the active-session lookup and the
// creation of a new one happen under one lock acquisition, so two
// concurrent callers can never both observe "no active session" and both
// start one. Returns the existing session and started=false if one is
// already active within the timeout window; otherwise starts and returns
// a fresh session with started=true.
func (m *Manager) StartIfIdle(now time.Time) (*Session, bool, error) {
	m.mu.Lock()
	for _, existing := range m.sessions {
		if (existing.State == StateActive || existing.State == StateSuspended) && now.Sub(existing.LastActivityAt) < m.timeout {
			cp := *existing
			m.mu.Unlock()
			return &cp, false, nil
		}
	}
	s := &Session{ID: uuid.NewString(), State: StateActive, StartedAt: now, LastActivityAt: now}
	m.sessions[s.ID] = s
	cp := *s
	m.mu.Unlock()
	return &cp, true, m.persist(s)
}

// Suspend transitions active → suspended, recording a context summary.
func (m *Manager) Suspend(id, contextSummary string, now time.Time) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return errNotFound(id)
	}
	s.State = StateSuspended
	s.ContextSummary = contextSummary
	s.LastActivityAt = now
	cp := *s
	m.mu.Unlock()
	return m.persist(&cp)
}

// Resume transitions suspended → active.
func (m *Manager) Resume(id string, now time.Time) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return errNotFound(id)
	}
	s.State = StateActive
	s.LastActivityAt = now
	cp := *s
	m.mu.Unlock()
	return m.persist(&cp)
}

// Complete transitions active|suspended → idle (invocation finished).
func (m *Manager) Complete(id string, now time.Time) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return errNotFound(id)
	}
	s.State = StateIdle
	s.LastActivityAt = now
	cp := *s
	m.mu.Unlock()
	return m.persist(&cp)
}

// UpdateActivity refreshes last_activity_at and optionally the context
// summary and processed-message count.
func (m *Manager) UpdateActivity(id string, messagesProcessed int, contextSummary *string, now time.Time) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return errNotFound(id)
	}
	s.LastActivityAt = now
	s.MessagesProcessed += messagesProcessed
	if contextSummary != nil {
		s.ContextSummary = *contextSummary
	}
	cp := *s
	m.mu.Unlock()
	return m.persist(&cp)
}

func (m *Manager) persist(s *Session) error {
	if m.store == nil {
		return nil
	}
	return m.store.PutSession(store.SessionRecord{
		SessionID: s.ID, State: store.SessionState(s.State),
		StartedAt: s.StartedAt, LastActivityAt: s.LastActivityAt, ContextSummary: s.ContextSummary,
	})
}

func (m *Manager) runCleanup() {
	for {
		select {
		case <-m.ticker.C:
			m.sweep(time.Now())
		case <-m.stopCleanup:
			return
		}
	}
}

func (m *Manager) sweep(now time.Time) {
	m.mu.Lock()
	var toIdle []*Session
	for _, s := range m.sessions {
		if s.idleSince(now, m.timeout) {
			s.State = StateIdle
			cp := *s
			toIdle = append(toIdle, &cp)
		}
	}
	m.mu.Unlock()
	for _, s := range toIdle {
		if err := m.persist(s); err != nil {
			m.log.Warn("session: persist idle transition failed", logger.String("session_id", s.ID), logger.Error(err))
		}
	}
}

type notFoundError string

func (e notFoundError) Error() string { return "session: " + string(e) + " not found" }

func errNotFound(id string) error { return notFoundError(id) }
