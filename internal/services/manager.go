package services

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

var ErrSessionNotFound = errors.New("reconciliation session not found")

// SessionManager tracks live reconciliation sessions by draft id. Drafts
// are memory-only and expire after a TTL; a cron sweeper evicts the stale
// ones so abandoned uploads do not accumulate.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*ReceiptSession
	ttl      time.Duration
	onEvict  func(*ReceiptSession)
	cron     *cron.Cron
}

// NewSessionManager creates a manager evicting drafts older than ttl.
// onEvict, if non-nil, runs for every evicted session (e.g. to delete the
// archived receipt image).
func NewSessionManager(ttl time.Duration, onEvict func(*ReceiptSession)) *SessionManager {
	return &SessionManager{
		sessions: make(map[string]*ReceiptSession),
		ttl:      ttl,
		onEvict:  onEvict,
	}
}

// Add registers a session under its draft id
func (m *SessionManager) Add(session *ReceiptSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID()] = session
}

// Get returns the session owning the given draft
func (m *SessionManager) Get(draftID string) (*ReceiptSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[draftID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// Remove evicts a single session
func (m *SessionManager) Remove(draftID string) {
	m.mu.Lock()
	session, ok := m.sessions[draftID]
	if ok {
		delete(m.sessions, draftID)
	}
	m.mu.Unlock()

	if ok {
		session.Close()
		if m.onEvict != nil {
			m.onEvict(session)
		}
	}
}

// Sweep evicts every session older than the TTL and returns the count
func (m *SessionManager) Sweep() int {
	cutoff := time.Now().Add(-m.ttl)

	m.mu.Lock()
	var expired []*ReceiptSession
	for id, session := range m.sessions {
		if session.CreatedAt().Before(cutoff) {
			expired = append(expired, session)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, session := range expired {
		session.Close()
		if m.onEvict != nil {
			m.onEvict(session)
		}
	}

	if len(expired) > 0 {
		log.Printf("Swept %d expired reconciliation draft(s)", len(expired))
	}
	return len(expired)
}

// StartSweeper schedules periodic sweeps until Stop is called
func (m *SessionManager) StartSweeper(interval time.Duration) error {
	m.cron = cron.New()
	_, err := m.cron.AddFunc("@every "+interval.String(), func() {
		m.Sweep()
	})
	if err != nil {
		return err
	}
	m.cron.Start()
	return nil
}

// Stop halts the sweeper
func (m *SessionManager) Stop() {
	if m.cron != nil {
		m.cron.Stop()
	}
}

// Len returns the number of live sessions
func (m *SessionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
