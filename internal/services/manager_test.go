package services

import (
	"errors"
	"testing"
	"time"
)

func newIdleSession() *ReceiptSession {
	timers := &manualTimers{}
	resolver := NewStoreResolverWithTimers(&fakeRegistry{}, &fakeGeocoder{}, newFakeBackend(), timers.factory)
	return NewReceiptSession(&fakeExtractor{}, newFakeBackend(), resolver, NewDateReconciler())
}

func TestManagerAddGetRemove(t *testing.T) {
	m := NewSessionManager(time.Hour, nil)
	s := newIdleSession()

	m.Add(s)
	if m.Len() != 1 {
		t.Fatalf("len = %d, want 1", m.Len())
	}

	got, err := m.Get(s.ID())
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}
	if got != s {
		t.Error("Get returned a different session")
	}

	m.Remove(s.ID())
	if _, err := m.Get(s.ID()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v after remove, want ErrSessionNotFound", err)
	}
}

func TestManagerGetUnknown(t *testing.T) {
	m := NewSessionManager(time.Hour, nil)
	if _, err := m.Get("nope"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestManagerSweepEvictsExpired(t *testing.T) {
	var evicted []string
	m := NewSessionManager(time.Hour, func(s *ReceiptSession) {
		evicted = append(evicted, s.ID())
	})

	stale := newIdleSession()
	stale.draft.CreatedAt = time.Now().Add(-2 * time.Hour)
	fresh := newIdleSession()

	m.Add(stale)
	m.Add(fresh)

	if n := m.Sweep(); n != 1 {
		t.Fatalf("Sweep evicted %d sessions, want 1", n)
	}
	if len(evicted) != 1 || evicted[0] != stale.ID() {
		t.Errorf("evicted = %v, want the stale session only", evicted)
	}
	if _, err := m.Get(fresh.ID()); err != nil {
		t.Errorf("fresh session was evicted: %v", err)
	}
	if m.Len() != 1 {
		t.Errorf("len = %d after sweep, want 1", m.Len())
	}
}
