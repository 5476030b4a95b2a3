// Package session owns the test-session identifier every other component keys
// its persisted state off.
package session

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"mocktest-backend/internal/models"
	"mocktest-backend/internal/storage"
)

// Registry manages the session of one learner for one test sequence.
type Registry struct {
	store      storage.Store
	sequenceID string
	now        func() time.Time

	mu      sync.Mutex
	current *models.TestSession
}

func NewRegistry(store storage.Store, sequenceID string) *Registry {
	return &Registry{store: store, sequenceID: sequenceID, now: time.Now}
}

// EnsureSession returns the stored session or creates and persists a new one.
// If storage fails the session lives in memory for the registry's lifetime.
func (r *Registry) EnsureSession(ctx context.Context) models.TestSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil {
		return *r.current
	}

	var s models.TestSession
	ok, err := storage.GetJSON(ctx, r.store, storage.SessionKey(r.sequenceID), &s)
	if err != nil {
		log.Printf("session: load %s: %v", r.sequenceID, err)
	}
	if ok && s.ID != "" {
		r.current = &s
		return s
	}

	s = models.TestSession{ID: uuid.New().String(), CreatedAt: r.now().UTC()}
	if err := storage.SetJSON(ctx, r.store, storage.SessionKey(r.sequenceID), s); err != nil {
		log.Printf("session: persist %s: %v", r.sequenceID, err)
	}
	r.current = &s
	return s
}

// Current returns the active session without creating one.
func (r *Registry) Current(ctx context.Context) (models.TestSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current != nil {
		return *r.current, true
	}
	var s models.TestSession
	ok, err := storage.GetJSON(ctx, r.store, storage.SessionKey(r.sequenceID), &s)
	if err != nil || !ok || s.ID == "" {
		return models.TestSession{}, false
	}
	r.current = &s
	return s, true
}

// ClearSession forgets the session. Only call it once the test is completed
// and acknowledged, or explicitly abandoned.
func (r *Registry) ClearSession(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.current = nil
	if err := r.store.Remove(ctx, storage.SessionKey(r.sequenceID)); err != nil {
		log.Printf("session: clear %s: %v", r.sequenceID, err)
	}
}
