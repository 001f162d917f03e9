package controllers

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"scholars-backend/metrics"
	"scholars-backend/results"
)

// UploadSession is one file moving through the import wizard. Only the raw
// bytes are kept; rows are re-streamed from them on every validation.
type UploadSession struct {
	mu sync.Mutex

	ID          string
	Competition string
	FileName    string
	Data        []byte
	Format      results.Format
	Headers     []string
	RowCount    int
	Suggested   results.FieldMapping
	Mapping     results.FieldMapping
	Wizard      results.Wizard
	Validation  *results.ValidationResult
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (s *UploadSession) transition(ev results.Event) error {
	next, err := results.Transition(s.Wizard, ev)
	if err != nil {
		return err
	}
	s.Wizard = next
	s.UpdatedAt = time.Now()
	return nil
}

// UploadStore keeps upload sessions in memory and forgets them after ttl.
type UploadStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	sessions map[string]*UploadSession
	now      func() time.Time
}

func NewUploadStore(ttl time.Duration) *UploadStore {
	return &UploadStore{ttl: ttl, sessions: map[string]*UploadSession{}, now: time.Now}
}

func (s *UploadStore) Create(competition, fileName string, data []byte, f results.Format) *UploadSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked()

	now := s.now()
	sess := &UploadSession{
		ID:          uuid.New().String(),
		Competition: competition,
		FileName:    fileName,
		Data:        data,
		Format:      f,
		Wizard:      results.Wizard{State: results.StateIdle},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.sessions[sess.ID] = sess
	metrics.UpdateUploadsInFlight(len(s.sessions))
	return sess
}

// Get returns the session if it exists and belongs to competition.
func (s *UploadStore) Get(competition, id string) (*UploadSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expireLocked()

	sess, ok := s.sessions[id]
	if !ok || sess.Competition != competition {
		return nil, false
	}
	return sess, true
}

func (s *UploadStore) expireLocked() {
	if s.ttl <= 0 {
		return
	}
	cutoff := s.now().Add(-s.ttl)
	for id, sess := range s.sessions {
		// A locked session is in use.
		if !sess.mu.TryLock() {
			continue
		}
		stale := sess.UpdatedAt.Before(cutoff)
		sess.mu.Unlock()
		if stale {
			delete(s.sessions, id)
		}
	}
	metrics.UpdateUploadsInFlight(len(s.sessions))
}
