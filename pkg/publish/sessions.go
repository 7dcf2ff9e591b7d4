package publish

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultSessionTTL is how long an upload session may sit before the
// reaper discards it.
const DefaultSessionTTL = time.Hour

// Session is one in-flight upload. Bytes arrive after creation and are
// consumed exactly once by finalize.
type Session struct {
	ID        string
	CreatedAt time.Time

	data     []byte
	received bool
}

// SessionStore tracks in-flight uploads in memory. Sessions do not
// survive a restart; clients retry the whole publish flow.
type SessionStore struct {
	mu       sync.Mutex
	ttl      time.Duration
	sessions map[string]*Session
	now      func() time.Time
}

// NewSessionStore creates a store with the given TTL. A non-positive
// TTL falls back to DefaultSessionTTL.
func NewSessionStore(ttl time.Duration) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionStore{
		ttl:      ttl,
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// Create registers a new session and returns its id.
func (ss *SessionStore) Create() *Session {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	s := &Session{ID: uuid.NewString(), CreatedAt: ss.now()}
	ss.sessions[s.ID] = s
	return s
}

// PutData stores the uploaded archive bytes for id. Returns
// ErrSessionNotFound when the session is unknown or already expired.
func (ss *SessionStore) PutData(id string, data []byte) error {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	s, ok := ss.sessions[id]
	if !ok || ss.expired(s) {
		delete(ss.sessions, id)
		return ErrSessionNotFound
	}
	s.data = data
	s.received = true
	return nil
}

// Take removes the session and returns its bytes. Removal is
// unconditional so a second finalize on the same id sees not-found
// rather than racing the first.
func (ss *SessionStore) Take(id string) ([]byte, error) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	s, ok := ss.sessions[id]
	if !ok || ss.expired(s) {
		delete(ss.sessions, id)
		return nil, ErrSessionNotFound
	}
	delete(ss.sessions, id)
	if !s.received {
		return nil, ErrEmptyUpload
	}
	return s.data, nil
}

// Reap drops expired sessions and returns how many were removed.
func (ss *SessionStore) Reap() int {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	var removed int
	for id, s := range ss.sessions {
		if ss.expired(s) {
			delete(ss.sessions, id)
			removed++
		}
	}
	return removed
}

// Len reports how many sessions are currently held.
func (ss *SessionStore) Len() int {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return len(ss.sessions)
}

func (ss *SessionStore) expired(s *Session) bool {
	return ss.now().Sub(s.CreatedAt) > ss.ttl
}
