package workflow

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// Store persists sessions. Save enforces optimistic concurrency: the caller
// must present Version == stored version + 1, otherwise ErrConflict and the
// caller reloads and retries.
type Store interface {
	Load(ctx context.Context, sessionID string) (*Session, error)
	Save(ctx context.Context, sess *Session) error
	List(ctx context.Context) ([]*Session, error)
}

// MemoryStore keeps serialized sessions in a map. Used by tests and when no
// Redis is configured.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]byte
	versions map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string][]byte),
		versions: make(map[string]int),
	}
}

func (m *MemoryStore) Load(ctx context.Context, sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

func (m *MemoryStore) Save(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess.Version != m.versions[sess.ID]+1 {
		return ErrConflict
	}
	m.sessions[sess.ID] = data
	m.versions[sess.ID] = sess.Version
	return nil
}

func (m *MemoryStore) List(ctx context.Context) ([]*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, data := range m.sessions {
		var sess Session
		if err := json.Unmarshal(data, &sess); err != nil {
			return nil, err
		}
		out = append(out, &sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}
