package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/okian/voxmeter/internal/domain/model"
)

// MemoryStore keeps everything in process memory. Used by tests and by the
// memory store backend.
type MemoryStore struct {
	mu        sync.RWMutex
	kv        map[string]string
	entries   map[string][]model.Entry
	overrides map[string]float64
	registry  map[string]model.RegistryRecord
	seq       int64
	closed    bool
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		kv:        make(map[string]string),
		entries:   make(map[string][]model.Entry),
		overrides: make(map[string]float64),
		registry:  make(map[string]model.RegistryRecord),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", ErrClosed
	}
	v, ok := s.kv[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return v, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.kv[key] = value
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.kv, key)
	return nil
}

func (s *MemoryStore) Append(_ context.Context, entry model.Entry) (model.Entry, error) {
	key, err := validateEntry(entry)
	if err != nil {
		return model.Entry{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return model.Entry{}, ErrClosed
	}
	s.seq++
	entry.Seq = s.seq
	entry = cloneEntry(entry)
	s.entries[key] = append(s.entries[key], entry)
	return cloneEntry(entry), nil
}

func (s *MemoryStore) Entries(_ context.Context, identityKey string) ([]model.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	src := s.entries[identityKey]
	out := make([]model.Entry, len(src))
	for i, e := range src {
		out[i] = cloneEntry(e)
	}
	return out, nil
}

func (s *MemoryStore) IdentityKeys(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	keys := make([]string, 0, len(s.entries))
	for k, v := range s.entries {
		if len(v) > 0 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *MemoryStore) DeleteIdentity(_ context.Context, identityKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.entries, identityKey)
	return nil
}

func (s *MemoryStore) DeleteAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.entries = make(map[string][]model.Entry)
	return nil
}

func (s *MemoryStore) SetOverride(_ context.Context, identityKey string, totalMinutes float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.overrides[identityKey] = totalMinutes
	return nil
}

func (s *MemoryStore) Override(_ context.Context, identityKey string) (float64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, false, ErrClosed
	}
	v, ok := s.overrides[identityKey]
	return v, ok, nil
}

func (s *MemoryStore) DeleteOverride(_ context.Context, identityKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	delete(s.overrides, identityKey)
	return nil
}

func (s *MemoryStore) Records(_ context.Context) ([]model.RegistryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]model.RegistryRecord, 0, len(s.registry))
	for _, r := range s.registry {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CanonicalID < out[j].CanonicalID })
	return out, nil
}

func (s *MemoryStore) PutRecord(_ context.Context, rec model.RegistryRecord) error {
	if rec.CanonicalID == "" {
		return fmt.Errorf("%w: canonical id is empty", ErrInvalidEntry)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.registry[rec.CanonicalID] = rec
	return nil
}

// Close marks the store closed. Further calls return ErrClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// validateEntry checks that Kind matches the populated payload and returns
// the entry's identity key.
func validateEntry(e model.Entry) (string, error) {
	switch e.Kind {
	case model.KindUsage:
		if e.Usage == nil || e.Checkpoint != nil {
			return "", fmt.Errorf("%w: usage entry without usage payload", ErrInvalidEntry)
		}
		if e.Usage.ID == "" || e.Usage.IdentityKey == "" {
			return "", fmt.Errorf("%w: usage entry needs id and identity key", ErrInvalidEntry)
		}
		return e.Usage.IdentityKey, nil
	case model.KindCheckpoint:
		if e.Checkpoint == nil || e.Usage != nil {
			return "", fmt.Errorf("%w: checkpoint entry without checkpoint payload", ErrInvalidEntry)
		}
		if e.Checkpoint.ID == "" || e.Checkpoint.IdentityKey == "" {
			return "", fmt.Errorf("%w: checkpoint entry needs id and identity key", ErrInvalidEntry)
		}
		return e.Checkpoint.IdentityKey, nil
	default:
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidEntry, e.Kind)
	}
}

func cloneEntry(e model.Entry) model.Entry {
	if e.Usage != nil {
		u := *e.Usage
		e.Usage = &u
	}
	if e.Checkpoint != nil {
		c := *e.Checkpoint
		e.Checkpoint = &c
	}
	return e
}
