// Package memory provides an in-memory implementation of the keypool.CounterStore interface.
// This implementation is primarily intended for testing and single-process development;
// state is lost on restart and is not shared between processes.
package memory

import (
	"context"
	"strconv"
	"sync"
	"time"
)

type entry struct {
	value     string
	list      []string
	expiresAt time.Time // zero = no expiry
}

// Storage implements keypool.CounterStore using in-memory maps
type Storage struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
}

// New creates a new in-memory counter store
func New() *Storage {
	return NewWithClock(time.Now)
}

// NewWithClock creates an in-memory store whose expiry decisions use now
func NewWithClock(now func() time.Time) *Storage {
	if now == nil {
		now = time.Now
	}
	return &Storage{
		entries: make(map[string]*entry),
		now:     now,
	}
}

// lookup returns the live entry for key, dropping it if expired. Caller holds mu.
func (s *Storage) lookup(key string) (*entry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		delete(s.entries, key)
		return nil, false
	}
	return e, true
}

// GetInt implements keypool.CounterStore
func (s *Storage) GetInt(_ context.Context, key string) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok {
		return 0, false, nil
	}
	v, err := strconv.Atoi(e.value)
	if err != nil {
		return 0, false, nil
	}
	return v, true, nil
}

// IncrBy implements keypool.CounterStore
func (s *Storage) IncrBy(_ context.Context, key string, by int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok {
		e = &entry{value: "0"}
		s.entries[key] = e
	}
	current, err := strconv.Atoi(e.value)
	if err != nil {
		return 0, errNotInteger
	}
	current += by
	e.value = strconv.Itoa(current)
	return current, nil
}

// TTL implements keypool.CounterStore
func (s *Storage) TTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok {
		return -2, nil
	}
	if e.expiresAt.IsZero() {
		return -1, nil
	}
	return e.expiresAt.Sub(s.now()), nil
}

// Expire implements keypool.CounterStore
func (s *Storage) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.lookup(key); ok {
		e.expiresAt = s.now().Add(ttl)
	}
	return nil
}

// SetString implements keypool.CounterStore
func (s *Storage) SetString(ctx context.Context, key, value string) error {
	return s.SetWithExpiry(ctx, key, value, 0)
}

// SetWithExpiry implements keypool.CounterStore. A zero ttl means no expiry.
func (s *Storage) SetWithExpiry(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := &entry{value: value}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.entries[key] = e
	return nil
}

// GetString implements keypool.CounterStore
func (s *Storage) GetString(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok || e.list != nil {
		return "", false, nil
	}
	return e.value, true, nil
}

// Delete implements keypool.CounterStore
func (s *Storage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

// ListPushFront implements keypool.CounterStore
func (s *Storage) ListPushFront(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok {
		e = &entry{}
		s.entries[key] = e
	}
	e.list = append([]string{value}, e.list...)
	return nil
}

// ListTrim implements keypool.CounterStore
func (s *Storage) ListTrim(_ context.Context, key string, start, stop int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok {
		return nil
	}
	lo, hi := listBounds(len(e.list), start, stop)
	if lo > hi {
		delete(s.entries, key)
		return nil
	}
	e.list = append([]string(nil), e.list[lo:hi+1]...)
	return nil
}

// ListRange implements keypool.CounterStore
func (s *Storage) ListRange(_ context.Context, key string, start, stop int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok {
		return []string{}, nil
	}
	lo, hi := listBounds(len(e.list), start, stop)
	if lo > hi {
		return []string{}, nil
	}
	return append([]string(nil), e.list[lo:hi+1]...), nil
}

// Clear removes all data (useful for testing)
func (s *Storage) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries = make(map[string]*entry)
}

// listBounds resolves Redis-style inclusive indices (negative counts from the end).
func listBounds(n, start, stop int) (int, int) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	return start, stop
}
