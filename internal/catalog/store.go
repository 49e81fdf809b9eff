package catalog

import (
	"sync"
	"sync/atomic"
	"time"
)

// Store provides thread-safe access to the current catalog.
type Store struct {
	catalog atomic.Pointer[Catalog]
	mu      sync.Mutex // serializes reloads
}

// NewStore creates a new empty Store.
func NewStore() *Store {
	return &Store{}
}

// Get returns the current catalog, or nil if none has been loaded.
func (s *Store) Get() *Catalog {
	return s.catalog.Load()
}

// Set atomically replaces the current catalog.
func (s *Store) Set(c *Catalog) {
	s.catalog.Store(c)
}

// AgeSeconds returns the age of the current catalog in seconds.
// Returns -1 if no catalog is loaded.
func (s *Store) AgeSeconds() float64 {
	c := s.catalog.Load()
	if c == nil {
		return -1
	}
	return time.Since(c.LoadedAt).Seconds()
}

// Reload reads path and swaps it in. Concurrent reloads are serialized; on
// error the current catalog stays in place.
func (s *Store) Reload(path string) (*Catalog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	s.catalog.Store(c)
	return c, nil
}
