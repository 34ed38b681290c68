package store

import (
	"fmt"
	"path"
	"sync"

	"go.uber.org/atomic"

	"github.com/lojhan/chainkv/internal/hashtable"
)

type KeyModifiedCallback func(key string)

// Journal receives every applied mutation as a command line, e.g.
// ("SET", key, value), ("DEL", key) or ("FLUSHDB").
type Journal interface {
	Append(args ...string) error
}

type Counters struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Writes  int64 `json:"writes"`
	Deletes int64 `json:"deletes"`
}

type Stats struct {
	hashtable.Stats
	Counters
}

// Store serializes access to a single hashtable.Table.
type Store struct {
	mu                 sync.RWMutex
	table              *hashtable.Table
	journal            Journal
	keyModifiedHandler KeyModifiedCallback

	hits    atomic.Int64
	misses  atomic.Int64
	writes  atomic.Int64
	deletes atomic.Int64
}

func New(capacity int, hasher string) (*Store, error) {
	table, err := hashtable.NewWithHasher(capacity, hasher)
	if err != nil {
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	return &Store{table: table}, nil
}

func NewDefault() *Store {
	return &Store{table: hashtable.NewDefault()}
}

func (s *Store) SetKeyModifiedHandler(handler KeyModifiedCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keyModifiedHandler = handler
}

func (s *Store) SetJournal(j Journal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.journal = j
}

func (s *Store) notifyKeyModified(key string) {
	if s.keyModifiedHandler != nil {
		s.keyModifiedHandler(key)
	}
}

func (s *Store) appendJournal(args ...string) error {
	if s.journal == nil {
		return nil
	}
	if err := s.journal.Append(args...); err != nil {
		return fmt.Errorf("journal %s: %w", args[0], err)
	}
	return nil
}

func (s *Store) Set(key, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	created, err := s.table.Insert(key, value)
	if err != nil {
		return false, err
	}
	s.writes.Inc()
	s.notifyKeyModified(key)
	return created, s.appendJournal("SET", key, value)
}

// SetNX stores value only when key is absent.
func (s *Store) SetNX(key, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.table.Search(key); exists {
		return false, nil
	}
	return s.insertLocked(key, value)
}

// SetXX stores value only when key is present.
func (s *Store) SetXX(key, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.table.Search(key); !exists {
		return false, nil
	}
	return s.insertLocked(key, value)
}

func (s *Store) insertLocked(key, value string) (bool, error) {
	if _, err := s.table.Insert(key, value); err != nil {
		return false, err
	}
	s.writes.Inc()
	s.notifyKeyModified(key)
	return true, s.appendJournal("SET", key, value)
}

func (s *Store) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.table.Search(key)
	if ok {
		s.hits.Inc()
	} else {
		s.misses.Inc()
	}
	return value, ok
}

func (s *Store) Exists(keys ...string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, key := range keys {
		if _, ok := s.table.Search(key); ok {
			n++
		}
	}
	return n
}

// Delete removes the given keys and returns how many existed. Only removed
// keys are journaled.
func (s *Store) Delete(keys ...string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	var err error
	for _, key := range keys {
		if !s.table.Delete(key) {
			continue
		}
		removed++
		s.deletes.Inc()
		s.notifyKeyModified(key)
		if jerr := s.appendJournal("DEL", key); jerr != nil && err == nil {
			err = jerr
		}
	}
	return removed, err
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.table.Len()
}

// Keys returns keys matching a path.Match glob in table order. An empty
// pattern matches everything.
func (s *Store) Keys(pattern string) ([]string, error) {
	if pattern == "" {
		pattern = "*"
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0)
	s.table.Range(func(key, _ string) bool {
		if ok, _ := path.Match(pattern, key); ok {
			keys = append(keys, key)
		}
		return true
	})
	return keys, nil
}

// Range calls fn for each entry under the read lock. fn must not call back
// into the Store.
func (s *Store) Range(fn func(key, value string) bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	s.table.Range(fn)
}

// Flush replaces the table with an empty one of the same shape.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.table.Destroyed() {
		return hashtable.ErrDestroyed
	}
	fresh, err := hashtable.NewWithHasher(s.table.Capacity(), s.table.Hasher())
	if err != nil {
		return err
	}
	s.table.Destroy()
	s.table = fresh
	return s.appendJournal("FLUSHDB")
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	st := s.table.Stats()
	s.mu.RUnlock()

	return Stats{
		Stats: st,
		Counters: Counters{
			Hits:    s.hits.Load(),
			Misses:  s.misses.Load(),
			Writes:  s.writes.Load(),
			Deletes: s.deletes.Load(),
		},
	}
}

// Close destroys the table. Later writes fail with hashtable.ErrDestroyed.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.table.Destroy()
}
