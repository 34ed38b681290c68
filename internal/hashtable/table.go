package hashtable

import (
	"errors"
	"fmt"
	"strings"
)

const DefaultCapacity = 53

var (
	ErrInvalidCapacity = errors.New("capacity must be positive")
	ErrNilHasher       = errors.New("hash function is nil")
	ErrDestroyed       = errors.New("table has been destroyed")
)

type entry struct {
	key   string
	value string
	next  *entry
}

// Table is a fixed-capacity string map with separate chaining. It does no
// locking; callers sharing a Table across goroutines must serialize access.
type Table struct {
	buckets   []*entry
	capacity  int
	count     int
	hash      HashFunc
	hasher    string
	destroyed bool
}

func New(capacity int) (*Table, error) {
	return newTable(capacity, HasherDJB2, DJB2)
}

func NewDefault() *Table {
	t, _ := New(DefaultCapacity)
	return t
}

func NewWithHasher(capacity int, hasher string) (*Table, error) {
	fn, err := HasherByName(hasher)
	if err != nil {
		return nil, err
	}
	hasher = strings.ToLower(hasher)
	if hasher == "" {
		hasher = HasherDJB2
	}
	return newTable(capacity, hasher, fn)
}

func newTable(capacity int, name string, fn HashFunc) (*Table, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}
	if fn == nil {
		return nil, ErrNilHasher
	}
	return &Table{
		buckets:  make([]*entry, capacity),
		capacity: capacity,
		hash:     fn,
		hasher:   name,
	}, nil
}

func (t *Table) BucketOf(key string) int {
	return int(t.hash(key) % uint64(t.capacity))
}

// Insert stores value under key. An existing entry has its value replaced in
// place; otherwise a new entry is pushed at the head of the key's chain.
func (t *Table) Insert(key, value string) (bool, error) {
	if t.destroyed {
		return false, ErrDestroyed
	}

	idx := t.BucketOf(key)
	for e := t.buckets[idx]; e != nil; e = e.next {
		if e.key == key {
			e.value = value
			return false, nil
		}
	}

	t.buckets[idx] = &entry{
		key:   key,
		value: value,
		next:  t.buckets[idx],
	}
	t.count++
	return true, nil
}

func (t *Table) Search(key string) (string, bool) {
	if t.destroyed {
		return "", false
	}

	for e := t.buckets[t.BucketOf(key)]; e != nil; e = e.next {
		if e.key == key {
			return e.value, true
		}
	}
	return "", false
}

func (t *Table) Delete(key string) bool {
	if t.destroyed {
		return false
	}

	idx := t.BucketOf(key)
	var prev *entry
	for e := t.buckets[idx]; e != nil; e = e.next {
		if e.key != key {
			prev = e
			continue
		}
		if prev == nil {
			t.buckets[idx] = e.next
		} else {
			prev.next = e.next
		}
		e.next = nil
		t.count--
		return true
	}
	return false
}

// Destroy unlinks every chain and releases the bucket array. It is safe to
// call more than once.
func (t *Table) Destroy() {
	if t.destroyed {
		return
	}
	for i, head := range t.buckets {
		for e := head; e != nil; {
			next := e.next
			e.next = nil
			e = next
		}
		t.buckets[i] = nil
	}
	t.buckets = nil
	t.count = 0
	t.destroyed = true
}

func (t *Table) Destroyed() bool {
	return t.destroyed
}

func (t *Table) Len() int {
	return t.count
}

func (t *Table) Capacity() int {
	return t.capacity
}

func (t *Table) Hasher() string {
	return t.hasher
}

// Range walks buckets in index order and each chain from its head, so keys
// sharing a bucket come out most recently inserted first. fn must not modify
// the table.
func (t *Table) Range(fn func(key, value string) bool) {
	for _, head := range t.buckets {
		for e := head; e != nil; e = e.next {
			if !fn(e.key, e.value) {
				return
			}
		}
	}
}

func (t *Table) Keys() []string {
	keys := make([]string, 0, t.count)
	t.Range(func(key, _ string) bool {
		keys = append(keys, key)
		return true
	})
	return keys
}
