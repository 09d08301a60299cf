// Package memstore is an in-memory implementation of the node store,
// used for tests and for ephemeral nodes. Transactions stage writes in
// an overlay and apply them on commit, so a failed update leaves the
// store untouched.
package memstore

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/shawnbrown/toron/internal/storage"
	"github.com/shawnbrown/toron/pkg/errors"
	"github.com/shawnbrown/toron/pkg/node"
)

// Store holds all node state in a single flat key space.
type Store struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

var _ node.Store = (*Store)(nil)

// Open returns an empty in-memory store.
func Open() *Store {
	return &Store{data: make(map[string][]byte)}
}

// View runs fn in a read-only transaction. Writes fail with
// ErrReadOnly.
func (s *Store) View(ctx context.Context, fn func(node.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.NewStoreError("view", "memstore", errors.New("store is closed"))
	}
	return fn(storage.NewTx(&txn{data: s.data, readOnly: true}))
}

// Update runs fn in a read-write transaction, applying the staged
// writes only when fn returns nil.
func (s *Store) Update(ctx context.Context, fn func(node.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.NewStoreError("update", "memstore", errors.New("store is closed"))
	}

	t := &txn{
		data:    s.data,
		writes:  make(map[string][]byte),
		deletes: make(map[string]struct{}),
	}
	if err := fn(storage.NewTx(t)); err != nil {
		return err
	}

	for key := range t.deletes {
		delete(s.data, key)
	}
	for key, value := range t.writes {
		s.data[key] = value
	}
	return nil
}

// Close marks the store closed. Data is discarded.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.data = make(map[string][]byte)
	return nil
}

// txn is one transaction's view: committed data plus staged writes
// and deletes.
type txn struct {
	data     map[string][]byte
	writes   map[string][]byte
	deletes  map[string]struct{}
	readOnly bool
}

func (t *txn) Get(key []byte) ([]byte, error) {
	k := string(key)
	if !t.readOnly {
		if _, deleted := t.deletes[k]; deleted {
			return nil, storage.ErrKeyNotFound
		}
		if value, staged := t.writes[k]; staged {
			return append([]byte(nil), value...), nil
		}
	}
	value, ok := t.data[k]
	if !ok {
		return nil, storage.ErrKeyNotFound
	}
	return append([]byte(nil), value...), nil
}

func (t *txn) Set(key, value []byte) error {
	if t.readOnly {
		return errors.ErrReadOnly
	}
	k := string(key)
	delete(t.deletes, k)
	t.writes[k] = append([]byte(nil), value...)
	return nil
}

func (t *txn) Delete(key []byte) error {
	if t.readOnly {
		return errors.ErrReadOnly
	}
	k := string(key)
	delete(t.writes, k)
	t.deletes[k] = struct{}{}
	return nil
}

func (t *txn) Scan(prefix []byte, fn func(key, value []byte) error) error {
	keys := t.sortedKeys(prefix)
	for _, k := range keys {
		value, err := t.Get([]byte(k))
		if err != nil {
			return err
		}
		if err := fn([]byte(k), value); err != nil {
			return err
		}
	}
	return nil
}

func (t *txn) sortedKeys(prefix []byte) []string {
	var keys []string
	for k := range t.data {
		if !bytes.HasPrefix([]byte(k), prefix) {
			continue
		}
		if !t.readOnly {
			if _, deleted := t.deletes[k]; deleted {
				continue
			}
		}
		keys = append(keys, k)
	}
	if !t.readOnly {
		for k := range t.writes {
			if !bytes.HasPrefix([]byte(k), prefix) {
				continue
			}
			if _, exists := t.data[k]; !exists {
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	return keys
}
