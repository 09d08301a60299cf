// Package badgerstore persists node state in BadgerDB, an embedded
// key-value store. One node maps to one database directory.
package badgerstore

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/shawnbrown/toron/internal/storage"
	"github.com/shawnbrown/toron/pkg/errors"
	"github.com/shawnbrown/toron/pkg/logging"
	"github.com/shawnbrown/toron/pkg/node"
)

// Config holds the settings for opening a node database.
type Config struct {
	// Path is the database directory. Required unless InMemory is set.
	Path string

	// InMemory keeps all data in RAM; nothing is written to disk.
	InMemory bool

	// SyncWrites makes every commit durable before returning.
	SyncWrites bool

	// GCInterval is how often to run value-log garbage collection.
	// Zero disables GC.
	GCInterval time.Duration

	// GCDiscardRatio is the minimum share of discardable data that
	// triggers a value-log rewrite.
	GCDiscardRatio float64

	// Logger receives BadgerDB's internal messages. Nil silences them.
	Logger *zerolog.Logger
}

// DefaultConfig returns durable settings for on-disk use.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// Store is a BadgerDB-backed node store.
type Store struct {
	db     *badger.DB
	stopGC chan struct{}
	doneGC chan struct{}
}

var _ node.Store = (*Store)(nil)

// Open opens (creating if needed) the database described by cfg.
func Open(cfg Config) (*Store, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.NewValidationError("path", cfg.Path,
				"path is required for a persistent store")
		}
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, errors.WrapIO("mkdir", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{log: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.WrapIO("open", cfg.Path, err)
	}

	s := &Store{db: db}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.stopGC = make(chan struct{})
		s.doneGC = make(chan struct{})
		go s.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return s, nil
}

// OpenInMemory opens a store for testing; data is lost on Close.
func OpenInMemory() (*Store, error) {
	return Open(Config{InMemory: true})
}

// View runs fn in a read-only transaction.
func (s *Store) View(ctx context.Context, fn func(node.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(txn *badger.Txn) error {
		return fn(storage.NewTx(&kvTxn{txn: txn, readOnly: true}))
	})
}

// Update runs fn in a read-write transaction, committing only when fn
// returns nil.
func (s *Store) Update(ctx context.Context, fn func(node.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return fn(storage.NewTx(&kvTxn{txn: txn}))
	})
}

// Close stops garbage collection and closes the database.
func (s *Store) Close() error {
	if s.stopGC != nil {
		close(s.stopGC)
		<-s.doneGC
	}
	return s.db.Close()
}

func (s *Store) runGC(interval time.Duration, ratio float64) {
	defer close(s.doneGC)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopGC:
			return
		case <-ticker.C:
			err := s.db.RunValueLogGC(ratio)
			if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				logging.Warn().Err(err).Msg("badger value log GC failed")
			}
		}
	}
}

// kvTxn adapts a badger transaction to the storage KV contract.
type kvTxn struct {
	txn      *badger.Txn
	readOnly bool
}

func (t *kvTxn) Get(key []byte) ([]byte, error) {
	item, err := t.txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, storage.ErrKeyNotFound
	}
	if err != nil {
		return nil, errors.WrapStore("get", string(key), err)
	}
	return item.ValueCopy(nil)
}

func (t *kvTxn) Set(key, value []byte) error {
	if t.readOnly {
		return errors.ErrReadOnly
	}
	return t.txn.Set(key, value)
}

func (t *kvTxn) Delete(key []byte) error {
	if t.readOnly {
		return errors.ErrReadOnly
	}
	return t.txn.Delete(key)
}

func (t *kvTxn) Scan(prefix []byte, fn func(key, value []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := t.txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		value, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if err := fn(item.KeyCopy(nil), value); err != nil {
			return err
		}
	}
	return nil
}

// badgerLogger adapts zerolog to BadgerDB's logger interface.
type badgerLogger struct {
	log *zerolog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error().Msg(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn().Msg(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Info().Msg(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Debug().Msg(fmt.Sprintf(format, args...))
}
