// Package badgerstore persists node snapshots in an embedded BadgerDB so the
// headless runtime can resume node state across restarts.
//
// Keys are laid out as "snap/<graph>/<node id>" and values are the JSON
// encoding of nodestore.Snapshot.
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/specialistvlad/tickgraph/internal/nodestore"
)

// Config holds configuration for a BadgerDB-backed store.
type Config struct {
	// Path is the directory for BadgerDB files. Ignored when InMemory is true.
	Path string

	// InMemory keeps everything in RAM. Used by tests.
	InMemory bool

	// SyncWrites makes every commit durable before Save returns.
	SyncWrites bool

	// Logger receives BadgerDB's own log lines. Nil disables them.
	Logger *slog.Logger

	// GCInterval is how often value log garbage collection runs. Zero disables it.
	GCInterval time.Duration
}

// DefaultConfig returns the production configuration for a store at path.
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true, GCInterval: 10 * time.Minute}
}

// InMemoryConfig returns a configuration without disk I/O.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Store is a nodestore.Store on top of BadgerDB.
type Store struct {
	db   *badger.DB
	stop chan struct{}
	wg   sync.WaitGroup
	once sync.Once
}

var _ nodestore.Store = (*Store)(nil)

// Open opens (creating if needed) the database described by cfg.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	s := &Store{db: db, stop: make(chan struct{})}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.wg.Add(1)
		go s.runGC(cfg.GCInterval)
	}
	return s, nil
}

func (s *Store) runGC(interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			// Keep collecting until a run finds nothing to rewrite.
			for s.db.RunValueLogGC(0.5) == nil {
			}
		}
	}
}

func graphPrefix(graph string) []byte {
	return []byte("snap/" + graph + "/")
}

func snapshotKey(graph, id string) []byte {
	return append(graphPrefix(graph), id...)
}

// Save writes all snapshots in a single transaction.
func (s *Store) Save(ctx context.Context, graph string, snaps ...nodestore.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, snap := range snaps {
			data, err := json.Marshal(snap)
			if err != nil {
				return fmt.Errorf("encode snapshot %s: %w", snap.ID, err)
			}
			if err := txn.Set(snapshotKey(graph, snap.ID), data); err != nil {
				return err
			}
		}
		return nil
	})
	return wrap("save snapshots", err)
}

// Load scans the graph's key prefix.
func (s *Store) Load(ctx context.Context, graph string) (map[string]nodestore.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(map[string]nodestore.Snapshot)
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := graphPrefix(graph)
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 64, Prefix: prefix})
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			var snap nodestore.Snapshot
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &snap)
			}); err != nil {
				return fmt.Errorf("decode snapshot %s: %w", item.Key(), err)
			}
			out[snap.ID] = snap
		}
		return nil
	})
	if err != nil {
		return nil, wrap("load snapshots", err)
	}
	return out, nil
}

// Delete removes the given nodes' snapshots.
func (s *Store) Delete(ctx context.Context, graph string, ids ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, id := range ids {
			if err := txn.Delete(snapshotKey(graph, id)); err != nil {
				return err
			}
		}
		return nil
	})
	return wrap("delete snapshots", err)
}

// Close stops garbage collection and closes the database.
func (s *Store) Close() error {
	var err error
	s.once.Do(func() {
		close(s.stop)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func wrap(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrDBClosed):
		return fmt.Errorf("%s: %w", op, nodestore.ErrClosed)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
