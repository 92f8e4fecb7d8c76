// Package badgerstore provides a storage.Store on an embedded Badger database.
// Keys are laid out as "<table>/<key>".
package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/danmuck/hackgame/internal/storage"
	badger "github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog/log"
)

const maxConflictRetries = 8

type Store struct {
	db *badger.DB
}

var _ storage.Store = (*Store)(nil)

// Open opens (or creates) a Badger directory at path. An empty path runs
// Badger in memory.
func Open(path string) (*Store, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(filepath.Clean(path)).WithValueLogFileSize(1 << 24)
	}
	opts = opts.WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open: %w", err)
	}
	log.Debug().Str("component", "storage.badger").Str("path", path).Msg("store opened")
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func rowKey(table, key string) []byte {
	return []byte(table + "/" + key)
}

// InsertIfAbsent retries on ErrConflict; the retry re-reads the key, so a
// racer that committed first turns the call into a no-op.
func (s *Store) InsertIfAbsent(ctx context.Context, table, key string, value []byte) (bool, error) {
	if err := storage.CheckKey(table, key); err != nil {
		return false, err
	}
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		var inserted bool
		err := s.db.Update(func(txn *badger.Txn) error {
			_, err := txn.Get(rowKey(table, key))
			switch {
			case err == nil:
				return nil
			case !errors.Is(err, badger.ErrKeyNotFound):
				return err
			}
			inserted = true
			return txn.Set(rowKey(table, key), value)
		})
		if errors.Is(err, badger.ErrConflict) {
			continue
		}
		if err != nil {
			return false, fmt.Errorf("badger: insert %s/%s: %w", table, key, err)
		}
		return inserted, nil
	}
	return false, fmt.Errorf("badger: insert %s/%s: %w", table, key, badger.ErrConflict)
}

func (s *Store) Update(ctx context.Context, table, key string, value []byte) error {
	if err := storage.CheckKey(table, key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(rowKey(table, key)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return storage.ErrNotFound
			}
			return err
		}
		return txn.Set(rowKey(table, key), value)
	})
	if err != nil {
		return fmt.Errorf("badger: update %s/%s: %w", table, key, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, table, key string) ([]byte, error) {
	if err := storage.CheckKey(table, key); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(rowKey(table, key))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return storage.ErrNotFound
			}
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, storage.ErrNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badger: get %s/%s: %w", table, key, err)
	}
	return out, nil
}

func (s *Store) SelectAll(ctx context.Context, table string) ([]storage.Row, error) {
	if err := storage.CheckTable(table); err != nil {
		return nil, err
	}
	prefix := []byte(table + "/")
	var out []storage.Row
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out = append(out, storage.Row{
				Key:   string(item.Key()[len(prefix):]),
				Value: value,
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger: select %s: %w", table, err)
	}
	return out, nil
}
