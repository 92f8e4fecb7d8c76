// Package sqlite provides the SQLite-backed storage.Store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/danmuck/hackgame/internal/storage"
	"github.com/danmuck/hackgame/internal/storage/sqlite/migrations"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Store persists host and account records in SQLite.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// Open opens a SQLite store at path and applies embedded migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite: storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// modernc serialises writers per file; one connection avoids SQLITE_BUSY
	// between our own transactions.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if err := applyMigrations(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migrations: %w", err)
	}
	log.Debug().Str("component", "storage.sqlite").Str("path", path).Msg("store opened")
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) InsertIfAbsent(ctx context.Context, table, key string, value []byte) (bool, error) {
	if err := storage.CheckKey(table, key); err != nil {
		return false, err
	}
	var inserted bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC().UnixMilli()
		res, err := tx.ExecContext(ctx,
			"INSERT INTO "+table+" (id, record, created_at, updated_at) VALUES (?, ?, ?, ?) ON CONFLICT(id) DO NOTHING",
			key, value, now, now,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		inserted = n == 1
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("sqlite: insert %s/%s: %w", table, key, err)
	}
	return inserted, nil
}

func (s *Store) Update(ctx context.Context, table, key string, value []byte) error {
	if err := storage.CheckKey(table, key); err != nil {
		return err
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE "+table+" SET record = ?, updated_at = ? WHERE id = ?",
			value, time.Now().UTC().UnixMilli(), key,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return storage.ErrNotFound
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sqlite: update %s/%s: %w", table, key, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, table, key string) ([]byte, error) {
	if err := storage.CheckKey(table, key); err != nil {
		return nil, err
	}
	var value []byte
	err := s.db.QueryRowContext(ctx, "SELECT record FROM "+table+" WHERE id = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get %s/%s: %w", table, key, err)
	}
	return value, nil
}

func (s *Store) SelectAll(ctx context.Context, table string) ([]storage.Row, error) {
	if err := storage.CheckTable(table); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, "SELECT id, record FROM "+table+" ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("sqlite: select %s: %w", table, err)
	}
	defer rows.Close()

	var out []storage.Row
	for rows.Next() {
		var row storage.Row
		if err := rows.Scan(&row.Key, &row.Value); err != nil {
			return nil, fmt.Errorf("sqlite: scan %s: %w", table, err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate %s: %w", table, err)
	}
	return out, nil
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
