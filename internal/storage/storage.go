// Package storage defines the durable key/value tables that back hosts and
// accounts. Every call is one transaction: it commits on success and rolls
// back on failure, so a caller never observes a partial write.
package storage

import (
	"context"
	"errors"
	"fmt"
)

const (
	TableHosts    = "hosts"
	TableAccounts = "accounts"
)

var (
	ErrNotFound     = errors.New("storage: not found")
	ErrUnknownTable = errors.New("storage: unknown table")
	ErrEmptyKey     = errors.New("storage: empty key")
)

// Row is one key/value pair from a table.
type Row struct {
	Key   string
	Value []byte
}

// Store is the transactional persistent store.
type Store interface {
	// InsertIfAbsent writes value only when key has no row yet and reports
	// whether the write took effect.
	InsertIfAbsent(ctx context.Context, table, key string, value []byte) (bool, error)
	// Update overwrites an existing row. Missing keys return ErrNotFound.
	Update(ctx context.Context, table, key string, value []byte) error
	// Get returns the value for key or ErrNotFound.
	Get(ctx context.Context, table, key string) ([]byte, error)
	SelectAll(ctx context.Context, table string) ([]Row, error)
	Close() error
}

// CheckTable rejects tables outside the known set and empty keys.
func CheckTable(table string) error {
	switch table {
	case TableHosts, TableAccounts:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
}

func CheckKey(table, key string) error {
	if err := CheckTable(table); err != nil {
		return err
	}
	if key == "" {
		return ErrEmptyKey
	}
	return nil
}
