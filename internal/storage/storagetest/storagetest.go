// Package storagetest holds behaviour checks shared by every storage.Store
// backend.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/danmuck/hackgame/internal/storage"
)

// Run exercises the storage.Store contract against a fresh store from open.
func Run(t *testing.T, open func(t *testing.T) storage.Store) {
	t.Helper()

	t.Run("insert if absent writes once", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		ok, err := s.InsertIfAbsent(ctx, storage.TableHosts, "1.2.3.4", []byte("first"))
		if err != nil || !ok {
			t.Fatalf("first insert: ok=%v err=%v", ok, err)
		}
		ok, err = s.InsertIfAbsent(ctx, storage.TableHosts, "1.2.3.4", []byte("second"))
		if err != nil || ok {
			t.Fatalf("second insert: ok=%v err=%v", ok, err)
		}
		got, err := s.Get(ctx, storage.TableHosts, "1.2.3.4")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if string(got) != "first" {
			t.Fatalf("record overwritten: %q", got)
		}
	})

	t.Run("update missing key", func(t *testing.T) {
		s := open(t)
		err := s.Update(context.Background(), storage.TableHosts, "9.9.9.9", []byte("x"))
		if !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if _, err := s.Get(context.Background(), storage.TableHosts, "9.9.9.9"); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("update must not create rows, got %v", err)
		}
	})

	t.Run("update overwrites", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		if _, err := s.InsertIfAbsent(ctx, storage.TableAccounts, "alice", []byte("v1")); err != nil {
			t.Fatalf("insert: %v", err)
		}
		if err := s.Update(ctx, storage.TableAccounts, "alice", []byte("v2")); err != nil {
			t.Fatalf("update: %v", err)
		}
		got, err := s.Get(ctx, storage.TableAccounts, "alice")
		if err != nil || string(got) != "v2" {
			t.Fatalf("get after update: %q %v", got, err)
		}
	})

	t.Run("tables are isolated", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		if _, err := s.InsertIfAbsent(ctx, storage.TableAccounts, "k", []byte("account")); err != nil {
			t.Fatalf("insert: %v", err)
		}
		if _, err := s.Get(ctx, storage.TableHosts, "k"); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("expected ErrNotFound across tables, got %v", err)
		}
	})

	t.Run("select all", func(t *testing.T) {
		s := open(t)
		ctx := context.Background()
		for i := 0; i < 5; i++ {
			key := fmt.Sprintf("10.0.0.%d", i)
			if _, err := s.InsertIfAbsent(ctx, storage.TableHosts, key, []byte(key)); err != nil {
				t.Fatalf("insert %s: %v", key, err)
			}
		}
		if _, err := s.InsertIfAbsent(ctx, storage.TableAccounts, "bob", []byte("bob")); err != nil {
			t.Fatalf("insert account: %v", err)
		}
		rows, err := s.SelectAll(ctx, storage.TableHosts)
		if err != nil {
			t.Fatalf("select all: %v", err)
		}
		if len(rows) != 5 {
			t.Fatalf("expected 5 rows, got %d", len(rows))
		}
		for _, row := range rows {
			if row.Key != string(row.Value) {
				t.Fatalf("row mismatch: %q=%q", row.Key, row.Value)
			}
		}
	})

	t.Run("unknown table", func(t *testing.T) {
		s := open(t)
		_, err := s.InsertIfAbsent(context.Background(), "users", "k", nil)
		if !errors.Is(err, storage.ErrUnknownTable) {
			t.Fatalf("expected ErrUnknownTable, got %v", err)
		}
	})

	t.Run("concurrent insert if absent", func(t *testing.T) {
		s := open(t)
		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ok, err := s.InsertIfAbsent(context.Background(), storage.TableHosts, "5.5.5.5", []byte{byte(i)})
				if err != nil {
					t.Errorf("insert %d: %v", i, err)
					return
				}
				if ok {
					wins.Add(1)
				}
			}(i)
		}
		wg.Wait()
		if wins.Load() != 1 {
			t.Fatalf("expected exactly one winning insert, got %d", wins.Load())
		}
	})
}
