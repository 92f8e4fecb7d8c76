package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/danmuck/hackgame/internal/storage"
	"github.com/danmuck/hackgame/internal/storage/storagetest"
	"github.com/danmuck/hackgame/internal/testutil/testlog"
)

func openTestStore(t *testing.T) storage.Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "hackgame.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreContract(t *testing.T) {
	testlog.Start(t)
	storagetest.Run(t, openTestStore)
}

func TestReopenKeepsRowsAndMigrations(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "hackgame.db")

	s, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := s.InsertIfAbsent(ctx, storage.TableHosts, "1.1.1.1", []byte("rec")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s, err = Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, err := s.Get(ctx, storage.TableHosts, "1.1.1.1")
	if err != nil || string(got) != "rec" {
		t.Fatalf("get after reopen: %q %v", got, err)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	testlog.Start(t)
	if _, err := Open(context.Background(), "  "); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestUpSection(t *testing.T) {
	in := "-- +migrate Up\nCREATE TABLE x (id TEXT);\n-- +migrate Down\nDROP TABLE x;\n"
	if got := upSection(in); got != "\nCREATE TABLE x (id TEXT);\n" {
		t.Fatalf("unexpected up section %q", got)
	}
	if got := upSection("SELECT 1;"); got != "SELECT 1;" {
		t.Fatalf("unexpected passthrough %q", got)
	}
}
