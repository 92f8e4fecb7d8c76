package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/danmuck/hackgame/internal/storage"
	"github.com/danmuck/hackgame/internal/storage/storagetest"
	"github.com/danmuck/hackgame/internal/testutil/testlog"
)

func TestStoreContract(t *testing.T) {
	testlog.Start(t)
	storagetest.Run(t, func(t *testing.T) storage.Store { return New() })
}

func TestWriteCounters(t *testing.T) {
	testlog.Start(t)
	s := New()
	ctx := context.Background()
	_, _ = s.InsertIfAbsent(ctx, storage.TableHosts, "a", []byte("1"))
	_, _ = s.InsertIfAbsent(ctx, storage.TableHosts, "a", []byte("2"))
	_ = s.Update(ctx, storage.TableHosts, "a", []byte("3"))
	if got := s.Inserts(storage.TableHosts, "a"); got != 1 {
		t.Fatalf("inserts=%d", got)
	}
	if got := s.Updates(storage.TableHosts, "a"); got != 1 {
		t.Fatalf("updates=%d", got)
	}
}

func TestFailWrites(t *testing.T) {
	testlog.Start(t)
	s := New()
	boom := errors.New("disk full")
	s.FailWrites = boom
	if _, err := s.InsertIfAbsent(context.Background(), storage.TableHosts, "a", nil); !errors.Is(err, boom) {
		t.Fatalf("expected injected error, got %v", err)
	}
}
