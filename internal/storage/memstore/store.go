// Package memstore is an in-process storage.Store for tests and ephemeral
// servers. It counts writes so callers can assert at-most-once semantics.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/danmuck/hackgame/internal/storage"
)

type Store struct {
	mu      sync.Mutex
	tables  map[string]map[string][]byte
	inserts map[string]int
	updates map[string]int
	closed  bool

	// FailWrites, when set, is returned by every write.
	FailWrites error
}

var _ storage.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		tables:  map[string]map[string][]byte{},
		inserts: map[string]int{},
		updates: map[string]int{},
	}
}

func (s *Store) InsertIfAbsent(ctx context.Context, table, key string, value []byte) (bool, error) {
	if err := storage.CheckKey(table, key); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return false, s.FailWrites
	}
	t := s.table(table)
	if _, ok := t[key]; ok {
		return false, nil
	}
	t[key] = append([]byte(nil), value...)
	s.inserts[table+"/"+key]++
	return true, nil
}

func (s *Store) Update(ctx context.Context, table, key string, value []byte) error {
	if err := storage.CheckKey(table, key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites != nil {
		return s.FailWrites
	}
	t := s.table(table)
	if _, ok := t[key]; !ok {
		return storage.ErrNotFound
	}
	t[key] = append([]byte(nil), value...)
	s.updates[table+"/"+key]++
	return nil
}

func (s *Store) Get(ctx context.Context, table, key string) ([]byte, error) {
	if err := storage.CheckKey(table, key); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.table(table)[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *Store) SelectAll(ctx context.Context, table string) ([]storage.Row, error) {
	if err := storage.CheckTable(table); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.table(table)
	out := make([]storage.Row, 0, len(t))
	for k, v := range t {
		out = append(out, storage.Row{Key: k, Value: append([]byte(nil), v...)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Inserts reports how many successful inserts hit table/key.
func (s *Store) Inserts(table, key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inserts[table+"/"+key]
}

// Updates reports how many successful updates hit table/key.
func (s *Store) Updates(table, key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updates[table+"/"+key]
}

func (s *Store) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Store) table(name string) map[string][]byte {
	t, ok := s.tables[name]
	if !ok {
		t = map[string][]byte{}
		s.tables[name] = t
	}
	return t
}
