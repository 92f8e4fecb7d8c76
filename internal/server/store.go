package server

import (
	"context"
	"fmt"

	"github.com/danmuck/hackgame/internal/config"
	"github.com/danmuck/hackgame/internal/storage"
	"github.com/danmuck/hackgame/internal/storage/badgerstore"
	"github.com/danmuck/hackgame/internal/storage/memstore"
	"github.com/danmuck/hackgame/internal/storage/sqlite"
)

// OpenStore opens the storage backend named by cfg.Driver.
func OpenStore(ctx context.Context, cfg config.Storage) (storage.Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		return sqlite.Open(ctx, cfg.Path)
	case config.DriverBadger:
		return badgerstore.Open(cfg.Path)
	case config.DriverMemory:
		return memstore.New(), nil
	default:
		return nil, fmt.Errorf("server: unknown storage driver %q", cfg.Driver)
	}
}
