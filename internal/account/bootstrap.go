package account

import (
	"context"

	"github.com/danmuck/hackgame/internal/host"
	"github.com/danmuck/hackgame/internal/registry"
	"github.com/rs/zerolog/log"
)

// Dev describes the development account and host created on startup.
type Dev struct {
	Enabled      bool   `toml:"enabled" yaml:"enabled" env:"ENABLED"`
	Username     string `toml:"username" yaml:"username" env:"USERNAME"`
	Password     string `toml:"password" yaml:"password" env:"PASSWORD"`
	Address      string `toml:"address" yaml:"address" env:"ADDRESS"`
	HostPassword string `toml:"host_password" yaml:"host_password" env:"HOST_PASSWORD"`
	Balance      int64  `toml:"balance" yaml:"balance" env:"BALANCE"`
}

func DefaultDev() Dev {
	return Dev{
		Username:     "dev",
		Password:     "dev",
		Address:      "123.123.123.123",
		HostPassword: "devpass1",
		Balance:      100,
	}
}

// Bootstrap makes the dev host resident and creates the dev account. Both
// writes are insert-if-absent so restarts leave existing data alone.
func Bootstrap(ctx context.Context, accounts *Service, reg *registry.Registry, dev Dev) error {
	if _, err := reg.GetOrCreate(ctx, dev.Address, host.DefaultRecord(dev.Balance, dev.HostPassword)); err != nil {
		return err
	}
	created, err := accounts.EnsureHashed(ctx, dev.Username, dev.Password, dev.Address)
	if err != nil {
		return err
	}
	log.Info().
		Str("component", "account").
		Str("username", dev.Username).
		Str("address", dev.Address).
		Bool("created", created).
		Msg("dev bootstrap complete")
	return nil
}
