// Package account manages player accounts in the accounts table.
package account

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/hackgame/internal/credential"
	"github.com/danmuck/hackgame/internal/fault"
	"github.com/danmuck/hackgame/internal/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	minUsernameLen = 3
	maxUsernameLen = 32
)

var ErrInvalidCredentials = fault.New(fault.KindUnauthorized, "invalid username or password")

// Service creates and authenticates accounts.
type Service struct {
	store  storage.Store
	hasher credential.Hasher
	logger zerolog.Logger
}

func NewService(store storage.Store, hasher credential.Hasher) *Service {
	return &Service{
		store:  store,
		hasher: hasher,
		logger: log.With().Str("component", "account").Logger(),
	}
}

// ValidateUsername accepts 3 to 32 characters of [a-zA-Z0-9_-].
func ValidateUsername(username string) error {
	if len(username) < minUsernameLen || len(username) > maxUsernameLen {
		return fault.Newf(fault.KindParse, "username must be %d to %d characters", minUsernameLen, maxUsernameLen)
	}
	for i := 0; i < len(username); i++ {
		c := username[i]
		ok := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' || c == '-'
		if !ok {
			return fault.Newf(fault.KindParse, "username has invalid character %q", c)
		}
	}
	return nil
}

// Create stores a new account. A taken username is an execution failure and
// leaves the existing record untouched.
func (s *Service) Create(ctx context.Context, username, password, homeAddress string) (Record, error) {
	if err := ValidateUsername(username); err != nil {
		return Record{}, err
	}
	if password == "" {
		return Record{}, fault.New(fault.KindParse, "password must not be empty")
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return Record{}, fault.Wrap(fault.KindExecution, "hash password", err)
	}
	rec := Record{Username: username, CredentialHash: hash, HomeAddress: homeAddress}
	inserted, err := s.store.InsertIfAbsent(context.WithoutCancel(ctx), storage.TableAccounts, username, MarshalRecord(rec))
	if err != nil {
		return Record{}, fault.Wrap(fault.KindStorage, "create account "+username, err)
	}
	if !inserted {
		return Record{}, fault.Newf(fault.KindExecution, "username %s is taken", username)
	}
	s.logger.Info().Str("username", username).Str("home", homeAddress).Msg("account created")
	return rec, nil
}

// Get returns the account for username or a NotFound fault.
func (s *Service) Get(ctx context.Context, username string) (Record, error) {
	raw, err := s.store.Get(ctx, storage.TableAccounts, username)
	if errors.Is(err, storage.ErrNotFound) {
		return Record{}, fault.Newf(fault.KindNotFound, "account %s does not exist", username)
	}
	if err != nil {
		return Record{}, fault.Wrap(fault.KindStorage, "load account "+username, err)
	}
	rec, err := UnmarshalRecord(raw)
	if err != nil {
		return Record{}, fault.Wrap(fault.KindStorage, "decode account "+username, err)
	}
	return rec, nil
}

// Authenticate verifies password against the stored hash. Unknown users and
// wrong passwords produce the same Unauthorized fault.
func (s *Service) Authenticate(ctx context.Context, username, password string) (Record, error) {
	rec, err := s.Get(ctx, username)
	if errors.Is(err, fault.ErrNotFound) {
		return Record{}, ErrInvalidCredentials
	}
	if err != nil {
		return Record{}, err
	}
	ok, err := s.hasher.Verify(rec.CredentialHash, password)
	if err != nil {
		return Record{}, fault.Wrap(fault.KindStorage, fmt.Sprintf("verify account %s", username), err)
	}
	if !ok {
		s.logger.Debug().Str("username", username).Msg("password mismatch")
		return Record{}, ErrInvalidCredentials
	}
	return rec, nil
}

// EnsureHashed inserts an account only when the username is free. It is
// used for bootstrap accounts and reports whether the row was written.
func (s *Service) EnsureHashed(ctx context.Context, username, password, homeAddress string) (bool, error) {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return false, fault.Wrap(fault.KindExecution, "hash password", err)
	}
	rec := Record{Username: username, CredentialHash: hash, HomeAddress: homeAddress}
	inserted, err := s.store.InsertIfAbsent(context.WithoutCancel(ctx), storage.TableAccounts, username, MarshalRecord(rec))
	if err != nil {
		return false, fault.Wrap(fault.KindStorage, "ensure account "+username, err)
	}
	return inserted, nil
}
