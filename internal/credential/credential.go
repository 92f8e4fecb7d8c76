// Package credential hashes and verifies account passwords with argon2id.
//
// Encoded hashes use the PHC string layout so parameters travel with the
// hash and can be raised without invalidating stored accounts.
package credential

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

var (
	ErrEmptySecret     = errors.New("credential: empty secret")
	ErrInvalidEncoding = errors.New("credential: invalid hash encoding")
	ErrIncompatible    = errors.New("credential: incompatible argon2 version")
)

const (
	saltLen = 16
	keyLen  = 32
)

// Params are the argon2id cost parameters.
type Params struct {
	Time      uint32 `toml:"time" yaml:"time" env:"TIME"`
	MemoryKiB uint32 `toml:"memory_kib" yaml:"memory_kib" env:"MEMORY_KIB"`
	Threads   uint8  `toml:"threads" yaml:"threads" env:"THREADS"`
}

func DefaultParams() Params {
	return Params{Time: 12, MemoryKiB: 65535, Threads: 1}
}

// Hasher turns secrets into encoded hashes and checks them later.
type Hasher interface {
	Hash(secret string) (string, error)
	Verify(encoded, secret string) (bool, error)
}

// Argon2 is the argon2id Hasher.
type Argon2 struct {
	params Params
}

func NewArgon2(p Params) *Argon2 {
	def := DefaultParams()
	if p.Time == 0 {
		p.Time = def.Time
	}
	if p.MemoryKiB == 0 {
		p.MemoryKiB = def.MemoryKiB
	}
	if p.Threads == 0 {
		p.Threads = def.Threads
	}
	return &Argon2{params: p}
}

func (a *Argon2) Hash(secret string) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("credential: salt: %w", err)
	}
	key := argon2.IDKey([]byte(secret), salt, a.params.Time, a.params.MemoryKiB, a.params.Threads, keyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		a.params.MemoryKiB,
		a.params.Time,
		a.params.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify recomputes the key with the parameters stored in encoded.
// A mismatch is (false, nil); a malformed hash is an error.
func (a *Argon2) Verify(encoded, secret string) (bool, error) {
	p, salt, want, err := decode(encoded)
	if err != nil {
		return false, err
	}
	got := argon2.IDKey([]byte(secret), salt, p.Time, p.MemoryKiB, p.Threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

func decode(encoded string) (Params, []byte, []byte, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return Params{}, nil, nil, ErrInvalidEncoding
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return Params{}, nil, nil, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}
	if version != argon2.Version {
		return Params{}, nil, nil, ErrIncompatible
	}
	var p Params
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.MemoryKiB, &p.Time, &p.Threads); err != nil {
		return Params{}, nil, nil, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return Params{}, nil, nil, fmt.Errorf("%w: salt: %v", ErrInvalidEncoding, err)
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return Params{}, nil, nil, fmt.Errorf("%w: key", ErrInvalidEncoding)
	}
	return p, salt, key, nil
}
