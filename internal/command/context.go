package command

import (
	"sync"

	"github.com/danmuck/hackgame/internal/account"
	"github.com/danmuck/hackgame/internal/fault"
	"github.com/danmuck/hackgame/internal/host"
	"github.com/danmuck/hackgame/internal/registry"
)

// Identity is the authenticated account bound to a connection.
type Identity struct {
	Username    string
	HomeAddress string
}

// Session holds the identity of one connection. It lives exactly as long as
// the connection.
type Session struct {
	mu       sync.Mutex
	identity *Identity
}

func (s *Session) Identity() (Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return Identity{}, false
	}
	return *s.identity, true
}

func (s *Session) Bind(id Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = &id
}

func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = nil
}

// Context is what a command may touch: the caller's session and the shared
// registry and account services. Commands never reach storage directly.
type Context struct {
	Session         *Session
	Registry        *registry.Registry
	Accounts        *account.Service
	StartingBalance int64
	Commands        *Dispatcher
}

// RequireIdentity returns the bound identity or an Unauthorized fault.
func (c *Context) RequireIdentity() (Identity, error) {
	if c.Session != nil {
		if id, ok := c.Session.Identity(); ok {
			return id, nil
		}
	}
	return Identity{}, fault.New(fault.KindUnauthorized, "login required")
}

// Home returns the caller's resident home host.
func (c *Context) Home() (Identity, *host.Device, error) {
	id, err := c.RequireIdentity()
	if err != nil {
		return Identity{}, nil, err
	}
	dev, err := c.Registry.Get(id.HomeAddress)
	if err != nil {
		return Identity{}, nil, err
	}
	return id, dev, nil
}
