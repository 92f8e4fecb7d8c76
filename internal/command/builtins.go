package command

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/danmuck/hackgame/internal/fault"
	"github.com/danmuck/hackgame/internal/host"
	"github.com/rs/zerolog"
)

// NewDefault returns a dispatcher with the built-in command set.
func NewDefault() *Dispatcher {
	d := NewDispatcher()
	for _, spec := range Builtins() {
		d.MustRegister(spec)
	}
	return d
}

func Builtins() []Spec {
	return []Spec{
		{Name: "help", Summary: "list commands", MaxArgs: 0, Handler: helpCommand},
		{Name: "register", Usage: "<user> <pass>", Summary: "create an account and home host", MinArgs: 2, MaxArgs: 2, Handler: registerCommand},
		{Name: "login", Usage: "<user> <pass>", Summary: "log in", MinArgs: 2, MaxArgs: 2, Handler: loginCommand},
		{Name: "logout", Summary: "log out", MaxArgs: 0, Handler: logoutCommand},
		{Name: "whoami", Summary: "show the current identity", MaxArgs: 0, Handler: whoamiCommand},
		{Name: "balance", Summary: "show your home host balance", MaxArgs: 0, Handler: balanceCommand},
		{Name: "transfer", Usage: "<address> <amount>", Summary: "move currency to another host", MinArgs: 2, MaxArgs: 2, Handler: transferCommand},
		{Name: "scan", Summary: "find an active host", MaxArgs: 0, Handler: scanCommand},
		{Name: "ls", Usage: "[path]", Summary: "list a directory on your home host", MaxArgs: 1, Handler: lsCommand},
		{Name: "cat", Usage: "<path>", Summary: "print a file on your home host", MinArgs: 1, MaxArgs: 1, Handler: catCommand},
		{Name: "save", Summary: "persist your home host now", MaxArgs: 0, Handler: saveCommand},
	}
}

func helpCommand(_ context.Context, c *Context, _ []string) (Result, error) {
	var b strings.Builder
	for _, spec := range c.Commands.Specs() {
		fmt.Fprintf(&b, "%-28s %s\n", spec.usage(), spec.Summary)
	}
	return Result{Output: strings.TrimRight(b.String(), "\n")}, nil
}

func requireAnonymous(c *Context) error {
	if id, ok := c.Session.Identity(); ok {
		return fault.Newf(fault.KindExecution, "already logged in as %s", id.Username)
	}
	return nil
}

func registerCommand(ctx context.Context, c *Context, args []string) (Result, error) {
	if err := requireAnonymous(c); err != nil {
		return Result{}, err
	}
	username, password := args[0], args[1]
	address, err := c.Registry.AllocateFreeAddress(ctx)
	if err != nil {
		return Result{}, err
	}
	if _, err := c.Accounts.Create(ctx, username, password, address); err != nil {
		c.Registry.Release(address)
		return Result{}, err
	}
	def := host.DefaultRecord(c.StartingBalance, c.Registry.GenerateCredential())
	if _, err := c.Registry.GetOrCreate(ctx, address, def); err != nil {
		// The account keeps the address; login recreates the host there.
		c.Registry.Release(address)
		return Result{}, err
	}
	c.Session.Bind(Identity{Username: username, HomeAddress: address})
	return Result{Output: fmt.Sprintf("registered %s, home host %s", username, address)}, nil
}

func loginCommand(ctx context.Context, c *Context, args []string) (Result, error) {
	if err := requireAnonymous(c); err != nil {
		return Result{}, err
	}
	rec, err := c.Accounts.Authenticate(ctx, args[0], args[1])
	if err != nil {
		return Result{}, err
	}
	def := host.DefaultRecord(c.StartingBalance, c.Registry.GenerateCredential())
	if _, err := c.Registry.GetOrCreate(ctx, rec.HomeAddress, def); err != nil {
		return Result{}, err
	}
	c.Session.Bind(Identity{Username: rec.Username, HomeAddress: rec.HomeAddress})
	return Result{Output: fmt.Sprintf("logged in as %s, home host %s", rec.Username, rec.HomeAddress)}, nil
}

func logoutCommand(_ context.Context, c *Context, _ []string) (Result, error) {
	id, err := c.RequireIdentity()
	if err != nil {
		return Result{}, err
	}
	c.Session.Clear()
	return Result{Output: "logged out " + id.Username}, nil
}

func whoamiCommand(_ context.Context, c *Context, _ []string) (Result, error) {
	id, ok := c.Session.Identity()
	if !ok {
		return Result{Output: "not logged in"}, nil
	}
	return Result{Output: fmt.Sprintf("%s@%s", id.Username, id.HomeAddress)}, nil
}

func balanceCommand(_ context.Context, c *Context, _ []string) (Result, error) {
	_, home, err := c.Home()
	if err != nil {
		return Result{}, err
	}
	var balance int64
	home.View(func(s host.State) { balance = s.Balance })
	return Result{Output: fmt.Sprintf("balance: %d", balance)}, nil
}

func transferCommand(ctx context.Context, c *Context, args []string) (Result, error) {
	id, home, err := c.Home()
	if err != nil {
		return Result{}, err
	}
	target := args[0]
	amount, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || amount <= 0 {
		return Result{}, fault.Newf(fault.KindParse, "amount must be a positive integer, got %q", args[1])
	}
	if target == id.HomeAddress {
		return Result{}, fault.New(fault.KindExecution, "cannot transfer to your own host")
	}
	dest, err := c.Registry.Get(target)
	if err != nil {
		return Result{}, err
	}

	err = host.UpdatePair(home, dest, func(from, to *host.State) error {
		if from.Balance < amount {
			return fault.Newf(fault.KindExecution, "insufficient balance: have %d, need %d", from.Balance, amount)
		}
		from.Balance -= amount
		to.Balance += amount
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	out := fmt.Sprintf("transferred %d to %s", amount, target)
	var errs []error
	for _, addr := range []string{id.HomeAddress, target} {
		if c.Registry.IsTemporary(addr) {
			continue
		}
		if err := c.Registry.Sync(ctx, addr); err != nil {
			errs = append(errs, err)
		}
	}
	// The move is committed in memory. Unsynced hosts stay dirty for the
	// periodic flush.
	if err := errors.Join(errs...); err != nil {
		zerolog.Ctx(ctx).Warn().
			Err(err).
			Str("from", id.HomeAddress).
			Str("to", target).
			Int64("amount", amount).
			Msg("transfer applied but not yet persisted")
		out += " (save pending)"
	}
	return Result{Output: out}, nil
}

func scanCommand(_ context.Context, c *Context, _ []string) (Result, error) {
	id, err := c.RequireIdentity()
	if err != nil {
		return Result{}, err
	}
	others := make([]string, 0)
	for _, addr := range c.Registry.Addresses() {
		if addr != id.HomeAddress {
			others = append(others, addr)
		}
	}
	if len(others) > 0 {
		return Result{Output: "found host " + others[rand.IntN(len(others))]}, nil
	}
	addr, err := c.Registry.PickActiveAddress()
	if err != nil {
		return Result{}, err
	}
	return Result{Output: "found host " + addr}, nil
}

func lsCommand(_ context.Context, c *Context, args []string) (Result, error) {
	_, home, err := c.Home()
	if err != nil {
		return Result{}, err
	}
	path := "/"
	if len(args) == 1 {
		path = args[0]
	}
	var (
		names []string
		fsErr error
	)
	home.View(func(s host.State) { names, fsErr = s.Filesystem.List(path) })
	if fsErr != nil {
		return Result{}, filesystemFault(fsErr)
	}
	return Result{Output: strings.Join(names, "\n")}, nil
}

func catCommand(_ context.Context, c *Context, args []string) (Result, error) {
	_, home, err := c.Home()
	if err != nil {
		return Result{}, err
	}
	var (
		content string
		fsErr   error
	)
	home.View(func(s host.State) { content, fsErr = s.Filesystem.Read(args[0]) })
	if fsErr != nil {
		return Result{}, filesystemFault(fsErr)
	}
	return Result{Output: content}, nil
}

func saveCommand(ctx context.Context, c *Context, _ []string) (Result, error) {
	id, err := c.RequireIdentity()
	if err != nil {
		return Result{}, err
	}
	if err := c.Registry.Sync(ctx, id.HomeAddress); err != nil {
		return Result{}, err
	}
	return Result{Output: "saved " + id.HomeAddress}, nil
}

func filesystemFault(err error) error {
	if errors.Is(err, host.ErrNoSuchPath) {
		return fault.Wrap(fault.KindNotFound, "", err)
	}
	return fault.Wrap(fault.KindExecution, "", err)
}
