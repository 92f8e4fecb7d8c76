// Package command parses and executes player command lines against a
// per-connection Context.
package command

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/buildkite/shellwords"
	"github.com/danmuck/hackgame/internal/fault"
)

var (
	ErrDuplicate   = errors.New("command: already registered")
	ErrInvalidSpec = errors.New("command: invalid spec")
)

// Result is the output of a successful command.
type Result struct {
	Output string
}

type Handler func(ctx context.Context, c *Context, args []string) (Result, error)

// Spec declares one command. MaxArgs < 0 means unbounded.
type Spec struct {
	Name    string
	Usage   string
	Summary string
	MinArgs int
	MaxArgs int
	Handler Handler
}

func (s Spec) usage() string {
	if s.Usage == "" {
		return s.Name
	}
	return s.Name + " " + s.Usage
}

// Dispatcher maps command names to specs. Names are case-insensitive.
type Dispatcher struct {
	mu    sync.RWMutex
	specs map[string]Spec
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{specs: make(map[string]Spec)}
}

func (d *Dispatcher) Register(spec Spec) error {
	name := strings.ToLower(strings.TrimSpace(spec.Name))
	if name == "" || spec.Handler == nil {
		return fmt.Errorf("%w: name and handler are required", ErrInvalidSpec)
	}
	if spec.MaxArgs >= 0 && spec.MaxArgs < spec.MinArgs {
		return fmt.Errorf("%w: %s max args below min args", ErrInvalidSpec, name)
	}
	spec.Name = name
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.specs[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, name)
	}
	d.specs[name] = spec
	return nil
}

func (d *Dispatcher) MustRegister(spec Spec) {
	if err := d.Register(spec); err != nil {
		panic(err)
	}
}

// Has reports whether name resolves to a registered command.
func (d *Dispatcher) Has(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.specs[strings.ToLower(name)]
	return ok
}

// Specs returns registered commands ordered by name.
func (d *Dispatcher) Specs() []Spec {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Spec, 0, len(d.specs))
	for _, s := range d.specs {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Parse tokenises raw with POSIX shell word rules and splits off the
// lowercased command name.
func Parse(raw string) (string, []string, error) {
	words, err := shellwords.SplitPosix(raw)
	if err != nil {
		return "", nil, fault.Wrap(fault.KindParse, "cannot parse command line", err)
	}
	if len(words) == 0 {
		return "", nil, fault.New(fault.KindParse, "empty command")
	}
	return strings.ToLower(words[0]), words[1:], nil
}

// Execute parses raw and runs the matching command. Unknown names, bad
// arity and untokenisable input are Parse faults; everything else comes
// from the handler.
func (d *Dispatcher) Execute(ctx context.Context, raw string, c *Context) (Result, error) {
	name, args, err := Parse(raw)
	if err != nil {
		return Result{}, err
	}
	d.mu.RLock()
	spec, ok := d.specs[name]
	d.mu.RUnlock()
	if !ok {
		return Result{}, fault.Newf(fault.KindParse, "unknown command %q, try 'help'", name)
	}
	if len(args) < spec.MinArgs || (spec.MaxArgs >= 0 && len(args) > spec.MaxArgs) {
		return Result{}, fault.Newf(fault.KindParse, "usage: %s", spec.usage())
	}
	if c != nil && c.Commands == nil {
		c.Commands = d
	}
	return spec.Handler(ctx, c, args)
}
