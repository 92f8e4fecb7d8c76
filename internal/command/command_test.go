package command

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/danmuck/hackgame/internal/account"
	"github.com/danmuck/hackgame/internal/credential"
	"github.com/danmuck/hackgame/internal/fault"
	"github.com/danmuck/hackgame/internal/host"
	"github.com/danmuck/hackgame/internal/registry"
	"github.com/danmuck/hackgame/internal/software"
	"github.com/danmuck/hackgame/internal/storage"
	"github.com/danmuck/hackgame/internal/storage/memstore"
	"github.com/danmuck/hackgame/internal/testutil/testlog"
)

type fixture struct {
	store    *memstore.Store
	registry *registry.Registry
	accounts *account.Service
	disp     *Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	return &fixture{
		store:    store,
		registry: registry.New(store, software.NewCatalog()),
		accounts: account.NewService(store, credential.NewArgon2(credential.Params{Time: 1, MemoryKiB: 64, Threads: 1})),
		disp:     NewDefault(),
	}
}

func (f *fixture) context() *Context {
	return &Context{
		Session:         &Session{},
		Registry:        f.registry,
		Accounts:        f.accounts,
		StartingBalance: 100,
	}
}

func (f *fixture) run(t *testing.T, c *Context, raw string) string {
	t.Helper()
	res, err := f.disp.Execute(context.Background(), raw, c)
	if err != nil {
		t.Fatalf("%q: %v", raw, err)
	}
	return res.Output
}

func (f *fixture) fail(t *testing.T, c *Context, raw string, want *fault.Error) error {
	t.Helper()
	_, err := f.disp.Execute(context.Background(), raw, c)
	if !errors.Is(err, want) {
		t.Fatalf("%q: expected %s fault, got %v", raw, want.Kind, err)
	}
	return err
}

func TestParse(t *testing.T) {
	testlog.Start(t)
	name, args, err := Parse(`LOGIN alice "pass word"`)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if name != "login" || len(args) != 2 || args[1] != "pass word" {
		t.Fatalf("unexpected parse: %q %q", name, args)
	}
	for _, raw := range []string{"", "   ", `cat "unterminated`} {
		if _, _, err := Parse(raw); !errors.Is(err, fault.ErrParse) {
			t.Fatalf("%q: expected Parse fault, got %v", raw, err)
		}
	}
}

func TestExecuteParseErrors(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	c := f.context()
	for _, raw := range []string{
		"hack the planet",
		"login onlyuser",
		"balance extra",
		"ls a b",
		`register "alice`,
	} {
		f.fail(t, c, raw, fault.ErrParse)
	}
}

func TestRegisterDuplicateCommand(t *testing.T) {
	testlog.Start(t)
	d := NewDefault()
	err := d.Register(Spec{Name: "HELP", Handler: helpCommand})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if err := d.Register(Spec{Name: "broken"}); !errors.Is(err, ErrInvalidSpec) {
		t.Fatalf("expected ErrInvalidSpec, got %v", err)
	}
}

func TestHas(t *testing.T) {
	testlog.Start(t)
	d := NewDefault()
	if !d.Has("balance") || !d.Has("BALANCE") {
		t.Fatalf("expected balance to be registered")
	}
	if d.Has("junk") || d.Has("") {
		t.Fatalf("unregistered names should not resolve")
	}
}

func TestIdentityRequired(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	c := f.context()
	for _, raw := range []string{"balance", "transfer 1.1.1.1 5", "scan", "ls", "cat /etc/motd", "save", "logout"} {
		f.fail(t, c, raw, fault.ErrUnauthorized)
	}
	if out := f.run(t, c, "whoami"); out != "not logged in" {
		t.Fatalf("whoami=%q", out)
	}
}

func TestRegisterLoginFlow(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	c := f.context()

	out := f.run(t, c, "Register alice s3cret")
	if !strings.HasPrefix(out, "registered alice") {
		t.Fatalf("register output %q", out)
	}
	id, ok := c.Session.Identity()
	if !ok || id.Username != "alice" {
		t.Fatalf("session not bound after register")
	}
	if f.store.Inserts(storage.TableHosts, id.HomeAddress) != 1 {
		t.Fatalf("home host not persisted")
	}
	if out := f.run(t, c, "balance"); out != "balance: 100" {
		t.Fatalf("balance=%q", out)
	}
	f.fail(t, c, "login alice s3cret", fault.ErrExecution)

	f.run(t, c, "logout")
	f.fail(t, c, "login alice wrong", fault.ErrUnauthorized)

	other := f.context()
	out = f.run(t, other, "login alice s3cret")
	if !strings.Contains(out, id.HomeAddress) {
		t.Fatalf("login output %q", out)
	}
	if out := f.run(t, other, "whoami"); out != "alice@"+id.HomeAddress {
		t.Fatalf("whoami=%q", out)
	}
	f.fail(t, f.context(), "register alice again", fault.ErrExecution)
}

func TestLoginRecreatesMissingHome(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	if _, err := f.accounts.Create(context.Background(), "bob", "pw", "9.9.9.9"); err != nil {
		t.Fatalf("create account: %v", err)
	}
	c := f.context()
	f.run(t, c, "login bob pw")
	if out := f.run(t, c, "balance"); out != "balance: 100" {
		t.Fatalf("balance=%q", out)
	}
}

func TestTransfer(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	c := f.context()
	f.run(t, c, "register alice pw")
	id, _ := c.Session.Identity()

	target, err := f.registry.GetOrCreate(context.Background(), "7.7.7.7", host.DefaultRecord(0, "x"))
	if err != nil {
		t.Fatalf("target: %v", err)
	}

	f.run(t, c, "transfer 7.7.7.7 40")
	if out := f.run(t, c, "balance"); out != "balance: 60" {
		t.Fatalf("balance after transfer=%q", out)
	}
	var got int64
	target.View(func(s host.State) { got = s.Balance })
	if got != 40 {
		t.Fatalf("target balance=%d", got)
	}
	if f.store.Updates(storage.TableHosts, id.HomeAddress) != 1 || f.store.Updates(storage.TableHosts, "7.7.7.7") != 1 {
		t.Fatalf("transfer did not sync both hosts")
	}

	f.fail(t, c, "transfer 7.7.7.7 1000", fault.ErrExecution)
	f.fail(t, c, "transfer 7.7.7.7 -5", fault.ErrParse)
	f.fail(t, c, "transfer 7.7.7.7 ten", fault.ErrParse)
	f.fail(t, c, "transfer 6.6.6.6 1", fault.ErrNotFound)
	f.fail(t, c, "transfer "+id.HomeAddress+" 1", fault.ErrExecution)
}

func TestTransferAppliedWhenSyncFails(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	c := f.context()
	f.run(t, c, "register alice pw")
	target, err := f.registry.GetOrCreate(context.Background(), "7.7.7.7", host.DefaultRecord(0, "x"))
	if err != nil {
		t.Fatalf("target: %v", err)
	}

	f.store.FailWrites = errors.New("disk full")
	out := f.run(t, c, "transfer 7.7.7.7 40")
	if !strings.HasPrefix(out, "transferred 40 to 7.7.7.7") || !strings.Contains(out, "save pending") {
		t.Fatalf("transfer output=%q", out)
	}
	if !target.Dirty() {
		t.Fatalf("target should stay dirty until a sync succeeds")
	}

	f.store.FailWrites = nil
	synced, err := f.registry.Flush(context.Background())
	if err != nil || synced != 2 {
		t.Fatalf("flush synced=%d err=%v", synced, err)
	}
	if out := f.run(t, c, "balance"); out != "balance: 60" {
		t.Fatalf("balance after transfer=%q", out)
	}
}

func TestRegisterReleasesAddressWhenHostFails(t *testing.T) {
	testlog.Start(t)
	store := memstore.New()
	space := registry.AddressSpace{Octets: [4]registry.OctetRange{
		{Min: 10, Max: 10}, {Min: 0, Max: 0}, {Min: 0, Max: 0}, {Min: 9, Max: 9},
	}}
	reg := registry.New(store, software.NewCatalog(), registry.WithAddressSpace(space))
	bad := host.MarshalRecord(host.Record{SoftwareRefs: []string{"tool.missing"}})
	if _, err := store.InsertIfAbsent(context.Background(), storage.TableHosts, "10.0.0.9", bad); err != nil {
		t.Fatalf("seed bad host: %v", err)
	}
	f := newFixture(t)
	f.store, f.registry = store, reg
	f.accounts = account.NewService(store, credential.NewArgon2(credential.Params{Time: 1, MemoryKiB: 64, Threads: 1}))
	c := f.context()

	f.fail(t, c, "register alice pw", fault.ErrStorage)
	if _, ok := c.Session.Identity(); ok {
		t.Fatalf("session bound after failed register")
	}
	addr, err := reg.AllocateFreeAddress(context.Background())
	if err != nil {
		t.Fatalf("address still reserved after failed register: %v", err)
	}
	if addr != "10.0.0.9" {
		t.Fatalf("allocated %s", addr)
	}
}

func TestTransferToTemporaryHostSkipsSync(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	c := f.context()
	f.run(t, c, "register alice pw")
	f.registry.RegisterTemporary(host.NewDevice("5.5.5.5", host.State{}))
	f.run(t, c, "transfer 5.5.5.5 10")
	if _, err := f.store.Get(context.Background(), storage.TableHosts, "5.5.5.5"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("temporary host persisted: %v", err)
	}
}

func TestScan(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	c := f.context()
	f.run(t, c, "register alice pw")
	id, _ := c.Session.Identity()

	if out := f.run(t, c, "scan"); out != "found host "+id.HomeAddress {
		t.Fatalf("scan with only home resident=%q", out)
	}
	f.registry.RegisterTemporary(host.NewDevice("4.4.4.4", host.State{}))
	for i := 0; i < 10; i++ {
		if out := f.run(t, c, "scan"); out != "found host 4.4.4.4" {
			t.Fatalf("scan returned caller's host: %q", out)
		}
	}
}

func TestFilesystemCommands(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	c := f.context()
	f.run(t, c, "register alice pw")

	if out := f.run(t, c, "ls"); out != "bin/\netc/\nhome/\nlogs/" {
		t.Fatalf("ls=%q", out)
	}
	if out := f.run(t, c, "ls /etc"); out != "motd" {
		t.Fatalf("ls /etc=%q", out)
	}
	if out := f.run(t, c, "cat /etc/motd"); !strings.Contains(out, "Welcome") {
		t.Fatalf("cat motd=%q", out)
	}
	f.fail(t, c, "cat /missing", fault.ErrNotFound)
	f.fail(t, c, "cat /etc", fault.ErrExecution)
	f.fail(t, c, "ls /etc/motd", fault.ErrExecution)
}

func TestSaveAndHelp(t *testing.T) {
	testlog.Start(t)
	f := newFixture(t)
	c := f.context()
	f.run(t, c, "register alice pw")
	id, _ := c.Session.Identity()
	if out := f.run(t, c, "SAVE"); out != "saved "+id.HomeAddress {
		t.Fatalf("save=%q", out)
	}
	help := f.run(t, c, "help")
	for _, spec := range Builtins() {
		if !strings.Contains(help, spec.Name) {
			t.Fatalf("help missing %s:\n%s", spec.Name, help)
		}
	}
}
