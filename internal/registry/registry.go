// Package registry owns the authoritative set of live hosts and bridges it to
// durable storage.
//
// The live map is sharded by address. Shard locks only guard map access and
// are never held across storage I/O; a per-address key lock serialises
// creation, temporary registration, eviction and sync for one address while
// other addresses proceed concurrently.
package registry

import (
	"context"
	"crypto/rand"
	"errors"
	"hash/fnv"
	"math/big"
	mrand "math/rand"
	"sort"
	"sync"
	"time"

	"github.com/danmuck/hackgame/internal/events"
	"github.com/danmuck/hackgame/internal/fault"
	"github.com/danmuck/hackgame/internal/host"
	"github.com/danmuck/hackgame/internal/software"
	"github.com/danmuck/hackgame/internal/storage"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	defaultShards    = 16
	credentialLen    = 8
	credentialChars  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	randomProbeLimit = 64
)

type Option func(*Registry)

func WithAddressSpace(space AddressSpace) Option {
	return func(r *Registry) { r.space = space }
}

func WithPublisher(p events.Publisher) Option {
	return func(r *Registry) {
		if p != nil {
			r.publisher = p
		}
	}
}

// WithRand seeds address generation and random picks. Credentials always
// use crypto/rand.
func WithRand(rng *mrand.Rand) Option {
	return func(r *Registry) {
		if rng != nil {
			r.rng = rng
		}
	}
}

func WithShards(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.shardCount = n
		}
	}
}

// WithCheckDurable makes AllocateFreeAddress also skip addresses that have a
// durable record but are not resident.
func WithCheckDurable(enabled bool) Option {
	return func(r *Registry) { r.checkDurable = enabled }
}

type entry struct {
	device    *host.Device
	temporary bool
}

type shard struct {
	mu    sync.RWMutex
	hosts map[string]entry
}

type Registry struct {
	store     storage.Store
	resolver  software.Resolver
	publisher events.Publisher
	space     AddressSpace
	logger    zerolog.Logger

	checkDurable bool
	shardCount   int
	shards       []*shard
	keys         *keyLocks

	rngMu sync.Mutex
	rng   *mrand.Rand

	reservedMu sync.Mutex
	reserved   map[string]struct{}
}

func New(store storage.Store, resolver software.Resolver, opts ...Option) *Registry {
	r := &Registry{
		store:      store,
		resolver:   resolver,
		publisher:  events.Noop{},
		space:      FullIPv4Space(),
		logger:     log.With().Str("component", "registry").Logger(),
		shardCount: defaultShards,
		keys:       newKeyLocks(),
		rng:        mrand.New(mrand.NewSource(time.Now().UnixNano())),
		reserved:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.resolver == nil {
		r.resolver = software.NewCatalog()
	}
	r.shards = make([]*shard, r.shardCount)
	for i := range r.shards {
		r.shards[i] = &shard{hosts: make(map[string]entry)}
	}
	return r
}

func (r *Registry) shardFor(address string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(address))
	return r.shards[h.Sum32()%uint32(len(r.shards))]
}

func (r *Registry) lookup(address string) (entry, bool) {
	s := r.shardFor(address)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.hosts[address]
	return e, ok
}

func (r *Registry) put(address string, e entry) {
	s := r.shardFor(address)
	s.mu.Lock()
	s.hosts[address] = e
	s.mu.Unlock()
}

func (r *Registry) remove(address string) {
	s := r.shardFor(address)
	s.mu.Lock()
	delete(s.hosts, address)
	s.mu.Unlock()
}

func (r *Registry) entries() map[string]entry {
	out := make(map[string]entry)
	for _, s := range r.shards {
		s.mu.RLock()
		for addr, e := range s.hosts {
			out[addr] = e
		}
		s.mu.RUnlock()
	}
	return out
}

// Get returns the resident device for address. There is no storage fallback.
func (r *Registry) Get(address string) (*host.Device, error) {
	e, ok := r.lookup(address)
	if !ok {
		return nil, fault.Newf(fault.KindNotFound, "host %s does not exist", address)
	}
	return e.device, nil
}

// GetOrCreate returns the resident device for address, creating the durable
// record from def when none exists. The durable record is written at most
// once and at most one live device exists per address even when callers
// race; every racer receives the same device.
func (r *Registry) GetOrCreate(ctx context.Context, address string, def host.Record) (*host.Device, error) {
	if e, ok := r.lookup(address); ok {
		return e.device, nil
	}
	unlock := r.keys.Lock(address)
	defer unlock()
	if e, ok := r.lookup(address); ok {
		return e.device, nil
	}

	wctx := context.WithoutCancel(ctx)
	inserted, err := r.store.InsertIfAbsent(wctx, storage.TableHosts, address, host.MarshalRecord(def))
	if err != nil {
		return nil, fault.Wrap(fault.KindStorage, "create host "+address, err)
	}
	if inserted {
		r.logger.Info().Str("address", address).Msg("host created")
		r.publisher.Publish(wctx, events.New(events.HostCreated, address))
	}

	raw, err := r.store.Get(wctx, storage.TableHosts, address)
	if err != nil {
		return nil, fault.Wrap(fault.KindStorage, "load host "+address, err)
	}
	dev, err := r.materialize(address, raw)
	if err != nil {
		return nil, err
	}
	r.put(address, entry{device: dev})
	r.release(address)
	r.publisher.Publish(wctx, events.New(events.HostLoaded, address))
	return dev, nil
}

// materialize decodes a stored record and resolves its software references.
func (r *Registry) materialize(address string, raw []byte) (*host.Device, error) {
	rec, err := host.UnmarshalRecord(raw)
	if err != nil {
		return nil, fault.Wrap(fault.KindStorage, "decode host "+address, err)
	}
	installed := make([]software.Instance, 0, len(rec.SoftwareRefs))
	for _, ref := range rec.SoftwareRefs {
		inst, err := r.resolver.Resolve(ref)
		if err != nil {
			return nil, fault.Wrap(fault.KindStorage, "resolve software for host "+address, err)
		}
		installed = append(installed, inst)
	}
	return host.NewDevice(address, host.State{
		Software:   installed,
		Filesystem: rec.Filesystem,
		Balance:    rec.Balance,
		Credential: rec.Credential,
	}), nil
}

func (r *Registry) recordOf(st host.State) host.Record {
	refs := make([]string, 0, len(st.Software))
	for _, inst := range st.Software {
		refs = append(refs, r.resolver.Ref(inst))
	}
	return host.Record{
		Balance:      st.Balance,
		SoftwareRefs: refs,
		Filesystem:   st.Filesystem,
		Credential:   st.Credential,
	}
}

// LoadAll makes every durable host resident. Resident devices are never
// replaced. Records that fail to load are skipped and reported together.
func (r *Registry) LoadAll(ctx context.Context) (int, error) {
	rows, err := r.store.SelectAll(ctx, storage.TableHosts)
	if err != nil {
		return 0, fault.Wrap(fault.KindStorage, "load hosts", err)
	}
	var (
		loaded int
		errs   []error
	)
	for _, row := range rows {
		ok, err := r.loadRow(ctx, row)
		if err != nil {
			r.logger.Warn().Err(err).Str("address", row.Key).Msg("host load failed")
			errs = append(errs, err)
			continue
		}
		if ok {
			loaded++
		}
	}
	r.logger.Info().Int("loaded", loaded).Int("rows", len(rows)).Msg("hosts loaded")
	return loaded, errors.Join(errs...)
}

func (r *Registry) loadRow(ctx context.Context, row storage.Row) (bool, error) {
	unlock := r.keys.Lock(row.Key)
	defer unlock()
	if _, ok := r.lookup(row.Key); ok {
		return false, nil
	}
	dev, err := r.materialize(row.Key, row.Value)
	if err != nil {
		return false, err
	}
	r.put(row.Key, entry{device: dev})
	r.publisher.Publish(ctx, events.New(events.HostLoaded, row.Key))
	return true, nil
}

// RegisterTemporary makes dev resident without a durable record. It reports
// false when the address is already taken.
func (r *Registry) RegisterTemporary(dev *host.Device) bool {
	address := dev.Address()
	unlock := r.keys.Lock(address)
	defer unlock()
	if _, ok := r.lookup(address); ok {
		return false
	}
	r.put(address, entry{device: dev, temporary: true})
	r.release(address)
	r.logger.Debug().Str("address", address).Msg("temporary host registered")
	return true
}

// RemoveTemporary evicts a temporary host. Hosts with a durable record are
// left resident.
func (r *Registry) RemoveTemporary(address string) {
	unlock := r.keys.Lock(address)
	defer unlock()
	e, ok := r.lookup(address)
	if !ok {
		return
	}
	if !e.temporary {
		r.logger.Warn().Str("address", address).Msg("refusing to evict durable host")
		return
	}
	r.remove(address)
	r.publisher.Publish(context.Background(), events.New(events.HostEvicted, address))
}

// AllocateFreeAddress returns an address from the configured space that is
// not resident and not handed out by an earlier allocation. The address
// stays reserved until GetOrCreate or RegisterTemporary claims it, or
// Release gives it back.
func (r *Registry) AllocateFreeAddress(ctx context.Context) (string, error) {
	size := r.space.Size()
	probes := uint64(randomProbeLimit)
	if size < probes {
		probes = size
	}
	for i := uint64(0); i < probes; i++ {
		r.rngMu.Lock()
		addr := r.space.random(r.rng)
		r.rngMu.Unlock()
		ok, err := r.tryReserve(ctx, addr)
		if err != nil {
			return "", err
		}
		if ok {
			return addr, nil
		}
	}

	// Crowded space: walk every address once from a random offset.
	r.rngMu.Lock()
	start := uint64(r.rng.Int63n(int64(size)))
	r.rngMu.Unlock()
	for i := uint64(0); i < size; i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		addr := r.space.At((start + i) % size)
		ok, err := r.tryReserve(ctx, addr)
		if err != nil {
			return "", err
		}
		if ok {
			return addr, nil
		}
	}
	return "", fault.Newf(fault.KindExhausted, "no free address in a space of %d", size)
}

func (r *Registry) tryReserve(ctx context.Context, addr string) (bool, error) {
	if _, ok := r.lookup(addr); ok {
		return false, nil
	}
	if r.checkDurable {
		_, err := r.store.Get(ctx, storage.TableHosts, addr)
		switch {
		case err == nil:
			return false, nil
		case !errors.Is(err, storage.ErrNotFound):
			return false, fault.Wrap(fault.KindStorage, "check address "+addr, err)
		}
	}
	r.reservedMu.Lock()
	defer r.reservedMu.Unlock()
	if _, taken := r.reserved[addr]; taken {
		return false, nil
	}
	r.reserved[addr] = struct{}{}
	return true, nil
}

// Release returns an allocated address that will not be claimed.
func (r *Registry) Release(address string) {
	r.release(address)
}

func (r *Registry) release(address string) {
	r.reservedMu.Lock()
	delete(r.reserved, address)
	r.reservedMu.Unlock()
}

// PickActiveAddress returns a uniformly random resident address.
func (r *Registry) PickActiveAddress() (string, error) {
	addrs := r.Addresses()
	if len(addrs) == 0 {
		return "", fault.New(fault.KindEmptyRegistry, "no active hosts")
	}
	r.rngMu.Lock()
	i := r.rng.Intn(len(addrs))
	r.rngMu.Unlock()
	return addrs[i], nil
}

// GenerateCredential returns a random 8 character alphanumeric secret.
func (r *Registry) GenerateCredential() string {
	limit := big.NewInt(int64(len(credentialChars)))
	out := make([]byte, credentialLen)
	for i := range out {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			panic("registry: crypto/rand unavailable: " + err.Error())
		}
		out[i] = credentialChars[n.Int64()]
	}
	return string(out)
}

// Sync overwrites the durable record of address with a snapshot of the live
// device. Temporary hosts and hosts without a durable record are NotFound.
func (r *Registry) Sync(ctx context.Context, address string) error {
	unlock := r.keys.Lock(address)
	defer unlock()
	e, ok := r.lookup(address)
	if !ok {
		return fault.Newf(fault.KindNotFound, "host %s does not exist", address)
	}
	if e.temporary {
		return fault.Newf(fault.KindNotFound, "host %s has no durable record", address)
	}
	st, version := e.device.Snapshot()
	wctx := context.WithoutCancel(ctx)
	err := r.store.Update(wctx, storage.TableHosts, address, host.MarshalRecord(r.recordOf(st)))
	if errors.Is(err, storage.ErrNotFound) {
		return fault.Wrap(fault.KindNotFound, "host "+address+" has no durable record", err)
	}
	if err != nil {
		return fault.Wrap(fault.KindStorage, "sync host "+address, err)
	}
	e.device.MarkSynced(version)
	r.publisher.Publish(wctx, events.New(events.HostSynced, address))
	return nil
}

// Flush syncs every dirty durable host and returns how many were written.
// Failures do not stop the pass; they are joined into the returned error.
func (r *Registry) Flush(ctx context.Context) (int, error) {
	var (
		synced int
		errs   []error
	)
	for addr, e := range r.entries() {
		if e.temporary || !e.device.Dirty() {
			continue
		}
		if err := r.Sync(ctx, addr); err != nil {
			errs = append(errs, err)
			continue
		}
		synced++
	}
	if synced > 0 || len(errs) > 0 {
		r.logger.Debug().Int("synced", synced).Int("failed", len(errs)).Msg("flush complete")
	}
	return synced, errors.Join(errs...)
}

// Len returns the number of resident hosts, temporary ones included.
func (r *Registry) Len() int {
	n := 0
	for _, s := range r.shards {
		s.mu.RLock()
		n += len(s.hosts)
		s.mu.RUnlock()
	}
	return n
}

// Addresses returns every resident address in sorted order.
func (r *Registry) Addresses() []string {
	out := make([]string, 0, r.Len())
	for _, s := range r.shards {
		s.mu.RLock()
		for addr := range s.hosts {
			out = append(out, addr)
		}
		s.mu.RUnlock()
	}
	sort.Strings(out)
	return out
}

// IsTemporary reports whether address is resident without a durable record.
func (r *Registry) IsTemporary(address string) bool {
	e, ok := r.lookup(address)
	return ok && e.temporary
}
