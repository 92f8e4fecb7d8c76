// Package host models live host devices, their filesystems and the durable
// record form they are persisted as.
package host

import (
	"sync"

	"github.com/danmuck/hackgame/internal/software"
)

// State is the mutable part of a host.
type State struct {
	Software   []software.Instance
	Filesystem *Node
	Balance    int64
	Credential string
}

func (s State) Clone() State {
	out := s
	out.Software = append([]software.Instance(nil), s.Software...)
	out.Filesystem = s.Filesystem.Clone()
	return out
}

// Device is a live host. Mutations go through Update and reads for
// persistence go through Snapshot; both hold the device lock, so a snapshot
// never observes a half-applied mutation.
type Device struct {
	address string

	mu      sync.Mutex
	state   State
	version uint64
	synced  uint64
}

// NewDevice builds a live device that starts clean.
func NewDevice(address string, st State) *Device {
	if st.Filesystem == nil {
		st.Filesystem = Dir("")
	}
	return &Device{address: address, state: st}
}

func (d *Device) Address() string {
	return d.address
}

// Update applies fn to a copy of the state and commits it only when fn
// returns nil.
func (d *Device) Update(fn func(*State) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	next := d.state.Clone()
	if err := fn(&next); err != nil {
		return err
	}
	d.state = next
	d.version++
	return nil
}

// View calls fn with the current state under the device lock. fn must not
// retain the state or anything it points to.
func (d *Device) View(fn func(State)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(d.state)
}

// Snapshot returns a deep copy of the state and the version it reflects.
func (d *Device) Snapshot() (State, uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state.Clone(), d.version
}

// Dirty reports whether there are mutations not yet marked synced.
func (d *Device) Dirty() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.version != d.synced
}

// MarkSynced records that the snapshot at version reached storage. A newer
// mutation keeps the device dirty.
func (d *Device) MarkSynced(version uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if version > d.synced {
		d.synced = version
	}
}

// UpdatePair mutates two distinct devices atomically with respect to each
// other. Locks are taken in address order so concurrent pairs cannot
// deadlock. Neither state is committed unless fn returns nil.
func UpdatePair(a, b *Device, fn func(sa, sb *State) error) error {
	if a == b {
		return a.Update(func(s *State) error { return fn(s, s) })
	}
	first, second := a, b
	if second.address < first.address {
		first, second = second, first
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	na, nb := a.state.Clone(), b.state.Clone()
	if err := fn(&na, &nb); err != nil {
		return err
	}
	a.state, b.state = na, nb
	a.version++
	b.version++
	return nil
}
