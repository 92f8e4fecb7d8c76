// Package events publishes host lifecycle notifications. Publishing is
// best effort: a failed publish is logged and never fails the registry
// operation that produced it.
package events

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const DefaultSubjectPrefix = "hackgame.host"

type Kind string

const (
	HostCreated Kind = "created"
	HostLoaded  Kind = "loaded"
	HostSynced  Kind = "synced"
	HostEvicted Kind = "evicted"
)

// Event is the JSON body published for every lifecycle change.
type Event struct {
	Address     string `json:"address"`
	Event       Kind   `json:"event"`
	TimestampMS int64  `json:"timestamp_ms"`
}

func New(kind Kind, address string) Event {
	return Event{Address: address, Event: kind, TimestampMS: time.Now().UnixMilli()}
}

type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// Noop drops every event.
type Noop struct{}

func (Noop) Publish(context.Context, Event) {}

// Subject returns "<prefix>.<kind>".
func Subject(prefix string, kind Kind) string {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return prefix + "." + string(kind)
}

// NATS publishes events to a NATS server.
type NATS struct {
	nc     *nats.Conn
	prefix string
}

func NewNATS(url, prefix string) (*NATS, error) {
	logger := log.With().Str("component", "events.nats").Logger()
	opts := []nats.Option{
		nats.Name("hackgame-hackd"),
		nats.Timeout(2 * time.Second),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("url", url).Msg("nats connected")
	return &NATS{nc: nc, prefix: prefix}, nil
}

func (p *NATS) Publish(_ context.Context, ev Event) {
	if p.nc == nil || p.nc.IsClosed() {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Warn().Err(err).Str("address", ev.Address).Msg("events: encode failed")
		return
	}
	if err := p.nc.Publish(Subject(p.prefix, ev.Event), payload); err != nil {
		log.Warn().Err(err).Str("address", ev.Address).Str("event", string(ev.Event)).Msg("events: publish failed")
	}
}

// Close flushes pending publishes and closes the connection.
func (p *NATS) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
	}
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Count returns how many events of kind were published for address.
func (r *Recorder) Count(kind Kind, address string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Event == kind && ev.Address == address {
			n++
		}
	}
	return n
}
