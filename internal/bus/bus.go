// Package bus fans classification and protection events out to external
// consumers and aggregates per-network counters. Publishing never blocks the
// hot path: each subscriber owns a bounded queue and a full queue drops that
// subscriber's oldest event.
package bus

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/guardiavault-oss/Paradexx-sub007/internal/model"
	"go.uber.org/zap"
)

const defaultQueueSize = 256

// Filter restricts which events a subscriber receives. Zero value matches
// everything.
type Filter struct {
	Types   []model.EventType
	Network model.Network
}

func (f Filter) matches(ev model.Event) bool {
	if f.Network != "" && ev.Network != f.Network {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if t == ev.Type {
			return true
		}
	}
	return false
}

// Subscription is one consumer's bounded event queue.
type Subscription struct {
	bus    *Bus
	id     uint64
	filter Filter
	ch     chan model.Event

	dropped atomic.Uint64
	once    sync.Once
}

// Events returns the receive side of the subscription queue. The channel is
// closed by Close.
func (s *Subscription) Events() <-chan model.Event { return s.ch }

// Dropped reports how many events were discarded because this subscriber
// fell behind.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Close detaches the subscription and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.remove(s.id)
		close(s.ch)
	})
}

// netCounters holds one network's rolling statistics. All fields are atomic;
// Snapshot reads them without stopping publishers.
type netCounters struct {
	transactionsObserved atomic.Uint64
	malformedDropped     atomic.Uint64
	protectionsApplied   atomic.Uint64
	valueProtectedCents  atomic.Uint64
	threatsByType        map[model.ThreatType]*atomic.Uint64
}

func newNetCounters() *netCounters {
	c := &netCounters{threatsByType: make(map[model.ThreatType]*atomic.Uint64, len(model.ThreatTypes))}
	for _, t := range model.ThreatTypes {
		c.threatsByType[t] = &atomic.Uint64{}
	}
	return c
}

// NetworkSnapshot is a point-in-time copy of one network's counters.
type NetworkSnapshot struct {
	TransactionsObserved uint64                      `json:"transactionsObserved"`
	MalformedDropped     uint64                      `json:"malformedDropped"`
	ThreatsDetected      map[model.ThreatType]uint64 `json:"threatsDetected"`
	ProtectionsApplied   uint64                      `json:"protectionsApplied"`
	ValueProtectedUSD    float64                     `json:"valueProtectedUsd"`
}

// Bus is the statistics aggregator and pub/sub hub.
type Bus struct {
	logger    *zap.Logger
	queueSize int

	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64

	countersMu sync.RWMutex
	counters   map[model.Network]*netCounters
}

// New constructs a Bus. queueSize <= 0 uses the default per-subscriber bound.
func New(logger *zap.Logger, queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Bus{
		logger:    logger.Named("bus"),
		queueSize: queueSize,
		subs:      make(map[uint64]*Subscription),
		counters:  make(map[model.Network]*netCounters),
	}
}

// Subscribe registers a consumer with a bounded queue.
func (b *Bus) Subscribe(filter Filter) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		bus:    b,
		id:     b.nextID,
		filter: filter,
		ch:     make(chan model.Event, b.queueSize),
	}
	b.subs[sub.id] = sub
	return sub
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

// Publish delivers ev to every matching subscriber without blocking. A
// subscriber whose queue is full loses its oldest queued event.
func (b *Bus) Publish(ev model.Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if !sub.filter.matches(ev) {
			continue
		}
		for {
			select {
			case sub.ch <- ev:
			default:
				// Queue full: shed the oldest event for this subscriber only.
				select {
				case <-sub.ch:
					sub.dropped.Add(1)
				default:
				}
				continue
			}
			break
		}
	}
}

func (b *Bus) netCounters(network model.Network) *netCounters {
	b.countersMu.RLock()
	c, ok := b.counters[network]
	b.countersMu.RUnlock()
	if ok {
		return c
	}

	b.countersMu.Lock()
	defer b.countersMu.Unlock()
	if c, ok = b.counters[network]; ok {
		return c
	}
	c = newNetCounters()
	b.counters[network] = c
	return c
}

// CountObserved records one ingested transaction.
func (b *Bus) CountObserved(network model.Network) {
	b.netCounters(network).transactionsObserved.Add(1)
}

// CountMalformed records a dropped unparseable transaction.
func (b *Bus) CountMalformed(network model.Network) {
	b.netCounters(network).malformedDropped.Add(1)
}

// CountThreat records one detection of the given type.
func (b *Bus) CountThreat(network model.Network, t model.ThreatType) {
	c := b.netCounters(network)
	if counter, ok := c.threatsByType[t]; ok {
		counter.Add(1)
	}
}

// CountProtection records one applied protection and its protected value.
func (b *Bus) CountProtection(network model.Network, valueUSD float64) {
	c := b.netCounters(network)
	c.protectionsApplied.Add(1)
	if valueUSD > 0 {
		c.valueProtectedCents.Add(uint64(valueUSD * 100))
	}
}

// Snapshot returns a point-in-time copy of all per-network counters. Safe to
// call concurrently with publication.
func (b *Bus) Snapshot() map[model.Network]NetworkSnapshot {
	b.countersMu.RLock()
	defer b.countersMu.RUnlock()

	out := make(map[model.Network]NetworkSnapshot, len(b.counters))
	for network, c := range b.counters {
		snap := NetworkSnapshot{
			TransactionsObserved: c.transactionsObserved.Load(),
			MalformedDropped:     c.malformedDropped.Load(),
			ProtectionsApplied:   c.protectionsApplied.Load(),
			ValueProtectedUSD:    float64(c.valueProtectedCents.Load()) / 100,
			ThreatsDetected:      make(map[model.ThreatType]uint64, len(c.threatsByType)),
		}
		for t, counter := range c.threatsByType {
			snap.ThreatsDetected[t] = counter.Load()
		}
		out[network] = snap
	}
	return out
}
