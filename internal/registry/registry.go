// Package registry keeps the in-memory index of addresses under protection.
package registry

import (
	"errors"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/guardiavault-oss/Paradexx-sub007/internal/model"
	"go.uber.org/zap"
)

var (
	ErrNotFound       = errors.New("protected address not found")
	ErrInvalidAddress = errors.New("invalid address format")
)

// StatsDelta carries counter increments applied after a successful protection.
type StatsDelta struct {
	TransactionsProtected uint64
	ThreatsBlocked        uint64
	ValueProtectedUSD     float64
}

// entry separates immutable-ish configuration (mutex-guarded, replaced on
// upsert) from the hot-path counters (atomic, survive upserts).
type entry struct {
	mu  sync.RWMutex
	cfg model.ProtectedAddress

	txProtected    atomic.Uint64
	threatsBlocked atomic.Uint64
	valueUSDBits   atomic.Uint64 // float64 bits, CAS-added
}

func (e *entry) snapshot() model.ProtectedAddress {
	e.mu.RLock()
	cfg := e.cfg
	e.mu.RUnlock()
	cfg.TransactionsProtected = e.txProtected.Load()
	cfg.ThreatsBlocked = e.threatsBlocked.Load()
	cfg.ValueProtectedUSD = math.Float64frombits(e.valueUSDBits.Load())
	return cfg
}

func (e *entry) addValueUSD(v float64) {
	for {
		old := e.valueUSDBits.Load()
		next := math.Float64bits(math.Float64frombits(old) + v)
		if e.valueUSDBits.CompareAndSwap(old, next) {
			return
		}
	}
}

// Registry is safe for concurrent use: classifier workers read on every
// ingested transaction while the control plane occasionally writes.
type Registry struct {
	logger *zap.Logger

	mu      sync.RWMutex
	entries map[key]*entry
}

type key struct {
	address string
	network model.Network
}

func makeKey(address string, network model.Network) key {
	return key{address: strings.ToLower(address), network: network}
}

// New constructs an empty Registry.
func New(logger *zap.Logger) *Registry {
	return &Registry{
		logger:  logger.Named("registry"),
		entries: make(map[key]*entry),
	}
}

// Add upserts a protected address. Re-adding an existing (address, network)
// replaces the configuration but preserves the accumulated counters.
func (r *Registry) Add(pa model.ProtectedAddress) (model.ProtectedAddress, error) {
	if !common.IsHexAddress(pa.Address) {
		return model.ProtectedAddress{}, ErrInvalidAddress
	}
	if _, err := model.ParseProtectionLevel(string(pa.ProtectionLevel)); err != nil {
		return model.ProtectedAddress{}, err
	}
	if _, err := model.ParseAddressType(string(pa.AddressType)); err != nil {
		return model.ProtectedAddress{}, err
	}
	pa.Address = strings.ToLower(pa.Address)

	k := makeKey(pa.Address, pa.Network)

	r.mu.Lock()
	e, ok := r.entries[k]
	if !ok {
		e = &entry{}
		r.entries[k] = e
	}
	r.mu.Unlock()

	// Counters live outside cfg, so the upsert cannot reset them.
	cfg := pa
	cfg.TransactionsProtected = 0
	cfg.ThreatsBlocked = 0
	cfg.ValueProtectedUSD = 0
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()

	r.logger.Info("protected address upserted",
		zap.String("address", pa.Address),
		zap.String("network", string(pa.Network)),
		zap.String("level", string(pa.ProtectionLevel)),
		zap.Bool("replaced", ok),
	)
	return e.snapshot(), nil
}

// Remove deletes a protected address.
func (r *Registry) Remove(address string, network model.Network) error {
	if !common.IsHexAddress(address) {
		return ErrInvalidAddress
	}
	k := makeKey(address, network)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[k]; !ok {
		return ErrNotFound
	}
	delete(r.entries, k)
	return nil
}

// Match returns the protected address for (address, network), if any.
// Called on every ingested transaction's from and to; O(1) average.
func (r *Registry) Match(address string, network model.Network) (model.ProtectedAddress, bool) {
	r.mu.RLock()
	e, ok := r.entries[makeKey(address, network)]
	r.mu.RUnlock()
	if !ok {
		return model.ProtectedAddress{}, false
	}
	return e.snapshot(), true
}

// List returns all protected addresses, optionally filtered by network
// (empty network means all).
func (r *Registry) List(network model.Network) []model.ProtectedAddress {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.ProtectedAddress, 0, len(r.entries))
	for k, e := range r.entries {
		if network != "" && k.network != network {
			continue
		}
		out = append(out, e.snapshot())
	}
	return out
}

// IncrementStats applies counter deltas for an address. Counters are
// monotonically non-decreasing; missing addresses are a no-op (the address
// may have been removed while a protection was in flight).
func (r *Registry) IncrementStats(address string, network model.Network, delta StatsDelta) {
	r.mu.RLock()
	e, ok := r.entries[makeKey(address, network)]
	r.mu.RUnlock()
	if !ok {
		return
	}
	if delta.TransactionsProtected > 0 {
		e.txProtected.Add(delta.TransactionsProtected)
	}
	if delta.ThreatsBlocked > 0 {
		e.threatsBlocked.Add(delta.ThreatsBlocked)
	}
	if delta.ValueProtectedUSD > 0 {
		e.addValueUSD(delta.ValueProtectedUSD)
	}
}
