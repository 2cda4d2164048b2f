package engine

import (
	"sync"

	"github.com/guardiavault-oss/Paradexx-sub007/internal/model"
)

// dedup remembers recently processed (network, hash) pairs so a transaction
// is classified at most once. Bounded FIFO eviction keeps memory flat.
type dedup struct {
	mu    sync.Mutex
	cap   int
	seen  map[dedupKey]struct{}
	order []dedupKey
	head  int
}

type dedupKey struct {
	network model.Network
	hash    string
}

func newDedup(capacity int) *dedup {
	return &dedup{
		cap:  capacity,
		seen: make(map[dedupKey]struct{}, capacity),
	}
}

// Seen marks the pair and reports whether it was already present.
func (d *dedup) Seen(network model.Network, hash string) bool {
	k := dedupKey{network: network, hash: hash}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[k]; ok {
		return true
	}
	d.seen[k] = struct{}{}
	d.order = append(d.order, k)

	if len(d.order)-d.head > d.cap {
		evict := d.order[d.head]
		d.head++
		delete(d.seen, evict)
		if d.head >= 4096 && d.head*2 >= len(d.order) {
			d.order = append(d.order[:0:0], d.order[d.head:]...)
			d.head = 0
		}
	}
	return false
}
