package classifier

import (
	"sync"
	"time"

	"github.com/guardiavault-oss/Paradexx-sub007/internal/model"
)

const defaultWindowCap = 512

// Window buffers recent pending transactions per network so cross-transaction
// patterns (sandwich, frontrun, backrun) can see their neighbors. Entries
// older than the span are pruned on every Add.
type Window struct {
	mu   sync.Mutex
	span time.Duration
	cap  int
	byNw map[model.Network][]model.Transaction
}

// NewWindow builds a Window covering span of recent transactions.
func NewWindow(span time.Duration) *Window {
	if span <= 0 {
		span = 2 * time.Second
	}
	return &Window{
		span: span,
		cap:  defaultWindowCap,
		byNw: make(map[model.Network][]model.Transaction),
	}
}

// Add records tx and prunes entries that fell out of the span.
func (w *Window) Add(tx model.Transaction) {
	w.mu.Lock()
	defer w.mu.Unlock()

	buf := append(w.byNw[tx.Network], tx)
	cutoff := tx.FirstSeenAt.Add(-w.span)

	start := 0
	for start < len(buf) && buf[start].FirstSeenAt.Before(cutoff) {
		start++
	}
	if over := len(buf) - start - w.cap; over > 0 {
		start += over
	}
	if start > 0 {
		buf = append(buf[:0:0], buf[start:]...)
	}
	w.byNw[tx.Network] = buf
}

// Snapshot returns a copy of the network's buffered transactions, excluding
// the one identified by hash.
func (w *Window) Snapshot(network model.Network, excludeHash string) []model.Transaction {
	w.mu.Lock()
	defer w.mu.Unlock()

	buf := w.byNw[network]
	out := make([]model.Transaction, 0, len(buf))
	for _, tx := range buf {
		if tx.Hash == excludeHash {
			continue
		}
		out = append(out, tx)
	}
	return out
}
