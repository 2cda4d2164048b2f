// Package engine runs the per-network processing pipelines: connector feed ->
// classification -> protection -> statistics publication. One pipeline
// goroutine per network keeps that network's transactions strictly in arrival
// order; there is no ordering across networks.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/guardiavault-oss/Paradexx-sub007/internal/bus"
	"github.com/guardiavault-oss/Paradexx-sub007/internal/classifier"
	"github.com/guardiavault-oss/Paradexx-sub007/internal/model"
	"github.com/guardiavault-oss/Paradexx-sub007/pkg/workerpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const dedupCapacity = 16_384

type (
	// Feed is one network's transaction stream, owned by its chain
	// connector. Each element is one poll's worth of transactions in
	// observation order; keeping the poll together lets the classifier see a
	// victim's surrounding batch, not just what arrived before it.
	Feed interface {
		Run(ctx context.Context) error
		Out() <-chan []model.Transaction
		Status() model.NetworkState
	}

	// Classifier scores transactions against the attack patterns.
	Classifier interface {
		Classify(tx model.Transaction, window []model.Transaction) []model.ThreatDetection
		MarkAttackers(addrs ...string)
	}

	// Registry matches transaction endpoints against protected addresses.
	Registry interface {
		Match(address string, network model.Network) (model.ProtectedAddress, bool)
	}

	// Protector applies a mitigation for a classified transaction.
	Protector interface {
		Protect(ctx context.Context, tx model.Transaction, detections []model.ThreatDetection, addr model.ProtectedAddress) model.ProtectionResult
	}

	// Metrics records pipeline observations.
	Metrics interface {
		ObserveClassify(network model.Network, detections []model.ThreatDetection, started time.Time)
	}
)

// Engine owns the pipelines for all configured networks.
type Engine struct {
	logger     *zap.Logger
	bus        *bus.Bus
	classifier Classifier
	registry   Registry
	protector  Protector
	metrics    Metrics
	window     *classifier.Window

	feeds map[model.Network]Feed
	seen  *dedup
}

// New constructs an Engine over the given per-network feeds.
func New(
	feeds map[model.Network]Feed,
	cls Classifier,
	reg Registry,
	prot Protector,
	b *bus.Bus,
	window *classifier.Window,
	metrics Metrics,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		logger:     logger.Named("engine"),
		bus:        b,
		classifier: cls,
		registry:   reg,
		protector:  prot,
		metrics:    metrics,
		window:     window,
		feeds:      feeds,
		seen:       newDedup(dedupCapacity),
	}
}

// Run blocks until ctx is canceled, running one pipeline per network. In-flight
// transactions already handed off by a connector are drained before exit.
func (e *Engine) Run(ctx context.Context) error {
	networks := make([]model.Network, 0, len(e.feeds))
	for n := range e.feeds {
		networks = append(networks, n)
	}
	e.logger.Info("starting pipelines", zap.Int("networks", len(networks)))

	err := workerpool.Process(ctx, len(networks), networks, e.runNetwork)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Status reports every network's connection state.
func (e *Engine) Status() map[model.Network]model.NetworkState {
	out := make(map[model.Network]model.NetworkState, len(e.feeds))
	for n, f := range e.feeds {
		out[n] = f.Status()
	}
	return out
}

func (e *Engine) runNetwork(ctx context.Context, network model.Network) error {
	feed := e.feeds[network]
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return feed.Run(gctx)
	})
	g.Go(func() error {
		// The feed closes Out when it stops; finishing the remaining
		// buffered batches is the shutdown drain.
		for batch := range feed.Out() {
			e.processBatch(gctx, batch)
		}
		return nil
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// processBatch handles one poll's batch on its network's single pipeline
// goroutine, so ordering within the network is preserved. The whole batch
// enters the window before any member is classified; sandwich, frontrun and
// backrun checks need the legs observed after the victim, and those legs
// arrive in the same poll.
func (e *Engine) processBatch(ctx context.Context, batch []model.Transaction) {
	fresh := make([]model.Transaction, 0, len(batch))
	for _, tx := range batch {
		if e.seen.Seen(tx.Network, tx.Hash) {
			continue
		}
		e.window.Add(tx)
		fresh = append(fresh, tx)
	}
	for i := range fresh {
		e.process(ctx, fresh[i])
	}
}

// process runs classification, protection and publication for one
// transaction. Failures are isolated per transaction.
func (e *Engine) process(ctx context.Context, tx model.Transaction) {
	e.bus.CountObserved(tx.Network)
	e.bus.Publish(model.Event{
		Type:    model.EventTransactionObserved,
		Network: tx.Network,
		Tx:      &tx,
	})

	window := e.window.Snapshot(tx.Network, tx.Hash)

	started := time.Now()
	detections := e.classifier.Classify(tx, window)
	if e.metrics != nil {
		e.metrics.ObserveClassify(tx.Network, detections, started)
	}

	for i := range detections {
		d := detections[i]
		e.bus.CountThreat(tx.Network, d.Type)
		e.classifier.MarkAttackers(d.InvolvedAddresses...)
		e.bus.Publish(model.Event{
			Type:      model.EventThreatDetected,
			Network:   tx.Network,
			Detection: &d,
		})
	}

	addr, ok := e.registry.Match(tx.To, tx.Network)
	if !ok {
		addr, ok = e.registry.Match(tx.From, tx.Network)
	}
	if !ok {
		// PassThrough: no protected address involved.
		return
	}

	result := e.protector.Protect(ctx, tx, detections, addr)
	if result.Success && result.StrategyApplied != model.StrategyNone {
		e.bus.CountProtection(tx.Network, result.ValueProtected)
	}
	e.bus.Publish(model.Event{
		Type:       model.EventProtectionApplied,
		Network:    tx.Network,
		Protection: &result,
	})
}
