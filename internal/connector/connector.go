// Package connector maintains the pending-transaction feed for one network.
// Each Connector is the single writer of its NetworkState; everyone else
// reads snapshots.
package connector

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/guardiavault-oss/Paradexx-sub007/internal/bus"
	"github.com/guardiavault-oss/Paradexx-sub007/internal/clock"
	"github.com/guardiavault-oss/Paradexx-sub007/internal/model"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"
)

const (
	defaultPollInterval  = 500 * time.Millisecond
	defaultBackoffBase   = 1 * time.Second
	defaultBackoffCap    = 30 * time.Second
	defaultDegradedAfter = 3
	defaultBufferSize    = 1024
	defaultPollsPerSec   = 10

	// Head (block number, gas price) is refreshed every headEvery polls.
	headEvery = 10
)

type (
	// RawTransaction is a provider payload before normalization.
	RawTransaction struct {
		Hash        string
		From        string
		To          string
		Value       string
		GasPrice    uint64
		GasLimit    uint64
		Nonce       uint64
		Input       string
		Raw         string
		BlockNumber *uint64
	}

	// Source is the provider-specific transport underneath a Connector.
	Source interface {
		PendingTransactions(ctx context.Context) ([]RawTransaction, error)
		Head(ctx context.Context) (blockNumber, gasPrice uint64, err error)
	}

	// Metrics records connector-level observations.
	Metrics interface {
		ObservePoll(network model.Network, txs int, err error, started time.Time)
		ObserveMalformed(network model.Network)
		ObserveStatus(network model.Network, status model.ConnectionStatus)
	}
)

// Config tunes a Connector.
type Config struct {
	PollInterval  time.Duration
	BackoffBase   time.Duration
	BackoffCap    time.Duration
	DegradedAfter int
	BufferSize    int
	PollsPerSec   int
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 || c.PollInterval > time.Second {
		c.PollInterval = defaultPollInterval
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = defaultBackoffBase
	}
	if c.BackoffCap <= 0 {
		c.BackoffCap = defaultBackoffCap
	}
	if c.DegradedAfter <= 0 {
		c.DegradedAfter = defaultDegradedAfter
	}
	if c.BufferSize <= 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.PollsPerSec <= 0 {
		c.PollsPerSec = defaultPollsPerSec
	}
	return c
}

// Connector polls a network's pending-transaction source, normalizes payloads
// and owns the network's connection state. On failure it backs off
// exponentially (with jitter) and retries indefinitely.
type Connector struct {
	logger  *zap.Logger
	network model.Network
	source  Source
	bus     *bus.Bus
	metrics Metrics
	cfg     Config

	rl    ratelimit.Limiter
	sleep func(context.Context, time.Duration) error

	out chan []model.Transaction

	stateMu sync.RWMutex
	state   model.NetworkState

	malformed atomic.Uint64
}

// New constructs a Connector for one network.
func New(network model.Network, source Source, b *bus.Bus, metrics Metrics, cfg Config, logger *zap.Logger) *Connector {
	cfg = cfg.withDefaults()
	return &Connector{
		logger:  logger.Named("connector").With(zap.String("network", string(network))),
		network: network,
		source:  source,
		bus:     b,
		metrics: metrics,
		cfg:     cfg,
		rl:      ratelimit.New(cfg.PollsPerSec),
		sleep:   clock.SleepWithContext,
		out:     make(chan []model.Transaction, cfg.BufferSize),
		state: model.NetworkState{
			Network:          network,
			ConnectionStatus: model.StatusDisconnected,
			LastUpdatedAt:    time.Now(),
		},
	}
}

// Out streams one batch of normalized transactions per poll, in observation
// order. Batches stay intact so downstream classification sees every
// transaction from the same poll at once. Closed when Run returns.
func (c *Connector) Out() <-chan []model.Transaction { return c.out }

// Status returns a snapshot of the network state.
func (c *Connector) Status() model.NetworkState {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// MalformedDropped reports how many unparseable payloads were discarded.
func (c *Connector) MalformedDropped() uint64 { return c.malformed.Load() }

// Run polls until ctx is canceled. The returned error is always the context's.
func (c *Connector) Run(ctx context.Context) error {
	defer close(c.out)
	defer c.setStatus(model.StatusDisconnected, 0)

	failures := 0
	polls := 0
	backoff := c.cfg.BackoffBase

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		c.rl.Take()
		started := time.Now()
		raws, err := c.source.PendingTransactions(ctx)
		latency := time.Since(started)
		if c.metrics != nil {
			c.metrics.ObservePoll(c.network, len(raws), err, started)
		}

		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			if failures >= c.cfg.DegradedAfter {
				c.setStatus(model.StatusDegraded, latency.Milliseconds())
			}
			c.logger.Warn("pending transaction poll failed, backing off",
				zap.Error(err),
				zap.Int("consecutiveFailures", failures),
				zap.Duration("backoff", backoff),
			)
			if sleepErr := c.sleep(ctx, clock.Jitter(backoff)); sleepErr != nil {
				return sleepErr
			}
			backoff *= 2
			if backoff > c.cfg.BackoffCap {
				backoff = c.cfg.BackoffCap
			}
			continue
		}

		failures = 0
		backoff = c.cfg.BackoffBase
		c.setStatus(model.StatusConnected, latency.Milliseconds())

		polls++
		if polls%headEvery == 1 {
			c.refreshHead(ctx)
		}

		batch := make([]model.Transaction, 0, len(raws))
		for _, raw := range raws {
			tx, err := normalize(raw, c.network)
			if err != nil {
				c.malformed.Add(1)
				c.bus.CountMalformed(c.network)
				if c.metrics != nil {
					c.metrics.ObserveMalformed(c.network)
				}
				c.logger.Debug("dropping malformed transaction", zap.String("hash", raw.Hash), zap.Error(err))
				continue
			}
			batch = append(batch, tx)
		}
		if len(batch) > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case c.out <- batch:
			}
		}

		if err := c.sleep(ctx, c.cfg.PollInterval); err != nil {
			return err
		}
	}
}

func (c *Connector) refreshHead(ctx context.Context) {
	block, gasPrice, err := c.source.Head(ctx)
	if err != nil {
		c.logger.Debug("head refresh failed", zap.Error(err))
		return
	}
	c.stateMu.Lock()
	c.state.LastBlockNumber = block
	c.state.CurrentGasPrice = gasPrice
	c.state.LastUpdatedAt = time.Now()
	c.stateMu.Unlock()
}

// setStatus updates connection state and publishes the transition to the bus.
func (c *Connector) setStatus(status model.ConnectionStatus, latencyMs int64) {
	c.stateMu.Lock()
	changed := c.state.ConnectionStatus != status
	c.state.ConnectionStatus = status
	c.state.LatencyMs = latencyMs
	c.state.LastUpdatedAt = time.Now()
	snapshot := c.state
	c.stateMu.Unlock()

	if !changed {
		return
	}
	if c.metrics != nil {
		c.metrics.ObserveStatus(c.network, status)
	}
	c.logger.Info("connection status changed", zap.String("status", string(status)))
	c.bus.Publish(model.Event{
		Type:    model.EventNetworkState,
		Network: c.network,
		State:   &snapshot,
	})
}
