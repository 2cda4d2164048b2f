// Package relay forwards transactions to a private submission channel so they
// never touch the public mempool. The engine's responsibility ends at the
// routing decision; actual inclusion is the relay operator's problem.
package relay

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/guardiavault-oss/Paradexx-sub007/internal/model"
	"github.com/guardiavault-oss/Paradexx-sub007/internal/retry"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"
)

const (
	defaultSubmitTimeout = 3 * time.Second
	defaultSubmitsPerSec = 50
)

// ErrNoRawPayload is returned when a transaction carries no signed payload;
// eth_sendPrivateTransaction takes the RLP-encoded signed bytes, which only
// the ingestion source can supply.
var ErrNoRawPayload = errors.New("transaction has no raw signed payload")

type (
	// Metrics records relay submission outcomes.
	Metrics interface {
		ObserveSubmit(network model.Network, err error, started time.Time)
	}

	// Submitter is the raw transport underneath the client, split out so
	// tests can stand in for the JSON-RPC endpoint.
	Submitter interface {
		CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
	}
)

// privateTxArgs is the eth_sendPrivateTransaction request shape.
type privateTxArgs struct {
	Tx             string `json:"tx"`
	MaxBlockNumber string `json:"maxBlockNumber,omitempty"`
	Preferences    struct {
		Fast bool `json:"fast"`
	} `json:"preferences"`
}

// Client submits transactions to a private relay endpoint with a per-call
// timeout and retry-once-then-report-failure semantics.
type Client struct {
	logger        *zap.Logger
	submitter     Submitter
	metrics       Metrics
	rl            ratelimit.Limiter
	submitTimeout time.Duration
}

// Dial connects to a relay JSON-RPC endpoint.
func Dial(ctx context.Context, endpoint string, metrics Metrics, logger *zap.Logger) (*Client, error) {
	rc, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	return NewClient(rc, metrics, logger), nil
}

// NewClient wraps an existing submitter.
func NewClient(submitter Submitter, metrics Metrics, logger *zap.Logger) *Client {
	return &Client{
		logger:        logger.Named("relay"),
		submitter:     submitter,
		metrics:       metrics,
		rl:            ratelimit.New(defaultSubmitsPerSec),
		submitTimeout: defaultSubmitTimeout,
	}
}

// Submit forwards tx to the private relay. One retry on failure, never more:
// the hot path must not stall behind a dead relay.
func (c *Client) Submit(ctx context.Context, tx model.Transaction) error {
	if tx.Raw == "" {
		return ErrNoRawPayload
	}

	c.rl.Take()

	started := time.Now()
	policy := retry.Policy{
		MaxAttempts: 2,
		BaseDelay:   100 * time.Millisecond,
		OnRetry: func(attempt int, wait time.Duration, err error) {
			c.logger.Warn("relay submit retrying",
				zap.String("network", string(tx.Network)),
				zap.String("hash", tx.Hash),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		},
	}

	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, c.submitTimeout)
		defer cancel()

		args := privateTxArgs{Tx: tx.Raw}
		args.Preferences.Fast = true

		var result string
		return c.submitter.CallContext(callCtx, &result, "eth_sendPrivateTransaction", args)
	})

	if c.metrics != nil {
		c.metrics.ObserveSubmit(tx.Network, err, started)
	}
	return err
}
