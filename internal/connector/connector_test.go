package connector

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/guardiavault-oss/Paradexx-sub007/internal/bus"
	"github.com/guardiavault-oss/Paradexx-sub007/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSource struct {
	batches [][]RawTransaction
	errs    []error
	calls   atomic.Int64
}

func (f *fakeSource) PendingTransactions(context.Context) ([]RawTransaction, error) {
	i := int(f.calls.Add(1)) - 1
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.batches) {
		return f.batches[i], nil
	}
	return nil, nil
}

func (f *fakeSource) Head(context.Context) (uint64, uint64, error) {
	return 123, 40_000_000_000, nil
}

func validRaw() RawTransaction {
	return RawTransaction{
		Hash:     "0x1111111111111111111111111111111111111111111111111111111111111111",
		From:     "0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D",
		To:       "0x000000000000000000000000000000000000dEaD",
		Value:    "1000",
		GasPrice: 30,
		GasLimit: 21_000,
		Input:    "0x",
	}
}

func newTestConnector(src Source, b *bus.Bus) *Connector {
	c := New("ethereum", src, b, nil, Config{
		PollInterval:  time.Millisecond,
		BackoffBase:   time.Millisecond,
		BackoffCap:    4 * time.Millisecond,
		DegradedAfter: 2,
		BufferSize:    16,
		PollsPerSec:   1000,
	}, zap.NewNop())
	c.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return c
}

func TestConnector_StreamsNormalizedTransactions(t *testing.T) {
	t.Parallel()

	src := &fakeSource{batches: [][]RawTransaction{{validRaw()}}}
	b := bus.New(zap.NewNop(), 8)
	c := newTestConnector(src, b)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case batch := <-c.Out():
		require.Len(t, batch, 1)
		assert.Equal(t, model.Network("ethereum"), batch[0].Network)
		assert.Equal(t, "0x7a250d5630b4cf539739df2c5dacb4c659f2488d", batch[0].From)
		assert.False(t, batch[0].Confirmed)
	case <-time.After(2 * time.Second):
		t.Fatal("no batch received")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, model.StatusDisconnected, c.Status().ConnectionStatus)
}

func TestConnector_DropsMalformed(t *testing.T) {
	t.Parallel()

	bad := validRaw()
	bad.From = "not-an-address"
	good := validRaw()

	src := &fakeSource{batches: [][]RawTransaction{{bad, good}}}
	b := bus.New(zap.NewNop(), 8)
	c := newTestConnector(src, b)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	select {
	case batch := <-c.Out():
		// Only the parseable transaction survives.
		require.Len(t, batch, 1)
		assert.Equal(t, good.Value, batch[0].Value)
	case <-time.After(2 * time.Second):
		t.Fatal("no batch received")
	}
	assert.Equal(t, uint64(1), c.MalformedDropped())
	assert.Equal(t, uint64(1), b.Snapshot()[model.Network("ethereum")].MalformedDropped)
}

func TestConnector_DegradedAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()

	boom := errors.New("connection refused")
	src := &fakeSource{errs: []error{boom, boom, boom, boom}}
	b := bus.New(zap.NewNop(), 8)
	stateEvents := b.Subscribe(bus.Filter{Types: []model.EventType{model.EventNetworkState}})
	defer stateEvents.Close()

	c := newTestConnector(src, b)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	require.Eventually(t, func() bool {
		return c.Status().ConnectionStatus == model.StatusDegraded
	}, 2*time.Second, time.Millisecond, "connector should report degraded")

	// The transition was published for dashboard consumers.
	select {
	case ev := <-stateEvents.Events():
		require.NotNil(t, ev.State)
		assert.Equal(t, model.StatusDegraded, ev.State.ConnectionStatus)
	case <-time.After(2 * time.Second):
		t.Fatal("no state event published")
	}

	// Reconnection attempts keep going after degradation.
	require.Eventually(t, func() bool {
		return src.calls.Load() > 4
	}, 2*time.Second, time.Millisecond, "connector should keep retrying")
}

func TestConnector_RecoversAfterFailures(t *testing.T) {
	t.Parallel()

	boom := errors.New("timeout")
	src := &fakeSource{
		errs:    []error{boom, boom},
		batches: [][]RawTransaction{nil, nil, {validRaw()}},
	}
	b := bus.New(zap.NewNop(), 8)
	c := newTestConnector(src, b)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	select {
	case <-c.Out():
	case <-time.After(2 * time.Second):
		t.Fatal("connector did not recover")
	}
	assert.Equal(t, model.StatusConnected, c.Status().ConnectionStatus)
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*RawTransaction)
		wantErr bool
	}{
		{name: "valid", mutate: func(*RawTransaction) {}},
		{name: "contract creation has empty to", mutate: func(r *RawTransaction) { r.To = "" }},
		{name: "empty value defaults to zero", mutate: func(r *RawTransaction) { r.Value = "" }},
		{name: "bad hash", mutate: func(r *RawTransaction) { r.Hash = "0x123" }, wantErr: true},
		{name: "bad from", mutate: func(r *RawTransaction) { r.From = "0xzz" }, wantErr: true},
		{name: "bad to", mutate: func(r *RawTransaction) { r.To = "bogus" }, wantErr: true},
		{name: "bad value", mutate: func(r *RawTransaction) { r.Value = "12.5e3" }, wantErr: true},
		{name: "bad calldata", mutate: func(r *RawTransaction) { r.Input = "0xZZ" }, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			raw := validRaw()
			tt.mutate(&raw)

			tx, err := normalize(raw, "ethereum")
			if tt.wantErr {
				assert.ErrorIs(t, err, errMalformed)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, model.Network("ethereum"), tx.Network)
			assert.NotZero(t, tx.FirstSeenAt)
		})
	}
}

func TestConnector_KeepsPollBatchTogether(t *testing.T) {
	t.Parallel()

	first := validRaw()
	second := validRaw()
	second.Hash = "0x2222222222222222222222222222222222222222222222222222222222222222"

	src := &fakeSource{batches: [][]RawTransaction{{first, second}}}
	b := bus.New(zap.NewNop(), 8)
	c := newTestConnector(src, b)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	select {
	case batch := <-c.Out():
		// Both transactions from the same poll arrive as one batch, in
		// observation order.
		require.Len(t, batch, 2)
		assert.Equal(t, first.Hash, batch[0].Hash)
		assert.Equal(t, second.Hash, batch[1].Hash)
		assert.False(t, batch[1].FirstSeenAt.Before(batch[0].FirstSeenAt))
	case <-time.After(2 * time.Second):
		t.Fatal("no batch received")
	}
}
