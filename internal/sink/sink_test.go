package sink

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/guardiavault-oss/Paradexx-sub007/internal/bus"
	"github.com/guardiavault-oss/Paradexx-sub007/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type captureWriter struct {
	mu     sync.Mutex
	events []model.Event
}

func (c *captureWriter) WriteEvents(_ context.Context, events []model.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, events...)
	return nil
}

func (c *captureWriter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

func TestSink_ForwardsAndFlushesOnShutdown(t *testing.T) {
	t.Parallel()

	b := bus.New(zap.NewNop(), 64)
	writer := &captureWriter{}
	s := New(b, writer, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	for i := 0; i < 5; i++ {
		b.Publish(model.Event{
			Type:      model.EventThreatDetected,
			Network:   "ethereum",
			Detection: &model.ThreatDetection{Type: model.ThreatSandwich},
		})
	}

	// Shutdown must drain buffered events into a final flush.
	time.Sleep(10 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, 5, writer.count())
}

func TestHTTPWriter_PostsBatch(t *testing.T) {
	t.Parallel()

	var got []model.Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	w := NewHTTPWriter(srv.URL, time.Second)
	events := []model.Event{{Type: model.EventNetworkState, Network: "ethereum"}}
	require.NoError(t, w.WriteEvents(context.Background(), events))
	require.Len(t, got, 1)
	assert.Equal(t, model.EventNetworkState, got[0].Type)
}

func TestHTTPWriter_ErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	w := NewHTTPWriter(srv.URL, time.Second)
	assert.Error(t, w.WriteEvents(context.Background(), nil))
}

// Cancellation can land between receiving an event and handing it to the
// batcher; the event in hand and everything still buffered must survive
// shutdown regardless of which branch the race takes.
func TestSink_ShutdownIsLosslessForAcceptedEvents(t *testing.T) {
	t.Parallel()

	for i := 0; i < 20; i++ {
		b := bus.New(zap.NewNop(), 64)
		writer := &captureWriter{}
		s := New(b, writer, zap.NewNop())

		for j := 0; j < 5; j++ {
			b.Publish(model.Event{
				Type:      model.EventThreatDetected,
				Network:   "ethereum",
				Detection: &model.ThreatDetection{Type: model.ThreatFrontrun},
			})
		}

		// Run starts with cancellation already pending, so the loop may pick
		// either the ctx branch or an event receive first.
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		require.NoError(t, s.Run(ctx))

		require.Equal(t, 5, writer.count(), "iteration %d dropped events", i)
	}
}
