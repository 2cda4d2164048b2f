// Package sink forwards the append-only audit stream (detections, protection
// results, observed transactions, state changes) across the persistence
// boundary. The engine does not own the store; it only ships event shapes.
package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/guardiavault-oss/Paradexx-sub007/internal/bus"
	"github.com/guardiavault-oss/Paradexx-sub007/internal/model"
	"github.com/guardiavault-oss/Paradexx-sub007/pkg/batcher"
	"go.uber.org/zap"
)

const (
	defaultFlushSize     = 100
	defaultFlushInterval = 2 * time.Second
	defaultFlushRPS      = 10
)

// EventWriter is the external store boundary.
type EventWriter interface {
	WriteEvents(ctx context.Context, events []model.Event) error
}

// Sink drains a bus subscription into batched writes.
type Sink struct {
	logger  *zap.Logger
	sub     *bus.Subscription
	batcher *batcher.Batcher[model.Event]
}

// New subscribes to all audit-relevant events on b and batches them into
// writer.
func New(b *bus.Bus, writer EventWriter, logger *zap.Logger) *Sink {
	logger = logger.Named("sink")
	sub := b.Subscribe(bus.Filter{Types: []model.EventType{
		model.EventThreatDetected,
		model.EventProtectionApplied,
		model.EventTransactionObserved,
		model.EventNetworkState,
	}})

	return &Sink{
		logger: logger,
		sub:    sub,
		batcher: batcher.New[model.Event](
			logger,
			writer.WriteEvents,
			defaultFlushSize,
			defaultFlushInterval,
			defaultFlushRPS,
		),
	}
}

// Run pumps events until ctx is canceled, then drains what the subscription
// still buffers and flushes the batcher.
func (s *Sink) Run(ctx context.Context) error {
	s.batcher.Start(context.Background())
	defer s.batcher.Stop()

	drain := func() {
		s.sub.Close()
		for ev := range s.sub.Events() {
			_ = s.batcher.Add(context.Background(), ev)
		}
	}

	for {
		select {
		case <-ctx.Done():
			drain()
			return nil
		case ev, ok := <-s.sub.Events():
			if !ok {
				return nil
			}
			if err := s.batcher.Add(ctx, ev); err != nil {
				// Cancellation raced the receive; the event in hand still
				// goes out with the rest of the drain.
				_ = s.batcher.Add(context.Background(), ev)
				drain()
				return nil
			}
		}
	}
}

// HTTPWriter posts event batches as JSON to an external collector endpoint.
type HTTPWriter struct {
	client   *http.Client
	endpoint string
}

// NewHTTPWriter builds an HTTPWriter for endpoint.
func NewHTTPWriter(endpoint string, timeout time.Duration) *HTTPWriter {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPWriter{
		client:   &http.Client{Timeout: timeout},
		endpoint: endpoint,
	}
}

// WriteEvents ships one batch.
func (w *HTTPWriter) WriteEvents(ctx context.Context, events []model.Event) error {
	body, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("marshal events: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("event collector returned %s", resp.Status)
	}
	return nil
}
