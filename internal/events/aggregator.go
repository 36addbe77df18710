package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/flashlink/shortener/internal/model"
	"github.com/flashlink/shortener/internal/observability"
)

// flushTimeout bounds one batched store write. It is independent of any
// redirect request: the aggregator owns its own deadlines.
const flushTimeout = 10 * time.Second

// ClickStore is the slice of the repository the aggregator needs.
type ClickStore interface {
	ApplyClicks(ctx context.Context, rollups []model.ClickRollup) error
}

// Aggregator consumes click events and folds them into per-code counter
// updates. Batching is the throughput lever: a flush happens when either
// maxBatch events have accumulated or flushInterval has elapsed. Acks are
// sent only after the store write, giving at-least-once semantics; a
// redelivered batch can overcount, which is the documented trade-off.
type Aggregator struct {
	ch            *amqp.Channel
	store         ClickStore
	queue         string
	maxBatch      int
	flushInterval time.Duration
	logger        *slog.Logger
	metrics       *observability.Metrics
}

// NewAggregator opens a consumer channel on the durable click queue.
func NewAggregator(conn *amqp.Connection, store ClickStore, queue string, maxBatch int, flushInterval time.Duration, logger *slog.Logger, metrics *observability.Metrics) (*Aggregator, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}

	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, err
	}

	// Cap in-flight deliveries at one batch so the broker backpressures
	// instead of flooding a slow consumer.
	if err := ch.Qos(maxBatch, 0, false); err != nil {
		ch.Close()
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Aggregator{
		ch:            ch,
		store:         store,
		queue:         queue,
		maxBatch:      maxBatch,
		flushInterval: flushInterval,
		logger:        logger,
		metrics:       metrics,
	}, nil
}

// Run consumes until ctx is cancelled, flushing a final partial batch on
// the way out. A single consumer per queue keeps events for one code in
// arrival order, which keeps last_redirect_at monotonic.
func (a *Aggregator) Run(ctx context.Context) error {
	deliveries, err := a.ch.Consume(
		a.queue,
		"",    // consumer tag, server-generated
		false, // manual acks
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,
	)
	if err != nil {
		return fmt.Errorf("consume %s: %w", a.queue, err)
	}

	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	pending := make(map[string]*model.ClickRollup)
	var pendingCount int
	var lastTag uint64

	flush := func() {
		if pendingCount == 0 {
			return
		}
		rollups := make([]model.ClickRollup, 0, len(pending))
		for _, ru := range pending {
			rollups = append(rollups, *ru)
		}

		flushCtx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		err := a.store.ApplyClicks(flushCtx, rollups)
		cancel()

		if err != nil {
			a.logger.Error("failed to apply click batch, requeueing",
				slog.Int("events", pendingCount), slog.String("error", err.Error()))
			// Requeue everything up to the last tag; redelivery may
			// overcount but never undercounts.
			if nerr := a.ch.Nack(lastTag, true, true); nerr != nil {
				a.logger.Error("nack failed", slog.String("error", nerr.Error()))
			}
		} else {
			if a.metrics != nil {
				a.metrics.ClicksApplied.Add(context.Background(), int64(pendingCount))
			}
			if aerr := a.ch.Ack(lastTag, true); aerr != nil {
				a.logger.Error("ack failed", slog.String("error", aerr.Error()))
			}
		}

		pending = make(map[string]*model.ClickRollup)
		pendingCount = 0
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return ctx.Err()
		case <-ticker.C:
			flush()
		case d, ok := <-deliveries:
			if !ok {
				flush()
				return fmt.Errorf("delivery channel closed for %s", a.queue)
			}

			var ev model.ClickEvent
			if err := json.Unmarshal(d.Body, &ev); err != nil || ev.ShortCode == "" {
				// Malformed payloads are acked and dropped; requeueing
				// them would just poison the queue.
				a.logger.Warn("discarding malformed click event",
					slog.String("message_id", d.MessageId))
				if aerr := a.ch.Ack(d.DeliveryTag, false); aerr != nil {
					a.logger.Error("ack failed", slog.String("error", aerr.Error()))
				}
				continue
			}

			ru, exists := pending[ev.ShortCode]
			if !exists {
				ru = &model.ClickRollup{ShortCode: ev.ShortCode}
				pending[ev.ShortCode] = ru
			}
			ru.Count++
			if ev.Timestamp.After(ru.LastAt) {
				ru.LastAt = ev.Timestamp
			}
			pendingCount++
			lastTag = d.DeliveryTag

			if pendingCount >= a.maxBatch {
				flush()
			}
		}
	}
}

// Close releases the underlying channel.
func (a *Aggregator) Close() error {
	return a.ch.Close()
}
