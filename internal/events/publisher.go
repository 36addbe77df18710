// Package events carries click events from the redirect resolver to the
// analytics aggregator over a durable RabbitMQ queue. Delivery is
// at-least-once: the aggregator acks only after the store write, so a
// crash between write and ack can replay a batch and overcount slightly.
// That trade-off is accepted; counters never move backwards.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/flashlink/shortener/internal/model"
	"github.com/flashlink/shortener/internal/observability"
)

// publishTimeout bounds a single broker publish so a slow broker cannot
// back the publisher goroutine up indefinitely.
const publishTimeout = 5 * time.Second

// Publisher hands click events to the queue without ever blocking the
// redirect path: Emit drops into a bounded channel and a single background
// goroutine does the broker I/O. On overflow the event is dropped and
// counted; redirect latency is never coupled to analytics durability.
type Publisher struct {
	ch      *amqp.Channel
	queue   string
	buf     chan model.ClickEvent
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewPublisher opens a channel, declares the durable click queue and
// returns a Publisher with the given buffer capacity. Run must be started
// for events to actually reach the broker.
func NewPublisher(conn *amqp.Connection, queue string, buffer int, logger *slog.Logger, metrics *observability.Metrics) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}

	if _, err := ch.QueueDeclare(
		queue,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	); err != nil {
		ch.Close()
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}
	if buffer <= 0 {
		buffer = 1
	}

	return &Publisher{
		ch:      ch,
		queue:   queue,
		buf:     make(chan model.ClickEvent, buffer),
		logger:  logger,
		metrics: metrics,
	}, nil
}

// Emit enqueues one click event. It never blocks: if the buffer is full
// the event is dropped and recorded as such.
func (p *Publisher) Emit(ev model.ClickEvent) {
	select {
	case p.buf <- ev:
	default:
		if p.metrics != nil {
			p.metrics.ClicksDropped.Add(context.Background(), 1)
		}
		p.logger.Warn("click event dropped, publish buffer full",
			slog.String("short_code", ev.ShortCode))
	}
}

// Run drains the buffer into the broker until ctx is cancelled. Events for
// the same code keep their arrival order: one goroutine, one FIFO queue.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			p.drain()
			return ctx.Err()
		case ev := <-p.buf:
			p.publish(ctx, ev)
		}
	}
}

// drain publishes whatever is still buffered at shutdown, with a fresh
// deadline detached from the cancelled run context.
func (p *Publisher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	for {
		select {
		case ev := <-p.buf:
			p.publish(ctx, ev)
		default:
			return
		}
	}
}

func (p *Publisher) publish(ctx context.Context, ev model.ClickEvent) {
	body, err := json.Marshal(ev)
	if err != nil {
		p.logger.Error("failed to encode click event",
			slog.String("event_id", ev.EventID), slog.String("error", err.Error()))
		return
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = p.ch.PublishWithContext(pubCtx,
		"",      // default exchange
		p.queue, // routing key
		false,   // mandatory
		false,   // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    ev.EventID,
			Timestamp:    ev.Timestamp,
			Body:         body,
		},
	)
	if err != nil {
		p.logger.Error("failed to publish click event",
			slog.String("event_id", ev.EventID), slog.String("error", err.Error()))
		return
	}

	if p.metrics != nil {
		p.metrics.ClicksPublished.Add(ctx, 1)
	}
}

// Close releases the underlying channel.
func (p *Publisher) Close() error {
	return p.ch.Close()
}
