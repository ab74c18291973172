package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/democracy-chain/dcindex/internal/core/domain"
	"github.com/democracy-chain/dcindex/internal/core/ports/driven"
	"github.com/democracy-chain/dcindex/internal/core/ports/driving"
	"github.com/democracy-chain/dcindex/internal/events"
	"github.com/democracy-chain/dcindex/internal/logger"
)

// Ensure Consumer implements the interface.
var _ driving.ConsumerService = (*Consumer)(nil)

// errConnectionLost signals a delivery channel closed by the broker.
var errConnectionLost = errors.New("queue connection lost")

// ConsumerConfig bounds connection retries and outage back-off.
type ConsumerConfig struct {
	ConnectAttempts  int
	ConnectDelay     time.Duration
	ReconnectDelay   time.Duration
	OutageBackoff    time.Duration
	MaxOutageBackoff time.Duration
}

// ConsumerConfigFrom derives the consumer configuration from settings.
func ConsumerConfigFrom(s *domain.AppSettings) ConsumerConfig {
	return ConsumerConfig{
		ConnectAttempts:  s.Queue.ConnectAttempts,
		ConnectDelay:     s.Queue.ConnectDelay,
		ReconnectDelay:   s.Queue.ReconnectDelay,
		OutageBackoff:    s.Ingestion.OutageBackoff,
		MaxOutageBackoff: s.Ingestion.MaxOutageBackoff,
	}
}

// Consumer is the queue worker: one message at a time, acknowledged only
// after every item in it has been attempted.
type Consumer struct {
	connector driven.QueueConnector
	ingestion driving.IngestionService
	cfg       ConsumerConfig

	// backoff is the pause applied after the next outage batch.
	backoff time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

// NewConsumer creates a new queue consumer.
func NewConsumer(connector driven.QueueConnector, ingestion driving.IngestionService, cfg ConsumerConfig) *Consumer {
	if cfg.ConnectAttempts < 1 {
		cfg.ConnectAttempts = 1
	}
	if cfg.MaxOutageBackoff < cfg.OutageBackoff {
		cfg.MaxOutageBackoff = cfg.OutageBackoff
	}
	return &Consumer{
		connector: connector,
		ingestion: ingestion,
		cfg:       cfg,
		backoff:   cfg.OutageBackoff,
		sleep:     sleepContext,
	}
}

// Run consumes until ctx is cancelled. Only the startup connection is
// fatal; a connection lost later is re-established indefinitely.
func (c *Consumer) Run(ctx context.Context) error {
	session, err := c.connect(ctx)
	if err != nil {
		return err
	}

	for {
		err := c.consume(ctx, session)
		if cerr := session.Close(); cerr != nil {
			logger.Debug("close queue session: %v", cerr)
		}
		if ctx.Err() != nil {
			logger.Info("consumer stopped")
			return nil
		}
		logger.Warn("%v, reconnecting in %s", err, c.cfg.ReconnectDelay)

		session, err = c.reconnect(ctx)
		if err != nil {
			logger.Info("consumer stopped")
			return nil
		}
	}
}

// connect makes the bounded startup attempts.
func (c *Consumer) connect(ctx context.Context) (driven.QueueSession, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.ConnectAttempts; attempt++ {
		session, err := c.connector.Connect(ctx)
		if err == nil {
			logger.Info("connected to queue")
			return session, nil
		}
		lastErr = err
		logger.Warn("queue not ready (attempt %d/%d): %v", attempt, c.cfg.ConnectAttempts, err)

		if attempt == c.cfg.ConnectAttempts {
			break
		}
		if err := c.sleep(ctx, c.cfg.ConnectDelay); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: gave up after %d attempts: %w",
		domain.ErrQueueUnavailable, c.cfg.ConnectAttempts, lastErr)
}

// reconnect retries until a session opens or ctx ends.
func (c *Consumer) reconnect(ctx context.Context) (driven.QueueSession, error) {
	for {
		if err := c.sleep(ctx, c.cfg.ReconnectDelay); err != nil {
			return nil, err
		}
		session, err := c.connector.Connect(ctx)
		if err == nil {
			logger.Info("reconnected to queue")
			return session, nil
		}
		logger.Warn("reconnect failed: %v", err)
	}
}

// consume handles deliveries until the channel closes or ctx ends.
func (c *Consumer) consume(ctx context.Context, session driven.QueueSession) error {
	deliveries, err := session.Deliveries(ctx)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errConnectionLost
			}
			c.handle(ctx, d)
		}
	}
}

// handle processes one delivery and settles it with the broker.
func (c *Consumer) handle(ctx context.Context, d driven.Delivery) {
	event, err := events.Decode(d.Body)
	if err != nil {
		logger.Error("discarding undecodable message: %v", err)
		if rerr := d.Reject(false); rerr != nil {
			logger.Warn("reject message: %v", rerr)
		}
		return
	}
	if d.Redelivered {
		logger.Info("processing redelivered message (%d adds, %d removes)", len(event.Add), len(event.Remove))
	}

	result := c.ingestion.HandleEvent(ctx, event)

	if ctx.Err() != nil {
		logger.Warn("shutdown interrupted a batch, returning message to the queue")
		if rerr := d.Reject(true); rerr != nil {
			logger.Warn("requeue message: %v", rerr)
		}
		return
	}
	if err := d.Ack(); err != nil {
		logger.Warn("ack message: %v", err)
	}

	if result.EmbeddingOutage() {
		logger.Warn("embedding service unavailable for every file, pausing %s", c.backoff)
		_ = c.sleep(ctx, c.backoff)
		c.backoff = min(c.backoff*2, c.cfg.MaxOutageBackoff)
		return
	}
	c.backoff = c.cfg.OutageBackoff
}

// Publisher sends events through the queue.
type Publisher struct {
	connector driven.QueueConnector
}

// Ensure Publisher implements the interface.
var _ driving.PublisherService = (*Publisher)(nil)

// NewPublisher creates a new event publisher.
func NewPublisher(connector driven.QueueConnector) *Publisher {
	return &Publisher{connector: connector}
}

// Publish encodes event and sends it on a short-lived session.
func (p *Publisher) Publish(ctx context.Context, event domain.IngestEvent) error {
	body, err := events.Encode(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	session, err := p.connector.Connect(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrQueueUnavailable, err)
	}
	defer session.Close()

	if err := session.Publish(ctx, body); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	logger.Debug("published %d adds, %d removes", len(event.Add), len(event.Remove))
	return nil
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
