package amqp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"gigfin/internal/log"
)

// Circuit breaker states
const (
	StateClosed int32 = iota
	StateOpen
	StateHalfOpen
)

const (
	maxFailures    = 5
	openTimeout    = 30 * time.Second
	baseBackoff    = time.Second
	maxBackoff     = 30 * time.Second
	publishTimeout = 5 * time.Second
	prefetchCount  = 10

	// maxDeliveryAttempts bounds how often a failing message is handled
	// before it is parked in the dead-letter queue.
	maxDeliveryAttempts = 5
	attemptHeader       = "x-gigfin-attempt"
)

// retryDelay is how long a failed message waits before being republished.
var retryDelay = exponentialBackoff

var errDeliveriesClosed = errors.New("delivery channel closed")

// Client publishes and consumes entry-change events on a direct exchange.
// It reconnects lazily and stops publishing for a while after repeated
// failures so a broker outage does not slow down API requests.
type Client struct {
	url          string
	exchangeName string
	queueName    string

	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel

	state        int32
	failureCount int64
	lastFailure  time.Time

	logger *log.Logger
}

func NewClient(url, exchangeName, queueName string) (*Client, error) {
	c := &Client{
		url:          url,
		exchangeName: exchangeName,
		queueName:    queueName,
		logger:       log.WithComponent(log.ComponentAMQP),
	}
	if _, err := c.ensureChannel(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) getLogger() *log.Logger {
	if c.logger == nil {
		c.logger = log.WithComponent(log.ComponentAMQP)
	}
	return c.logger
}

// ensureChannel returns an open channel, dialing and declaring the
// topology first when needed.
func (c *Client) ensureChannel() (*amqp091.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel != nil && !c.channel.IsClosed() {
		return c.channel, nil
	}
	c.closeLocked()

	conn, err := amqp091.Dial(c.url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := declare(ch, c.exchangeName, c.queueName); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("setup exchange and queue: %w", err)
	}
	c.conn, c.channel = conn, ch
	return ch, nil
}

// deadLetterNames returns the exchange and queue that hold messages which
// kept failing.
func deadLetterNames(exchange, queue string) (string, string) {
	return exchange + ".dlx", queue + ".dead"
}

func declare(ch *amqp091.Channel, exchange, queue string) error {
	dlx, dead := deadLetterNames(exchange, queue)
	if err := ch.ExchangeDeclare(dlx, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead-letter exchange: %w", err)
	}
	if _, err := ch.QueueDeclare(dead, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead-letter queue: %w", err)
	}
	if err := ch.QueueBind(dead, dead, dlx, false, nil); err != nil {
		return fmt.Errorf("bind dead-letter queue: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	args := amqp091.Table{
		"x-dead-letter-exchange":    dlx,
		"x-dead-letter-routing-key": dead,
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	// The queue name doubles as the routing key.
	if err := ch.QueueBind(queue, queue, exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	return nil
}

// PublishEntryChanged sends msg as a persistent JSON message.
func (c *Client) PublishEntryChanged(ctx context.Context, msg *EntryChangedMessage) error {
	if c.isCircuitOpen() {
		return fmt.Errorf("circuit breaker is open, skipping publish")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	ch, err := c.ensureChannel()
	if err != nil {
		c.recordFailure()
		return err
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = ch.PublishWithContext(pubCtx, c.exchangeName, c.queueName, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    msg.Timestamp,
		Body:         body,
	})
	if err != nil {
		c.recordFailure()
		if isConnectionError(err) {
			c.reset()
		}
		return fmt.Errorf("publish message: %w", err)
	}
	c.recordSuccess()

	c.getLogger().DebugContext(ctx, "Published entry changed message",
		log.FieldUserID, msg.UserID,
		log.FieldEntity, msg.Entity,
		log.FieldAction, msg.Action,
		log.FieldEntityID, msg.EntityID)
	return nil
}

// Handler processes one message. Returning an error retries it with
// backoff until maxDeliveryAttempts, then dead-letters it.
type Handler func(context.Context, *EntryChangedMessage) error

// ConsumeEntryChanged delivers messages to handler until ctx is done,
// reconnecting with exponential backoff when the broker goes away.
func (c *Client) ConsumeEntryChanged(ctx context.Context, handler Handler) error {
	attempt := 0
	for {
		err := c.consume(ctx, handler, func() { attempt = 0 })
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil && !isConnectionError(err) && !errors.Is(err, errDeliveriesClosed) {
			return err
		}

		wait := exponentialBackoff(attempt)
		attempt++
		c.getLogger().WarnContext(ctx, "AMQP consumer disconnected, retrying",
			log.FieldError, err, "attempt", attempt, "backoff", wait.String())
		c.reset()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (c *Client) consume(ctx context.Context, handler Handler, connected func()) error {
	ch, err := c.ensureChannel()
	if err != nil {
		return err
	}
	if err := ch.Qos(prefetchCount, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	deliveries, err := ch.Consume(c.queueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}
	connected()
	c.getLogger().InfoContext(ctx, "Started consuming entry changed messages", "queue", c.queueName)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errDeliveriesClosed
			}
			c.handle(ctx, d, handler)
		}
	}
}

// acknowledger is the part of amqp091.Delivery handle needs.
type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func (c *Client) handle(ctx context.Context, d amqp091.Delivery, handler Handler) {
	dispatch(ctx, c.getLogger(), delivery{body: d.Body, attempt: attemptOf(d.Headers), ack: d}, handler, c.republish)
}

// delivery is one received message and how often it was handled before.
type delivery struct {
	body    []byte
	attempt int
	ack     acknowledger
}

// retryFunc puts body back on the queue, marked as failed attempt times.
type retryFunc func(ctx context.Context, body []byte, attempt int) error

// dispatch decodes the message and runs handler. Malformed messages go
// straight to the dead-letter queue. A failed message waits out a backoff
// and is republished with its attempt count raised; once it has failed
// maxDeliveryAttempts times it is dead-lettered instead.
func dispatch(ctx context.Context, logger *log.Logger, d delivery, handler Handler, retry retryFunc) {
	msg, err := EntryChangedMessageFromJSON(d.body)
	if err != nil {
		logger.ErrorContext(ctx, "Dead-lettering malformed message", log.FieldError, err)
		_ = d.ack.Nack(false, false)
		return
	}
	err = handler(ctx, msg)
	if err == nil {
		_ = d.ack.Ack(false)
		return
	}

	attempt := d.attempt + 1
	if attempt >= maxDeliveryAttempts {
		logger.ErrorContext(ctx, "Dead-lettering message after repeated failures",
			log.FieldError, err, log.FieldEntity, msg.Entity, log.FieldEntityID, msg.EntityID, "attempts", attempt)
		_ = d.ack.Nack(false, false)
		return
	}

	wait := retryDelay(d.attempt)
	logger.WarnContext(ctx, "Failed to handle message, retrying",
		log.FieldError, err, log.FieldEntity, msg.Entity, log.FieldEntityID, msg.EntityID,
		"attempt", attempt, "backoff", wait.String())
	select {
	case <-ctx.Done():
		_ = d.ack.Nack(false, true)
		return
	case <-time.After(wait):
	}

	if err := retry(ctx, d.body, attempt); err != nil {
		logger.WarnContext(ctx, "Republish failed, requeueing", log.FieldError, err)
		_ = d.ack.Nack(false, true)
		return
	}
	_ = d.ack.Ack(false)
}

// republish sends body back to the work queue carrying its attempt count.
func (c *Client) republish(ctx context.Context, body []byte, attempt int) error {
	ch, err := c.ensureChannel()
	if err != nil {
		return err
	}
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return ch.PublishWithContext(pubCtx, c.exchangeName, c.queueName, false, false, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		Timestamp:    time.Now(),
		Headers:      amqp091.Table{attemptHeader: int32(attempt)},
		Body:         body,
	})
}

// attemptOf reads the failed-attempt count a message carries.
func attemptOf(headers amqp091.Table) int {
	switch v := headers[attemptHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func (c *Client) isCircuitOpen() bool {
	switch atomic.LoadInt32(&c.state) {
	case StateOpen:
		c.mu.Lock()
		last := c.lastFailure
		c.mu.Unlock()
		if time.Since(last) > openTimeout {
			atomic.StoreInt32(&c.state, StateHalfOpen)
			return false
		}
		return true
	default:
		return false
	}
}

func (c *Client) recordSuccess() {
	atomic.StoreInt64(&c.failureCount, 0)
	atomic.StoreInt32(&c.state, StateClosed)
}

func (c *Client) recordFailure() {
	n := atomic.AddInt64(&c.failureCount, 1)
	c.mu.Lock()
	c.lastFailure = time.Now()
	c.mu.Unlock()
	if n >= maxFailures || atomic.LoadInt32(&c.state) == StateHalfOpen {
		atomic.StoreInt32(&c.state, StateOpen)
	}
}

// exponentialBackoff returns 1s, 2s, 4s, ... capped at 30s.
func exponentialBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 5 {
		return maxBackoff
	}
	return min(baseBackoff<<attempt, maxBackoff)
}

func isConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, amqp091.ErrClosed) {
		return true
	}
	msg := err.Error()
	for _, s := range []string{
		"connection refused",
		"connection closed",
		"connection reset",
		"EOF",
		"broken pipe",
		"use of closed network connection",
		"channel/connection is not open",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func (c *Client) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
	return nil
}
