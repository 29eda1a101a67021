// Package broker subscribes to the event streams monitors publish to an AMQP
// 0.9.1 topic exchange.
package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/mrd0ll4r/ipfs-tools/internal/monitoring"
)

// ErrStreamClosed is returned by Next once the broker stops delivering.
var ErrStreamClosed = errors.New("event stream closed")

const (
	defaultHeartbeat        = 10 * time.Second
	defaultHandshakeTimeout = 30 * time.Second
)

// Dialer opens subscriptions.
type Dialer struct {
	Heartbeat time.Duration
	// HandshakeTimeout bounds the TCP connect and the AMQP handshake.
	HandshakeTimeout time.Duration
	logger           *zap.Logger
}

// NewDialer returns a Dialer that logs to logger.
func NewDialer(logger *zap.Logger) *Dialer {
	return &Dialer{
		Heartbeat:        defaultHeartbeat,
		HandshakeTimeout: defaultHandshakeTimeout,
		logger:           logger.Named("broker"),
	}
}

// ctxDialer opens the raw connection for one Subscribe call and closes it when
// ctx ends before Subscribe is done.
type ctxDialer struct {
	ctx     context.Context
	timeout time.Duration

	mu   sync.Mutex
	conn net.Conn
}

func (d *ctxDialer) dial(network, addr string) (net.Conn, error) {
	nd := net.Dialer{Timeout: d.timeout}
	conn, err := nd.DialContext(d.ctx, network, addr)
	if err != nil {
		return nil, err
	}
	// amqp091 clears the deadline once the handshake completes.
	if err := conn.SetDeadline(time.Now().Add(d.timeout)); err != nil {
		conn.Close()
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.ctx.Err(); err != nil {
		conn.Close()
		return nil, err
	}
	d.conn = conn
	return conn, nil
}

func (d *ctxDialer) abort() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.conn != nil {
		d.conn.Close()
	}
}

// Subscription is a stream of event batches bound to a set of routing keys.
type Subscription struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	deliveries <-chan amqp.Delivery
	closed     <-chan *amqp.Error
	logger     *zap.Logger

	closeOnce sync.Once
	closeErr  error
}

// Subscribe connects to address, binds a private queue to keys on the
// monitoring exchange and starts consuming. Cancelling ctx aborts the
// connection until Subscribe returns.
func (d *Dialer) Subscribe(ctx context.Context, address string, keys []monitoring.RoutingKey) (*Subscription, error) {
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = defaultHandshakeTimeout
	}
	cd := &ctxDialer{ctx: ctx, timeout: timeout}
	stop := context.AfterFunc(ctx, cd.abort)
	defer stop()

	conn, err := amqp.DialConfig(address, amqp.Config{
		Heartbeat: d.Heartbeat,
		Locale:    "en_US",
		Dial:      cd.dial,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("connect to %s: %w", Redact(address), ctx.Err())
		}
		return nil, fmt.Errorf("connect to %s: %w", Redact(address), err)
	}

	sub, err := subscribe(conn, keys)
	if err == nil && ctx.Err() != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe at %s: %w", Redact(address), ctx.Err())
	}
	if err != nil {
		conn.Close()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("subscribe at %s: %w", Redact(address), ctx.Err())
		}
		return nil, err
	}
	sub.logger = d.logger.With(zap.String("amqp_server", Redact(address)))
	sub.logger.Debug("subscribed", zap.Stringers("routing_keys", keys))
	return sub, nil
}

func subscribe(conn *amqp.Connection, keys []monitoring.RoutingKey) (*Subscription, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(monitoring.ExchangeName, amqp.ExchangeTopic, false, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", monitoring.ExchangeName, err)
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return nil, fmt.Errorf("declare queue: %w", err)
	}
	for _, key := range keys {
		if err := ch.QueueBind(q.Name, key.String(), monitoring.ExchangeName, false, nil); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", q.Name, err)
	}

	return &Subscription{
		conn:       conn,
		ch:         ch,
		deliveries: deliveries,
		closed:     ch.NotifyClose(make(chan *amqp.Error, 1)),
	}, nil
}

// Next blocks until the next batch arrives, ctx is done or the stream ends.
// Deliveries that cannot be decoded are logged and skipped.
func (s *Subscription) Next(ctx context.Context) ([]monitoring.Event, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case d, ok := <-s.deliveries:
			if !ok {
				return nil, s.closeReason()
			}
			events, err := DecodePayload(d.Body, d.ContentEncoding)
			if err != nil {
				s.logger.Warn("dropping undecodable delivery",
					zap.String("routing_key", d.RoutingKey),
					zap.Int("size", len(d.Body)),
					zap.Error(err))
				continue
			}
			return events, nil
		}
	}
}

func (s *Subscription) closeReason() error {
	select {
	case amqpErr, ok := <-s.closed:
		if ok && amqpErr != nil {
			return fmt.Errorf("%w: %v", ErrStreamClosed, amqpErr)
		}
	default:
	}
	return ErrStreamClosed
}

// Close closes the channel and the connection. It is safe to call more than once.
func (s *Subscription) Close() error {
	s.closeOnce.Do(func() {
		chErr := s.ch.Close()
		connErr := s.conn.Close()
		if errors.Is(chErr, amqp.ErrClosed) {
			chErr = nil
		}
		if errors.Is(connErr, amqp.ErrClosed) {
			connErr = nil
		}
		s.closeErr = errors.Join(chErr, connErr)
	})
	return s.closeErr
}
