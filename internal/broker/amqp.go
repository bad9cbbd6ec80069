// Package broker mirrors dispatch events onto a RabbitMQ topic exchange for
// downstream consumers such as analytics.
package broker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

var errNotConnected = errors.New("amqp channel not connected")

// Publisher is a dispatch transport that publishes every event to a durable
// topic exchange. The routing key is the topic with ':' replaced by '.'.
type Publisher struct {
	url      string
	exchange string

	mu        sync.RWMutex
	conn      *amqp.Connection
	ch        *amqp.Channel
	connClose chan *amqp.Error
	isClosed  atomic.Bool
}

// NewPublisher dials the broker and declares the exchange. It keeps
// reconnecting in the background after the connection drops.
func NewPublisher(url, exchange string) (*Publisher, error) {
	p := &Publisher{url: url, exchange: exchange}
	if err := p.connect(); err != nil {
		return nil, err
	}
	go p.reconnectLoop()
	return p, nil
}

// Name identifies the transport in logs.
func (p *Publisher) Name() string { return "amqp" }

// Deliver publishes one encoded event.
func (p *Publisher) Deliver(ctx context.Context, topic string, payload []byte) error {
	p.mu.RLock()
	ch := p.ch
	p.mu.RUnlock()
	if ch == nil {
		return errNotConnected
	}

	return ch.PublishWithContext(ctx, p.exchange, RoutingKey(topic), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         payload,
	})
}

// Close stops reconnecting and closes the connection.
func (p *Publisher) Close() error {
	p.isClosed.Store(true)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	return p.conn.Close()
}

// RoutingKey maps a dispatch topic to an AMQP routing key.
func RoutingKey(topic string) string {
	return strings.ReplaceAll(topic, ":", ".")
}

func (p *Publisher) connect() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		return errors.Join(err, conn.Close())
	}
	err = ch.ExchangeDeclare(
		p.exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		return errors.Join(err, conn.Close())
	}

	closed := make(chan *amqp.Error, 1)
	conn.NotifyClose(closed)

	p.mu.Lock()
	p.conn, p.ch, p.connClose = conn, ch, closed
	p.mu.Unlock()
	return nil
}

func (p *Publisher) reconnectLoop() {
	for {
		p.mu.RLock()
		closed := p.connClose
		p.mu.RUnlock()

		reason := <-closed
		if p.isClosed.Load() {
			return
		}
		zap.L().Warn("amqp connection lost", zap.Any("reason", reason))

		p.mu.Lock()
		p.ch = nil
		p.mu.Unlock()

		for !p.isClosed.Load() {
			if err := p.connect(); err != nil {
				zap.L().Debug("amqp reconnect failed", zap.Error(err))
				time.Sleep(3 * time.Second)
				continue
			}
			zap.L().Info("amqp reconnected")
			break
		}
	}
}
