package redis

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const dispatchChannelPrefix = "dispatch:"

// PubSub relays dispatch events through Redis so that every instance can
// push them to its own websocket subscribers.
type PubSub struct {
	client *redis.Client
}

// NewPubSub creates a new PubSub.
func NewPubSub(client *redis.Client) *PubSub {
	return &PubSub{client: client}
}

// Name identifies the transport in logs.
func (p *PubSub) Name() string { return "redis" }

// Deliver publishes an encoded event on the topic's channel.
func (p *PubSub) Deliver(ctx context.Context, topic string, payload []byte) error {
	return p.client.Publish(ctx, dispatchChannelPrefix+topic, payload).Err()
}

// Listen forwards every relayed event to sink until ctx is done.
func (p *PubSub) Listen(ctx context.Context, sink Sink) error {
	sub := p.client.PSubscribe(ctx, dispatchChannelPrefix+"*")
	defer sub.Close()

	// Wait for the subscription to be confirmed before reading.
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			topic := strings.TrimPrefix(msg.Channel, dispatchChannelPrefix)
			if err := sink.Deliver(ctx, topic, []byte(msg.Payload)); err != nil {
				zap.L().Debug("relay delivery failed", zap.String("topic", topic), zap.Error(err))
			}
		}
	}
}

// KeepListening runs relay.Listen until ctx is done. A failed or closed
// subscription is retried with exponential backoff between minBackoff and
// maxBackoff; the backoff resets after a subscription that stayed up longer
// than maxBackoff.
func KeepListening(ctx context.Context, relay RelayInterface, sink Sink, minBackoff, maxBackoff time.Duration) {
	backoff := minBackoff
	for {
		started := time.Now()
		err := relay.Listen(ctx, sink)
		if ctx.Err() != nil {
			return
		}
		if time.Since(started) > maxBackoff {
			backoff = minBackoff
		}
		zap.L().Error("dispatch relay stopped, resubscribing",
			zap.Error(err),
			zap.Duration("backoff", backoff),
		)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		backoff = min(backoff*2, maxBackoff)
	}
}
