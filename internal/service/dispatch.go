package service

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// TopicAvailableDrivers is the room every online driver listens on for open requests.
const TopicAvailableDrivers = "drivers:available"

// TripTopic is the room of everyone following one trip.
func TripTopic(tripID string) string { return "trip:" + tripID }

// WalletTopic is the private room of a wallet owner.
func WalletTopic(ownerID string) string { return "wallet:" + ownerID }

// UserTopic is the private room of one user.
func UserTopic(userID string) string { return "user:" + userID }

// Transport delivers an encoded event to the subscribers of a topic.
type Transport interface {
	Name() string
	Deliver(ctx context.Context, topic string, payload []byte) error
}

// Throttle decides whether an event keyed by key may go out now.
type Throttle interface {
	Allow(ctx context.Context, key string, interval time.Duration) (bool, error)
}

// Broadcaster is the publish side used by the services. Implementations must
// never block the caller on delivery.
type Broadcaster interface {
	Publish(topic string, event Event)
	// PublishThrottled drops the event when another one with the same key
	// went out less than the configured interval ago.
	PublishThrottled(key, topic string, event Event)
}

// NopBroadcaster discards every event.
type NopBroadcaster struct{}

func (NopBroadcaster) Publish(string, Event)                  {}
func (NopBroadcaster) PublishThrottled(string, string, Event) {}

type message struct {
	topic       string
	event       Event
	throttleKey string
}

// DispatcherConfig configures a Dispatcher.
type DispatcherConfig struct {
	QueueSize        int
	Workers          int
	LocationInterval time.Duration
	DeliveryTimeout  time.Duration
}

// DispatcherStats counts what happened to published events.
type DispatcherStats struct {
	Published int64
	Delivered int64
	Dropped   int64
	Throttled int64
	Failed    int64
}

// Dispatcher fans events out to transports from a bounded queue. Publish
// never blocks: when the queue is full the event is dropped. Delivery is
// best-effort and subscribers recover state by reading the trip.
type Dispatcher struct {
	cfg        DispatcherConfig
	transports []Transport
	throttle   Throttle
	queue      chan message

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	published atomic.Int64
	delivered atomic.Int64
	dropped   atomic.Int64
	throttled atomic.Int64
	failed    atomic.Int64
}

var _ Broadcaster = (*Dispatcher)(nil)

// NewDispatcher creates a Dispatcher. throttle may be nil.
func NewDispatcher(cfg DispatcherConfig, throttle Throttle, transports ...Transport) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 5 * time.Second
	}
	return &Dispatcher{
		cfg:        cfg,
		transports: transports,
		throttle:   throttle,
		queue:      make(chan message, cfg.QueueSize),
	}
}

// Start launches the delivery workers. They exit when Close is called.
func (d *Dispatcher) Start() {
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for msg := range d.queue {
				d.deliver(msg)
			}
		}()
	}
}

// Close stops accepting events and waits for queued ones to be delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
}

// Publish enqueues an event for topic.
func (d *Dispatcher) Publish(topic string, event Event) {
	d.enqueue(message{topic: topic, event: event})
}

// PublishThrottled enqueues an event that is subject to the per-key throttle.
func (d *Dispatcher) PublishThrottled(key, topic string, event Event) {
	d.enqueue(message{topic: topic, event: event, throttleKey: key})
}

// Stats returns a snapshot of the counters.
func (d *Dispatcher) Stats() DispatcherStats {
	return DispatcherStats{
		Published: d.published.Load(),
		Delivered: d.delivered.Load(),
		Dropped:   d.dropped.Load(),
		Throttled: d.throttled.Load(),
		Failed:    d.failed.Load(),
	}
}

func (d *Dispatcher) enqueue(msg message) {
	if msg.event.OccurredAt.IsZero() {
		msg.event.OccurredAt = time.Now().UTC()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.dropped.Add(1)
		return
	}

	select {
	case d.queue <- msg:
		d.published.Add(1)
	default:
		d.dropped.Add(1)
		zap.L().Warn("dispatch queue full, dropping event",
			zap.String("topic", msg.topic),
			zap.String("type", string(msg.event.Type)),
		)
	}
}

func (d *Dispatcher) deliver(msg message) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.DeliveryTimeout)
	defer cancel()

	if msg.throttleKey != "" && d.throttle != nil && d.cfg.LocationInterval > 0 {
		ok, err := d.throttle.Allow(ctx, msg.throttleKey, d.cfg.LocationInterval)
		if err != nil {
			zap.L().Debug("throttle unavailable, sending anyway", zap.String("key", msg.throttleKey), zap.Error(err))
		} else if !ok {
			d.throttled.Add(1)
			return
		}
	}

	payload, err := json.Marshal(msg.event)
	if err != nil {
		d.failed.Add(1)
		zap.L().Error("encode event", zap.String("type", string(msg.event.Type)), zap.Error(err))
		return
	}

	for _, t := range d.transports {
		if err := t.Deliver(ctx, msg.topic, payload); err != nil {
			d.failed.Add(1)
			zap.L().Warn("event delivery failed",
				zap.String("transport", t.Name()),
				zap.String("topic", msg.topic),
				zap.String("type", string(msg.event.Type)),
				zap.Error(err),
			)
			continue
		}
		d.delivered.Add(1)
	}
}

// LocalThrottle is an in-process Throttle.
type LocalThrottle struct {
	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time
}

// NewLocalThrottle creates an in-process throttle.
func NewLocalThrottle() *LocalThrottle {
	return &LocalThrottle{last: make(map[string]time.Time), now: time.Now}
}

// Allow reports whether interval has elapsed since the last allowed call for key.
func (t *LocalThrottle) Allow(_ context.Context, key string, interval time.Duration) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if last, ok := t.last[key]; ok && now.Sub(last) < interval {
		return false, nil
	}
	t.last[key] = now
	return true, nil
}
