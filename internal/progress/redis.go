package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// RedisConfig configures the Redis pub/sub broker.
type RedisConfig struct {
	Addr          string
	Password      string
	DB            int
	ChannelPrefix string
	Buffer        int
}

// RedisBroker publishes events on one Redis channel per session so that
// watchers attached to another server instance still receive them.
type RedisBroker struct {
	client *redis.Client
	prefix string
	buffer int
	log    *logrus.Logger

	queue  chan Event
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// NewRedisBroker connects to Redis and starts the publishing loop.
func NewRedisBroker(ctx context.Context, cfg RedisConfig, log *logrus.Logger) (*RedisBroker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return newRedisBroker(client, cfg, log), nil
}

func newRedisBroker(client *redis.Client, cfg RedisConfig, log *logrus.Logger) *RedisBroker {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 16
	}
	if cfg.ChannelPrefix == "" {
		cfg.ChannelPrefix = "image-converter:progress:"
	}
	if log == nil {
		log = logrus.New()
	}
	b := &RedisBroker{
		client: client,
		prefix: cfg.ChannelPrefix,
		buffer: cfg.Buffer,
		log:    log,
		queue:  make(chan Event, cfg.Buffer*4),
	}
	b.wg.Add(1)
	go b.publishLoop()
	return b
}

func (b *RedisBroker) channel(sessionID string) string {
	return b.prefix + sessionID
}

// Publish queues e without blocking. A single loop sends queued events so
// their order is preserved. When the queue is full a non-terminal event is
// dropped, while a terminal one evicts the oldest queued event.
func (b *RedisBroker) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	select {
	case b.queue <- e:
		return
	default:
	}
	if !e.Terminal() {
		b.log.WithField("session", e.SessionID).Debug("Progress queue full, dropping event")
		return
	}
	for {
		select {
		case old := <-b.queue:
			b.log.WithFields(logrus.Fields{
				"session": old.SessionID,
				"kind":    old.Kind.String(),
			}).Debug("Progress queue full, evicted event")
		default:
		}
		select {
		case b.queue <- e:
			return
		default:
		}
	}
}

func (b *RedisBroker) publishLoop() {
	defer b.wg.Done()
	for e := range b.queue {
		payload, err := json.Marshal(e)
		if err != nil {
			b.log.WithError(err).Error("Failed to encode progress event")
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := b.client.Publish(ctx, b.channel(e.SessionID), payload).Err(); err != nil {
			b.log.WithError(err).WithField("session", e.SessionID).Warn("Failed to publish progress event")
		}
		cancel()
	}
}

// Subscribe blocks until Redis confirms the subscription, so no event
// published afterwards is missed.
func (b *RedisBroker) Subscribe(ctx context.Context, sessionID string) (*Subscription, error) {
	pubsub := b.client.Subscribe(ctx, b.channel(sessionID))
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", sessionID, err)
	}

	out := make(chan Event, b.buffer)
	done := make(chan struct{})
	var once sync.Once
	stop := func() { once.Do(func() { close(done) }) }

	go func() {
		defer close(out)
		defer pubsub.Close()
		msgs := pubsub.Channel()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var e Event
				if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
					b.log.WithError(err).Debug("Ignoring malformed progress message")
					continue
				}
				select {
				case out <- e:
				default:
					if !e.Terminal() {
						continue
					}
					// make room for the terminal event
					select {
					case <-out:
					default:
					}
					out <- e
				}
				if e.Terminal() {
					return
				}
			}
		}
	}()

	return &Subscription{C: out, closeFn: stop}, nil
}

// Close flushes queued events and closes the Redis client.
func (b *RedisBroker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.queue)
	b.mu.Unlock()

	b.wg.Wait()
	return b.client.Close()
}
