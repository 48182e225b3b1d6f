package progress

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

type subscriber struct {
	ch   chan Event
	done chan struct{}
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() {
		close(s.ch)
		close(s.done)
	})
}

// Hub is the in-process Broker.
type Hub struct {
	mu      sync.Mutex
	subs    map[string]map[*subscriber]struct{}
	buffer  int
	dropped int64
	log     *logrus.Logger
}

// NewHub returns a Hub whose subscriptions buffer up to buffer events.
func NewHub(buffer int, log *logrus.Logger) *Hub {
	if buffer <= 0 {
		buffer = 16
	}
	if log == nil {
		log = logrus.New()
	}
	return &Hub{
		subs:   make(map[string]map[*subscriber]struct{}),
		buffer: buffer,
		log:    log,
	}
}

func (h *Hub) Publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subs[e.SessionID]
	for s := range subs {
		select {
		case s.ch <- e:
		default:
			atomic.AddInt64(&h.dropped, 1)
			h.log.WithFields(logrus.Fields{
				"session": e.SessionID,
				"kind":    e.Kind.String(),
			}).Debug("Dropped progress event for slow subscriber")
		}
	}

	if e.Terminal() {
		for s := range subs {
			s.close()
		}
		delete(h.subs, e.SessionID)
	}
}

func (h *Hub) Subscribe(ctx context.Context, sessionID string) (*Subscription, error) {
	s := &subscriber{ch: make(chan Event, h.buffer), done: make(chan struct{})}

	h.mu.Lock()
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[*subscriber]struct{})
	}
	h.subs[sessionID][s] = struct{}{}
	h.mu.Unlock()

	detach := func() {
		h.mu.Lock()
		if set, ok := h.subs[sessionID]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(h.subs, sessionID)
			}
		}
		h.mu.Unlock()
		s.close()
	}

	if ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				detach()
			case <-s.done:
			}
		}()
	}
	return &Subscription{C: s.ch, closeFn: detach}, nil
}

// Dropped returns how many events were discarded for slow subscribers.
func (h *Hub) Dropped() int64 {
	return atomic.LoadInt64(&h.dropped)
}

// Close ends every open subscription.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, set := range h.subs {
		for s := range set {
			s.close()
		}
		delete(h.subs, id)
	}
	return nil
}
