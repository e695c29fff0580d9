// internal/events/hub.go
package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

var ErrHubClosed = errors.New("event hub closed")

// Hub is the process-owned subscriber registry. Publish never blocks on a
// subscriber: every subscription owns its own queue and pump goroutine.
type Hub struct {
	mu     sync.Mutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool

	roles      atomic.Pointer[RoleBook]
	queueLimit int
	onCount    func(int)
}

type HubOption func(*Hub)

// WithQueueLimit drops a subscriber whose backlog grows past limit. Zero
// keeps per-subscriber queues unbounded.
func WithQueueLimit(limit int) HubOption {
	return func(h *Hub) { h.queueLimit = limit }
}

// WithSubscriberGauge registers a callback invoked with the subscriber count
// after every registration change.
func WithSubscriberGauge(fn func(int)) HubOption {
	return func(h *Hub) { h.onCount = fn }
}

func NewHub(roles *RoleBook, opts ...HubOption) *Hub {
	h := &Hub{subs: make(map[uint64]*Subscription)}
	if roles == nil {
		roles = NewRoleBook(nil)
	}
	h.roles.Store(roles)
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Roles returns the current address snapshot.
func (h *Hub) Roles() *RoleBook {
	return h.roles.Load()
}

// SetRoles swaps in a new snapshot. Only used on explicit reconfiguration.
func (h *Hub) SetRoles(roles *RoleBook) {
	if roles != nil {
		h.roles.Store(roles)
	}
}

// Subscribe registers a listener that receives every event published after
// this call. The subscription ends when ctx is cancelled or Close is called.
func (h *Hub) Subscribe(ctx context.Context) (*Subscription, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	h.nextID++
	sub := &Subscription{
		id:   h.nextID,
		hub:  h,
		wake: make(chan struct{}, 1),
		out:  make(chan Event),
		done: make(chan struct{}),
	}
	h.subs[sub.id] = sub
	count := len(h.subs)
	h.mu.Unlock()

	h.reportCount(count)

	go sub.pump()
	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()

	return sub, nil
}

// Publish fans ev out to all current subscribers with addresses translated
// through the role snapshot.
func (h *Hub) Publish(ev Event) {
	ev.Args = h.roles.Load().Translate(ev.Args)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	targets := make([]*Subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		targets = append(targets, sub)
	}
	h.mu.Unlock()

	for _, sub := range targets {
		if !sub.enqueue(ev, h.queueLimit) {
			logrus.WithFields(logrus.Fields{
				"subscriber": sub.id,
				"event":      ev.Kind,
			}).Warn("Dropping event subscriber")
			sub.Close()
		}
	}
}

// Subscribers returns the number of registered subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close ends every subscription and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := make([]*Subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	_, ok := h.subs[id]
	delete(h.subs, id)
	count := len(h.subs)
	h.mu.Unlock()

	if ok {
		h.reportCount(count)
	}
}

func (h *Hub) reportCount(n int) {
	if h.onCount != nil {
		h.onCount(n)
	}
}

// Subscription is one listener's view of the hub.
type Subscription struct {
	id  uint64
	hub *Hub

	mu    sync.Mutex
	queue []Event
	wake  chan struct{}
	out   chan Event
	done  chan struct{}
	once  sync.Once
}

// C delivers events in publish order. It is closed when the subscription ends.
func (s *Subscription) C() <-chan Event {
	return s.out
}

// Done is closed once the subscription has been removed from the hub.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close removes the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.remove(s.id)
		close(s.done)
	})
}

func (s *Subscription) enqueue(ev Event, limit int) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	s.mu.Lock()
	if limit > 0 && len(s.queue) >= limit {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		ev := s.queue[0]
		s.queue[0] = Event{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
	}
}
