package websocket

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// DefaultSubscriberBuffer is the per-subscriber queue length used by NewHub
const DefaultSubscriberBuffer = 256

// Hub fans out every broadcast message to all current subscribers, in order
type Hub[T any] interface {
	Run()
	Stop()
	Broadcast(message T)
	Subscribe() *Subscription[T]
	SubscribeWith(initial ...T) *Subscription[T]
	Unsubscribe(sub *Subscription[T])
	Len() int
}

// Subscription is one listener registered with a Hub. C is closed when the
// subscription is removed or the hub stops.
type Subscription[T any] struct {
	send chan T
	C    <-chan T
}

// hub maintains the set of active subscribers and broadcasts messages to them
type hub[T any] struct {
	subscribers map[*Subscription[T]]bool

	broadcast  chan T
	register   chan *Subscription[T]
	unregister chan *Subscription[T]

	done     chan struct{}
	stopOnce sync.Once
	buffer   int
	name     string
	log      logrus.FieldLogger

	mu sync.RWMutex
}

// NewHub creates a hub; call Run in its own goroutine before use
func NewHub[T any](name string, buffer int, log logrus.FieldLogger) Hub[T] {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &hub[T]{
		subscribers: make(map[*Subscription[T]]bool),
		broadcast:   make(chan T),
		register:    make(chan *Subscription[T]),
		unregister:  make(chan *Subscription[T]),
		done:        make(chan struct{}),
		buffer:      buffer,
		name:        name,
		log:         log.WithField("hub", name),
	}
}

// Run starts the hub's main event loop. Register, unregister and broadcast
// requests are served one at a time, so a subscriber sees every message
// broadcast after its Subscribe call returned.
func (h *hub[T]) Run() {
	for {
		select {
		case sub := <-h.register:
			h.mu.Lock()
			h.subscribers[sub] = true
			count := len(h.subscribers)
			h.mu.Unlock()
			h.log.WithField("subscribers", count).Debug("subscriber registered")

		case sub := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.subscribers[sub]; ok {
				delete(h.subscribers, sub)
				close(sub.send)
			}
			count := len(h.subscribers)
			h.mu.Unlock()
			h.log.WithField("subscribers", count).Debug("subscriber unregistered")

		case message := <-h.broadcast:
			h.mu.Lock()
			for sub := range h.subscribers {
				select {
				case sub.send <- message:
				default:
					// a subscriber that cannot keep up is dropped rather than
					// stalling everyone else
					close(sub.send)
					delete(h.subscribers, sub)
					h.log.Warn("subscriber queue full, dropping subscriber")
				}
			}
			h.mu.Unlock()

		case <-h.done:
			h.mu.Lock()
			for sub := range h.subscribers {
				close(sub.send)
				delete(h.subscribers, sub)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Stop ends the event loop and closes every subscription
func (h *hub[T]) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Broadcast queues message for every subscriber. It is a no-op once stopped.
func (h *hub[T]) Broadcast(message T) {
	select {
	case h.broadcast <- message:
	case <-h.done:
	}
}

// Subscribe registers a new subscriber. A subscription taken on a stopped
// hub is returned already closed.
func (h *hub[T]) Subscribe() *Subscription[T] {
	return h.SubscribeWith()
}

// SubscribeWith registers a new subscriber whose queue starts with initial,
// ahead of every message broadcast after registration
func (h *hub[T]) SubscribeWith(initial ...T) *Subscription[T] {
	send := make(chan T, h.buffer+len(initial))
	for _, message := range initial {
		send <- message
	}
	sub := &Subscription[T]{send: send, C: send}

	select {
	case h.register <- sub:
	case <-h.done:
		close(send)
	}
	return sub
}

// Unsubscribe removes a subscriber and closes its channel
func (h *hub[T]) Unsubscribe(sub *Subscription[T]) {
	if sub == nil {
		return
	}
	select {
	case h.unregister <- sub:
	case <-h.done:
	}
}

// Len returns the number of registered subscribers
func (h *hub[T]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
