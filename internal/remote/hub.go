package remote

import "sync"

// Hub fans events from a single transport out to the subscriptions that accept them.
// Feeds built on one shared connection embed it.
//
// Every channel runs its callback on its own goroutine, in dispatch order, so a slow
// subscriber never holds up the transport's reader or the other channels.
type Hub struct {
	mu     sync.Mutex
	subs   map[*hubChannel]struct{}
	closed bool
}

// NewHub returns an empty Hub
func NewHub() *Hub {
	return &Hub{subs: make(map[*hubChannel]struct{})}
}

// Add registers fn for the events accepted by sub
func (h *Hub) Add(sub Subscription, fn func(Event)) (Channel, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, ErrChannelDisconnected
	}

	c := &hubChannel{
		hub:  h,
		sub:  sub,
		fn:   fn,
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
	}
	h.subs[c] = struct{}{}
	go c.run()
	return c, nil
}

// Dispatch hands e to every accepting subscription and returns how many accepted it.
// It does not wait for the callbacks.
func (h *Hub) Dispatch(e Event) int {
	h.mu.Lock()
	targets := make([]*hubChannel, 0, len(h.subs))
	for c := range h.subs {
		if c.sub.Accepts(e) {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	n := 0
	for _, c := range targets {
		if c.deliver(e) {
			n++
		}
	}
	return n
}

// Len returns the number of open channels
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Shutdown drops every channel without notifying its owner and refuses new ones.
// It is what a transport does when its connection is lost.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.closed = true
	for c := range h.subs {
		c.shut()
	}
	h.subs = make(map[*hubChannel]struct{})
}

// Reopen lets a Hub accept channels again after Shutdown, once its transport reconnects.
// Channels dropped by Shutdown stay dropped.
func (h *Hub) Reopen() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = false
}

type hubChannel struct {
	hub *Hub
	sub Subscription
	fn  func(Event)

	wake chan struct{}
	stop chan struct{}

	mu     sync.Mutex
	queue  []Event
	closed bool
}

func (c *hubChannel) run() {
	for {
		select {
		case <-c.stop:
			return
		case <-c.wake:
		}

		for {
			c.mu.Lock()
			if c.closed {
				c.mu.Unlock()
				return
			}
			if len(c.queue) == 0 {
				c.mu.Unlock()
				break
			}
			e := c.queue[0]
			c.queue = c.queue[1:]
			c.mu.Unlock()

			c.fn(e)
		}
	}
}

func (c *hubChannel) deliver(e Event) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.queue = append(c.queue, e)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
	return true
}

// shut marks the channel closed and stops its goroutine. It reports whether it did so.
func (c *hubChannel) shut() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.closed = true
	c.queue = nil
	close(c.stop)
	return true
}

// Close implements Channel
func (c *hubChannel) Close() error {
	if !c.shut() {
		return nil
	}

	c.hub.mu.Lock()
	delete(c.hub.subs, c)
	c.hub.mu.Unlock()

	return nil
}
