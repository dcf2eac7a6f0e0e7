// Package bus implements the flags-updated broadcast: a subscriber list
// that receives empty notifications whenever a flag refresh completes.
package bus

import "sync"

// Bus fans a payload-less signal out to subscribers. Publish never blocks
// the publisher: delivery happens on a dedicated goroutine and a
// subscriber that has not drained its buffered notification is skipped,
// so a slow consumer can never stall the network callback path.
type Bus struct {
	mu   sync.Mutex
	subs map[chan struct{}]struct{}
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[chan struct{}]struct{})}
}

// Subscribe registers a new subscriber and returns its channel. The
// channel has a buffer of one; consecutive signals coalesce.
func (b *Bus) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a previously subscribed channel.
func (b *Bus) Unsubscribe(ch <-chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// The channel is left open: a publish snapshot taken just before the
	// unsubscribe may still be sending to it.
	for sub := range b.subs {
		if sub == ch {
			delete(b.subs, sub)
			return
		}
	}
}

// Publish signals every subscriber off the caller's stack.
func (b *Bus) Publish() {
	b.mu.Lock()
	targets := make([]chan struct{}, 0, len(b.subs))
	for sub := range b.subs {
		targets = append(targets, sub)
	}
	b.mu.Unlock()

	go func() {
		for _, sub := range targets {
			select {
			case sub <- struct{}{}:
			default:
			}
		}
	}()
}
