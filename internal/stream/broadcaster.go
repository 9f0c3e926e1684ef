// Package stream is the host-side master monitor: it fans the engine's
// rendered blocks out to WebRTC (opus) and plain PCM listeners. The
// engine itself knows nothing about it; cmd/cadenza feeds the broadcaster
// from its render pull loop.
package stream

import (
	"context"
	"sync"
)

// listenerBuffer is ~3 seconds of 20ms blocks. Slow listeners drop
// blocks instead of stalling the broadcast.
const listenerBuffer = 150

// Broadcaster fans interleaved stereo float32 blocks from one source out
// to any number of listeners.
type Broadcaster struct {
	mu        sync.RWMutex
	listeners map[*Listener]struct{}
}

// Listener receives monitor blocks. C delivers them; done closes on
// unsubscribe.
type Listener struct {
	C    chan []float32
	done chan struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{listeners: make(map[*Listener]struct{})}
}

// Subscribe registers a listener.
func (b *Broadcaster) Subscribe() *Listener {
	l := &Listener{
		C:    make(chan []float32, listenerBuffer),
		done: make(chan struct{}),
	}
	b.mu.Lock()
	b.listeners[l] = struct{}{}
	b.mu.Unlock()
	return l
}

// Unsubscribe removes a listener and signals it to stop.
func (b *Broadcaster) Unsubscribe(l *Listener) {
	b.mu.Lock()
	_, ok := b.listeners[l]
	delete(b.listeners, l)
	b.mu.Unlock()
	if ok {
		close(l.done)
	}
}

// ListenerCount returns the number of subscribed listeners.
func (b *Broadcaster) ListenerCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

// Run fans blocks from source out to every listener until ctx is
// cancelled or source closes. Listeners that cannot keep up lose blocks.
func (b *Broadcaster) Run(ctx context.Context, source <-chan []float32) {
	for {
		select {
		case <-ctx.Done():
			return
		case block, ok := <-source:
			if !ok {
				return
			}
			b.mu.RLock()
			for l := range b.listeners {
				select {
				case l.C <- block:
				default:
				}
			}
			b.mu.RUnlock()
		}
	}
}
