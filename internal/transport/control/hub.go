package control

import (
	"encoding/json"
	"sync"
	"sync/atomic"
)

// Hub fans live messages out to websocket subscribers. Slow subscribers lose
// their oldest queued message rather than holding up the match loop.
type Hub struct {
	mu   sync.Mutex
	next uint64
	subs map[uint64]chan []byte

	published atomic.Uint64
	dropped   atomic.Uint64
}

func NewHub() *Hub {
	return &Hub{subs: map[uint64]chan []byte{}}
}

// Publish implements runner.Observer.
func (h *Hub) Publish(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	h.published.Add(1)
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		if !sendLatest(ch, b) {
			h.dropped.Add(1)
		}
	}
}

func (h *Hub) subscribe(buf int) (uint64, <-chan []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.next++
	ch := make(chan []byte, buf)
	h.subs[h.next] = ch
	return h.next, ch
}

func (h *Hub) unsubscribe(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, id)
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) Published() uint64 { return h.published.Load() }
func (h *Hub) Dropped() uint64   { return h.dropped.Load() }

// sendLatest queues b, dropping the oldest queued message if the channel is
// full. It reports false when something was dropped.
func sendLatest(ch chan []byte, b []byte) bool {
	select {
	case ch <- b:
		return true
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
	return false
}
