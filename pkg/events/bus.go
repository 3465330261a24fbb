// Package events carries store change notifications between the persisted store and
// every view that holds derived state.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

// KeyAll marks a change whose exact key is unknown, such as an external write detected
// on the database file. Observers should re-read everything.
const KeyAll = "*"

// Change announces that a persisted key was written.
type Change struct {
	Key      string    `json:"key"`      // Store key that changed, or KeyAll
	Origin   string    `json:"origin"`   // Instance id of the writer
	External bool      `json:"external"` // True when the write happened outside this process
	At       time.Time `json:"at"`
}

// Bus fans out changes to subscribers. Publishing never blocks. A subscriber whose
// buffer is full misses the notification; observers only ever re-read the store.
type Bus struct {
	mu      sync.RWMutex
	subs    map[int]chan Change
	nextID  int
	dropped atomic.Int64
}

// NewBus returns a bus with no subscribers.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Change)}
}

// Subscribe registers a new observer. The returned function unsubscribes and closes
// the channel; it is safe to call more than once.
func (b *Bus) Subscribe(buffer int) (<-chan Change, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Change, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers c to every subscriber.
func (b *Bus) Publish(c Change) {
	if c.At.IsZero() {
		c.At = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- c:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribers returns the number of registered observers.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (b *Bus) Dropped() int64 {
	return b.dropped.Load()
}
