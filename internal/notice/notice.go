// Package notice holds the short-lived status messages shown after each
// operation and fans them out to subscribers.
package notice

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind is the severity of a notice.
type Kind string

const (
	Success Kind = "success"
	Danger  Kind = "danger"
	Info    Kind = "info"
)

// DefaultTTL is how long a notice stays up.
const DefaultTTL = 1500 * time.Millisecond

// Notice is one status message.
type Notice struct {
	ID      string    `json:"id"`
	Kind    Kind      `json:"kind"`
	Message string    `json:"message"`
	Expires time.Time `json:"expires"`
}

// Board keeps the active notices and dismisses each one after its TTL.
type Board struct {
	ttl    time.Duration
	mu     sync.Mutex
	active map[string]Notice
	timers map[string]*time.Timer
	subs   map[int]chan Notice
	nextID int
	closed bool
}

// NewBoard creates a board whose notices last ttl (DefaultTTL if ttl <= 0).
func NewBoard(ttl time.Duration) *Board {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Board{
		ttl:    ttl,
		active: make(map[string]Notice),
		timers: make(map[string]*time.Timer),
		subs:   make(map[int]chan Notice),
	}
}

// Post publishes a notice and schedules its dismissal.
func (b *Board) Post(kind Kind, message string) Notice {
	n := Notice{
		ID:      uuid.NewString(),
		Kind:    kind,
		Message: message,
		Expires: time.Now().Add(b.ttl),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return n
	}
	b.active[n.ID] = n
	b.timers[n.ID] = time.AfterFunc(b.ttl, func() { b.dismiss(n.ID) })
	for _, ch := range b.subs {
		// Slow subscribers miss notices rather than block the poster.
		select {
		case ch <- n:
		default:
		}
	}
	return n
}

func (b *Board) dismiss(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.active, id)
	delete(b.timers, id)
}

// Active returns the notices that have not expired, oldest first.
func (b *Board) Active() []Notice {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Notice, 0, len(b.active))
	for _, n := range b.active {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Expires.Before(out[j].Expires) })
	return out
}

// Subscribe returns a channel of new notices and a cancel func that closes it.
func (b *Board) Subscribe() (<-chan Notice, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Notice, 16)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

// Close stops all timers and closes every subscription.
func (b *Board) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, t := range b.timers {
		t.Stop()
		delete(b.timers, id)
	}
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
