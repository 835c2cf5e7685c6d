package arcl

import (
	"slices"
	"sync"
	"time"
)

// LineHandler receives classified lines. Handlers run synchronously on the
// receive goroutine, in line order, and must not block.
type LineHandler func(line Line)

// StateHandler is called when the session connects or drops. err is nil for
// a connect and for a requested close.
type StateHandler func(connected bool, err error)

// Bus fans classified lines out to subscribers. Any number of subscribers
// may register for the same category without coordinating.
type Bus struct {
	mu     sync.Mutex
	nextID uint64
	lines  map[uint64]lineSub
	states map[uint64]StateHandler
}

type lineSub struct {
	category Category
	all      bool
	handler  LineHandler
}

// Subscription is a registration on a Bus.
type Subscription struct {
	bus  *Bus
	id   uint64
	once sync.Once
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{
		lines:  make(map[uint64]lineSub),
		states: make(map[uint64]StateHandler),
	}
}

// Subscribe registers handler for lines of one category.
func (b *Bus) Subscribe(category Category, handler LineHandler) *Subscription {
	return b.addLine(lineSub{category: category, handler: handler})
}

// SubscribeAll registers handler for every line, including unclassified ones.
func (b *Bus) SubscribeAll(handler LineHandler) *Subscription {
	return b.addLine(lineSub{all: true, handler: handler})
}

// OnStateChange registers handler for connect/disconnect notifications.
func (b *Bus) OnStateChange(handler StateHandler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.states[b.nextID] = handler
	return &Subscription{bus: b, id: b.nextID}
}

func (b *Bus) addLine(s lineSub) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.lines[b.nextID] = s
	return &Subscription{bus: b, id: b.nextID}
}

// Unsubscribe removes the registration. Safe to call more than once and on
// a nil Subscription.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.bus == nil {
		return
	}
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.lines, s.id)
		delete(s.bus.states, s.id)
		s.bus.mu.Unlock()
	})
}

// Dispatch classifies text and publishes it. It returns the line as
// delivered.
func (b *Bus) Dispatch(text string) Line {
	line := Line{Text: text, Category: Classify(text), Received: time.Now()}
	b.Publish(line)
	return line
}

// Publish delivers line to the raw observers and to the subscribers of its
// category. Handlers are called outside the lock in registration order. A
// subscriber removed by an earlier handler for the same line is skipped.
func (b *Bus) Publish(line Line) {
	b.mu.Lock()
	ids := make([]uint64, 0, len(b.lines))
	for _, id := range sortedKeys(b.lines) {
		s := b.lines[id]
		if s.all || (line.Category != CategoryNone && s.category == line.Category) {
			ids = append(ids, id)
		}
	}
	b.mu.Unlock()

	for _, id := range ids {
		b.mu.Lock()
		s, ok := b.lines[id]
		b.mu.Unlock()
		if ok {
			s.handler(line)
		}
	}
}

// PublishState notifies state subscribers, skipping any removed by an
// earlier handler for the same change.
func (b *Bus) PublishState(connected bool, err error) {
	b.mu.Lock()
	ids := sortedKeys(b.states)
	b.mu.Unlock()

	for _, id := range ids {
		b.mu.Lock()
		h, ok := b.states[id]
		b.mu.Unlock()
		if ok {
			h(connected, err)
		}
	}
}

func sortedKeys[V any](m map[uint64]V) []uint64 {
	keys := make([]uint64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
