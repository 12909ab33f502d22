// Package state holds the shared room state and the wakeup queue between
// change producers and the reconciliation loop.
package state

import (
	"context"
	"slices"
	"sync"

	"github.com/dokzlo13/roomd/internal/roomstatus"
)

// Reason tells the consumer why it was woken up.
type Reason string

const (
	ReasonRoomChanged Reason = "ROOM_CHANGED"
	ReasonTick        Reason = "TICK"
)

// Signal is a wakeup message. Room is empty for ticks.
type Signal struct {
	Reason Reason
	Room   string
}

// RoomChanged returns a signal for new events of one room.
func RoomChanged(room string) Signal {
	return Signal{Reason: ReasonRoomChanged, Room: room}
}

// Tick returns a periodic wakeup signal.
func Tick() Signal {
	return Signal{Reason: ReasonTick}
}

// Store keeps the latest events and calendar id of every room together with
// a FIFO queue of pending wakeup signals. All access goes through one mutex;
// a condition variable wakes the consumer when signals are queued.
type Store struct {
	mu   sync.Mutex
	cond *sync.Cond

	rooms       []string
	events      map[string][]roomstatus.RawEvent
	revisions   map[string]uint64
	calendarIDs map[string]string
	queue       []Signal
}

// NewStore creates an empty store.
func NewStore() *Store {
	s := &Store{
		events:      make(map[string][]roomstatus.RawEvent),
		revisions:   make(map[string]uint64),
		calendarIDs: make(map[string]string),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Lock acquires the store mutex. Prefer Update, which releases it on every path.
func (s *Store) Lock() {
	s.mu.Lock()
}

// Unlock releases the store mutex.
func (s *Store) Unlock() {
	s.mu.Unlock()
}

// Update runs fn while holding the lock. Waiters are notified after fn
// returns if it queued any signal. The lock is released even if fn panics.
func (s *Store) Update(fn func(tx *Tx)) {
	tx := &Tx{s: s}
	s.mu.Lock()
	defer func() {
		if tx.pushed {
			s.cond.Broadcast()
		}
		s.mu.Unlock()
	}()
	fn(tx)
}

// AddRoom registers a room. Rooms keep their registration order.
func (s *Store) AddRoom(name, calendarID string) {
	s.Update(func(tx *Tx) {
		if _, ok := s.calendarIDs[name]; !ok {
			s.rooms = append(s.rooms, name)
		}
		s.calendarIDs[name] = calendarID
	})
}

// Rooms returns the registered room names.
func (s *Store) Rooms() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.rooms)
}

// HasRoom reports whether a room is registered.
func (s *Store) HasRoom(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.calendarIDs[name]
	return ok
}

// SetEvents replaces the cached events of a room.
func (s *Store) SetEvents(room string, events []roomstatus.RawEvent) {
	s.Update(func(tx *Tx) { tx.SetEvents(room, events) })
}

// Events returns a copy of the cached events of a room.
func (s *Store) Events(room string) []roomstatus.RawEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.events[room])
}

// Revision returns a counter bumped on every SetEvents of the room.
func (s *Store) Revision(room string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revisions[room]
}

// SetCalendarID sets the calendar id of a room.
func (s *Store) SetCalendarID(room, id string) {
	s.Update(func(tx *Tx) { tx.SetCalendarID(room, id) })
}

// CalendarID returns the calendar id of a room, or "".
func (s *Store) CalendarID(room string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calendarIDs[room]
}

// Push queues a signal and wakes the consumer.
func (s *Store) Push(sig Signal) {
	s.Update(func(tx *Tx) { tx.Push(sig) })
}

// Drain removes and returns every queued signal in arrival order.
func (s *Store) Drain() []Signal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drainLocked()
}

// Pending returns the number of queued signals.
func (s *Store) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Wait blocks until at least one signal is queued, then drains the queue.
// Spurious wakeups are absorbed by re-checking the queue. It returns the
// context error once ctx is done and the queue is empty.
func (s *Store) Wait(ctx context.Context) ([]Signal, error) {
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.queue) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		s.cond.Wait()
	}
	return s.drainLocked(), nil
}

func (s *Store) drainLocked() []Signal {
	out := s.queue
	s.queue = nil
	return out
}

// Tx gives access to the store inside Update. It must not escape fn.
type Tx struct {
	s      *Store
	pushed bool
}

// SetEvents replaces the cached events of a room.
func (tx *Tx) SetEvents(room string, events []roomstatus.RawEvent) {
	tx.s.events[room] = slices.Clone(events)
	tx.s.revisions[room]++
}

// Revision returns the events revision of a room.
func (tx *Tx) Revision(room string) uint64 {
	return tx.s.revisions[room]
}

// Events returns a copy of the cached events of a room.
func (tx *Tx) Events(room string) []roomstatus.RawEvent {
	return slices.Clone(tx.s.events[room])
}

// SetCalendarID sets the calendar id of a room.
func (tx *Tx) SetCalendarID(room, id string) {
	tx.s.calendarIDs[room] = id
}

// CalendarID returns the calendar id of a room.
func (tx *Tx) CalendarID(room string) string {
	return tx.s.calendarIDs[room]
}

// Push queues a signal. Waiters are notified when Update returns.
func (tx *Tx) Push(sig Signal) {
	tx.s.queue = append(tx.s.queue, sig)
	tx.pushed = true
}
