package notify

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"

	"github.com/rs/zerolog/log"
)

// Default configuration
const (
	DefaultWorkerCount = 2
	DefaultQueueSize   = 100
)

var (
	// ErrQueueFull is returned when the bus cannot accept more work.
	ErrQueueFull = errors.New("notification queue full")
	// ErrNoSubscribers is returned when a message has nobody to deliver to.
	ErrNoSubscribers = errors.New("no notification subscribers")
)

type subscription struct {
	ctx     context.Context
	handler Handler
}

// work represents a unit of work for the worker pool
type work struct {
	msg Message
	sub *subscription
}

// Bus is an in-process Channel backed by a bounded worker pool. Messages
// for one room always go to the same worker, so they are handled one at a
// time and in publish order.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*subscription]struct{}
	closed bool
	done   chan struct{}

	queues []chan work
	wg     sync.WaitGroup
}

// NewBus creates a bus with the given worker count and per-worker queue size.
func NewBus(workerCount, queueSize int) *Bus {
	if workerCount <= 0 {
		workerCount = DefaultWorkerCount
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}

	b := &Bus{
		subs:   make(map[*subscription]struct{}),
		done:   make(chan struct{}),
		queues: make([]chan work, workerCount),
	}

	for i := range b.queues {
		b.queues[i] = make(chan work, queueSize)
		b.wg.Add(1)
		go b.worker(i, b.queues[i])
	}

	log.Debug().Int("workers", workerCount).Int("queue_size", queueSize).Msg("Notification bus worker pool started")
	return b
}

func (b *Bus) queueFor(room string) chan work {
	h := fnv.New32a()
	h.Write([]byte(room))
	return b.queues[h.Sum32()%uint32(len(b.queues))]
}

// worker processes messages from its queue
func (b *Bus) worker(id int, queue <-chan work) {
	defer b.wg.Done()

	for w := range queue {
		if w.sub.ctx.Err() != nil {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().
						Interface("panic", r).
						Str("room", w.msg.Room).
						Int("worker", id).
						Msg("Notification handler panicked")
				}
			}()
			w.sub.handler(w.sub.ctx, w.msg)
		}()
	}
}

// Publish queues msg for every current subscriber without blocking.
func (b *Bus) Publish(ctx context.Context, msg Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}
	if len(b.subs) == 0 {
		log.Warn().Str("room", msg.Room).Msg("No notification subscribers, dropping message")
		return ErrNoSubscribers
	}

	queue := b.queueFor(msg.Room)
	var err error
	for sub := range b.subs {
		select {
		case queue <- work{msg: msg, sub: sub}:
		default:
			log.Warn().Str("room", msg.Room).Msg("Notification queue full, dropping message")
			err = ErrQueueFull
		}
	}
	return err
}

// Subscribe registers h and blocks until ctx ends or the bus is closed.
func (b *Bus) Subscribe(ctx context.Context, h Handler) error {
	sub := &subscription{ctx: ctx, handler: h}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.subs, sub)
		b.mu.Unlock()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return ErrClosed
	}
}

// Close shuts down the worker pool, waiting for queued work until ctx ends.
func (b *Bus) Close(ctx context.Context) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.done)
	for _, q := range b.queues {
		close(q)
	}
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Debug().Msg("Notification bus workers stopped gracefully")
	case <-ctx.Done():
		log.Warn().Msg("Notification bus shutdown timed out, some messages may be lost")
	}
}
