// Package stream implements a replay-latest publish/subscribe value holder.
//
// A new subscriber first receives the current value, then every later
// published value in publish order. Each subscriber has its own unbounded
// queue so a slow reader never blocks publishers and never misses or
// reorders values.
package stream

import (
	"context"
	"sync"
)

// Subject holds the latest value of T and fans it out to subscribers.
type Subject[T any] struct {
	mu     sync.Mutex
	value  T
	subs   map[uint64]*subscriber[T]
	nextID uint64
	closed bool
	done   chan struct{}
}

type subscriber[T any] struct {
	mu     sync.Mutex
	queue  []T
	signal chan struct{}
	out    chan T
}

// NewSubject creates a subject holding initial.
func NewSubject[T any](initial T) *Subject[T] {
	return &Subject[T]{
		value: initial,
		subs:  make(map[uint64]*subscriber[T]),
		done:  make(chan struct{}),
	}
}

// Value returns a snapshot of the latest value without blocking on subscribers.
func (s *Subject[T]) Value() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Publish replaces the latest value and queues it for every subscriber.
// Publishing after Close only updates the snapshot.
func (s *Subject[T]) Publish(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.value = v
	for _, sub := range s.subs {
		sub.enqueue(v)
	}
}

// Subscribe returns a channel that yields the current value followed by every
// subsequent one. The channel is closed when ctx is done or the subject is
// closed.
func (s *Subject[T]) Subscribe(ctx context.Context) <-chan T {
	sub := &subscriber[T]{
		signal: make(chan struct{}, 1),
		out:    make(chan T),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(sub.out)
		return sub.out
	}
	id := s.nextID
	s.nextID++
	sub.queue = append(sub.queue, s.value)
	s.subs[id] = sub
	s.mu.Unlock()

	go s.pump(ctx, id, sub)
	return sub.out
}

// Len returns the number of live subscribers.
func (s *Subject[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Close ends every subscription. It is safe to call more than once.
func (s *Subject[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
}

func (s *Subject[T]) remove(id uint64) {
	s.mu.Lock()
	delete(s.subs, id)
	s.mu.Unlock()
}

func (s *Subject[T]) pump(ctx context.Context, id uint64, sub *subscriber[T]) {
	defer close(sub.out)
	defer s.remove(id)

	for {
		v, ok := sub.next()
		if !ok {
			select {
			case <-sub.signal:
				continue
			case <-ctx.Done():
				return
			case <-s.done:
				return
			}
		}

		select {
		case sub.out <- v:
		case <-ctx.Done():
			return
		case <-s.done:
			return
		}
	}
}

func (sub *subscriber[T]) enqueue(v T) {
	sub.mu.Lock()
	sub.queue = append(sub.queue, v)
	sub.mu.Unlock()

	select {
	case sub.signal <- struct{}{}:
	default:
	}
}

func (sub *subscriber[T]) next() (T, bool) {
	sub.mu.Lock()
	defer sub.mu.Unlock()

	var zero T
	if len(sub.queue) == 0 {
		return zero, false
	}
	v := sub.queue[0]
	sub.queue[0] = zero
	sub.queue = sub.queue[1:]
	return v, true
}
