// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package bus provides bounded fan-out of values to many subscribers.
//
// Every subscription owns a ring backlog of fixed capacity. Publish appends
// to each backlog and never blocks: when a backlog is full its oldest unread
// entry is evicted to admit the newest. Each subscriber sees values in
// publish order, and a subscription never sees values published before it
// was created.
//
//	b := bus.New[insteon.Message](bus.DefaultCapacity)
//	sub := b.Subscribe("logger")
//	defer sub.Close()
//
//	for {
//	    msg, err := sub.Recv(ctx)
//	    if err != nil {
//	        return err
//	    }
//	    ...
//	}
package bus

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultCapacity is the backlog size used when New is given zero.
const DefaultCapacity = 10

var (
	// ErrTimeout is returned by RecvTimeout when nothing arrives in time.
	ErrTimeout = errors.New("bus: receive timed out")

	// ErrClosed is returned once the subscription or the bus is closed and
	// the backlog is empty.
	ErrClosed = errors.New("bus: closed")
)

// Stats is a snapshot of bus counters.
type Stats struct {
	Published     uint64              `json:"published"`
	Subscribers   int                 `json:"subscribers"`
	Subscriptions []SubscriptionStats `json:"subscriptions"`
}

// SubscriptionStats tracks one subscription.
type SubscriptionStats struct {
	ID        uint64 `json:"id"`
	Name      string `json:"name"`
	Backlog   int    `json:"backlog"`
	Delivered uint64 `json:"delivered"`
	Evicted   uint64 `json:"evicted"`
}

// Bus broadcasts values of type T to every current subscription.
type Bus[T any] struct {
	mu       sync.RWMutex
	capacity int
	subs     map[uint64]*Subscription[T]
	nextID   uint64
	closed   bool

	published atomic.Uint64
}

// New creates a bus whose subscriptions hold up to capacity unread values.
func New[T any](capacity int) *Bus[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Bus[T]{
		capacity: capacity,
		subs:     make(map[uint64]*Subscription[T]),
	}
}

// Capacity returns the per-subscription backlog size.
func (b *Bus[T]) Capacity() int {
	return b.capacity
}

// Subscribe registers a new subscription. The name only appears in Stats.
// Subscribing to a closed bus returns a closed subscription.
func (b *Bus[T]) Subscribe(name string) *Subscription[T] {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	s := &Subscription[T]{
		id:     b.nextID,
		name:   name,
		bus:    b,
		ring:   make([]T, b.capacity),
		notify: make(chan struct{}, 1),
	}

	if b.closed {
		s.closed = true
		s.ring = nil
		return s
	}

	b.subs[s.id] = s
	return s
}

// Publish delivers v to every subscription. It never blocks.
func (b *Bus[T]) Publish(v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	b.published.Add(1)
	for _, s := range b.subs {
		s.push(v)
	}
}

// Close detaches every subscription. Receivers drain what is already in
// their backlog and then get ErrClosed. Close is idempotent.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[uint64]*Subscription[T])
	b.mu.Unlock()

	for _, s := range subs {
		s.shutdown(false)
	}
}

// Closed reports whether Close has been called.
func (b *Bus[T]) Closed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

// Stats returns a snapshot of the bus counters.
func (b *Bus[T]) Stats() Stats {
	b.mu.RLock()
	subs := make([]*Subscription[T], 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	stats := Stats{
		Published:     b.published.Load(),
		Subscribers:   len(subs),
		Subscriptions: make([]SubscriptionStats, 0, len(subs)),
	}
	for _, s := range subs {
		stats.Subscriptions = append(stats.Subscriptions, s.Stats())
	}
	sort.Slice(stats.Subscriptions, func(i, j int) bool {
		return stats.Subscriptions[i].ID < stats.Subscriptions[j].ID
	})

	return stats
}

func (b *Bus[T]) remove(id uint64) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

// Subscription is one subscriber's view of the bus.
type Subscription[T any] struct {
	id   uint64
	name string
	bus  *Bus[T]

	mu     sync.Mutex
	ring   []T
	head   int
	count  int
	closed bool

	// notify holds at most one wakeup; receivers recheck the ring after it.
	notify chan struct{}

	delivered uint64
	evicted   uint64
}

// ID returns the subscription id.
func (s *Subscription[T]) ID() uint64 {
	return s.id
}

func (s *Subscription[T]) push(v T) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	if s.count == len(s.ring) {
		var zero T
		s.ring[s.head] = zero
		s.head = (s.head + 1) % len(s.ring)
		s.count--
		s.evicted++
	}
	s.ring[(s.head+s.count)%len(s.ring)] = v
	s.count++
	s.mu.Unlock()

	s.wake()
}

func (s *Subscription[T]) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// TryRecv returns the oldest unread value without waiting.
func (s *Subscription[T]) TryRecv() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pop()
}

func (s *Subscription[T]) pop() (T, bool) {
	var zero T
	if s.count == 0 {
		return zero, false
	}
	v := s.ring[s.head]
	s.ring[s.head] = zero
	s.head = (s.head + 1) % len(s.ring)
	s.count--
	s.delivered++
	return v, true
}

// Recv waits for the next value until ctx is done.
func (s *Subscription[T]) Recv(ctx context.Context) (T, error) {
	for {
		s.mu.Lock()
		v, ok := s.pop()
		closed := s.closed
		s.mu.Unlock()

		if ok {
			return v, nil
		}
		if closed {
			var zero T
			return zero, ErrClosed
		}

		select {
		case <-s.notify:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// RecvTimeout waits up to d for the next value.
func (s *Subscription[T]) RecvTimeout(d time.Duration) (T, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()

	v, err := s.Recv(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return v, ErrTimeout
	}
	return v, err
}

// Close removes the subscription from the bus and frees its backlog.
// Close is idempotent.
func (s *Subscription[T]) Close() {
	s.bus.remove(s.id)
	s.shutdown(true)
}

func (s *Subscription[T]) shutdown(dropBacklog bool) {
	s.mu.Lock()
	s.closed = true
	if dropBacklog {
		s.ring = nil
		s.head = 0
		s.count = 0
	}
	s.mu.Unlock()

	s.wake()
}

// Stats returns the subscription counters.
func (s *Subscription[T]) Stats() SubscriptionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SubscriptionStats{
		ID:        s.id,
		Name:      s.name,
		Backlog:   s.count,
		Delivered: s.delivered,
		Evicted:   s.evicted,
	}
}

// Observe subscribes and calls fn with every value until ctx is done or the
// bus closes. A closed bus returns nil.
func (b *Bus[T]) Observe(ctx context.Context, name string, fn func(T)) error {
	sub := b.Subscribe(name)
	defer sub.Close()

	for {
		v, err := sub.Recv(ctx)
		if err != nil {
			if errors.Is(err, ErrClosed) {
				return nil
			}
			return err
		}
		fn(v)
	}
}
