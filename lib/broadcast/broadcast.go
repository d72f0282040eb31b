// Package broadcast implements a single-slot, latest-value publish/subscribe
// primitive. The latest published value is retained and delivered
// immediately to new subscribers; further values are delivered to every
// current subscriber. Slow subscribers are conflated to the newest value
// rather than queued.
package broadcast

import "sync"

type Source[T any] struct {
	mu     sync.Mutex
	latest T
	has    bool
	subs   map[*subscriber[T]]struct{}
}

type subscriber[T any] struct {
	ch chan T
}

func NewSource[T any]() *Source[T] {
	return &Source[T]{
		subs: map[*subscriber[T]]struct{}{},
	}
}

// Publish retains v as the latest value and fans it out to every current
// subscriber without blocking: a subscriber that has not drained its
// previous value only sees the newest one.
func (s *Source[T]) Publish(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.latest = v
	s.has = true
	for sub := range s.subs {
		select {
		case sub.ch <- v:
		default:
			select {
			case <-sub.ch:
			default:
			}
			sub.ch <- v
		}
	}
}

func (s *Source[T]) Latest() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest, s.has
}

// Subscribe returns a channel that receives the retained latest value (if
// any) followed by every subsequent publish. The cancel func must be
// called when the caller stops observing.
func (s *Source[T]) Subscribe() (<-chan T, func()) {
	sub := &subscriber[T]{ch: make(chan T, 1)}

	s.mu.Lock()
	if s.has {
		sub.ch <- s.latest
	}
	s.subs[sub] = struct{}{}
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.subs[sub]; ok {
			delete(s.subs, sub)
			close(sub.ch)
		}
	}
	return sub.ch, cancel
}
