package pipeline

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// subscriber delivers values to one hook on its own goroutine so a slow
// consumer never holds up the batch loop or an ingestor. When its queue is
// full new values are dropped and counted.
type subscriber[T any] struct {
	fn      func(T)
	ch      chan T
	done    chan struct{}
	dropped atomic.Int64
	logger  zerolog.Logger
}

func newSubscriber[T any](fn func(T), size int, logger zerolog.Logger) *subscriber[T] {
	s := &subscriber[T]{
		fn:     fn,
		ch:     make(chan T, size),
		done:   make(chan struct{}),
		logger: logger,
	}
	go s.run()
	return s
}

func (s *subscriber[T]) run() {
	defer close(s.done)
	for v := range s.ch {
		s.call(v)
	}
}

func (s *subscriber[T]) call(v T) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("Recovered from panic in pipeline hook")
		}
	}()
	s.fn(v)
}

// offer queues v without blocking and reports whether it was accepted
func (s *subscriber[T]) offer(v T) bool {
	select {
	case s.ch <- v:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// close stops accepting values and waits until the queued ones are
// delivered or ctx is done
func (s *subscriber[T]) close(ctx context.Context) error {
	close(s.ch)
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
