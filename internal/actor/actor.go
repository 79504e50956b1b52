// Package actor provides the single-writer mailbox that every stateful
// component runs behind. All requests addressed to one logical entity are
// executed one at a time on that entity's own goroutine, so component code
// reads and mutates its state without any locking.
package actor

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned when work is submitted to a stopped mailbox.
var ErrClosed = errors.New("actor: mailbox closed")

// Mailbox serializes all work submitted to one logical entity.
type Mailbox struct {
	ch      chan func()
	done    chan struct{}
	drained chan struct{}
	once    sync.Once
}

// NewMailbox starts the mailbox goroutine. buffer bounds how many callers
// can be queued before submission blocks.
func NewMailbox(buffer int) *Mailbox {
	m := &Mailbox{
		ch:      make(chan func(), buffer),
		done:    make(chan struct{}),
		drained: make(chan struct{}),
	}
	go m.run()
	return m
}

func (m *Mailbox) run() {
	for {
		select {
		case fn := <-m.ch:
			fn()
		case <-m.done:
			// Run whatever was accepted before the close, then stop.
			for {
				select {
				case fn := <-m.ch:
					fn()
				default:
					close(m.drained)
					return
				}
			}
		}
	}
}

// Do runs fn on the mailbox goroutine and waits for it to complete.
// Submission honors ctx, but once fn starts it always runs to completion;
// a turn is never cancelled mid-flight.
func (m *Mailbox) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	wrapped := func() {
		defer close(finished)
		fn()
	}

	select {
	case m.ch <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.drained:
		return ErrClosed
	}

	select {
	case <-finished:
		return nil
	case <-m.drained:
		// The runner stopped; the turn may or may not have been drained.
		select {
		case <-finished:
			return nil
		default:
			return ErrClosed
		}
	}
}

// Close stops the mailbox after in-flight work completes. Later
// submissions fail with ErrClosed.
func (m *Mailbox) Close() {
	m.once.Do(func() { close(m.done) })
}

// Call runs fn on the mailbox goroutine and returns its result.
func Call[T any](ctx context.Context, m *Mailbox, fn func() (T, error)) (T, error) {
	var (
		out T
		err error
	)
	if derr := m.Do(ctx, func() { out, err = fn() }); derr != nil {
		return out, derr
	}
	return out, err
}
