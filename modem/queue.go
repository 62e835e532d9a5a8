package modem

import (
	"context"
	"errors"
	"sync"
)

// Queue is an ordered backlog of commands issued back to back on one Modem.
//
// Commands leave the queue exactly once, when they are handed to the
// dispatcher. Run keeps the dispatcher reserved for the whole chain, so no
// other caller can interleave a command. Closing the queue, or the Modem
// that created it, discards what is left without sending it.
type Queue struct {
	m *Modem

	mu      sync.Mutex
	pending []Command
	closed  bool
}

// NewQueue returns an empty queue bound to m.
func (m *Modem) NewQueue() *Queue {
	q := &Queue{m: m}
	m.queuesMu.Lock()
	m.queues[q] = struct{}{}
	m.queuesMu.Unlock()
	return q
}

// Enqueue appends cmds in order.
func (q *Queue) Enqueue(cmds ...Command) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	q.pending = append(q.pending, cmds...)
	return nil
}

// Len returns the number of commands not yet issued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) pop() (Command, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return Command{}, ErrQueueClosed
	}
	if len(q.pending) == 0 {
		return Command{}, ErrQueueEmpty
	}
	cmd := q.pending[0]
	q.pending[0] = Command{}
	q.pending = q.pending[1:]
	return cmd, nil
}

// IssueNext issues the oldest pending command. When the dispatcher is busy
// it returns ErrBusy and the command stays queued.
func (q *Queue) IssueNext(ctx context.Context) (Info, error) {
	if q.m.closed.Load() {
		return Info{}, ErrAlreadyClosed
	}
	if !q.m.busy.CompareAndSwap(false, true) {
		return Info{}, ErrBusy
	}
	defer q.m.busy.Store(false)

	cmd, err := q.pop()
	if err != nil {
		return Info{}, err
	}
	return q.m.issue(ctx, cmd)
}

// Run issues every pending command in order and returns the Info committed
// by the last one. It stops at the first failure; the remaining commands
// stay queued.
func (q *Queue) Run(ctx context.Context) (Info, error) {
	if q.m.closed.Load() {
		return Info{}, ErrAlreadyClosed
	}
	if !q.m.busy.CompareAndSwap(false, true) {
		return Info{}, ErrBusy
	}
	defer q.m.busy.Store(false)

	var info Info
	for {
		cmd, err := q.pop()
		if errors.Is(err, ErrQueueEmpty) {
			return info, nil
		}
		if err != nil {
			return info, err
		}
		if info, err = q.m.issue(ctx, cmd); err != nil {
			return info, err
		}
	}
}

// Close discards every pending command and returns how many there were.
// Closing twice is harmless.
func (q *Queue) Close() int {
	q.mu.Lock()
	n := len(q.pending)
	q.pending = nil
	q.closed = true
	q.mu.Unlock()

	q.m.queuesMu.Lock()
	delete(q.m.queues, q)
	q.m.queuesMu.Unlock()
	return n
}
