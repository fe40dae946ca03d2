package bearer

import (
	"context"
	"sync"

	"github.com/pion/logging"
)

// DefaultQueueSize is the number of PDUs a Queue buffers.
const DefaultQueueSize = 64

// QueueConfig configures a Queue.
type QueueConfig struct {
	// Bearer is the link written to.
	Bearer Bearer

	// Size is the buffer depth. DefaultQueueSize if zero.
	Size int

	// LoggerFactory is used to create loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

type queued struct {
	ctx    context.Context
	pdu    []byte
	result chan error
}

// Queue serializes writes to a Bearer: one write is outstanding at a time
// and PDUs leave in the order Send was called. It implements Bearer.
//
// Thread-safe for concurrent access.
type Queue struct {
	bearer Bearer
	reqs   chan queued
	done   chan struct{}
	log    logging.LeveledLogger

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewQueue creates a queue and starts its writer goroutine.
func NewQueue(config QueueConfig) *Queue {
	size := config.Size
	if size <= 0 {
		size = DefaultQueueSize
	}
	q := &Queue{
		bearer: config.Bearer,
		reqs:   make(chan queued, size),
		done:   make(chan struct{}),
	}
	if config.LoggerFactory != nil {
		q.log = config.LoggerFactory.NewLogger("bearer")
	}
	q.wg.Add(1)
	go q.run()
	return q
}

func (q *Queue) run() {
	defer q.wg.Done()
	for {
		select {
		case <-q.done:
			q.drain()
			return
		case r := <-q.reqs:
			q.write(r)
		}
	}
}

func (q *Queue) write(r queued) {
	if err := r.ctx.Err(); err != nil {
		r.result <- err
		return
	}
	err := q.bearer.Send(r.ctx, r.pdu)
	if err != nil && q.log != nil {
		q.log.Debugf("write of %d bytes failed: %v", len(r.pdu), err)
	}
	r.result <- err
}

// drain fails everything still buffered after Close.
func (q *Queue) drain() {
	for {
		select {
		case r := <-q.reqs:
			r.result <- ErrClosed
		default:
			return
		}
	}
}

// Send queues pdu and waits until it has been written or ctx is done.
func (q *Queue) Send(ctx context.Context, pdu []byte) error {
	if len(pdu) > q.bearer.MTU() {
		return ErrPduTooLarge
	}
	r := queued{ctx: ctx, pdu: pdu, result: make(chan error, 1)}
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case q.reqs <- r:
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-r.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-q.done:
		select {
		case err := <-r.result:
			return err
		default:
			return ErrClosed
		}
	}
}

// MTU implements Bearer.
func (q *Queue) MTU() int {
	return q.bearer.MTU()
}

// Close stops the writer. Queued PDUs fail with ErrClosed.
func (q *Queue) Close() error {
	q.closeOnce.Do(func() {
		close(q.done)
	})
	q.wg.Wait()
	return nil
}

var _ Bearer = (*Queue)(nil)
