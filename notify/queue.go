package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Queue is the post-commit dispatcher. Callers enqueue a message only after
// the state transition it reports on has durably committed; the queue then
// delivers asynchronously. A full queue sheds work rather than applying
// backpressure to the request path, and the shed count is observable.
type Queue struct {
	notifier Notifier
	logger   *slog.Logger
	ch       chan Message
	done     chan struct{}
	wg       sync.WaitGroup
	dropped  atomic.Uint64
	closed   atomic.Bool
	once     sync.Once
}

func NewQueue(notifier Notifier, buffer int, logger *slog.Logger) *Queue {
	if notifier == nil {
		notifier = NoOpNotifier{}
	}
	if buffer <= 0 {
		buffer = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	q := &Queue{
		notifier: notifier,
		logger:   logger,
		ch:       make(chan Message, buffer),
		done:     make(chan struct{}),
	}

	q.wg.Add(1)
	go q.run()

	return q
}

func (q *Queue) run() {
	defer q.wg.Done()

	for {
		select {
		case msg := <-q.ch:
			q.deliver(msg)
		case <-q.done:
			for {
				select {
				case msg := <-q.ch:
					q.deliver(msg)
				default:
					return
				}
			}
		}
	}
}

func (q *Queue) deliver(msg Message) {
	if err := q.notifier.Send(context.Background(), msg); err != nil {
		q.logger.Error("notification delivery failed",
			"target", msg.Target,
			"purpose", msg.Purpose,
			"error", err,
		)
	}
}

// Enqueue hands a message to the dispatcher. Never blocks; a full buffer
// drops the message and bumps the drop counter.
func (q *Queue) Enqueue(msg Message) {
	if q == nil || q.closed.Load() {
		return
	}
	select {
	case q.ch <- msg:
	case <-q.done:
	default:
		q.dropped.Add(1)
	}
}

// Dropped reports how many messages were shed since startup.
func (q *Queue) Dropped() uint64 {
	if q == nil {
		return 0
	}
	return q.dropped.Load()
}

// Close drains the buffer and stops the worker.
func (q *Queue) Close() {
	if q == nil {
		return
	}
	q.once.Do(func() {
		q.closed.Store(true)
		close(q.done)
		q.wg.Wait()
	})
}
