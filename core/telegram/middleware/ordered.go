package middleware

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/fihsr/giftescrow/core/logger"

	tele "gopkg.in/telebot.v4"
)

// UserQueue runs the updates of one sender in arrival order on a dedicated
// goroutine while different senders proceed concurrently. It must be the
// outermost middleware of a bot started with Synchronous settings, so that
// updates are enqueued in the order the poller delivers them.
type UserQueue struct {
	// OnError receives handler errors, which can no longer reach the poller.
	OnError func(error, tele.Context)

	mu      sync.Mutex
	pending map[int64][]func()
	wg      sync.WaitGroup
}

// NewUserQueue returns an idle queue.
func NewUserQueue() *UserQueue {
	return &UserQueue{pending: make(map[int64][]func())}
}

// Middleware enqueues next for the update's sender and returns at once.
// Updates without a sender or chat run inline.
func (q *UserQueue) Middleware(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		key, ok := queueKey(c)
		if !ok {
			return next(c)
		}
		q.push(key, func() {
			if err := next(c); err != nil && q.OnError != nil {
				q.OnError(err, c)
			}
		})
		return nil
	}
}

// Wait blocks until every enqueued update has been handled.
func (q *UserQueue) Wait() {
	q.wg.Wait()
}

// Len reports how many senders have queued or running updates.
func (q *UserQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *UserQueue) push(key int64, job func()) {
	q.wg.Add(1)
	q.mu.Lock()
	jobs, running := q.pending[key]
	q.pending[key] = append(jobs, job)
	q.mu.Unlock()
	if !running {
		go q.drain(key)
	}
}

// drain owns the sender's queue until it is empty; the map entry stays present
// while a job runs so concurrent pushes append instead of starting a worker.
func (q *UserQueue) drain(key int64) {
	for {
		q.mu.Lock()
		jobs := q.pending[key]
		if len(jobs) == 0 {
			delete(q.pending, key)
			q.mu.Unlock()
			return
		}
		job := jobs[0]
		jobs[0] = nil
		q.pending[key] = jobs[1:]
		q.mu.Unlock()

		q.run(key, job)
	}
}

func (q *UserQueue) run(key int64, job func()) {
	defer q.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			logger.Error(logger.Background(), logger.ComponentTG, "tg.queue.panic",
				slog.String("status", "fail"),
				slog.Int64("user_id", key),
				slog.String("err", logger.SanitizeLimit(fmt.Sprint(r), 256)),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	job()
}

func queueKey(c tele.Context) (int64, bool) {
	if u := c.Sender(); u != nil && u.ID != 0 {
		return u.ID, true
	}
	if ch := c.Chat(); ch != nil && ch.ID != 0 {
		return ch.ID, true
	}
	return 0, false
}
