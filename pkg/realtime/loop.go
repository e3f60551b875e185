package realtime

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLoopStopped is returned by Do once the loop no longer accepts tasks.
var ErrLoopStopped = errors.New("loop stopped")

// Loop runs tasks one at a time on a single goroutine. Everything posted to
// a Loop observes the effects of every task posted before it.
type Loop struct {
	tasks chan func()

	// deferred is unbounded so that Defer never blocks the task goroutine.
	mu       sync.Mutex
	deferred []deferredTask
	wake     chan struct{}

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type deferredTask struct {
	at time.Time
	fn func()
}

// NewLoop creates a stopped loop; call Run to start it.
func NewLoop() *Loop {
	return &Loop{
		tasks: make(chan func(), 64),
		wake:  make(chan struct{}, 1),
		stop:  make(chan struct{}),
	}
}

// Run starts the task goroutine and the deferred-task goroutine. They exit
// when ctx is done or Stop is called.
func (l *Loop) Run(ctx context.Context) {
	l.wg.Add(2)
	go func() {
		defer l.wg.Done()
		for {
			select {
			case <-ctx.Done():
				l.Stop()
				return
			case <-l.stop:
				return
			case fn := <-l.tasks:
				fn()
			}
		}
	}()
	go func() {
		defer l.wg.Done()
		for {
			d, ok := l.nextDeferred()
			if !ok {
				select {
				case <-ctx.Done():
					return
				case <-l.stop:
					return
				case <-l.wake:
				}
				continue
			}
			// Deferred tasks are released in submission order, so a
			// shorter delay never overtakes an earlier one.
			timer := time.NewTimer(time.Until(d.at))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-l.stop:
				timer.Stop()
				return
			case <-timer.C:
			}
			if !l.Post(d.fn) {
				return
			}
		}
	}()
}

func (l *Loop) nextDeferred() (deferredTask, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.deferred) == 0 {
		return deferredTask{}, false
	}
	d := l.deferred[0]
	l.deferred[0] = deferredTask{}
	l.deferred = l.deferred[1:]
	return d, true
}

// Post queues fn. It reports false when the loop has been stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.stop:
		return false
	default:
	}
	select {
	case l.tasks <- fn:
		return true
	case <-l.stop:
		return false
	}
}

// Defer queues fn to run on the loop after d. It never blocks, so tasks may
// call it.
func (l *Loop) Defer(d time.Duration, fn func()) {
	if l.Stopped() {
		return
	}
	l.mu.Lock()
	l.deferred = append(l.deferred, deferredTask{at: time.Now().Add(d), fn: fn})
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Do runs fn on the loop and waits for its result. It must not be called
// from a task running on the same loop.
func (l *Loop) Do(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	if !l.Post(func() { done <- fn() }) {
		return ErrLoopStopped
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-l.stop:
		return ErrLoopStopped
	}
}

// Stop ends the loop. Pending and deferred tasks are dropped.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stop) })
}

// Wait blocks until the loop goroutines have exited.
func (l *Loop) Wait() {
	l.wg.Wait()
}

// Stopped reports whether Stop has been called.
func (l *Loop) Stopped() bool {
	select {
	case <-l.stop:
		return true
	default:
		return false
	}
}
