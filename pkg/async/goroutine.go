package async

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultTaskTimeout bounds a task that is started without an explicit
// timeout.
const DefaultTaskTimeout = 30 * time.Second

// Runner launches background tasks detached from the request that
// triggered them. The base context is the server lifetime, not the
// request, so a finished request does not cancel its side effects.
type Runner struct {
	base context.Context
	log  *logrus.Entry
	wg   sync.WaitGroup
}

// NewRunner creates a runner whose tasks derive from base. Cancelling
// base cancels every task still running.
func NewRunner(base context.Context, log *logrus.Entry) *Runner {
	return &Runner{base: base, log: log}
}

// Go runs fn on a new goroutine under a timeout derived from the
// runner's base context. Panics are recovered and logged; a returned
// error is logged and dropped.
func (r *Runner) Go(name string, timeout time.Duration, fn func(context.Context) error) {
	if timeout <= 0 {
		timeout = DefaultTaskTimeout
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(r.base, timeout)
		defer cancel()
		defer func() {
			if rec := recover(); rec != nil {
				r.log.WithFields(logrus.Fields{
					"task":  name,
					"panic": rec,
					"stack": string(debug.Stack()),
				}).Error("background task panicked")
			}
		}()
		if err := fn(ctx); err != nil {
			r.log.WithField("task", name).WithError(err).Warn("background task failed")
		}
	}()
}

// Wait blocks until every task has finished or the deadline elapses.
// Returns false when tasks were abandoned at the deadline.
func (r *Runner) Wait(deadline time.Duration) bool {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(deadline):
		return false
	}
}
