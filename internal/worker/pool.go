// Package worker implements the fixed-size parse worker pool of
// spec.md §4.3 (Parse) and §4.5 (completion drain). Workers never
// touch a connection's socket; they only run internal/parser against
// a snapshotted request buffer and report a completion back to the
// driver over a bounded channel.
//
// The channel-driven dispatch shape is grounded in the teacher's
// eventloop.ChanLoop (a goroutine reading off a channel) generalized
// from one dispatcher to a fixed N, and in chanotify.Notifier for the
// "drain a completion channel without blocking the sender" idiom —
// here collapsed to the single `(fd, headers)` completion shape
// spec.md §4.3 names, since the pool has no need for chanotify's
// dynamic per-source Add/Close lifecycle.
package worker

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/evhttpd/evhttpd/internal/parser"
)

// Job is one unit of parse work submitted by the Recv handler once
// end-of-headers has been detected.
type Job struct {
	FD  int
	Raw []byte
}

// Completion is the message a worker sends back once a Job has been
// parsed. The driver installs it on the connection if the connection
// is still in stage Parse (spec.md §4.5).
type Completion struct {
	FD     int
	Result parser.Result
}

// Pool is a fixed-size set of goroutines draining a shared job queue.
type Pool struct {
	jobs        chan Job
	completions chan Completion
	limits      parser.Limits
	group       *errgroup.Group
	cancel      context.CancelFunc
}

// New starts n workers parsing against limits. Jobs are buffered
// shallowly (2*n) so a burst of simultaneous Recv completions doesn't
// stall the event loop's submission; completions are buffered the same
// way so a slow driver drain cycle doesn't stall workers either.
func New(ctx context.Context, n int, limits parser.Limits) *Pool {
	ctx, cancel := context.WithCancel(ctx)
	group, ctx := errgroup.WithContext(ctx)

	p := &Pool{
		jobs:        make(chan Job, 2*n),
		completions: make(chan Completion, 2*n),
		limits:      limits,
		group:       group,
		cancel:      cancel,
	}

	for i := 0; i < n; i++ {
		group.Go(func() error {
			p.run(ctx)
			return nil
		})
	}
	return p
}

func (p *Pool) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-p.jobs:
			result := parser.Parse(job.Raw, p.limits)
			select {
			case p.completions <- Completion{FD: job.FD, Result: result}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Submit enqueues a parse job. Blocks only if every worker and the
// queue buffer is saturated, which backpressures the Recv handler the
// same way a full admission table backpressures the accept phase.
func (p *Pool) Submit(job Job) {
	p.jobs <- job
}

// Completions returns the channel the driver drains, non-blockingly,
// once per event loop cycle (spec.md §4.5's completion drain phase).
func (p *Pool) Completions() <-chan Completion {
	return p.completions
}

// Close cancels the workers and waits for their goroutines to exit.
// Jobs still queued are not parsed, and a completion produced after
// cancellation may be discarded. Workers never return an error, so
// Close returns nil.
func (p *Pool) Close() error {
	p.cancel()
	return p.group.Wait()
}
