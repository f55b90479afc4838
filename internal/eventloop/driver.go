// Package eventloop implements the driver of spec.md §4.5: one
// dedicated OS thread running accept / readiness / completion-drain /
// reap in a cycle, forever. Grounded directly on the teacher's
// eventloop.ChanLoop (runtime.LockOSThread pinning the driving
// goroutine so the blocking readiness call is never migrated across
// threads mid-syscall, and a single `for { ... }` dispatch loop),
// generalized from a generic Event/Handle dispatcher into the concrete
// five-phase cycle spec.md names.
package eventloop

import (
	"context"
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/evhttpd/evhttpd/internal/connection"
	"github.com/evhttpd/evhttpd/internal/connmanager"
	"github.com/evhttpd/evhttpd/internal/multiplex"
	"github.com/evhttpd/evhttpd/internal/stage"
	"github.com/evhttpd/evhttpd/internal/worker"
)

// cycleYield is the 1 ms cooperative yield between cycles spec.md §4.5
// and §9 describe as a coarse anti-spin measure, not a tuning knob.
const cycleYield = time.Millisecond

// Driver owns the listener, the connection manager, and the parse
// worker pool, and runs the accept/dispatch/reap cycle.
type Driver struct {
	ListenFD      int
	Manager       *connmanager.Manager
	Workers       *worker.Pool
	SelectTimeout time.Duration
	Log           logrus.FieldLogger
}

// Run drives the event loop until ctx is canceled. It pins the
// calling goroutine to its OS thread for the duration, matching the
// teacher's ChanLoop.Start.
func (d *Driver) Run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		d.acceptPhase()
		d.readinessPhase()
		d.completionDrainPhase()
		d.reapPhase()

		time.Sleep(cycleYield)
	}
}

// acceptPhase non-blockingly accepts new connections and admits them,
// rejecting (and closing) any past the admission cap (spec.md §4.5
// step 1).
func (d *Driver) acceptPhase() {
	for {
		fd, _, err := unix.Accept(d.ListenFD)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			d.Log.WithError(err).Error("accept: listener error")
			return
		}

		if err := unix.SetNonblock(fd, true); err != nil {
			d.Log.WithError(err).Warn("accept: failed to set non-blocking, closing")
			unix.Close(fd)
			continue
		}

		if !d.Manager.Admit(fd) {
			d.Log.WithField("fd", fd).Warn("accept: admission cap reached, closing")
			unix.Close(fd)
			continue
		}
	}
}

// readinessPhase prepares and runs the multiplexer, dispatching each
// ready descriptor to its stage handler (spec.md §4.5 step 2).
func (d *Driver) readinessPhase() {
	readable, writable := d.Manager.Classify()

	res, err := multiplex.Wait(d.ListenFD, readable, writable, d.SelectTimeout)
	if err != nil {
		d.Log.WithError(err).Error("multiplex: readiness wait failed")
		return
	}

	for _, fd := range res.Readable {
		if fd == d.ListenFD {
			continue
		}
		d.dispatchReadable(fd)
	}
	for _, fd := range res.Writable {
		d.dispatchWritable(fd)
	}
}

func (d *Driver) dispatchReadable(fd int) {
	var (
		job   worker.Job
		ready bool
	)
	d.Manager.With(fd, func(c *connection.Connection) {
		if c.Stage != connection.Recv {
			return
		}
		snapshot, got := stage.Recv(c, d.Log)
		if !got {
			return
		}
		job = worker.Job{FD: fd, Raw: snapshot}
		ready = true
		_ = c.AdvanceTo(connection.Parse)
	})
	if ready {
		d.Workers.Submit(job)
	}
}

func (d *Driver) dispatchWritable(fd int) {
	d.Manager.With(fd, func(c *connection.Connection) {
		switch c.Stage {
		case connection.SendHeaders:
			stage.SendHeaders(c, d.Log)
		case connection.SendFile:
			stage.SendFile(c, d.Log)
		}
	})
}

// completionDrainPhase non-blockingly drains the parse-completion
// channel, installing headers (and any file) on connections still in
// stage Parse (spec.md §4.5 step 3).
func (d *Driver) completionDrainPhase() {
	for {
		select {
		case completion := <-d.Workers.Completions():
			d.installCompletion(completion)
		default:
			return
		}
	}
}

// installCompletion installs a parse worker's result on its
// connection, but only if the connection is still in stage Parse
// (spec.md §4.5 step 3). If the connection was reaped in the meantime
// (the peer closed mid-parse), AttachFile is a no-op and the file
// handle the worker opened is closed here instead of leaking.
func (d *Driver) installCompletion(completion worker.Completion) {
	res := completion.Result
	if res.File != nil {
		if !d.Manager.AttachFile(completion.FD, res.File, res.Size, res.IsHead) {
			res.File.Close()
		}
	}
	d.Manager.InstallHeaders(completion.FD, res.Wire())
}

func (d *Driver) reapPhase() {
	for _, fd := range d.Manager.Reap() {
		if err := d.Manager.Remove(fd); err != nil {
			d.Log.WithError(err).WithField("fd", fd).Warn("reap: cleanup error")
		}
	}
}
