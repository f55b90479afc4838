// Package multiplex implements the readiness multiplexer of spec.md
// §4.4: it builds read/write/error descriptor-set bitmaps, blocks on
// unix.Select with a bounded timeout, and reports which descriptors
// came back ready. It is a direct translation of the spec text, which
// is itself written in select(2) terms (three fd sets, nfds, a
// timeout, signal mask unchanged) — the teacher's own epoll wrapper
// (archutils/epoll_aarch64.go, monitor/monitor_linux.go) shows the
// pack's way of wrapping a blocking readiness syscall behind a small
// Go API, which this package follows using unix.Select instead of
// epoll since that is the literal primitive spec.md names.
package multiplex

import (
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Result is the set of descriptors the multiplexer found ready.
type Result struct {
	Readable []int
	Writable []int
}

// Wait builds the three fd sets per spec.md §4.4 steps 2-5, always
// arming listenFD for read, and blocks in unix.Select for at most
// timeout. readable/writable are the manager's Classify() output.
func Wait(listenFD int, readable, writable []int, timeout time.Duration) (Result, error) {
	var readSet, writeSet, errorSet unix.FdSet
	maxFD := listenFD

	fdSet(&readSet, listenFD)
	fdSet(&errorSet, listenFD)

	for _, fd := range readable {
		fdSet(&readSet, fd)
		fdSet(&errorSet, fd)
		if fd > maxFD {
			maxFD = fd
		}
	}
	for _, fd := range writable {
		fdSet(&writeSet, fd)
		fdSet(&errorSet, fd)
		if fd > maxFD {
			maxFD = fd
		}
	}

	tv := unix.NsecToTimeval(timeout.Nanoseconds())
	n, err := unix.Select(maxFD+1, &readSet, &writeSet, &errorSet, &tv)
	if err != nil {
		if err == unix.EINTR {
			return Result{}, nil
		}
		return Result{}, errors.Wrap(err, "select")
	}
	if n < 0 {
		return Result{}, errors.Errorf("select: negative return count %d", n)
	}

	var res Result
	if fdIsSet(&readSet, listenFD) {
		res.Readable = append(res.Readable, listenFD)
	}
	for _, fd := range readable {
		if fdIsSet(&readSet, fd) || fdIsSet(&errorSet, fd) {
			res.Readable = append(res.Readable, fd)
		}
	}
	for _, fd := range writable {
		if fdIsSet(&writeSet, fd) || fdIsSet(&errorSet, fd) {
			res.Writable = append(res.Writable, fd)
		}
	}
	return res, nil
}

// fdSet/fdIsSet reimplement the FD_SET/FD_ISSET macros unix.FdSet
// doesn't itself expose as methods; Bits is a fixed [16]int64 array
// indexed by fd/64 with the bit fd%64 set.
func fdSet(set *unix.FdSet, fd int) {
	set.Bits[fd/64] |= 1 << (uint(fd) % 64)
}

func fdIsSet(set *unix.FdSet, fd int) bool {
	return set.Bits[fd/64]&(1<<(uint(fd)%64)) != 0
}
