// Package connmanager implements the admission and lifecycle manager
// of spec.md §4.1: a single mutex-guarded index of live connections,
// keyed by descriptor. The locking shape follows the teacher's
// monitor.Monitor type (one mutex over a map[int]X, lookups released
// before any blocking work is attempted).
package connmanager

import (
	"os"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/evhttpd/evhttpd/internal/connection"
)

// Manager is the connection index. The zero value is not usable; use
// New.
type Manager struct {
	mu       sync.Mutex
	entries  map[int]*connection.Connection
	maxConns int
}

// New returns a Manager admitting at most maxConnections concurrent
// connections.
func New(maxConnections int) *Manager {
	return &Manager{
		entries:  make(map[int]*connection.Connection),
		maxConns: maxConnections,
	}
}

// Len reports the current live connection count.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Admit inserts a new Connection record in stage Recv for fd if the
// live count is below the admission cap. fd must already be in
// non-blocking mode. Returns false (and admits nothing) if the cap is
// reached.
func (m *Manager) Admit(fd int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.entries) >= m.maxConns {
		return false
	}
	m.entries[fd] = connection.New(fd)
	return true
}

// With obtains exclusive access to the connection identified by fd,
// runs f against it, and releases. If fd is unknown, With is a no-op.
// This is the only way stage handlers mutate connection state; the
// whole call, including f, runs under the manager's lock, matching
// spec.md §5's requirement that every mutation hold the mutex. f must
// not block: handlers only ever perform non-blocking fd I/O inside it
// (spec.md §5).
func (m *Manager) With(fd int, f func(c *connection.Connection)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.entries[fd]
	if !ok {
		return
	}
	f(c)
}

// Classify snapshots descriptors partitioned by stage: Recv/Parse are
// readable, SendHeaders/SendFile are writable, Close contributes to
// neither (spec.md §4.1).
func (m *Manager) Classify() (readable, writable []int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for fd, c := range m.entries {
		switch c.Stage {
		case connection.Recv, connection.Parse:
			readable = append(readable, fd)
		case connection.SendHeaders, connection.SendFile:
			writable = append(writable, fd)
		}
	}
	return readable, writable
}

// Reap lists descriptors whose stage is Close. It does not remove
// them; call Remove for each to finish cleanup.
func (m *Manager) Reap() []int {
	m.mu.Lock()
	defer m.mu.Unlock()

	var fds []int
	for fd, c := range m.entries {
		if c.Stage == connection.Close {
			fds = append(fds, fd)
		}
	}
	return fds
}

// Remove extracts the record for fd, closes its owned socket and file
// handle, and deletes it from the index. Close errors on the socket
// and file are aggregated with go-multierror, mirroring the teacher's
// multierror package, since both can independently fail and both
// failures are worth reporting.
func (m *Manager) Remove(fd int) error {
	m.mu.Lock()
	c, ok := m.entries[fd]
	if ok {
		delete(m.entries, fd)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}

	var result *multierror.Error
	if err := unix.Close(fd); err != nil {
		result = multierror.Append(result, errors.Wrapf(err, "connection %d: close socket", fd))
	}
	if err := c.CloseFile(); err != nil {
		result = multierror.Append(result, errors.Wrapf(err, "connection %d: close file", fd))
	}
	return result.ErrorOrNil()
}

// AttachFile installs a file handle and size on a live record,
// returning false if fd is unknown (spec.md §4.1).
func (m *Manager) AttachFile(fd int, file *os.File, size int64, isHead bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.entries[fd]
	if !ok {
		return false
	}
	c.AttachFile(file, size, isHead)
	return true
}

// InstallHeaders sets the response header buffer on fd's record and
// advances it to SendHeaders, but only if the record is still in
// stage Parse — a completion message racing a connection that was
// already reaped must be a no-op (spec.md §4.5 completion drain).
// Reports whether the install happened.
func (m *Manager) InstallHeaders(fd int, headers []byte) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.entries[fd]
	if !ok || c.Stage != connection.Parse {
		return false
	}
	c.Headers = headers
	_ = c.AdvanceTo(connection.SendHeaders)
	return true
}
