package connmanager

import (
	"testing"

	"golang.org/x/sys/unix"
	"gotest.tools/v3/assert"

	"github.com/evhttpd/evhttpd/internal/connection"
)

// socketpair returns two connected fds standing in for accepted
// sockets, so Remove's unix.Close(fd) has something real to close.
func socketpair(t *testing.T) (a, b int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	assert.NilError(t, err)
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestAdmitRespectsCap(t *testing.T) {
	a, _ := socketpair(t)
	b, _ := socketpair(t)
	c, _ := socketpair(t)

	m := New(2)
	assert.Equal(t, true, m.Admit(a))
	assert.Equal(t, true, m.Admit(b))
	assert.Equal(t, false, m.Admit(c))
	assert.Equal(t, 2, m.Len())
}

func TestClassifyPartitionsByStage(t *testing.T) {
	fd1, _ := socketpair(t)
	fd2, _ := socketpair(t)

	m := New(10)
	m.Admit(fd1) // Recv
	m.Admit(fd2) // will become SendFile

	m.With(fd2, func(c *connection.Connection) {
		_ = c.AdvanceTo(connection.Parse)
		_ = c.AdvanceTo(connection.SendHeaders)
		_ = c.AdvanceTo(connection.SendFile)
	})

	readable, writable := m.Classify()
	assert.DeepEqual(t, readable, []int{fd1})
	assert.DeepEqual(t, writable, []int{fd2})
}

func TestReapAndRemove(t *testing.T) {
	fd, _ := socketpair(t)

	m := New(10)
	m.Admit(fd)

	m.With(fd, func(c *connection.Connection) {
		_ = c.AdvanceTo(connection.Parse)
		_ = c.AdvanceTo(connection.SendHeaders)
		c.Headers = []byte("x")
		c.HeadersSent = 1
		_ = c.AdvanceTo(connection.Close)
	})

	closed := m.Reap()
	assert.DeepEqual(t, closed, []int{fd})

	assert.NilError(t, m.Remove(fd))
	assert.Equal(t, 0, m.Len())

	// The fd is now unknown to the manager, and really closed: a
	// second close must fail.
	assert.ErrorContains(t, unix.Close(fd), "")

	readable, writable := m.Classify()
	assert.Equal(t, 0, len(readable))
	assert.Equal(t, 0, len(writable))
}

func TestWithUnknownFDIsNoop(t *testing.T) {
	m := New(10)
	called := false
	m.With(99, func(c *connection.Connection) { called = true })
	assert.Equal(t, false, called)
}

func TestInstallHeadersOnlyFromParse(t *testing.T) {
	fd, _ := socketpair(t)
	m := New(10)
	m.Admit(fd)

	// Still in Recv: install should be rejected.
	assert.Equal(t, false, m.InstallHeaders(fd, []byte("nope")))

	m.With(fd, func(c *connection.Connection) {
		_ = c.AdvanceTo(connection.Parse)
	})
	assert.Equal(t, true, m.InstallHeaders(fd, []byte("hdrs")))

	m.With(fd, func(c *connection.Connection) {
		assert.Equal(t, connection.SendHeaders, c.Stage)
		assert.DeepEqual(t, c.Headers, []byte("hdrs"))
	})
}

func TestNeverExceedsMaxConnections(t *testing.T) {
	m := New(3)
	for i := 0; i < 10; i++ {
		fd, _ := socketpair(t)
		m.Admit(fd)
		assert.Assert(t, m.Len() <= 3)
	}
}
