// Package stage implements the per-stage I/O handlers of spec.md §4.3:
// Recv, SendHeaders, and SendFile. Each handler runs inside the
// connection manager's With() closure, so it holds the manager's
// mutex for the duration — by design bounded to short, non-blocking
// syscalls (spec.md §5). Sockets are raw, non-blocking file
// descriptors (spec.md §6), read and written directly via
// golang.org/x/sys/unix rather than net.Conn, since net.Conn's
// runtime-managed poller hides the fd-level WouldBlock signal the
// state machine needs to observe itself.
package stage

import (
	"bytes"
	"io"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/evhttpd/evhttpd/internal/connection"
)

var (
	crlfcrlf = []byte("\r\n\r\n")
	lflf     = []byte("\n\n")
)

// EndOfHeaders scans buf for the first occurrence of "\r\n\r\n" or
// "\n\n", returning its end offset, or -1 if not found.
func EndOfHeaders(buf []byte) int {
	if i := bytes.Index(buf, crlfcrlf); i >= 0 {
		return i + len(crlfcrlf)
	}
	if i := bytes.Index(buf, lflf); i >= 0 {
		return i + len(lflf)
	}
	return -1
}

func isWouldBlock(err error) bool {
	return err == unix.EAGAIN || err == unix.EWOULDBLOCK
}

// Recv reads into c's request buffer and, on detecting end-of-headers,
// snapshots the buffer and returns it for dispatch to a parse worker.
// Returns (snapshot, true) when parsing should be dispatched; the
// caller is responsible for calling c.AdvanceTo(connection.Parse) and
// submitting the snapshot to a parse worker, matching spec.md §4.3.
func Recv(c *connection.Connection, log logrus.FieldLogger) (snapshot []byte, ready bool) {
	n, err := unix.Read(c.FD, c.RequestBuffer[c.RequestLen:])
	if err != nil {
		if isWouldBlock(err) {
			return nil, false
		}
		log.WithError(err).WithField("fd", c.FD).Warn("recv: socket read error")
		_ = c.AdvanceTo(connection.Close)
		return nil, false
	}
	if n == 0 {
		_ = c.AdvanceTo(connection.Close)
		return nil, false
	}

	c.RequestLen += n
	end := EndOfHeaders(c.RequestBuffer[:c.RequestLen])
	if end < 0 {
		if c.RequestLen >= len(c.RequestBuffer) {
			c.HeaderOverflow++
			log.WithField("fd", c.FD).Warn("recv: request header section exceeds buffer capacity; connection stuck until peer closes")
		}
		return nil, false
	}

	snapshot = make([]byte, c.RequestLen)
	copy(snapshot, c.RequestBuffer[:c.RequestLen])
	c.ResetRequest()
	return snapshot, true
}

// SendHeaders writes c.Headers[c.HeadersSent:] to the socket, advancing
// HeadersSent and transitioning to SendFile or Close once the whole
// header buffer has gone out.
func SendHeaders(c *connection.Connection, log logrus.FieldLogger) {
	n, err := unix.Write(c.FD, c.Headers[c.HeadersSent:])
	if err != nil {
		if isWouldBlock(err) {
			return
		}
		log.WithError(err).WithField("fd", c.FD).Warn("send_headers: socket write error")
		_ = c.AdvanceTo(connection.Close)
		return
	}
	if n == 0 {
		_ = c.AdvanceTo(connection.Close)
		return
	}

	c.HeadersSent += n
	if c.HeadersSent < len(c.Headers) {
		return
	}

	if c.IsHead || c.File == nil {
		_ = c.AdvanceTo(connection.Close)
		return
	}
	_ = c.AdvanceTo(connection.SendFile)
}

// SendFile reads up to connection.SendFileChunk bytes from c.File and
// writes them to the socket, seeking the file back over any bytes
// read but not (fully) written so the next cycle re-reads them, per
// spec.md §4.3's partial-write and WouldBlock handling.
func SendFile(c *connection.Connection, log logrus.FieldLogger) {
	var buf [connection.SendFileChunk]byte

	read, err := c.File.Read(buf[:])
	if err != nil && err != io.EOF {
		log.WithError(err).WithField("fd", c.FD).Warn("send_file: file read error")
		_ = c.AdvanceTo(connection.Close)
		return
	}
	if read == 0 {
		_ = c.AdvanceTo(connection.Close)
		return
	}

	written, werr := unix.Write(c.FD, buf[:read])
	if werr != nil {
		if isWouldBlock(werr) {
			seekBack(c, log, int64(read))
			return
		}
		log.WithError(werr).WithField("fd", c.FD).Warn("send_file: socket write error")
		_ = c.AdvanceTo(connection.Close)
		return
	}
	if written == 0 {
		_ = c.AdvanceTo(connection.Close)
		return
	}
	if written < read {
		seekBack(c, log, int64(read-written))
	}

	c.FileSent += int64(written)
	if c.FileSent >= c.FileSize {
		_ = c.AdvanceTo(connection.Close)
	}
}

func seekBack(c *connection.Connection, log logrus.FieldLogger, n int64) {
	if _, err := c.File.Seek(-n, io.SeekCurrent); err != nil {
		log.WithError(err).WithField("fd", c.FD).Warn("send_file: seek back failed")
		_ = c.AdvanceTo(connection.Close)
	}
}
