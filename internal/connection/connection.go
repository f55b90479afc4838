// Package connection defines the per-connection record the manager owns
// and the stage machine it moves through. See spec.md §3.
package connection

import (
	"os"

	"github.com/pkg/errors"
)

// RequestBufferSize is the fixed capacity of the inbound request
// buffer (spec.md §3: 8 KiB).
const RequestBufferSize = 8 * 1024

// SendFileChunk is the stack buffer size used to read from the
// response file (spec.md §4.3 SendFile: 64 KiB).
const SendFileChunk = 64 * 1024

// Stage is one of the five phases a Connection moves through. Stages
// are monotonic: a Connection never regresses to an earlier one.
type Stage int

const (
	Recv Stage = iota
	Parse
	SendHeaders
	SendFile
	Close
)

func (s Stage) String() string {
	switch s {
	case Recv:
		return "Recv"
	case Parse:
		return "Parse"
	case SendHeaders:
		return "SendHeaders"
	case SendFile:
		return "SendFile"
	case Close:
		return "Close"
	default:
		return "Unknown"
	}
}

// Connection is the record the manager indexes by fd. It is mutated
// only by whichever component currently holds the manager's exclusion
// token for this fd (see internal/connmanager).
type Connection struct {
	FD     int
	Stage  Stage
	IsHead bool

	RequestBuffer [RequestBufferSize]byte
	RequestLen    int

	File     *os.File
	FileSize int64
	FileSent int64

	Headers     []byte
	HeadersSent int

	// HeaderOverflow counts Recv cycles where RequestLen reached
	// capacity without an end-of-headers marker being found. Spec.md
	// §9 leaves the 8 KiB overflow behavior unspecified beyond "stays
	// stuck in Recv"; this counter lets the ambient logging layer
	// observe it without changing wire behavior.
	HeaderOverflow int
}

// New returns a Connection in stage Recv for a freshly accepted fd.
func New(fd int) *Connection {
	return &Connection{FD: fd, Stage: Recv}
}

// Validate checks the invariants spec.md §3 lists. Returns the first
// violated invariant, or nil.
func (c *Connection) Validate() error {
	if c.RequestLen > len(c.RequestBuffer) {
		return errors.Errorf("connection %d: request_len %d exceeds buffer capacity %d", c.FD, c.RequestLen, len(c.RequestBuffer))
	}
	if c.HeadersSent > len(c.Headers) {
		return errors.Errorf("connection %d: headers_sent %d exceeds header length %d", c.FD, c.HeadersSent, len(c.Headers))
	}
	if c.FileSent > c.FileSize {
		return errors.Errorf("connection %d: file_sent %d exceeds file_size %d", c.FD, c.FileSent, c.FileSize)
	}
	if c.Stage == SendFile {
		if c.File == nil {
			return errors.Errorf("connection %d: stage SendFile without a file handle", c.FD)
		}
		if c.IsHead {
			return errors.Errorf("connection %d: stage SendFile on a HEAD request", c.FD)
		}
		if c.HeadersSent != len(c.Headers) {
			return errors.Errorf("connection %d: stage SendFile before headers fully sent", c.FD)
		}
	}
	return nil
}

// monotonic[from] lists the stages from may legally advance to.
var monotonic = map[Stage]map[Stage]bool{
	Recv:        {Recv: true, Parse: true, Close: true},
	Parse:       {Parse: true, SendHeaders: true, Close: true},
	SendHeaders: {SendHeaders: true, SendFile: true, Close: true},
	SendFile:    {SendFile: true, Close: true},
	Close:       {},
}

// CanAdvanceTo reports whether transitioning from c.Stage to next is a
// legal, non-regressing move.
func (c *Connection) CanAdvanceTo(next Stage) bool {
	allowed, ok := monotonic[c.Stage]
	if !ok {
		return false
	}
	return allowed[next]
}

// AdvanceTo transitions the connection, returning an error if the move
// would regress stage ordering.
func (c *Connection) AdvanceTo(next Stage) error {
	if !c.CanAdvanceTo(next) {
		return errors.Errorf("connection %d: illegal transition %s -> %s", c.FD, c.Stage, next)
	}
	c.Stage = next
	return nil
}

// ResetRequest clears the request buffer high-water mark after a
// snapshot has been handed off for parsing.
func (c *Connection) ResetRequest() {
	c.RequestLen = 0
	c.HeaderOverflow = 0
}

// AttachFile installs a response file handle, its size, and whether
// the request was a HEAD (which suppresses the body).
func (c *Connection) AttachFile(f *os.File, size int64, isHead bool) {
	c.File = f
	c.FileSize = size
	c.IsHead = isHead
}

// CloseFile releases only the owned file handle. The socket descriptor
// is closed by the caller: connmanager.Remove closes it alongside this
// call when the reap phase removes a Close-stage record.
func (c *Connection) CloseFile() error {
	if c.File == nil {
		return nil
	}
	err := c.File.Close()
	c.File = nil
	return err
}
