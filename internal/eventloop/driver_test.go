package eventloop

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
	"gotest.tools/v3/assert"

	"github.com/evhttpd/evhttpd/internal/connmanager"
	"github.com/evhttpd/evhttpd/internal/listener"
	"github.com/evhttpd/evhttpd/internal/parser"
	"github.com/evhttpd/evhttpd/internal/status"
	"github.com/evhttpd/evhttpd/internal/worker"
)

// testServer starts a full driver against a real listening socket on
// an ephemeral loopback port, serving root. It returns the bound
// address; the driver is stopped by a t.Cleanup hook.
func testServer(t *testing.T, root string, maxFileSize int64) string {
	t.Helper()

	fd, err := listener.Listen("127.0.0.1", 0)
	assert.NilError(t, err)

	sa, err := unix.Getsockname(fd)
	assert.NilError(t, err)
	port := sa.(*unix.SockaddrInet4).Port

	log := logrus.New()
	log.SetOutput(io.Discard)

	manager := connmanager.New(64)
	limits := parser.Limits{
		DocumentRoot: root,
		MaxFileSize:  maxFileSize,
		MIME:         status.DefaultMIMETable(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	pool := worker.New(ctx, 2, limits)

	driver := &Driver{
		ListenFD:      fd,
		Manager:       manager,
		Workers:       pool,
		SelectTimeout: 200 * time.Millisecond,
		Log:           log,
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = driver.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		<-done
		pool.Close()
		unix.Close(fd)
	})

	return net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
}

func request(t *testing.T, addr, raw string) string {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	assert.NilError(t, err)
	defer conn.Close()

	assert.NilError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))
	_, err = conn.Write([]byte(raw))
	assert.NilError(t, err)

	body, err := io.ReadAll(conn)
	assert.NilError(t, err)
	return string(body)
}

func TestScenario1IndexGet(t *testing.T) {
	root := t.TempDir()
	assert.NilError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("<h1>hi</h1>"), 0o644))
	addr := testServer(t, root, 1<<20)

	got := request(t, addr, "GET / HTTP/1.1\r\nHost: x\r\n\r\n")
	want := "HTTP/1.1 200 OK\r\nContent-Type: text/html\r\nContent-Length: 11\r\nConnection: close\r\n\r\n<h1>hi</h1>"
	assert.Equal(t, want, got)
}

func TestScenario2NotFound(t *testing.T) {
	root := t.TempDir()
	addr := testServer(t, root, 1<<20)

	got := request(t, addr, "GET /nope.txt HTTP/1.1\r\n\r\n")
	want := "HTTP/1.1 404 Not Found\r\nContent-Type: text/html\r\nContent-Length: 46\r\nConnection: close\r\n\r\n<html><body><h1>404 Not Found</h1></body></html>"
	assert.Equal(t, want, got)
}

func TestScenario3PathTraversal(t *testing.T) {
	root := t.TempDir()
	addr := testServer(t, root, 1<<20)

	got := request(t, addr, "GET /../etc/passwd HTTP/1.1\r\n\r\n")
	assert.Assert(t, len(got) > 12 && got[:12] == "HTTP/1.1 403")
}

func TestScenario4HeadOmitsBody(t *testing.T) {
	root := t.TempDir()
	assert.NilError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("<h1>hi</h1>"), 0o644))
	addr := testServer(t, root, 1<<20)

	got := request(t, addr, "HEAD /index.html HTTP/1.1\r\n\r\n")
	want := "HTTP/1.1 200 OK\r\nContent-Type: text/html\r\nContent-Length: 11\r\nConnection: close\r\n\r\n"
	assert.Equal(t, want, got)
}

func TestScenario5Malformed(t *testing.T) {
	root := t.TempDir()
	addr := testServer(t, root, 1<<20)

	got := request(t, addr, "BROKEN\r\n\r\n")
	assert.Assert(t, len(got) > 12 && got[:12] == "HTTP/1.1 400")
}

func TestScenario6TooLarge(t *testing.T) {
	root := t.TempDir()
	assert.NilError(t, os.WriteFile(filepath.Join(root, "big.bin"), make([]byte, 101), 0o644))
	addr := testServer(t, root, 100)

	got := request(t, addr, "GET /big.bin HTTP/1.1\r\n\r\n")
	assert.Assert(t, len(got) > 12 && got[:12] == "HTTP/1.1 413")
}
