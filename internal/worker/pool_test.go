package worker

import (
	"context"
	"os"
	"testing"
	"time"

	"go.uber.org/goleak"
	"gotest.tools/v3/assert"

	"github.com/evhttpd/evhttpd/internal/parser"
	"github.com/evhttpd/evhttpd/internal/status"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func limits(t *testing.T) parser.Limits {
	t.Helper()
	root := t.TempDir()
	assert.NilError(t, os.WriteFile(root+"/index.html", []byte("hi"), 0o644))
	return parser.Limits{DocumentRoot: root, MaxFileSize: 1 << 20, MIME: status.DefaultMIMETable()}
}

func TestPoolParsesAndReportsCompletion(t *testing.T) {
	p := New(context.Background(), 2, limits(t))
	defer p.Close()

	p.Submit(Job{FD: 11, Raw: []byte("GET / HTTP/1.1\r\n\r\n")})

	select {
	case c := <-p.Completions():
		assert.Equal(t, 11, c.FD)
		assert.Equal(t, status.OK, c.Result.Code)
		if c.Result.File != nil {
			c.Result.File.Close()
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no completion received")
	}
}

func TestPoolHandlesManyJobsConcurrently(t *testing.T) {
	p := New(context.Background(), 4, limits(t))
	defer p.Close()

	const n = 50
	for i := 0; i < n; i++ {
		p.Submit(Job{FD: i, Raw: []byte("HEAD /index.html HTTP/1.1\r\n\r\n")})
	}

	seen := make(map[int]bool)
	for len(seen) < n {
		select {
		case c := <-p.Completions():
			seen[c.FD] = true
			assert.Equal(t, status.OK, c.Result.Code)
		case <-time.After(5 * time.Second):
			t.Fatalf("only got %d/%d completions", len(seen), n)
		}
	}
}

func TestCloseStopsWorkers(t *testing.T) {
	p := New(context.Background(), 2, limits(t))
	assert.NilError(t, p.Close())
}
