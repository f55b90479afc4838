package multiplex

import (
	"os"
	"testing"
	"time"

	"gotest.tools/v3/assert"
)

func TestWaitReportsReadableOnDataAndWritablePipe(t *testing.T) {
	r, w, err := os.Pipe()
	assert.NilError(t, err)
	defer r.Close()
	defer w.Close()

	_, err = w.Write([]byte("x"))
	assert.NilError(t, err)

	res, err := Wait(int(r.Fd()), []int{int(r.Fd())}, []int{int(w.Fd())}, 200*time.Millisecond)
	assert.NilError(t, err)
	assert.Assert(t, containsFD(res.Readable, int(r.Fd())))
	assert.Assert(t, containsFD(res.Writable, int(w.Fd())))
}

func TestWaitTimesOutWithNoActivity(t *testing.T) {
	r, w, err := os.Pipe()
	assert.NilError(t, err)
	defer r.Close()
	defer w.Close()

	start := time.Now()
	res, err := Wait(int(r.Fd()), []int{int(r.Fd())}, nil, 50*time.Millisecond)
	assert.NilError(t, err)
	assert.Assert(t, time.Since(start) >= 40*time.Millisecond)
	assert.Assert(t, !containsFD(res.Readable, int(r.Fd())))
}

func containsFD(fds []int, fd int) bool {
	for _, f := range fds {
		if f == fd {
			return true
		}
	}
	return false
}
