// Package parser implements the request parser of spec.md §4.2: it
// turns a raw request-prefix byte buffer into either a response header
// buffer plus an optional file handle and size, or an error response
// buffer. It touches no connection state and no socket; it is called
// from a worker goroutine (internal/worker) with only the bytes and a
// Limits value.
package parser

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/evhttpd/evhttpd/internal/status"
)

// Limits bundles the configuration the parser consults; kept separate
// from the full server Config so the parser package has no dependency
// on internal/config.
type Limits struct {
	DocumentRoot string
	MaxFileSize  int64
	MIME         *status.MIMETable
}

// Result is the outcome of parsing one request. For a 200 outcome,
// File is non-nil unless IsHead, and Body is empty (the body travels
// through the SendFile stage from File instead). For any other
// outcome, File is nil and Body holds the fixed error page, which
// leaves the connection state machine in SendHeaders for the whole
// response since there is no file to hand to SendFile.
type Result struct {
	Code    status.Code
	Headers []byte
	Body    []byte
	File    *os.File
	Size    int64
	IsHead  bool
}

// Wire returns the bytes that belong in the connection's header
// buffer: for a 200, just the header lines (the body streams from
// File via SendFile); for any other outcome, the header lines with
// the error body appended, since those responses never enter SendFile.
func (r Result) Wire() []byte {
	if len(r.Body) == 0 {
		return r.Headers
	}
	wire := make([]byte, 0, len(r.Headers)+len(r.Body))
	wire = append(wire, r.Headers...)
	wire = append(wire, r.Body...)
	return wire
}

// Parse runs the 12-step algorithm of spec.md §4.2 against raw, the
// snapshotted request buffer prefix.
func Parse(raw []byte, limits Limits) Result {
	text := strings.ToValidUTF8(string(raw), "�") // lossy decode: invalid UTF-8 sequences become U+FFFD
	lines := splitLines(text)
	if len(lines) == 0 {
		return errorResult(status.ErrMalformedRequest)
	}

	fields := strings.Fields(lines[0])
	if len(fields) < 2 {
		return errorResult(status.ErrMalformedRequest)
	}
	method, path := fields[0], fields[1]

	if strings.Contains(path, "..") {
		return errorResult(status.ErrPathTraversal)
	}

	if method != "GET" && method != "HEAD" {
		return errorResult(status.ErrMethodNotAllowed)
	}

	if path == "/" {
		path = "/index.html"
	}

	filePath := filepath.Join(limits.DocumentRoot, strings.TrimPrefix(path, "/"))

	// Canonical-path containment check (spec.md §9's recommended
	// hardening layered on top of, not instead of, the lexical ".."
	// check above).
	absRoot, err := filepath.Abs(limits.DocumentRoot)
	if err != nil {
		return errorResult(status.ErrInternal)
	}
	absFile, err := filepath.Abs(filePath)
	if err != nil {
		return errorResult(status.ErrInternal)
	}
	if !within(absRoot, absFile) {
		return errorResult(status.ErrPathTraversal)
	}

	info, err := os.Stat(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return errorResult(status.ErrFileNotFound)
		}
		return errorResult(status.ErrInternal)
	}
	if !info.Mode().IsRegular() {
		return errorResult(status.ErrNotRegularFile)
	}
	if info.Size() > limits.MaxFileSize {
		return errorResult(status.ErrTooLarge)
	}

	contentType := limits.MIME.Lookup(filePath)
	isHead := method == "HEAD"

	var f *os.File
	if !isHead {
		f, err = os.Open(filePath)
		if err != nil {
			return errorResult(status.ErrInternal)
		}
	}

	headers := buildHeaders(status.OK, contentType, info.Size())
	return Result{
		Code:    status.OK,
		Headers: headers,
		File:    f,
		Size:    info.Size(),
		IsHead:  isHead,
	}
}

func errorResult(sentinel error) Result {
	code := status.CodeFor(sentinel)
	body := status.ErrorBody(code)
	headers := buildHeaders(code, "text/html", int64(len(body)))
	return Result{Code: code, Headers: headers, Body: body}
}

func buildHeaders(code status.Code, contentType string, length int64) []byte {
	var b strings.Builder
	b.WriteString(code.StatusLine())
	b.WriteString("Content-Type: ")
	b.WriteString(contentType)
	b.WriteString("\r\nContent-Length: ")
	b.WriteString(strconv.FormatInt(length, 10))
	b.WriteString("\r\nConnection: close\r\n\r\n")
	return []byte(b.String())
}

// splitLines mirrors the original Rust parser's "split on newlines"
// step: split on "\n", trimming a trailing "\r" from each line.
func splitLines(s string) []string {
	raw := strings.Split(s, "\n")
	lines := make([]string, 0, len(raw))
	for _, l := range raw {
		lines = append(lines, strings.TrimSuffix(l, "\r"))
	}
	// Drop a trailing empty line produced by a terminal newline so
	// "GET / HTTP/1.1\r\n\r\n" yields ["GET / HTTP/1.1", ""] rather
	// than an extra empty entry past the blank separator line.
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// within reports whether file is root or a descendant of root, after
// both have been made absolute. filepath.Rel is used rather than a
// string-prefix check so "/doc" doesn't appear to contain "/document".
func within(root, file string) bool {
	rel, err := filepath.Rel(root, file)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	return !strings.HasPrefix(rel, "..")
}
