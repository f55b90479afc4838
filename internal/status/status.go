// Package status carries the fixed set of HTTP outcomes the server can
// produce, the MIME extension table, and the error-body template. None
// of it depends on the connection state machine.
package status

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Code is one of the seven response codes the server ever emits.
type Code int

const (
	OK                  Code = 200
	BadRequest          Code = 400
	Forbidden           Code = 403
	NotFound            Code = 404
	MethodNotAllowed    Code = 405
	PayloadTooLarge     Code = 413
	InternalServerError Code = 500
)

var reasons = map[Code]string{
	OK:                  "OK",
	BadRequest:          "Bad Request",
	Forbidden:           "Forbidden",
	NotFound:            "Not Found",
	MethodNotAllowed:    "Method Not Allowed",
	PayloadTooLarge:     "Payload Too Large",
	InternalServerError: "Internal Server Error",
}

// Reason returns the reason string for code, or "Unknown" if code isn't
// one of the seven recognized outcomes.
func (c Code) Reason() string {
	if r, ok := reasons[c]; ok {
		return r
	}
	return "Unknown"
}

// StatusLine renders "HTTP/1.1 <code> <reason>\r\n".
func (c Code) StatusLine() string {
	return fmt.Sprintf("HTTP/1.1 %d %s\r\n", int(c), c.Reason())
}

// Sentinel errors classifying why the parser chose a non-200 outcome.
// Modeled on the teacher's errdefs package: a flat set of comparable
// sentinels plus one classifier (CodeFor), rather than a taxonomy of typed
// errors, since the only thing callers ever need is "which of the
// seven outcomes is this".
var (
	ErrMalformedRequest = errors.New("malformed request line")
	ErrPathTraversal    = errors.New("path traversal rejected")
	ErrNotRegularFile   = errors.New("not a regular file")
	ErrFileNotFound     = errors.New("file not found")
	ErrMethodNotAllowed = errors.New("method not allowed")
	ErrTooLarge         = errors.New("file exceeds max_file_size")
	ErrInternal         = errors.New("internal error resolving request")
)

// CodeFor maps a sentinel produced by the parser to its wire status
// code. Panics on an unrecognized error to catch a missing mapping in
// tests rather than silently emitting 500 for everything.
func CodeFor(err error) Code {
	switch {
	case errors.Is(err, ErrMalformedRequest):
		return BadRequest
	case errors.Is(err, ErrPathTraversal), errors.Is(err, ErrNotRegularFile):
		return Forbidden
	case errors.Is(err, ErrFileNotFound):
		return NotFound
	case errors.Is(err, ErrMethodNotAllowed):
		return MethodNotAllowed
	case errors.Is(err, ErrTooLarge):
		return PayloadTooLarge
	case errors.Is(err, ErrInternal):
		return InternalServerError
	default:
		panic(fmt.Sprintf("status: no code mapping for error %q", err))
	}
}

// ErrorBody renders the fixed error-page template spec.md §4.2 names.
func ErrorBody(c Code) []byte {
	return []byte(fmt.Sprintf("<html><body><h1>%d %s</h1></body></html>", int(c), c.Reason()))
}

// defaultMIME is the case-insensitive extension lookup spec.md §6 lists.
// Treated as an injectable default so a caller could substitute a
// richer table without touching the parser.
var defaultMIME = map[string]string{
	"html": "text/html",
	"css":  "text/css",
	"js":   "application/javascript",
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
	"svg":  "image/svg+xml",
	"ico":  "image/x-icon",
	"json": "application/json",
	"txt":  "text/plain",
}

const defaultContentType = "application/octet-stream"

// MIMETable is an injectable extension->content-type lookup. A nil
// *MIMETable behaves as the default table.
type MIMETable struct {
	entries map[string]string
}

// DefaultMIMETable returns the table spec.md §6 specifies.
func DefaultMIMETable() *MIMETable {
	return &MIMETable{entries: defaultMIME}
}

// Lookup returns the content type for path's extension, case
// insensitively, defaulting to application/octet-stream.
func (t *MIMETable) Lookup(path string) string {
	entries := defaultMIME
	if t != nil && t.entries != nil {
		entries = t.entries
	}
	ext := path
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		ext = path[i+1:]
	} else {
		return defaultContentType
	}
	if ct, ok := entries[strings.ToLower(ext)]; ok {
		return ct
	}
	return defaultContentType
}
