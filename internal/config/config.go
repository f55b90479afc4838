// Package config loads and validates the server's configuration: the
// bind endpoint, worker pool size, document root, and the admission
// and size limits spec.md §3 names, plus the ambient fields the rest
// of the server needs (log level, optional metrics address, and
// whether to leave an existing document root untouched). Grounded on
// the teacher's small Load-entry-point-plus-wrapped-errors shape; flag
// binding lives in cmd/evhttpd.
package config

import (
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Config is the fully resolved, validated server configuration.
type Config struct {
	Host           string
	Port           int
	Threads        int
	DocumentRoot   string
	MaxConnections int
	MaxFileSize    int64
	SelectTimeout  time.Duration
	LogLevel       string
	MetricsAddress string
	ReadOnlyAssets bool
}

// Defaults returns the configuration applied before flags override it.
func Defaults() Config {
	return Config{
		Host:           "0.0.0.0",
		Port:           8080,
		Threads:        4,
		DocumentRoot:   "./public",
		MaxConnections: 1024,
		MaxFileSize:    10 * 1024 * 1024,
		SelectTimeout:  time.Second,
		LogLevel:       "info",
	}
}

// Validate checks that c is internally consistent, returning a wrapped
// error naming the first offending field.
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return errors.Errorf("config: port %d out of range", c.Port)
	}
	if c.Threads < 1 {
		return errors.Errorf("config: threads must be >= 1, got %d", c.Threads)
	}
	if c.DocumentRoot == "" {
		return errors.New("config: document_root must not be empty")
	}
	if c.MaxConnections < 1 {
		return errors.Errorf("config: max_connections must be >= 1, got %d", c.MaxConnections)
	}
	if c.MaxFileSize < 1 {
		return errors.Errorf("config: max_file_size must be >= 1, got %d", c.MaxFileSize)
	}
	if c.SelectTimeout <= 0 {
		return errors.Errorf("config: select_timeout must be > 0, got %s", c.SelectTimeout)
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrap(err, "config: log_level")
	}
	return nil
}

// Load applies opts over Defaults and validates the result.
func Load(opts ...Option) (Config, error) {
	c := Defaults()
	for _, opt := range opts {
		opt(&c)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Option mutates a Config during Load; cmd/evhttpd constructs these
// from resolved cobra/pflag values.
type Option func(*Config)

func WithHost(host string) Option           { return func(c *Config) { c.Host = host } }
func WithPort(port int) Option              { return func(c *Config) { c.Port = port } }
func WithThreads(n int) Option              { return func(c *Config) { c.Threads = n } }
func WithDocumentRoot(path string) Option   { return func(c *Config) { c.DocumentRoot = path } }
func WithMaxConnections(n int) Option       { return func(c *Config) { c.MaxConnections = n } }
func WithMaxFileSize(n int64) Option        { return func(c *Config) { c.MaxFileSize = n } }
func WithSelectTimeout(d time.Duration) Option {
	return func(c *Config) { c.SelectTimeout = d }
}
func WithLogLevel(level string) Option      { return func(c *Config) { c.LogLevel = level } }
func WithMetricsAddress(addr string) Option { return func(c *Config) { c.MetricsAddress = addr } }
func WithReadOnlyAssets(ro bool) Option     { return func(c *Config) { c.ReadOnlyAssets = ro } }
