// The serve command wires a config.Config into a running server:
// it seeds the document root, builds the connection manager, worker
// pool, and listener, and runs the event loop driver until
// interrupted. Grounded on the teacher's cli/cmd/serve.go (a
// New*Command returning *cobra.Command whose RunE builds a listener
// and a long-lived server and runs it to completion).
package main

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/evhttpd/evhttpd/internal/assets"
	"github.com/evhttpd/evhttpd/internal/config"
	"github.com/evhttpd/evhttpd/internal/connmanager"
	"github.com/evhttpd/evhttpd/internal/eventloop"
	"github.com/evhttpd/evhttpd/internal/listener"
	"github.com/evhttpd/evhttpd/internal/parser"
	"github.com/evhttpd/evhttpd/internal/status"
	"github.com/evhttpd/evhttpd/internal/worker"
)

type serveOpts struct {
	host           string
	port           int
	threads        int
	documentRoot   string
	maxConnections int
	maxFileSize    int64
	selectTimeout  time.Duration
	logLevel       string
	readOnlyAssets bool
}

func newServeCommand() *cobra.Command {
	var opts serveOpts
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the static file server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.host, "host", "0.0.0.0", "address to bind")
	flags.IntVar(&opts.port, "port", 8080, "port to bind")
	flags.IntVar(&opts.threads, "threads", 4, "parse worker pool size")
	flags.StringVar(&opts.documentRoot, "document-root", "./public", "directory to serve files from")
	flags.IntVar(&opts.maxConnections, "max-connections", 1024, "maximum concurrent connections admitted")
	flags.Int64Var(&opts.maxFileSize, "max-file-size", 10*1024*1024, "maximum file size served, in bytes")
	flags.DurationVar(&opts.selectTimeout, "select-timeout", time.Second, "readiness wait timeout")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level (panic, fatal, error, warn, info, debug, trace)")
	flags.BoolVar(&opts.readOnlyAssets, "read-only-assets", false, "never write default index.html/style.css into an empty document root")

	return cmd
}

func runServe(ctx context.Context, opts serveOpts) error {
	cfg, err := config.Load(
		config.WithHost(opts.host),
		config.WithPort(opts.port),
		config.WithThreads(opts.threads),
		config.WithDocumentRoot(opts.documentRoot),
		config.WithMaxConnections(opts.maxConnections),
		config.WithMaxFileSize(opts.maxFileSize),
		config.WithSelectTimeout(opts.selectTimeout),
		config.WithLogLevel(opts.logLevel),
		config.WithReadOnlyAssets(opts.readOnlyAssets),
	)
	if err != nil {
		return errors.Wrap(err, "serve")
	}

	log := logrus.New()
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return errors.Wrap(err, "serve")
	}
	log.SetLevel(level)

	if err := assets.Seed(cfg.DocumentRoot, cfg.ReadOnlyAssets); err != nil {
		return errors.Wrap(err, "serve")
	}

	listenFD, err := listener.Listen(cfg.Host, cfg.Port)
	if err != nil {
		return errors.Wrap(err, "serve")
	}
	defer unix.Close(listenFD)

	manager := connmanager.New(cfg.MaxConnections)

	limits := parser.Limits{
		DocumentRoot: cfg.DocumentRoot,
		MaxFileSize:  cfg.MaxFileSize,
		MIME:         status.DefaultMIMETable(),
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pool := worker.New(ctx, cfg.Threads, limits)
	defer pool.Close()

	driver := &eventloop.Driver{
		ListenFD:      listenFD,
		Manager:       manager,
		Workers:       pool,
		SelectTimeout: cfg.SelectTimeout,
		Log:           log,
	}

	log.WithFields(logrus.Fields{
		"address":         listener.Addr(cfg.Host, cfg.Port),
		"document_root":   cfg.DocumentRoot,
		"threads":         cfg.Threads,
		"max_connections": cfg.MaxConnections,
	}).Info("evhttpd: listening")

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, unix.SIGTERM)
		select {
		case <-sig:
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := driver.Run(ctx); err != nil && err != context.Canceled {
		return errors.Wrap(err, "serve")
	}
	return nil
}
