// Package acceptor owns the listening socket and the pool of
// per-connection goroutines driving dispatcher.Dispatch -- grounded on
// _examples/Ankit-Kulkarni-go-experiments/transparentProxy/main.go's
// startProxy accept-loop-plus-worker-goroutine shape, with shutdown draining adapted
// from golang.org/x/sync/errgroup the way
// _examples/broady-durable-streams/packages/client-go's goroutine
// lifecycle helpers group background work.
package acceptor

import (
	"context"
	"net"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/miroslav0221/httpcacheproxy/internal/config"
	"github.com/miroslav0221/httpcacheproxy/internal/directory"
	"github.com/miroslav0221/httpcacheproxy/internal/dispatcher"
	"github.com/miroslav0221/httpcacheproxy/internal/proxylog"
)

// Acceptor runs the listen/accept loop and tracks every spawned
// connection worker so Shutdown can drain them.
type Acceptor struct {
	ln     net.Listener
	dir    *directory.Directory
	cfg    config.Config
	dial   dispatcher.DialFunc
	logger *proxylog.Logger

	group  *errgroup.Group
	gctx   context.Context
	cancel context.CancelFunc
}

// New wraps an already-bound listener. dir is the cache directory shared
// by every connection; dial is injectable so tests can run the whole
// accept loop against a fake origin.
func New(ln net.Listener, dir *directory.Directory, cfg config.Config, dial dispatcher.DialFunc, logger *proxylog.Logger) *Acceptor {
	if dial == nil {
		dial = dispatcher.NetDial
	}
	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)
	return &Acceptor{
		ln:     ln,
		dir:    dir,
		cfg:    cfg,
		dial:   dial,
		logger: logger,
		group:  group,
		gctx:   gctx,
		cancel: cancel,
	}
}

// Serve accepts connections until the listener is closed, spawning one
// worker goroutine per connection. It returns nil when the listener closes
// as part of an orderly Shutdown, and the accept error otherwise.
func (a *Acceptor) Serve() error {
	for {
		conn, err := a.ln.Accept()
		if err != nil {
			select {
			case <-a.gctx.Done():
				return nil
			default:
				a.logger.Warn("acceptor: accept failed", zap.Error(err))
				return err
			}
		}

		connID := uuid.New().String()
		connLogger := a.logger.With(zap.String("conn_id", connID), zap.String("remote", conn.RemoteAddr().String()))

		a.group.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					connLogger.Error("acceptor: connection worker panicked", zap.Any("panic", r))
				}
			}()
			dispatcher.Dispatch(context.Background(), conn, a.dir, a.cfg, a.dial, connLogger)
			return nil
		})
	}
}

// Shutdown stops accepting new connections and waits, up to ctx's
// deadline, for in-flight connection workers to finish.
func (a *Acceptor) Shutdown(ctx context.Context) error {
	closeErr := a.ln.Close()
	a.cancel()

	done := make(chan error, 1)
	go func() { done <- a.group.Wait() }()

	select {
	case err := <-done:
		if closeErr != nil {
			return closeErr
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a human-readable snapshot of cache directory size as a
// string; nothing in the proxy logs or exposes it on its own.
func (a *Acceptor) Stats() string {
	return humanize.Comma(int64(a.dir.Len())) + " cached URLs"
}
