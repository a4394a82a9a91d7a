package server

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dd0wney/malaphor/pkg/logging"
)

// ReloadFunc re-reads configuration in place.
type ReloadFunc func() error

// Graceful runs a long-lived process until it returns or the process is
// asked to stop. SIGINT and SIGTERM cancel the run context; SIGHUP calls the
// reload function and keeps running.
type Graceful struct {
	logger logging.Logger

	shutdownCh   chan struct{}
	shutdownOnce sync.Once

	reloadMu sync.RWMutex
	reloadFn ReloadFunc
}

func NewGraceful(logger logging.Logger) *Graceful {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Graceful{
		logger:     logger.With(logging.Component("lifecycle")),
		shutdownCh: make(chan struct{}),
	}
}

// SetReloadFunc sets the function to call on SIGHUP.
func (g *Graceful) SetReloadFunc(fn ReloadFunc) {
	g.reloadMu.Lock()
	defer g.reloadMu.Unlock()
	g.reloadFn = fn
}

// Reload runs the reload function, if one is set.
func (g *Graceful) Reload() error {
	g.reloadMu.RLock()
	fn := g.reloadFn
	g.reloadMu.RUnlock()

	if fn == nil {
		g.logger.Info("reload requested, but no reload function configured")
		return nil
	}
	if err := fn(); err != nil {
		g.logger.Error("configuration reload failed", logging.Error(err))
		return err
	}
	g.logger.Info("configuration reloaded")
	return nil
}

// Run calls serve and returns its error. serve must return once its context
// is cancelled.
func (g *Graceful) Run(ctx context.Context, serve func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() { errCh <- serve(ctx) }()

	for {
		select {
		case err := <-errCh:
			return err
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				_ = g.Reload()
				continue
			}
			g.logger.Info("shutting down", logging.String("signal", sig.String()))
			g.shutdownOnce.Do(func() { close(g.shutdownCh) })
			cancel()
		}
	}
}

// IsShuttingDown reports whether a stop signal has been received.
func (g *Graceful) IsShuttingDown() bool {
	select {
	case <-g.shutdownCh:
		return true
	default:
		return false
	}
}
