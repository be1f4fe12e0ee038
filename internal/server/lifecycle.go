// Package server runs the long-lived parts of a process (session registry,
// WebSocket listener, simulated clients) as named services with ordered
// startup and reverse-order shutdown.
package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Service represents a long-running component that can be started and stopped.
type Service interface {
	// Start runs the service, blocking until it is stopped or fails.
	Start() error
	// Stop releases the service. It must unblock Start.
	Stop()
}

// FuncService adapts a start/stop function pair into the Service interface.
type FuncService struct {
	StartFn func() error
	StopFn  func()
}

// Start calls the underlying start function.
func (f *FuncService) Start() error { return f.StartFn() }

// Stop calls the underlying stop function.
func (f *FuncService) Stop() { f.StopFn() }

// Option customizes a Lifecycle.
type Option func(*Lifecycle)

// WithSignals replaces the shutdown signals. No arguments disables signal handling.
func WithSignals(sig ...os.Signal) Option {
	return func(l *Lifecycle) { l.signals = sig }
}

// WithStopTimeout bounds how long shutdown waits for each service's Stop.
// A Stop that overruns is logged and left running.
func WithStopTimeout(d time.Duration) Option {
	return func(l *Lifecycle) { l.stopTimeout = d }
}

// Lifecycle owns a set of named services.
type Lifecycle struct {
	logger      *zap.Logger
	signals     []os.Signal
	stopTimeout time.Duration

	mu       sync.Mutex
	services []entry
}

type entry struct {
	name     string
	service  Service
	optional bool
}

// NewLifecycle creates a Lifecycle that shuts down on SIGINT or SIGTERM and
// waits at most 10s for each Stop.
//
// Precondition: logger must be non-nil.
func NewLifecycle(logger *zap.Logger, opts ...Option) *Lifecycle {
	l := &Lifecycle{
		logger:      logger,
		signals:     []os.Signal{syscall.SIGINT, syscall.SIGTERM},
		stopTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Add registers a required service. Its failure shuts the process down.
// Services start in registration order and stop in reverse order.
//
// Precondition: name must be non-empty; svc must be non-nil.
func (l *Lifecycle) Add(name string, svc Service) {
	l.add(entry{name: name, service: svc})
}

// AddOptional registers a service whose failure is logged but does not stop
// the others, such as a simulated client that gave up reconnecting.
//
// Precondition: name must be non-empty; svc must be non-nil.
func (l *Lifecycle) AddOptional(name string, svc Service) {
	l.add(entry{name: name, service: svc, optional: true})
}

func (l *Lifecycle) add(e entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.services = append(l.services, e)
}

// Run starts every service and blocks until a shutdown signal arrives, ctx is
// cancelled, or a required service's Start returns an error.
//
// Postcondition: Stop has been called on every service when Run returns. The
// first required-service failure, if any, is returned.
func (l *Lifecycle) Run(ctx context.Context) error {
	start := time.Now()

	l.mu.Lock()
	services := append([]entry(nil), l.services...)
	l.mu.Unlock()

	errCh := make(chan error, len(services))
	for _, e := range services {
		go l.run(e, errCh)
	}
	l.logger.Info("all services started",
		zap.Int("count", len(services)),
		zap.Duration("startup", time.Since(start)),
	)

	var sigCh chan os.Signal
	if len(l.signals) > 0 {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, l.signals...)
		defer signal.Stop(sigCh)
	}

	var runErr error
	select {
	case sig := <-sigCh:
		l.logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case runErr = <-errCh:
		l.logger.Error("service error, shutting down", zap.Error(runErr))
	case <-ctx.Done():
		l.logger.Info("context cancelled, shutting down")
	}

	l.shutdown(services)
	l.logger.Info("shutdown complete", zap.Duration("total_uptime", time.Since(start)))
	return runErr
}

func (l *Lifecycle) run(e entry, errCh chan<- error) {
	l.logger.Info("starting service", zap.String("service", e.name), zap.Bool("optional", e.optional))
	svcStart := time.Now()
	err := e.service.Start()
	if err == nil {
		return
	}
	fields := []zap.Field{
		zap.String("service", e.name),
		zap.Error(err),
		zap.Duration("uptime", time.Since(svcStart)),
	}
	if e.optional {
		l.logger.Warn("optional service failed", fields...)
		return
	}
	l.logger.Error("service failed", fields...)
	errCh <- fmt.Errorf("service %s: %w", e.name, err)
}

func (l *Lifecycle) shutdown(services []entry) {
	shutdownStart := time.Now()
	for i := len(services) - 1; i >= 0; i-- {
		e := services[i]
		stopStart := time.Now()
		if !l.stopWithin(e.service) {
			l.logger.Warn("service stop timed out",
				zap.String("service", e.name),
				zap.Duration("timeout", l.stopTimeout),
			)
			continue
		}
		l.logger.Info("service stopped",
			zap.String("service", e.name),
			zap.Duration("elapsed", time.Since(stopStart)),
		)
	}
	l.logger.Info("all services stopped", zap.Duration("shutdown_elapsed", time.Since(shutdownStart)))
}

// stopWithin calls svc.Stop and reports whether it returned within the stop timeout.
func (l *Lifecycle) stopWithin(svc Service) bool {
	if l.stopTimeout <= 0 {
		svc.Stop()
		return true
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		svc.Stop()
	}()
	timer := time.NewTimer(l.stopTimeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}
