// Package util holds small cross-cutting helpers, currently the
// ordered shutdown manager used by the main process.
package util

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ShutdownResource is one component to stop on exit. Lower Priority
// stops first.
type ShutdownResource struct {
	Name     string
	Priority int
	Shutdown func(context.Context) error
}

// GracefulShutdown stops registered resources in priority order under
// a shared deadline.
type GracefulShutdown struct {
	mu        sync.Mutex
	resources []ShutdownResource
	logger    *logrus.Logger
	timeout   time.Duration
}

// NewGracefulShutdown creates a shutdown manager
func NewGracefulShutdown(logger *logrus.Logger, timeout time.Duration) *GracefulShutdown {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GracefulShutdown{
		logger:  logger,
		timeout: timeout,
	}
}

// Register adds a resource, keeping the list sorted by priority
func (gs *GracefulShutdown) Register(resource ShutdownResource) {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	inserted := false
	for i, r := range gs.resources {
		if resource.Priority < r.Priority {
			gs.resources = append(gs.resources[:i],
				append([]ShutdownResource{resource}, gs.resources[i:]...)...)
			inserted = true
			break
		}
	}
	if !inserted {
		gs.resources = append(gs.resources, resource)
	}

	gs.logger.WithFields(logrus.Fields{
		"resource": resource.Name,
		"priority": resource.Priority,
	}).Debug("Registered shutdown resource")
}

// RegisterFunc registers a no-context stop function
func (gs *GracefulShutdown) RegisterFunc(name string, priority int, stop func()) {
	gs.Register(ShutdownResource{
		Name:     name,
		Priority: priority,
		Shutdown: func(context.Context) error {
			stop()
			return nil
		},
	})
}

// Shutdown stops every registered resource in priority order. It
// returns the first error encountered but keeps going regardless, so a
// failing component never blocks the ones behind it.
func (gs *GracefulShutdown) Shutdown(ctx context.Context) error {
	gs.mu.Lock()
	resources := make([]ShutdownResource, len(gs.resources))
	copy(resources, gs.resources)
	gs.mu.Unlock()

	gs.logger.WithField("resource_count", len(resources)).Info("Starting graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(ctx, gs.timeout)
	defer cancel()

	var firstErr error
	for _, resource := range resources {
		if err := gs.stopOne(shutdownCtx, resource); err != nil {
			gs.logger.WithError(err).WithField("resource", resource.Name).
				Error("Resource shutdown failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	gs.logger.Info("Graceful shutdown complete")
	return firstErr
}

// stopOne runs a single resource's Shutdown, bounding it by the shared
// deadline and converting panics into errors.
func (gs *GracefulShutdown) stopOne(ctx context.Context, resource ShutdownResource) error {
	done := make(chan error, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic stopping %s: %v", resource.Name, r)
			}
		}()
		done <- resource.Shutdown(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("timed out stopping %s: %w", resource.Name, ctx.Err())
	}
}
