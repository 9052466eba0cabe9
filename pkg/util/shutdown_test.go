package util

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func TestShutdownRunsInPriorityOrder(t *testing.T) {
	gs := NewGracefulShutdown(newTestLogger(), time.Second)

	var mu sync.Mutex
	var order []string
	record := func(name string) func() {
		return func() {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
		}
	}

	gs.RegisterFunc("last", 30, record("last"))
	gs.RegisterFunc("first", 10, record("first"))
	gs.RegisterFunc("middle", 20, record("middle"))

	require.NoError(t, gs.Shutdown(context.Background()))
	assert.Equal(t, []string{"first", "middle", "last"}, order)
}

func TestShutdownContinuesPastFailure(t *testing.T) {
	gs := NewGracefulShutdown(newTestLogger(), time.Second)

	failure := errors.New("refused to stop")
	var ranAfter bool

	gs.Register(ShutdownResource{
		Name:     "broken",
		Priority: 1,
		Shutdown: func(context.Context) error { return failure },
	})
	gs.RegisterFunc("healthy", 2, func() { ranAfter = true })

	err := gs.Shutdown(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, failure)
	assert.True(t, ranAfter, "later resources must still stop")
}

func TestShutdownRecoversPanic(t *testing.T) {
	gs := NewGracefulShutdown(newTestLogger(), time.Second)

	gs.Register(ShutdownResource{
		Name:     "panicky",
		Priority: 1,
		Shutdown: func(context.Context) error { panic("boom") },
	})

	err := gs.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicky")
}

func TestShutdownHonorsTimeout(t *testing.T) {
	gs := NewGracefulShutdown(newTestLogger(), 50*time.Millisecond)

	gs.Register(ShutdownResource{
		Name:     "stuck",
		Priority: 1,
		Shutdown: func(ctx context.Context) error {
			<-ctx.Done()
			time.Sleep(time.Hour)
			return nil
		},
	})

	start := time.Now()
	err := gs.Shutdown(context.Background())
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}
