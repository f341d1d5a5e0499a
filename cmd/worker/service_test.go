package main

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/campusmart-backend/pkg/logger"
)

type pingFunc func(context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

type runFunc func(context.Context) error

func (f runFunc) Run(ctx context.Context) error { return f(ctx) }

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "worker-test", Output: io.Discard})
}

func blockUntilDone(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestServiceRequiresConsumer(t *testing.T) {
	_, err := NewService(ServiceParams{Logger: testLogger()})
	require.Error(t, err)
}

func TestServiceFailsReadiness(t *testing.T) {
	svc, err := NewService(ServiceParams{
		Logger:       testLogger(),
		Dependencies: map[string]pinger{"redis": pingFunc(func(context.Context) error { return errors.New("refused") })},
		Consumers:    map[string]consumer{"notifications": runFunc(blockUntilDone)},
	})
	require.NoError(t, err)

	err = svc.Run(context.Background())
	require.ErrorContains(t, err, "redis ping failed")
}

func TestServiceReturnsConsumerFailure(t *testing.T) {
	boom := errors.New("subscription deleted")
	svc, err := NewService(ServiceParams{
		Logger: testLogger(),
		Consumers: map[string]consumer{
			"notifications": runFunc(func(context.Context) error { return boom }),
			"other":         runFunc(blockUntilDone),
		},
	})
	require.NoError(t, err)

	err = svc.Run(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestServiceStopsOnCancel(t *testing.T) {
	svc, err := NewService(ServiceParams{
		Logger:    testLogger(),
		Consumers: map[string]consumer{"notifications": runFunc(blockUntilDone)},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, svc.Run(ctx), context.DeadlineExceeded)
}
