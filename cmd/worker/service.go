package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/angelmondragon/campusmart-backend/pkg/logger"
)

type pinger interface {
	Ping(context.Context) error
}

type consumer interface {
	Run(ctx context.Context) error
}

type ServiceParams struct {
	Logger       *logger.Logger
	Dependencies map[string]pinger
	Consumers    map[string]consumer
}

// Service checks its dependencies once and then runs every consumer until ctx ends
// or one of them fails.
type Service struct {
	logg      *logger.Logger
	deps      map[string]pinger
	consumers map[string]consumer
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if len(params.Consumers) == 0 {
		return nil, errors.New("at least one consumer is required")
	}
	for name, c := range params.Consumers {
		if c == nil {
			return nil, fmt.Errorf("consumer %s is nil", name)
		}
	}
	return &Service{
		logg:      params.Logger,
		deps:      params.Dependencies,
		consumers: params.Consumers,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	for name, dep := range s.deps {
		if dep == nil {
			continue
		}
		if err := dep.Ping(ctx); err != nil {
			s.logg.Error(s.logg.WithField(ctx, "dependency", name), "worker dependency ping failed", err)
			return fmt.Errorf("%s ping failed: %w", name, err)
		}
	}
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type exit struct {
		name string
		err  error
	}
	exits := make(chan exit, len(s.consumers))
	for name, c := range s.consumers {
		go func(name string, c consumer) {
			exits <- exit{name: name, err: c.Run(ctx)}
		}(name, c)
		s.logg.Info(s.logg.WithField(ctx, "consumer", name), "consumer started")
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case ex := <-exits:
		if ex.err != nil && !errors.Is(ex.err, context.Canceled) {
			s.logg.Error(s.logg.WithField(ctx, "consumer", ex.name), "consumer stopped unexpectedly", ex.err)
			return fmt.Errorf("consumer %s: %w", ex.name, ex.err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("consumer %s exited", ex.name)
	}
}
