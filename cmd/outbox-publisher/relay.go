package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/campusmart-backend/pkg/config"
	"github.com/angelmondragon/campusmart-backend/pkg/db/models"
	"github.com/angelmondragon/campusmart-backend/pkg/enums"
	"github.com/angelmondragon/campusmart-backend/pkg/logger"
	"github.com/angelmondragon/campusmart-backend/pkg/metrics"
	"github.com/angelmondragon/campusmart-backend/pkg/outbox"
	"github.com/angelmondragon/campusmart-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/campusmart-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollInterval   = 500 * time.Millisecond
	defaultPublishTimeout = 15 * time.Second
	defaultMaxAttempts    = 10
	maxBackoff            = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

const (
	outcomePublished    = "published"
	outcomeRetry        = "retry"
	outcomeDeadLettered = "dead_lettered"
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type dlqRepository interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type registryResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

// publisher sends one message and blocks until the broker acknowledges it.
type publisher interface {
	Publish(ctx context.Context, msg *gcppubsub.Message) (string, error)
}

type publisherFactory func(topic string) publisher

type RelayParams struct {
	Config           config.OutboxConfig
	Logger           *logger.Logger
	Metrics          *metrics.OutboxMetrics
	DB               dbClient
	Pinger           func(context.Context) error
	Repository       outboxRepository
	DLQ              dlqRepository
	Registry         registryResolver
	PublisherFactory publisherFactory
	Now              func() time.Time
}

// Relay moves committed outbox rows to Pub/Sub. A row is marked published only after
// the broker acknowledges it, so delivery is at least once.
type Relay struct {
	logg        *logger.Logger
	metrics     *metrics.OutboxMetrics
	db          dbClient
	ping        func(context.Context) error
	repo        outboxRepository
	dlq         dlqRepository
	registry    registryResolver
	publishers  publisherFactory
	now         func() time.Time
	batchSize   int
	maxAttempts int
	interval    time.Duration

	jitterMu sync.Mutex
	jitter   *rand.Rand
}

func NewRelay(params RelayParams) (*Relay, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository is required")
	case params.DLQ == nil:
		return nil, errors.New("dlq repository is required")
	case params.Registry == nil:
		return nil, errors.New("event registry is required")
	case params.PublisherFactory == nil:
		return nil, errors.New("publisher factory is required")
	}

	batch := params.Config.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	interval := time.Duration(params.Config.PollIntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = defaultPollInterval
	}
	maxAttempts := params.Config.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}

	return &Relay{
		logg:        params.Logger,
		metrics:     params.Metrics,
		db:          params.DB,
		ping:        params.Pinger,
		repo:        params.Repository,
		dlq:         params.DLQ,
		registry:    params.Registry,
		publishers:  params.PublisherFactory,
		now:         now,
		batchSize:   batch,
		maxAttempts: maxAttempts,
		interval:    interval,
		jitter:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Run polls until ctx ends. Batch errors back off exponentially up to maxBackoff.
func (r *Relay) Run(ctx context.Context) error {
	if err := r.db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	if r.ping != nil {
		if err := r.ping(ctx); err != nil {
			return fmt.Errorf("pubsub ping failed: %w", err)
		}
	}

	backoff := r.interval
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		processed, err := r.relayBatch(ctx)
		if err != nil {
			r.logg.Error(ctx, "outbox relay batch failed", err)
			backoff = nextBackoff(backoff, r.interval, maxBackoff)
			if err := sleep(ctx, r.withJitter(backoff)); err != nil {
				return err
			}
			continue
		}
		backoff = r.interval

		if processed > 0 {
			continue
		}
		if err := sleep(ctx, r.withJitter(r.interval)); err != nil {
			return err
		}
	}
}

// relayBatch claims up to batchSize rows and handles each one inside the claiming
// transaction. A failed row never blocks the rows after it.
func (r *Relay) relayBatch(ctx context.Context) (int, error) {
	start := r.now()
	defer func() { r.metrics.ObserveBatch(r.now().Sub(start)) }()

	processed := 0
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := r.repo.FetchUnpublishedForPublish(tx, r.batchSize, r.maxAttempts)
		if err != nil {
			return err
		}
		for _, row := range rows {
			outcome, err := r.relayRow(ctx, tx, row)
			if err != nil {
				return err
			}
			r.metrics.IncRow(outcome)
			processed++
		}
		return nil
	})
	return processed, err
}

func (r *Relay) relayRow(ctx context.Context, tx *gorm.DB, row models.OutboxEvent) (string, error) {
	fields := rowFields(row)

	resolved, err := r.registry.Resolve(row)
	if err != nil {
		return outcomeDeadLettered, r.deadLetter(ctx, tx, row, enums.OutboxDLQReasonNonRetryable, err, fields)
	}
	topic := resolved.Route.Topic
	fields["topic"] = topic
	fields["event_id"] = resolved.Envelope.EventID

	pub := r.publishers(topic)
	if pub == nil {
		err := registry.NewNonRetryableError(fmt.Errorf("no publisher for topic %s", topic))
		return outcomeDeadLettered, r.deadLetter(ctx, tx, row, enums.OutboxDLQReasonNonRetryable, err, fields)
	}

	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	messageID, err := pub.Publish(publishCtx, buildMessage(row, resolved))
	cancel()
	if err != nil {
		var nonRetry registry.NonRetryableError
		if errors.As(err, &nonRetry) {
			return outcomeDeadLettered, r.deadLetter(ctx, tx, row, enums.OutboxDLQReasonNonRetryable, err, fields)
		}
		attempt := row.AttemptCount + 1
		fields["attempt_count"] = attempt
		if attempt >= r.maxAttempts {
			terminal := fmt.Errorf("max publish attempts reached: %w", err)
			return outcomeDeadLettered, r.deadLetter(ctx, tx, row, enums.OutboxDLQReasonMaxAttempts, terminal, fields)
		}

		logCtx := r.logg.WithField(r.logg.WithFields(ctx, fields), "error", err.Error())
		r.logg.Warn(logCtx, "outbox publish failed; will retry")
		if markErr := r.repo.MarkFailedTx(tx, row.ID, err); markErr != nil {
			return "", fmt.Errorf("mark failure %s: %w", row.ID, markErr)
		}
		return outcomeRetry, nil
	}

	if err := r.repo.MarkPublishedTx(tx, row.ID); err != nil {
		return "", fmt.Errorf("mark published %s: %w", row.ID, err)
	}
	fields["message_id"] = messageID
	r.logg.Info(r.logg.WithFields(ctx, fields), "outbox event published")
	return outcomePublished, nil
}

func (r *Relay) deadLetter(ctx context.Context, tx *gorm.DB, row models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error, fields map[string]any) error {
	fields["dlq_reason"] = reason
	logCtx := r.logg.WithField(r.logg.WithFields(ctx, fields), "error", cause.Error())
	r.logg.Warn(logCtx, "outbox event dead-lettered")

	entry := outbox.DeadLetter(row, reason, cause, r.now())
	if err := r.dlq.InsertTx(tx, entry); err != nil {
		return fmt.Errorf("insert dlq %s: %w", row.ID, err)
	}
	if err := r.repo.MarkTerminalTx(tx, row.ID, cause, r.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", row.ID, err)
	}
	return nil
}

// buildMessage carries the stored envelope unchanged. Attributes let subscribers
// filter by shop or user without decoding the body.
func buildMessage(row models.OutboxEvent, resolved *registry.ResolvedEvent) *gcppubsub.Message {
	attrs := map[string]string{
		"event_id":       resolved.Envelope.EventID,
		"event_type":     string(row.EventType),
		"aggregate_type": string(row.AggregateType),
		"aggregate_id":   row.AggregateID.String(),
		"version":        strconv.Itoa(resolved.Envelope.Version),
		"created_at":     row.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if order, ok := resolved.Payload.(*payloads.OrderEvent); ok {
		attrs["shop_id"] = order.ShopID.String()
		attrs["user_id"] = order.UserID.String()
		attrs["status"] = string(order.Status)
	}
	return &gcppubsub.Message{Data: row.Payload, Attributes: attrs}
}

func rowFields(row models.OutboxEvent) map[string]any {
	fields := map[string]any{
		"outbox_id":      row.ID.String(),
		"event_type":     row.EventType,
		"aggregate_type": row.AggregateType,
		"aggregate_id":   row.AggregateID.String(),
		"attempt_count":  row.AttemptCount,
	}
	if row.LastError != nil {
		fields["last_error"] = *row.LastError
	}
	return fields
}

func (r *Relay) withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	r.jitterMu.Lock()
	defer r.jitterMu.Unlock()
	return d + time.Duration(r.jitter.Int63n(int64(jitterWindow)))
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, base, max time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	next := current * 2
	if next > max {
		return max
	}
	return next
}

// gcpPublisher adapts a Pub/Sub v2 publisher to the blocking publisher interface.
type gcpPublisher struct {
	pub *gcppubsub.Publisher
}

func (p gcpPublisher) Publish(ctx context.Context, msg *gcppubsub.Message) (string, error) {
	return p.pub.Publish(ctx, msg).Get(ctx)
}
