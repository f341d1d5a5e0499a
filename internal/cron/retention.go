package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/campusmart-backend/pkg/logger"
)

const (
	outboxRetentionDays       = 30
	outboxMinAttempts         = 10
	notificationRetentionDays = 30
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxRetentionRepo interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttemptCount int) (int64, error)
}

type notificationsCleanupRepo interface {
	DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// retentionJob deletes rows older than a day-based cutoff.
type retentionJob struct {
	name      string
	logg      *logger.Logger
	retention int
	fields    map[string]any
	purge     func(ctx context.Context, cutoff time.Time) (int64, error)
	now       func() time.Time
}

func (j *retentionJob) Name() string { return j.name }

func (j *retentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().AddDate(0, 0, -j.retention)
	deleted, err := j.purge(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("%s: %w", j.name, err)
	}

	fields := map[string]any{
		"cutoff":         cutoff,
		"retention_days": j.retention,
		"rows_deleted":   deleted,
	}
	for k, v := range j.fields {
		fields[k] = v
	}
	j.logg.Info(j.logg.WithFields(ctx, fields), "retention sweep complete")
	return nil
}

type OutboxRetentionJobParams struct {
	Logger      *logger.Logger
	DB          txRunner
	Repository  outboxRetentionRepo
	Retention   int
	MinAttempts int
}

// NewOutboxRetentionJob prunes relayed outbox rows. MinAttempts should match the
// relay's max attempts so parked rows are only removed once dead-lettered.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case params.DB == nil:
		return nil, fmt.Errorf("db runner required")
	case params.Repository == nil:
		return nil, fmt.Errorf("outbox repository required")
	}
	minAttempts := orDefault(params.MinAttempts, outboxMinAttempts)

	return &retentionJob{
		name:      "outbox-retention",
		logg:      params.Logger,
		retention: orDefault(params.Retention, outboxRetentionDays),
		fields:    map[string]any{"min_attempts": minAttempts},
		purge: func(ctx context.Context, cutoff time.Time) (int64, error) {
			var deleted int64
			err := params.DB.WithTx(ctx, func(tx *gorm.DB) error {
				rows, err := params.Repository.DeletePublishedBefore(ctx, tx, cutoff, minAttempts)
				deleted = rows
				return err
			})
			return deleted, err
		},
		now: time.Now,
	}, nil
}

type NotificationCleanupJobParams struct {
	Logger     *logger.Logger
	Repository notificationsCleanupRepo
	Retention  int
}

// NewNotificationCleanupJob drops read notifications past retention. Unread ones are kept.
func NewNotificationCleanupJob(params NotificationCleanupJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, fmt.Errorf("logger required")
	case params.Repository == nil:
		return nil, fmt.Errorf("notifications repository required")
	}
	return &retentionJob{
		name:      "notification-cleanup",
		logg:      params.Logger,
		retention: orDefault(params.Retention, notificationRetentionDays),
		purge:     params.Repository.DeleteReadBefore,
		now:       time.Now,
	}, nil
}

func orDefault(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}
