package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestOutboxRetentionJobDeletesPublishedRows(t *testing.T) {
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	repo := &fakeOutboxRetentionRepo{}
	job := newOutboxRetentionJob(t, repo, 0)
	job.now = func() time.Time { return now }

	require.Equal(t, "outbox-retention", job.Name())
	require.NoError(t, job.Run(context.Background()))
	require.True(t, repo.lastCutoff.Equal(now.AddDate(0, 0, -outboxRetentionDays)))
	require.Equal(t, outboxMinAttempts, repo.minAttempts)
	require.Equal(t, 1, repo.called)
}

func TestOutboxRetentionJobHonoursConfiguredRetention(t *testing.T) {
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	repo := &fakeOutboxRetentionRepo{}
	job := newOutboxRetentionJob(t, repo, 7)
	job.now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))
	require.True(t, repo.lastCutoff.Equal(time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC)))
}

func TestOutboxRetentionJobPropagatesError(t *testing.T) {
	repo := &fakeOutboxRetentionRepo{err: errors.New("boom")}
	job := newOutboxRetentionJob(t, repo, 0)
	require.ErrorContains(t, job.Run(context.Background()), "outbox-retention: boom")
}

func TestNotificationCleanupJobDeletesReadNotifications(t *testing.T) {
	now := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	repo := &fakeNotificationRepo{deletedRows: 42}
	job := newNotificationCleanupJob(t, repo)
	job.now = func() time.Time { return now }

	require.Equal(t, "notification-cleanup", job.Name())
	require.NoError(t, job.Run(context.Background()))
	require.True(t, repo.lastCutoff.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
	require.Equal(t, 1, repo.called)
}

func TestNotificationCleanupJobPropagatesError(t *testing.T) {
	job := newNotificationCleanupJob(t, &fakeNotificationRepo{err: errors.New("boom")})
	require.ErrorContains(t, job.Run(context.Background()), "notification-cleanup")
}

func TestRetentionJobsValidateParams(t *testing.T) {
	_, err := NewOutboxRetentionJob(OutboxRetentionJobParams{Logger: testLogger(), Repository: &fakeOutboxRetentionRepo{}})
	require.ErrorContains(t, err, "db runner")

	_, err = NewNotificationCleanupJob(NotificationCleanupJobParams{Repository: &fakeNotificationRepo{}})
	require.ErrorContains(t, err, "logger")
}

func newOutboxRetentionJob(t *testing.T, repo *fakeOutboxRetentionRepo, retention int) *retentionJob {
	t.Helper()
	job, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger:     testLogger(),
		DB:         stubTxRunner{},
		Repository: repo,
		Retention:  retention,
	})
	require.NoError(t, err)
	return job.(*retentionJob)
}

func newNotificationCleanupJob(t *testing.T, repo *fakeNotificationRepo) *retentionJob {
	t.Helper()
	job, err := NewNotificationCleanupJob(NotificationCleanupJobParams{
		Logger:     testLogger(),
		Repository: repo,
	})
	require.NoError(t, err)
	return job.(*retentionJob)
}

type fakeOutboxRetentionRepo struct {
	lastCutoff  time.Time
	minAttempts int
	called      int
	err         error
}

func (f *fakeOutboxRetentionRepo) DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttemptCount int) (int64, error) {
	f.called++
	f.lastCutoff = cutoff
	f.minAttempts = minAttemptCount
	if f.err != nil {
		return 0, f.err
	}
	return 7, nil
}

type fakeNotificationRepo struct {
	lastCutoff  time.Time
	called      int
	deletedRows int64
	err         error
}

func (f *fakeNotificationRepo) DeleteReadBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	f.called++
	f.lastCutoff = cutoff
	if f.err != nil {
		return 0, f.err
	}
	return f.deletedRows, nil
}

type stubTxRunner struct{}

func (stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}
