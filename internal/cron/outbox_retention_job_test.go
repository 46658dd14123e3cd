package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bazaarline/marketplace-backend/pkg/logger"
)

type fakeOutboxPruner struct {
	cutoff  time.Time
	deleted int64
	err     error
}

func (f *fakeOutboxPruner) DeletePublishedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return f.deleted, f.err
}

func TestOutboxRetentionJobUsesRetention(t *testing.T) {
	repo := &fakeOutboxPruner{deleted: 4}
	job, err := NewOutboxRetentionJob(OutboxRetentionJobParams{Logger: logger.Nop(), Repository: repo, Retention: 48 * time.Hour})
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	job.(*outboxRetentionJob).now = func() time.Time { return now }

	affected, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if affected != 4 {
		t.Fatalf("expected 4 rows, got %d", affected)
	}
	if want := now.Add(-48 * time.Hour); !repo.cutoff.Equal(want) {
		t.Fatalf("expected cutoff %s, got %s", want, repo.cutoff)
	}
}

func TestOutboxRetentionJobPropagatesError(t *testing.T) {
	repo := &fakeOutboxPruner{err: errors.New("db down")}
	job, _ := NewOutboxRetentionJob(OutboxRetentionJobParams{Logger: logger.Nop(), Repository: repo})
	if _, err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
