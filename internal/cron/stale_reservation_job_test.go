package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bazaarline/marketplace-backend/internal/expiry"
	"github.com/bazaarline/marketplace-backend/pkg/logger"
)

type fakeStaleFinder struct {
	codes  []string
	cutoff time.Time
}

func (f *fakeStaleFinder) FindStalePendingCodes(_ context.Context, cutoff time.Time, _ int) ([]string, error) {
	f.cutoff = cutoff
	return f.codes, nil
}

type fakeSweeper struct {
	failOn map[string]bool
	swept  []string
}

func (f *fakeSweeper) Sweep(_ context.Context, code string) (expiry.SweepResult, error) {
	f.swept = append(f.swept, code)
	if f.failOn[code] {
		return expiry.SweepResult{Code: code}, errors.New("db busy")
	}
	return expiry.SweepResult{Code: code, ExpiredLines: 2, ReleasedUnits: 3}, nil
}

func TestStaleReservationJobSweepsEveryGroup(t *testing.T) {
	finder := &fakeStaleFinder{codes: []string{"ORD-A", "ORD-B", "ORD-C"}}
	sweeper := &fakeSweeper{failOn: map[string]bool{"ORD-B": true}}
	job, err := NewStaleReservationJob(StaleReservationJobParams{
		Logger:     logger.Nop(),
		Repository: finder,
		Sweeper:    sweeper,
		Window:     5 * time.Minute,
		Grace:      time.Minute,
	})
	if err != nil {
		t.Fatalf("new job: %v", err)
	}
	now := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	job.(*staleReservationJob).now = func() time.Time { return now }

	affected, err := job.Run(context.Background())
	if err == nil {
		t.Fatal("expected the failed sweep to be reported")
	}
	if len(sweeper.swept) != 3 {
		t.Fatalf("expected every group swept despite the failure, got %v", sweeper.swept)
	}
	if affected != 4 {
		t.Fatalf("expected 4 expired lines, got %d", affected)
	}
	if want := now.Add(-6 * time.Minute); !finder.cutoff.Equal(want) {
		t.Fatalf("expected cutoff %s, got %s", want, finder.cutoff)
	}
}

func TestStaleReservationJobIdle(t *testing.T) {
	job, _ := NewStaleReservationJob(StaleReservationJobParams{
		Logger:     logger.Nop(),
		Repository: &fakeStaleFinder{},
		Sweeper:    &fakeSweeper{},
	})
	affected, err := job.Run(context.Background())
	if err != nil || affected != 0 {
		t.Fatalf("expected idle run, got %d %v", affected, err)
	}
}
