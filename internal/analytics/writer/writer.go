package writer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	cbigquery "cloud.google.com/go/bigquery"

	"github.com/bazaarline/marketplace-backend/internal/analytics/types"
	pkgbigquery "github.com/bazaarline/marketplace-backend/pkg/bigquery"
)

const (
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 250 * time.Millisecond
	defaultMaximumBackoff = 2 * time.Second
)

// RetryPolicy controls how many times BigQuery inserts are retried.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaximumBackoff time.Duration
}

type rowInserter interface {
	InsertMarketplaceEvents(ctx context.Context, rows []pkgbigquery.Row) error
}

// BigQueryWriter streams order event rows with bounded retries on
// transient failures.
type BigQueryWriter struct {
	client    rowInserter
	retry     RetryPolicy
	retryable func(error) bool
	sleep     func(ctx context.Context, d time.Duration) error
}

// New creates a writer backed by the shared BigQuery client.
func New(client rowInserter, retry RetryPolicy) (*BigQueryWriter, error) {
	if client == nil {
		return nil, errors.New("bigquery client required")
	}
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = defaultMaxAttempts
	}
	if retry.InitialBackoff <= 0 {
		retry.InitialBackoff = defaultInitialBackoff
	}
	if retry.MaximumBackoff <= 0 {
		retry.MaximumBackoff = defaultMaximumBackoff
	}
	if retry.MaximumBackoff < retry.InitialBackoff {
		retry.MaximumBackoff = retry.InitialBackoff
	}
	return &BigQueryWriter{
		client:    client,
		retry:     retry,
		retryable: pkgbigquery.IsRetryable,
		sleep:     sleepCtx,
	}, nil
}

// Insert writes the rows in one streaming call.
func (w *BigQueryWriter) Insert(ctx context.Context, rows []types.OrderEventRow) error {
	if len(rows) == 0 {
		return nil
	}
	batch := make([]pkgbigquery.Row, 0, len(rows))
	for i := range rows {
		batch = append(batch, pkgbigquery.Row{InsertID: rows[i].InsertID(), Value: &rows[i]})
	}

	backoff := w.retry.InitialBackoff
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := w.client.InsertMarketplaceEvents(ctx, batch)
		if err == nil {
			return nil
		}
		if attempt >= w.retry.MaxAttempts || !w.retryable(err) {
			return fmt.Errorf("insert %d order event rows: %w", len(batch), err)
		}
		if err := w.sleep(ctx, backoff); err != nil {
			return err
		}
		backoff = min(backoff*2, w.retry.MaximumBackoff)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// EncodeJSON serializes the provided payload so it can be stored in BigQuery JSON columns.
func EncodeJSON(payload any) (cbigquery.NullJSON, error) {
	switch value := payload.(type) {
	case nil:
		return cbigquery.NullJSON{}, nil
	case cbigquery.NullJSON:
		return value, nil
	case json.RawMessage:
		if len(value) == 0 {
			return cbigquery.NullJSON{}, nil
		}
		return cbigquery.NullJSON{Valid: true, JSONVal: string(value)}, nil
	}

	marshaled, err := json.Marshal(payload)
	if err != nil {
		return cbigquery.NullJSON{}, fmt.Errorf("marshal json: %w", err)
	}
	return cbigquery.NullJSON{Valid: true, JSONVal: string(marshaled)}, nil
}
