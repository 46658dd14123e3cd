package router

import (
	"context"
	"errors"
	"time"
)

const defaultDedupeTTL = 48 * time.Hour

type dedupeStore interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	DedupeKey(parts ...string) string
}

// DailyDeduper lets a row through once per key and UTC day. Keys outlive
// the day they cover so a late redelivery right after midnight still hits.
type DailyDeduper struct {
	store dedupeStore
	ttl   time.Duration
}

func NewDailyDeduper(store dedupeStore, ttl time.Duration) (*DailyDeduper, error) {
	if store == nil {
		return nil, errors.New("dedupe store is required")
	}
	if ttl <= 0 {
		ttl = defaultDedupeTTL
	}
	return &DailyDeduper{store: store, ttl: ttl}, nil
}

// Claim returns the key when this is the first sighting for the day, or ""
// when the row was already counted.
func (d *DailyDeduper) Claim(ctx context.Context, kind string, day time.Time, parts ...string) (string, error) {
	key := d.key(kind, day, parts...)
	first, err := d.store.SetNX(ctx, key, "1", d.ttl)
	if err != nil {
		return "", err
	}
	if !first {
		return "", nil
	}
	return key, nil
}

// Forget drops claims whose rows never made it to the warehouse.
func (d *DailyDeduper) Forget(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return d.store.Del(ctx, keys...)
}

func (d *DailyDeduper) key(kind string, day time.Time, parts ...string) string {
	all := append([]string{"analytics", kind, day.UTC().Format(time.DateOnly)}, parts...)
	return d.store.DedupeKey(all...)
}
