package types

import (
	"time"

	cbigquery "cloud.google.com/go/bigquery"
)

// OrderEventRow mirrors the marketplace_events BigQuery schema. One row is
// written per order line the event touches.
type OrderEventRow struct {
	EventID     string             `bigquery:"event_id"`
	EventType   string             `bigquery:"event_type"`
	OccurredAt  time.Time          `bigquery:"occurred_at"`
	OrderCode   string             `bigquery:"order_code"`
	OrderID     string             `bigquery:"order_id"`
	ProductID   string             `bigquery:"product_id"`
	MerchantID  string             `bigquery:"merchant_id"`
	UserID      string             `bigquery:"user_id"`
	Quantity    int64              `bigquery:"quantity"`
	AmountCents int64              `bigquery:"amount_cents"`
	Payload     cbigquery.NullJSON `bigquery:"payload"`
}

// InsertID is the BigQuery dedupe id: one event can fan out to several
// product rows, so the product is part of the key.
func (r OrderEventRow) InsertID() string {
	return r.EventID + ":" + r.ProductID
}
