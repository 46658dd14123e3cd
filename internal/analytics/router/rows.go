package router

import (
	"github.com/google/uuid"

	"github.com/bazaarline/marketplace-backend/internal/analytics/types"
	"github.com/bazaarline/marketplace-backend/internal/analytics/writer"
	"github.com/bazaarline/marketplace-backend/pkg/enums"
	"github.com/bazaarline/marketplace-backend/pkg/outbox/payloads"
)

// buildRow projects one event line onto the warehouse schema. The full event
// payload rides along in the JSON column.
func buildRow(envelope types.Envelope, kind enums.AnalyticsEventType, code string, userID uuid.UUID, line payloads.OrderLine) types.OrderEventRow {
	// raw messages are passed through without marshalling
	payload, _ := writer.EncodeJSON(envelope.Payload)
	orderCode := code
	if orderCode == "" {
		orderCode = envelope.OrderCode
	}
	return types.OrderEventRow{
		EventID:     envelope.EventID,
		EventType:   string(kind),
		OccurredAt:  envelope.OccurredAt,
		OrderCode:   orderCode,
		OrderID:     line.OrderID.String(),
		ProductID:   line.ProductID.String(),
		MerchantID:  line.MerchantID.String(),
		UserID:      userID.String(),
		Quantity:    int64(line.Quantity),
		AmountCents: line.AmountCents,
		Payload:     payload,
	}
}

func buildRows(envelope types.Envelope, kind enums.AnalyticsEventType, code string, userID uuid.UUID, lines []payloads.OrderLine) []types.OrderEventRow {
	rows := make([]types.OrderEventRow, 0, len(lines))
	for _, line := range lines {
		rows = append(rows, buildRow(envelope, kind, code, userID, line))
	}
	return rows
}
