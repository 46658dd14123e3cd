package registry

import (
	"encoding/json"
	"testing"

	"github.com/bazaarline/marketplace-backend/pkg/enums"
	"github.com/bazaarline/marketplace-backend/pkg/outbox/payloads"
)

func TestDecoderRegistry(t *testing.T) {
	reg := NewDecoderRegistry()
	reg.Register(enums.EventOrderPaid, 1, JSONDecoder[payloads.OrderPaidEvent]())

	if !reg.Handles(enums.EventOrderPaid, 1) {
		t.Fatal("expected decoder to be registered")
	}
	if reg.Handles(enums.EventOrderPaid, 2) {
		t.Fatal("expected v2 to be unregistered")
	}

	input := json.RawMessage(`{"code":"ORD-1","totalCents":2200}`)
	output, err := reg.Decode(enums.EventOrderPaid, 1, input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	paid, ok := output.(*payloads.OrderPaidEvent)
	if !ok || paid.Code != "ORD-1" || paid.TotalCents != 2200 {
		t.Fatalf("unexpected output %+v", output)
	}
}

func TestDecoderRegistryUnknown(t *testing.T) {
	reg := NewDecoderRegistry()
	if _, err := reg.Decode(enums.EventOrderExpired, 1, json.RawMessage(`{}`)); err == nil {
		t.Fatal("expected unregistered decoder error")
	}
}
