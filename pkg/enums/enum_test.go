package enums

import "testing"

func TestParseRejectsUnknownValues(t *testing.T) {
	if _, err := ParsePaymentMethod("paypal"); err == nil {
		t.Fatal("expected error for unknown payment method")
	}
	got, err := ParseOutboxEventType("order_paid")
	if err != nil || got != EventOrderPaid {
		t.Fatalf("expected order_paid, got %q %v", got, err)
	}
	if OutboxDLQErrorReason("gave_up").IsValid() {
		t.Fatal("unexpected valid dlq reason")
	}
}

func TestParseUserRoleIgnoresCaseTrimmed(t *testing.T) {
	role, err := ParseUserRole(" Merchant ")
	if err != nil || role != UserRoleMerchant {
		t.Fatalf("expected merchant role, got %q %v", role, err)
	}
}
