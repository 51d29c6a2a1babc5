package domain

import (
	"strings"
	"testing"
)

func TestWrapEventRoundTrip(t *testing.T) {
	data, err := WrapEvent(EscrowReleased{
		OrderID:   "ord-1",
		PaymentID: "pay-1",
		Trigger:   "timer",
	}, "seller-1", "high")
	if err != nil {
		t.Fatalf("wrap failed: %v", err)
	}

	env, event, err := UnwrapEvent(data)
	if err != nil {
		t.Fatalf("unwrap failed: %v", err)
	}
	if env.Type != "escrow_released" || env.RecipientID != "seller-1" || env.Priority != "high" {
		t.Fatalf("unexpected routing %+v", env)
	}
	released, ok := event.(*EscrowReleased)
	if !ok {
		t.Fatalf("expected *EscrowReleased, got %T", event)
	}
	if released.OrderID != "ord-1" || released.PaymentID != "pay-1" || released.Trigger != "timer" {
		t.Fatalf("payload corrupted: %+v", released)
	}
}

func TestWrapEventCoversClosedSet(t *testing.T) {
	events := []Event{
		OrderCreated{OrderID: "ord-1", OrderNumber: "CB-000001", BuyerID: "buyer-1", TotalMinor: 12500},
		OrderStatusChanged{OrderID: "ord-1", From: StatusPending, To: StatusCancelled, Reason: "buyer changed mind", At: testNow},
		PaymentConfirmed{OrderID: "ord-1", PaymentID: "pay-1", AmountMinor: 12500},
		EscrowReleased{OrderID: "ord-1", PaymentID: "pay-1", Trigger: "delivery"},
		DisputeOpened{OrderID: "ord-1", Reason: "item not as described"},
		InvoiceReady{OrderID: "ord-1", OrderNumber: "CB-000001", TotalMinor: 12500, TaxMinor: 625},
		SagaParked{SagaID: "saga-1", OrderID: "ord-1", Step: "reserve_inventory", Reason: "compensation exhausted"},
		QuoteResponded{QuoteID: "q-1", Status: "countered", UnitPriceMinor: 8400, Quantity: 2000},
		QuoteExpired{QuoteID: "q-1"},
	}
	for _, e := range events {
		data, err := WrapEvent(e, "buyer-1", "normal")
		if err != nil {
			t.Fatalf("wrap %s failed: %v", e.EventType(), err)
		}
		env, decoded, err := UnwrapEvent(data)
		if err != nil {
			t.Fatalf("unwrap %s failed: %v", e.EventType(), err)
		}
		if env.Type != e.EventType() {
			t.Fatalf("type tag mismatch: wrapped %s, unwrapped %s", e.EventType(), env.Type)
		}
		if decoded.EventType() != e.EventType() {
			t.Fatalf("decoded event reports %s, want %s", decoded.EventType(), e.EventType())
		}
	}
}

func TestUnwrapEventRejectsUnknownType(t *testing.T) {
	_, _, err := UnwrapEvent([]byte(`{"type":"price_drop","recipientId":"buyer-1","priority":"normal","payload":{}}`))
	if err == nil {
		t.Fatal("expected unknown event type to be rejected")
	}
	if !strings.Contains(err.Error(), "price_drop") {
		t.Fatalf("error should name the offending type: %v", err)
	}
}

func TestUnwrapEventRejectsGarbage(t *testing.T) {
	if _, _, err := UnwrapEvent([]byte("not json")); err == nil {
		t.Fatal("expected malformed envelope to be rejected")
	}
}
