package domain

import (
	"errors"
	"testing"
	"time"
)

var testNow = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func validInput() CreateOrderInput {
	return CreateOrderInput{
		ID:             "ord-1",
		BuyerID:        "buyer-1",
		SellerID:       "seller-1",
		ComponentID:    "STM32F407",
		Quantity:       10,
		UnitPriceMinor: 1250,
		TaxMinor:       625,
		Address: Address{
			Line1:      "1 Fab Lane",
			City:       "Shenzhen",
			PostalCode: "518000",
			Country:    "CN",
		},
	}
}

func TestNewOrderValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*CreateOrderInput)
		field  string
	}{
		{"missing buyer", func(in *CreateOrderInput) { in.BuyerID = "" }, "buyerId"},
		{"missing component", func(in *CreateOrderInput) { in.ComponentID = "" }, "componentId"},
		{"zero quantity", func(in *CreateOrderInput) { in.Quantity = 0 }, "quantity"},
		{"negative quantity", func(in *CreateOrderInput) { in.Quantity = -5 }, "quantity"},
		{"negative tax", func(in *CreateOrderInput) { in.TaxMinor = -1 }, "amount"},
		{"missing address line", func(in *CreateOrderInput) { in.Address.Line1 = "" }, "address.line1"},
		{"missing country", func(in *CreateOrderInput) { in.Address.Country = "" }, "address.country"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := validInput()
			tc.mutate(&in)
			_, err := NewOrder(in, testNow)
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if ve.Field != tc.field {
				t.Fatalf("expected field %q, got %q", tc.field, ve.Field)
			}
		})
	}
}

func TestNewOrderComputesTotalAndHistory(t *testing.T) {
	o, err := NewOrder(validInput(), testNow)
	if err != nil {
		t.Fatalf("NewOrder: %v", err)
	}
	if o.Status != StatusPending {
		t.Fatalf("expected pending, got %q", o.Status)
	}
	if o.TotalMinor != 10*1250+625 {
		t.Fatalf("unexpected total %d", o.TotalMinor)
	}
	if o.IsBulkOrder {
		t.Fatal("quantity 10 must not be a bulk order")
	}
	if len(o.History) != 1 || o.History[0].Status != StatusPending {
		t.Fatalf("unexpected history %+v", o.History)
	}
	if _, ok := o.Shipment.(NotShipped); !ok {
		t.Fatalf("new order must start NotShipped, got %T", o.Shipment)
	}
}

func TestBulkOrderFlagFollowsQuantity(t *testing.T) {
	for _, tc := range []struct {
		quantity int64
		bulk     bool
	}{
		{1, false}, {100, false}, {101, true}, {5000, true},
	} {
		in := validInput()
		in.Quantity = tc.quantity
		o, err := NewOrder(in, testNow)
		if err != nil {
			t.Fatalf("quantity %d: %v", tc.quantity, err)
		}
		if o.IsBulkOrder != tc.bulk {
			t.Fatalf("quantity %d: expected bulk=%v", tc.quantity, tc.bulk)
		}
	}
}

func TestTransitionLegality(t *testing.T) {
	all := []Status{StatusPending, StatusConfirmed, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled}
	legal := map[Status]map[Status]bool{
		StatusPending:   {StatusConfirmed: true, StatusCancelled: true},
		StatusConfirmed: {StatusProcessing: true},
		StatusProcessing: {StatusShipped: true},
		StatusShipped:   {StatusDelivered: true},
	}
	for _, from := range all {
		for _, to := range all {
			got := CanTransition(from, to)
			want := legal[from][to]
			if got != want {
				t.Errorf("CanTransition(%q, %q) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestTransitionRecordsHistory(t *testing.T) {
	o, _ := NewOrder(validInput(), testNow)
	for _, next := range []Status{StatusConfirmed, StatusProcessing, StatusShipped, StatusDelivered} {
		if err := o.Transition(next, testNow.Add(time.Minute)); err != nil {
			t.Fatalf("transition to %q: %v", next, err)
		}
	}
	if len(o.History) != 5 {
		t.Fatalf("expected 5 history entries, got %d", len(o.History))
	}
	if !o.Status.Terminal() {
		t.Fatal("delivered must be terminal")
	}

	err := o.Transition(StatusCancelled, testNow)
	var ite *InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if ite.From != StatusDelivered || ite.To != StatusCancelled {
		t.Fatalf("unexpected edge %q -> %q", ite.From, ite.To)
	}
}

func TestCancelOnlyFromPending(t *testing.T) {
	o, _ := NewOrder(validInput(), testNow)
	if err := o.Cancel("buyer changed mind", testNow); err != nil {
		t.Fatalf("cancel from pending: %v", err)
	}
	if o.Status != StatusCancelled || o.CancelReason != "buyer changed mind" {
		t.Fatalf("unexpected state %q reason %q", o.Status, o.CancelReason)
	}

	confirmed, _ := NewOrder(validInput(), testNow)
	confirmed.Transition(StatusConfirmed, testNow)
	err := confirmed.Cancel("too late", testNow)
	var ite *InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if confirmed.CancelReason != "" {
		t.Fatal("failed cancel must not record a reason")
	}
}

func TestAttachTrackingRequiresShipped(t *testing.T) {
	o, _ := NewOrder(validInput(), testNow)

	err := o.AttachTracking("SF Express", "SF123", testNow)
	var pe *PreconditionError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PreconditionError, got %v", err)
	}

	o.Transition(StatusConfirmed, testNow)
	o.Transition(StatusProcessing, testNow)
	o.Transition(StatusShipped, testNow)

	var ve *ValidationError
	if err := o.AttachTracking("SF Express", "", testNow); !errors.As(err, &ve) {
		t.Fatalf("expected ValidationError for empty tracking number, got %v", err)
	}

	if err := o.AttachTracking("SF Express", "SF123", testNow); err != nil {
		t.Fatalf("attach tracking: %v", err)
	}
	shipped, ok := o.Shipment.(Shipped)
	if !ok {
		t.Fatalf("expected Shipped, got %T", o.Shipment)
	}
	if shipped.TrackingNumber != "SF123" || shipped.Carrier != "SF Express" {
		t.Fatalf("unexpected shipment %+v", shipped)
	}
}
