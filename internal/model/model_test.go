package model

import "testing"

func strptr(s string) *string { return &s }

func TestRecalculate(t *testing.T) {
	items := []CartItem{
		{ProductID: "p1", Quantity: 3, UnitPriceCents: 1000},
		{ProductID: "p2", Quantity: 2, UnitPriceCents: 2000},
	}

	agg := Recalculate(items)

	if agg.SubtotalCents != 7000 {
		t.Fatalf("SubtotalCents = %d, want 7000", agg.SubtotalCents)
	}
	if agg.ItemCount != 2 {
		t.Fatalf("ItemCount = %d, want 2", agg.ItemCount)
	}
	if agg.TotalQuantity != 5 {
		t.Fatalf("TotalQuantity = %d, want 5", agg.TotalQuantity)
	}
}

func TestRecalculateEmpty(t *testing.T) {
	agg := Recalculate(nil)
	if agg.SubtotalCents != 0 || agg.ItemCount != 0 || agg.TotalQuantity != 0 {
		t.Fatalf("empty cart must produce zero aggregates, got %+v", agg)
	}
}

func TestSameLine(t *testing.T) {
	base := CartItem{ProductID: "p1", VariantID: strptr("v1"), UnitPriceCents: 500}

	tests := []struct {
		name  string
		other CartItem
		want  bool
	}{
		{"identical", CartItem{ProductID: "p1", VariantID: strptr("v1"), UnitPriceCents: 500}, true},
		{"different product", CartItem{ProductID: "p2", VariantID: strptr("v1"), UnitPriceCents: 500}, false},
		{"different variant", CartItem{ProductID: "p1", VariantID: strptr("v2"), UnitPriceCents: 500}, false},
		{"missing variant", CartItem{ProductID: "p1", UnitPriceCents: 500}, false},
		{"different price", CartItem{ProductID: "p1", VariantID: strptr("v1"), UnitPriceCents: 501}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SameLine(base, tt.other); got != tt.want {
				t.Fatalf("SameLine = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSameLineNoVariants(t *testing.T) {
	a := CartItem{ProductID: "p1", UnitPriceCents: 500}
	b := CartItem{ProductID: "p1", UnitPriceCents: 500}
	if !SameLine(a, b) {
		t.Fatalf("items without variants and equal product/price must match")
	}
}

func TestTerminalStatuses(t *testing.T) {
	terminal := []CartStatus{CartStatusMerged, CartStatusDeleted, CartStatusConverted}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Fatalf("%s must be terminal", s)
		}
	}

	open := []CartStatus{CartStatusActive, CartStatusSaved, CartStatusAbandoned, CartStatusCheckout, CartStatusExpired}
	for _, s := range open {
		if s.Terminal() {
			t.Fatalf("%s must not be terminal", s)
		}
	}
}

func TestOwnerKey(t *testing.T) {
	user := "u1"
	c := &Cart{UserID: &user}
	if k := c.OwnerKey(); k.Kind != OwnerKindUser || k.Key != "u1" {
		t.Fatalf("unexpected owner key: %+v", k)
	}

	sess := "s1"
	c = &Cart{SessionID: &sess}
	if k := c.OwnerKey(); k.Kind != OwnerKindSession || k.Key != "s1" {
		t.Fatalf("unexpected owner key: %+v", k)
	}
}
