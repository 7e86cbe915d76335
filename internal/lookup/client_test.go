package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mmeshcher/gophercart-system/internal/model"
	"github.com/mmeshcher/gophercart-system/internal/pricing"
)

func TestLoyaltyMembership_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Fatalf("method = %s, want GET", r.Method)
		}
		if r.URL.Path != "/api/loyalty/users/u1/membership" {
			t.Fatalf("path = %s", r.URL.Path)
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]any{
			"level":      "GOLD",
			"points":     750,
			"tax_exempt": false,
		}); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}))
	defer ts.Close()

	client := NewLoyaltyClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	m, err := client.Membership(ctx, "u1")
	if err != nil {
		t.Fatalf("Membership error: %v", err)
	}
	if m == nil || m.Level != "GOLD" || m.Points != 750 || m.TaxExempt {
		t.Fatalf("unexpected membership: %+v", m)
	}
}

func TestLoyaltyMembership_NotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	client := NewLoyaltyClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	m, err := client.Membership(ctx, "u1")
	if err != nil {
		t.Fatalf("Membership error: %v", err)
	}
	if m != nil {
		t.Fatalf("expected nil membership for 404, got %+v", m)
	}
}

func TestPromotionActiveAndCalculate(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		switch r.URL.Path {
		case "/api/promotions/active":
			if r.URL.Query().Get("product_id") != "p1" {
				t.Fatalf("product_id = %s", r.URL.Query().Get("product_id"))
			}
			if err := json.NewEncoder(w).Encode([]map[string]string{
				{"id": "promo1", "name": "summer sale"},
			}); err != nil {
				t.Fatalf("encode: %v", err)
			}
		case "/api/promotions/promo1/calculate":
			if r.Method != http.MethodPost {
				t.Fatalf("method = %s, want POST", r.Method)
			}
			var req struct {
				Quantity  int   `json:"quantity"`
				UnitPrice int64 `json:"unit_price"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if req.Quantity != 3 || req.UnitPrice != 1000 {
				t.Fatalf("unexpected request: %+v", req)
			}
			if err := json.NewEncoder(w).Encode(map[string]int64{"discount": 150}); err != nil {
				t.Fatalf("encode: %v", err)
			}
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer ts.Close()

	client := NewPromotionClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	promos, err := client.ActivePromotions(ctx, "p1")
	if err != nil {
		t.Fatalf("ActivePromotions error: %v", err)
	}
	if len(promos) != 1 || promos[0].ID != "promo1" {
		t.Fatalf("unexpected promotions: %+v", promos)
	}

	discount, err := client.CalculateDiscount(ctx, "promo1", 3, 1000)
	if err != nil {
		t.Fatalf("CalculateDiscount error: %v", err)
	}
	if discount != 150 {
		t.Fatalf("discount = %d, want 150", discount)
	}
}

func TestShippingOptions(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/shipping/options" {
			t.Fatalf("path = %s", r.URL.Path)
		}

		var req struct {
			Currency      string `json:"currency"`
			TotalQuantity int    `json:"total_quantity"`
			Subtotal      int64  `json:"subtotal"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.Currency != "USD" || req.TotalQuantity != 2 || req.Subtotal != 2000 {
			t.Fatalf("unexpected request: %+v", req)
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode([]map[string]any{
			{"name": "standard", "cost": 500, "recommended": true},
			{"name": "express", "cost": 1500, "recommended": false},
		}); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}))
	defer ts.Close()

	client := NewShippingClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	cart := &model.Cart{
		Currency: "USD",
		Items: []model.CartItem{
			{ProductID: "p1", Quantity: 2, UnitPriceCents: 1000},
		},
	}

	options, err := client.Options(ctx, cart)
	if err != nil {
		t.Fatalf("Options error: %v", err)
	}
	if len(options) != 2 {
		t.Fatalf("options = %d, want 2", len(options))
	}
	if options[0].Name != "standard" || options[0].CostCents != 500 || !options[0].Recommended {
		t.Fatalf("unexpected option: %+v", options[0])
	}
}

func TestDefaultAddress_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/addresses/users/u1/default" {
			t.Fatalf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(map[string]string{
			"country": "US",
			"state":   "CA",
		}); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}))
	defer ts.Close()

	client := NewAddressClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	addr, err := client.DefaultAddress(ctx, "u1")
	if err != nil {
		t.Fatalf("DefaultAddress error: %v", err)
	}
	if addr == nil || addr.Country != "US" || addr.State != "CA" {
		t.Fatalf("unexpected address: %+v", addr)
	}
}

func TestDefaultAddress_Missing(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	client := NewAddressClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := client.DefaultAddress(ctx, "u1")
	if !errors.Is(err, pricing.ErrNoAddress) {
		t.Fatalf("expected ErrNoAddress, got %v", err)
	}
}

func TestClientNotConfigured(t *testing.T) {
	ctx := context.Background()

	if _, err := NewLoyaltyClient("").Membership(ctx, "u1"); err == nil {
		t.Fatal("expected error for unconfigured loyalty client")
	}
	if _, err := NewShippingClient("").Options(ctx, &model.Cart{}); err == nil {
		t.Fatal("expected error for unconfigured shipping client")
	}
}
