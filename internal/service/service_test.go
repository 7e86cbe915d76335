package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mmeshcher/gophercart-system/internal/merge"
	"github.com/mmeshcher/gophercart-system/internal/model"
	"github.com/mmeshcher/gophercart-system/internal/pricing"
)

type stubDurable struct {
	cart *model.Cart
	err  error

	upsertedItem    *model.CartItem
	updatedItemID   string
	updatedQuantity int
	removedItemID   string
	cleared         bool
	couponCode      *string
	couponSet       bool

	pricingDiscount int64
	pricingTax      int64
	pricingShipping int64
}

func (s *stubDurable) UpsertItem(ctx context.Context, cartID string, item model.CartItem) (*model.Cart, error) {
	s.upsertedItem = &item
	return s.cart, s.err
}

func (s *stubDurable) UpdateItemQuantity(ctx context.Context, cartID, itemID string, quantity int) (*model.Cart, error) {
	s.updatedItemID = itemID
	s.updatedQuantity = quantity
	return s.cart, s.err
}

func (s *stubDurable) RemoveItem(ctx context.Context, cartID, itemID string) (*model.Cart, error) {
	s.removedItemID = itemID
	return s.cart, s.err
}

func (s *stubDurable) ClearItems(ctx context.Context, cartID string) (*model.Cart, error) {
	s.cleared = true
	return s.cart, s.err
}

func (s *stubDurable) SetCoupon(ctx context.Context, cartID string, code *string) (*model.Cart, error) {
	s.couponCode = code
	s.couponSet = true
	return s.cart, s.err
}

func (s *stubDurable) UpdatePricing(ctx context.Context, cartID string, discount, tax, shipping int64) (*model.Cart, error) {
	s.pricingDiscount = discount
	s.pricingTax = tax
	s.pricingShipping = shipping
	return s.cart, s.err
}

type stubStore struct {
	cart       *model.Cart
	getErr     error
	createdTTL time.Duration
	deleted    bool
}

func (s *stubStore) Get(ctx context.Context, owner model.OwnerKey) (*model.Cart, error) {
	return s.cart, s.getErr
}

func (s *stubStore) GetOrCreate(ctx context.Context, owner model.OwnerKey, currency string, ttl time.Duration) (*model.Cart, error) {
	s.createdTTL = ttl
	return s.cart, s.getErr
}

func (s *stubStore) Delete(ctx context.Context, cart *model.Cart) error {
	s.deleted = true
	return nil
}

type stubMerger struct {
	result *merge.Result
	err    error
}

func (s *stubMerger) MergeGuestCartToUser(ctx context.Context, sessionID, userID string) (*merge.Result, error) {
	return s.result, s.err
}

func (s *stubMerger) MergeUserCarts(ctx context.Context, userID string, sourceIDs []string, targetID string) (*merge.Result, error) {
	return s.result, s.err
}

type stubPricer struct {
	breakdown *pricing.Breakdown
	err       error
}

func (s *stubPricer) Price(ctx context.Context, cart *model.Cart) (*pricing.Breakdown, error) {
	return s.breakdown, s.err
}

type countingInvalidator struct {
	changed int
}

func (c *countingInvalidator) CartChanged(cart *model.Cart) { c.changed++ }

func testService(durable *stubDurable, store *stubStore, pricer *stubPricer) (*Service, *countingInvalidator) {
	inv := &countingInvalidator{}
	if pricer == nil {
		pricer = &stubPricer{}
	}
	svc := NewService(durable, store, &stubMerger{}, pricer, inv, TTLs{Guest: time.Hour, User: 2 * time.Hour}, "USD")
	return svc, inv
}

func TestGetOrCreateCart_TTLByOwnerKind(t *testing.T) {
	cart := &model.Cart{ID: "c1"}
	store := &stubStore{cart: cart}
	svc, _ := testService(&stubDurable{cart: cart}, store, nil)

	if _, err := svc.GetOrCreateCart(context.Background(), model.SessionOwner("s1")); err != nil {
		t.Fatalf("GetOrCreateCart error: %v", err)
	}
	if store.createdTTL != time.Hour {
		t.Fatalf("guest ttl = %v, want 1h", store.createdTTL)
	}

	if _, err := svc.GetOrCreateCart(context.Background(), model.UserOwner("u1")); err != nil {
		t.Fatalf("GetOrCreateCart error: %v", err)
	}
	if store.createdTTL != 2*time.Hour {
		t.Fatalf("user ttl = %v, want 2h", store.createdTTL)
	}
}

func TestAddItem_InvalidQuantity(t *testing.T) {
	svc, inv := testService(&stubDurable{}, &stubStore{}, nil)

	for _, quantity := range []int{0, -1, 100} {
		_, err := svc.AddItem(context.Background(), model.SessionOwner("s1"), model.CartItem{ProductID: "p1", Quantity: quantity})
		if !errors.Is(err, ErrInvalidQuantity) {
			t.Fatalf("quantity %d: expected ErrInvalidQuantity, got %v", quantity, err)
		}
	}
	if inv.changed != 0 {
		t.Fatalf("rejected writes must not invalidate the cache")
	}
}

func TestAddItem_InvalidatesCache(t *testing.T) {
	cart := &model.Cart{ID: "c1"}
	durable := &stubDurable{cart: cart}
	svc, inv := testService(durable, &stubStore{cart: cart}, nil)

	updated, err := svc.AddItem(context.Background(), model.SessionOwner("s1"), model.CartItem{ProductID: "p1", Quantity: 2, UnitPriceCents: 1000})
	if err != nil {
		t.Fatalf("AddItem error: %v", err)
	}
	if updated != cart {
		t.Fatalf("unexpected cart: %+v", updated)
	}
	if durable.upsertedItem == nil || durable.upsertedItem.ProductID != "p1" {
		t.Fatalf("item not upserted: %+v", durable.upsertedItem)
	}
	if inv.changed != 1 {
		t.Fatalf("invalidations = %d, want 1", inv.changed)
	}
}

func TestUpdateItemQuantity(t *testing.T) {
	cart := &model.Cart{ID: "c1"}
	durable := &stubDurable{cart: cart}
	svc, inv := testService(durable, &stubStore{cart: cart}, nil)

	if _, err := svc.UpdateItemQuantity(context.Background(), model.SessionOwner("s1"), "i1", 5); err != nil {
		t.Fatalf("UpdateItemQuantity error: %v", err)
	}
	if durable.updatedItemID != "i1" || durable.updatedQuantity != 5 {
		t.Fatalf("unexpected update: %s/%d", durable.updatedItemID, durable.updatedQuantity)
	}
	if inv.changed != 1 {
		t.Fatalf("invalidations = %d, want 1", inv.changed)
	}
}

func TestApplyCoupon_FormatValidation(t *testing.T) {
	cart := &model.Cart{ID: "c1"}
	durable := &stubDurable{cart: cart}
	svc, _ := testService(durable, &stubStore{cart: cart}, nil)

	_, err := svc.ApplyCoupon(context.Background(), model.UserOwner("u1"), "bad code")
	if !errors.Is(err, ErrInvalidCoupon) {
		t.Fatalf("expected ErrInvalidCoupon, got %v", err)
	}
	if durable.couponSet {
		t.Fatalf("invalid coupon must not reach the store")
	}

	if _, err := svc.ApplyCoupon(context.Background(), model.UserOwner("u1"), "SAVE10"); err != nil {
		t.Fatalf("ApplyCoupon error: %v", err)
	}
	if durable.couponCode == nil || *durable.couponCode != "SAVE10" {
		t.Fatalf("coupon not stored: %v", durable.couponCode)
	}
}

func TestRemoveCoupon(t *testing.T) {
	cart := &model.Cart{ID: "c1"}
	durable := &stubDurable{cart: cart}
	svc, _ := testService(durable, &stubStore{cart: cart}, nil)

	if _, err := svc.RemoveCoupon(context.Background(), model.UserOwner("u1")); err != nil {
		t.Fatalf("RemoveCoupon error: %v", err)
	}
	if !durable.couponSet || durable.couponCode != nil {
		t.Fatalf("coupon must be cleared, got set=%v code=%v", durable.couponSet, durable.couponCode)
	}
}

func TestDeleteCart(t *testing.T) {
	cart := &model.Cart{ID: "c1"}
	store := &stubStore{cart: cart}
	svc, _ := testService(&stubDurable{cart: cart}, store, nil)

	if err := svc.DeleteCart(context.Background(), model.SessionOwner("s1")); err != nil {
		t.Fatalf("DeleteCart error: %v", err)
	}
	if !store.deleted {
		t.Fatalf("cart not deleted")
	}
}

func TestCalculateCartPricing_PersistsAmounts(t *testing.T) {
	cart := &model.Cart{ID: "c1", SubtotalCents: 8000}
	durable := &stubDurable{cart: cart}
	pricer := &stubPricer{breakdown: &pricing.Breakdown{
		SubtotalCents: 8000,
		DiscountCents: 400,
		TaxCents:      608,
		ShippingCents: 500,
		TotalCents:    8708,
	}}
	svc, inv := testService(durable, &stubStore{cart: cart}, pricer)

	_, breakdown, err := svc.CalculateCartPricing(context.Background(), model.UserOwner("u1"))
	if err != nil {
		t.Fatalf("CalculateCartPricing error: %v", err)
	}
	if breakdown.TotalCents != 8708 {
		t.Fatalf("total = %d, want 8708", breakdown.TotalCents)
	}
	if durable.pricingDiscount != 400 || durable.pricingTax != 608 || durable.pricingShipping != 500 {
		t.Fatalf("persisted amounts = %d/%d/%d", durable.pricingDiscount, durable.pricingTax, durable.pricingShipping)
	}
	if inv.changed != 1 {
		t.Fatalf("invalidations = %d, want 1", inv.changed)
	}
}

func TestCalculateCartPricing_ShippingFailure(t *testing.T) {
	cart := &model.Cart{ID: "c1"}
	pricer := &stubPricer{err: pricing.ErrShippingUnavailable}
	durable := &stubDurable{cart: cart}
	svc, _ := testService(durable, &stubStore{cart: cart}, pricer)

	_, _, err := svc.CalculateCartPricing(context.Background(), model.UserOwner("u1"))
	if !errors.Is(err, pricing.ErrShippingUnavailable) {
		t.Fatalf("expected ErrShippingUnavailable, got %v", err)
	}
	if durable.pricingDiscount != 0 && durable.pricingTax != 0 {
		t.Fatalf("failed pricing must not be persisted")
	}
}
