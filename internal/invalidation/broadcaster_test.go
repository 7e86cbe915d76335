package invalidation

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/mmeshcher/gophercart-system/internal/model"
)

type stubDurable struct {
	affected []model.Cart

	gotProduct string
	gotPrice   int64
	gotStock   int
}

func (d *stubDurable) ApplyProductSnapshot(ctx context.Context, productID string, priceCents int64, stock int) ([]model.Cart, error) {
	d.gotProduct = productID
	d.gotPrice = priceCents
	d.gotStock = stock
	return d.affected, nil
}

type stubCache struct {
	deletedCarts    []string
	deletedProducts []string
	setCarts        []string
}

func (c *stubCache) DeleteCart(ctx context.Context, cart *model.Cart) error {
	c.deletedCarts = append(c.deletedCarts, cart.ID)
	return nil
}

func (c *stubCache) DeleteProduct(ctx context.Context, productID string) error {
	c.deletedProducts = append(c.deletedProducts, productID)
	return nil
}

func (c *stubCache) SetCart(ctx context.Context, cart *model.Cart) error {
	c.setCarts = append(c.setCarts, cart.ID)
	return nil
}

type syncTasks struct{}

func (syncTasks) Submit(name string, fn func(ctx context.Context) error) bool {
	_ = fn(context.Background())
	return true
}

func TestCartChangedInvalidatesAndRefreshes(t *testing.T) {
	c := &stubCache{}
	b := NewBroadcaster(&stubDurable{}, c, syncTasks{}, zap.NewNop())

	b.CartChanged(&model.Cart{ID: "c1", Status: model.CartStatusActive})

	if len(c.deletedCarts) != 1 || c.deletedCarts[0] != "c1" {
		t.Fatalf("cart keys not invalidated: %v", c.deletedCarts)
	}
	if len(c.setCarts) != 1 || c.setCarts[0] != "c1" {
		t.Fatalf("fresh snapshot not written: %v", c.setCarts)
	}
}

func TestCartChangedMergedCartNotRecached(t *testing.T) {
	c := &stubCache{}
	b := NewBroadcaster(&stubDurable{}, c, syncTasks{}, zap.NewNop())

	b.CartChanged(&model.Cart{ID: "c1", Status: model.CartStatusMerged})

	if len(c.deletedCarts) != 1 {
		t.Fatalf("merged cart keys must still be invalidated")
	}
	if len(c.setCarts) != 0 {
		t.Fatalf("merged cart must not be re-cached")
	}
}

func TestProductChangedPropagates(t *testing.T) {
	durable := &stubDurable{
		affected: []model.Cart{
			{ID: "c1", Status: model.CartStatusActive},
			{ID: "c2", Status: model.CartStatusActive},
		},
	}
	c := &stubCache{}
	b := NewBroadcaster(durable, c, syncTasks{}, zap.NewNop())

	err := b.ProductChanged(context.Background(), ProductEvent{
		ProductID:     "p1",
		PriceCents:    1500,
		StockQuantity: 3,
		Available:     true,
	})
	if err != nil {
		t.Fatalf("ProductChanged error: %v", err)
	}

	if durable.gotProduct != "p1" || durable.gotPrice != 1500 || durable.gotStock != 3 {
		t.Fatalf("snapshot update got (%s, %d, %d)", durable.gotProduct, durable.gotPrice, durable.gotStock)
	}
	if len(c.deletedProducts) != 1 || c.deletedProducts[0] != "p1" {
		t.Fatalf("product cache not invalidated: %v", c.deletedProducts)
	}
	if len(c.deletedCarts) != 2 || len(c.setCarts) != 2 {
		t.Fatalf("affected carts not re-invalidated: del=%v set=%v", c.deletedCarts, c.setCarts)
	}
}

func TestProductUnavailableZeroesStock(t *testing.T) {
	durable := &stubDurable{}
	b := NewBroadcaster(durable, &stubCache{}, syncTasks{}, zap.NewNop())

	err := b.ProductChanged(context.Background(), ProductEvent{
		ProductID:     "p1",
		PriceCents:    1500,
		StockQuantity: 10,
		Available:     false,
	})
	if err != nil {
		t.Fatalf("ProductChanged error: %v", err)
	}

	if durable.gotStock != 0 {
		t.Fatalf("unavailable product must propagate zero stock, got %d", durable.gotStock)
	}
}
