// Package invalidation реализует рассылку инвалидаций кэша по изменениям
// корзин и событиям каталога товаров.
package invalidation

import (
	"context"

	"go.uber.org/zap"

	"github.com/mmeshcher/gophercart-system/internal/model"
)

// ProductEvent описывает событие каталога: изменение цены, остатка или
// доступности товара.
type ProductEvent struct {
	ProductID     string
	PriceCents    int64
	StockQuantity int
	Available     bool
}

// Durable описывает обновление снимков товара в долговременном хранилище.
type Durable interface {
	ApplyProductSnapshot(ctx context.Context, productID string, priceCents int64, stock int) ([]model.Cart, error)
}

// Cache описывает операции инвалидации и обновления кэша.
type Cache interface {
	DeleteCart(ctx context.Context, cart *model.Cart) error
	DeleteProduct(ctx context.Context, productID string) error
	SetCart(ctx context.Context, cart *model.Cart) error
}

// Tasks описывает очередь фоновых задач.
type Tasks interface {
	Submit(name string, fn func(ctx context.Context) error) bool
}

// Broadcaster рассылает инвалидации кэша. Инвалидация по изменению корзины —
// fire-and-forget; обработка события каталога синхронна для вызывающего,
// потому что трогает оба хранилища.
type Broadcaster struct {
	durable Durable
	cache   Cache
	tasks   Tasks
	logger  *zap.Logger
}

// NewBroadcaster создаёт рассыльщик инвалидаций.
func NewBroadcaster(durable Durable, c Cache, tasks Tasks, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		durable: durable,
		cache:   c,
		tasks:   tasks,
		logger:  logger,
	}
}

// CartChanged инвалидирует кэш-записи корзины (снимок, индекс владельца,
// результаты валидации) и кладёт свежий снимок одной фоновой задачей, чтобы
// удаление и запись не перемешивались между воркерами.
func (b *Broadcaster) CartChanged(cart *model.Cart) {
	snapshot := *cart
	b.tasks.Submit("invalidate-cart", func(ctx context.Context) error {
		if err := b.cache.DeleteCart(ctx, &snapshot); err != nil {
			return err
		}
		if snapshot.Status != model.CartStatusActive {
			return nil
		}
		return b.cache.SetCart(ctx, &snapshot)
	})
}

// ProductChanged обрабатывает событие каталога: инвалидирует кэш товара,
// обновляет снимки цены и остатка во всех корзинах, держащих товар, в обоих
// хранилищах и переинвалидирует кэш каждой затронутой корзины. Позиция,
// превышающая новый остаток, помечается флагом, не усекается.
func (b *Broadcaster) ProductChanged(ctx context.Context, event ProductEvent) error {
	b.tasks.Submit("invalidate-product", func(ctx context.Context) error {
		return b.cache.DeleteProduct(ctx, event.ProductID)
	})

	stock := event.StockQuantity
	if !event.Available {
		stock = 0
	}

	affected, err := b.durable.ApplyProductSnapshot(ctx, event.ProductID, event.PriceCents, stock)
	if err != nil {
		return err
	}

	for i := range affected {
		b.CartChanged(&affected[i])
	}

	b.logger.Info("product event propagated",
		zap.String("product_id", event.ProductID),
		zap.Int("carts", len(affected)),
	)
	return nil
}
