// Package syncer реализует фоновую синхронизацию корзин из БД в кэш.
package syncer

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/gophercart-system/internal/cache"
	"github.com/mmeshcher/gophercart-system/internal/model"
)

// Durable описывает страничный обход активных корзин в долговременном хранилище.
type Durable interface {
	ListActiveSince(ctx context.Context, since time.Time, afterID string, limit int) ([]model.Cart, error)
}

// Cache описывает запись снимков корзин в кэш.
type Cache interface {
	SetCart(ctx context.Context, cart *model.Cart) error
	SetMany(ctx context.Context, carts []model.Cart) error
}

// Synchronizer выталкивает долговременные записи в кэш: точечно после записи
// и пакетно при восстановлении после простоя кэша.
type Synchronizer struct {
	durable Durable
	cache   Cache
	health  cache.Availability
	logger  *zap.Logger

	window    time.Duration
	batchSize int
	pause     time.Duration
}

// NewSynchronizer создаёт синхронизатор с параметрами восстановительного обхода.
func NewSynchronizer(durable Durable, c Cache, health cache.Availability, logger *zap.Logger, window time.Duration, batchSize int, pause time.Duration) *Synchronizer {
	return &Synchronizer{
		durable:   durable,
		cache:     c,
		health:    health,
		logger:    logger,
		window:    window,
		batchSize: batchSize,
		pause:     pause,
	}
}

// SyncCartToCache выполняет идемпотентный upsert кэш-записи одной корзины.
// При недоступном кэше — no-op: запись восстановит последующий обход.
func (s *Synchronizer) SyncCartToCache(ctx context.Context, cart *model.Cart) error {
	if !s.health.Available() {
		return nil
	}
	return s.cache.SetCart(ctx, cart)
}

// SyncManyToCache записывает пакет корзин одним конвейером.
func (s *Synchronizer) SyncManyToCache(ctx context.Context, carts []model.Cart) error {
	if !s.health.Available() || len(carts) == 0 {
		return nil
	}
	return s.cache.SetMany(ctx, carts)
}

// RecoverToCache обходит активные корзины с активностью внутри скользящего
// окна и выталкивает их в кэш пакетами фиксированного размера с паузой между
// пакетами, чтобы ограничить нагрузку на бэкенд после простоя. Повторный
// запуск безопасен: обход идемпотентен.
func (s *Synchronizer) RecoverToCache(ctx context.Context) (int, error) {
	since := time.Now().Add(-s.window)
	afterID := ""
	total := 0

	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		batch, err := s.durable.ListActiveSince(ctx, since, afterID, s.batchSize)
		if err != nil {
			return total, err
		}
		if len(batch) == 0 {
			break
		}

		if err := s.SyncManyToCache(ctx, batch); err != nil {
			return total, err
		}

		total += len(batch)
		afterID = batch[len(batch)-1].ID

		if len(batch) < s.batchSize {
			break
		}

		select {
		case <-ctx.Done():
			return total, ctx.Err()
		case <-time.After(s.pause):
		}
	}

	s.logger.Info("cache recovery sweep finished", zap.Int("carts", total))
	return total, nil
}
