// Package store реализует координатор двух хранилищ корзины: кэша и БД.
//
// Чтения идут через кэш, пока монитор считает его доступным, с откатом на
// долговременное хранилище. Записи в БД синхронны и авторитетны; запись в кэш
// всегда отправляется фоновой задачей и её отказ не поднимается к вызывающему.
// Ни одна операция не завершается ошибкой только из-за недоступности кэша.
package store

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/gophercart-system/internal/cache"
	"github.com/mmeshcher/gophercart-system/internal/model"
	"github.com/mmeshcher/gophercart-system/internal/repository"
)

// Durable описывает операции долговременного хранилища, нужные координатору.
type Durable interface {
	GetActiveCartByOwner(ctx context.Context, owner model.OwnerKey) (*model.Cart, error)
	GetCartByID(ctx context.Context, id string) (*model.Cart, error)
	CreateCart(ctx context.Context, cart *model.Cart) error
	SoftDeleteCart(ctx context.Context, cartID string) error
}

// Cache описывает операции кэша корзин, нужные координатору.
type Cache interface {
	GetByOwner(ctx context.Context, owner model.OwnerKey) (*model.Cart, error)
	SetCart(ctx context.Context, cart *model.Cart) error
	DeleteCart(ctx context.Context, cart *model.Cart) error
}

// Tasks описывает очередь фоновых задач для отложенных записей в кэш.
type Tasks interface {
	Submit(name string, fn func(ctx context.Context) error) bool
}

// CartStore — координатор чтения и записи корзин поверх кэша и БД.
type CartStore struct {
	durable Durable
	cache   Cache
	health  cache.Availability
	tasks   Tasks
	logger  *zap.Logger
}

// NewCartStore создаёт координатор хранилищ.
func NewCartStore(durable Durable, c Cache, health cache.Availability, tasks Tasks, logger *zap.Logger) *CartStore {
	return &CartStore{
		durable: durable,
		cache:   c,
		health:  health,
		tasks:   tasks,
		logger:  logger,
	}
}

// Get возвращает активную корзину владельца. Кэш опрашивается только при
// доступном бэкенде; промах и любой сбой кэша приводят к чтению из БД с
// асинхронным восстановлением кэш-записи.
func (s *CartStore) Get(ctx context.Context, owner model.OwnerKey) (*model.Cart, error) {
	if s.health.Available() {
		cart, err := s.cache.GetByOwner(ctx, owner)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn("cache read failed, falling back to durable store", zap.Error(err))
		}
	}

	cart, err := s.durable.GetActiveCartByOwner(ctx, owner)
	if err != nil {
		return nil, err
	}

	s.Propagate(cart)
	return cart, nil
}

// GetByID возвращает корзину по идентификатору из долговременного хранилища.
func (s *CartStore) GetByID(ctx context.Context, id string) (*model.Cart, error) {
	return s.durable.GetCartByID(ctx, id)
}

// GetOrCreate возвращает активную корзину владельца, создавая её при отсутствии.
func (s *CartStore) GetOrCreate(ctx context.Context, owner model.OwnerKey, currency string, ttl time.Duration) (*model.Cart, error) {
	cart, err := s.Get(ctx, owner)
	if err == nil {
		return cart, nil
	}
	if !errors.Is(err, repository.ErrCartNotFound) {
		return nil, err
	}

	now := time.Now()
	cart = &model.Cart{
		Status:    model.CartStatusActive,
		Currency:  currency,
		ExpiresAt: now.Add(ttl),
	}
	if owner.Kind == model.OwnerKindUser {
		cart.UserID = &owner.Key
		cart.CartType = model.CartTypeUser
	} else {
		cart.SessionID = &owner.Key
		cart.CartType = model.CartTypeGuest
	}

	if err := s.durable.CreateCart(ctx, cart); err != nil {
		// Гонка создания: параллельный запрос успел первым, забираем его корзину.
		if errors.Is(err, repository.ErrActiveCartExists) {
			return s.durable.GetActiveCartByOwner(ctx, owner)
		}
		return nil, err
	}

	created, err := s.durable.GetCartByID(ctx, cart.ID)
	if err != nil {
		return nil, err
	}

	s.Propagate(created)
	return created, nil
}

// Delete выполняет мягкое удаление корзины в БД; удаление из кэша — best-effort.
func (s *CartStore) Delete(ctx context.Context, cart *model.Cart) error {
	if err := s.durable.SoftDeleteCart(ctx, cart.ID); err != nil {
		return err
	}

	snapshot := *cart
	s.tasks.Submit("cache-delete-cart", func(ctx context.Context) error {
		return s.cache.DeleteCart(ctx, &snapshot)
	})

	return nil
}

// Propagate планирует асинхронную запись снимка корзины в кэш.
// Вызывается после каждой успешной долговременной записи.
func (s *CartStore) Propagate(cart *model.Cart) {
	snapshot := *cart
	s.tasks.Submit("cache-set-cart", func(ctx context.Context) error {
		return s.cache.SetCart(ctx, &snapshot)
	})
}
