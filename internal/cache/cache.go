// Package cache реализует кэш корзин на базе Redis и монитор его доступности.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/mmeshcher/gophercart-system/internal/model"
)

// ErrCacheMiss возвращается, если запись не найдена в кэше.
var ErrCacheMiss = errors.New("cache miss")

// CartCache хранит снимки корзин в Redis: корзина по идентификатору,
// индекс владелец→корзина и кэш информации о товаре.
type CartCache struct {
	rdb *goredis.Client
	ttl time.Duration
}

// NewCartCache создаёт кэш корзин. Соединение не проверяется при создании:
// доступность бэкенда отслеживает монитор, а не вызывающие.
func NewCartCache(addr string, ttl time.Duration) *CartCache {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
		ReadTimeout: 2 * time.Second,
	})

	return &CartCache{rdb: rdb, ttl: ttl}
}

// Close закрывает соединение с Redis.
func (c *CartCache) Close() error {
	return c.rdb.Close()
}

func cartKey(cartID string) string { return "cart:" + cartID }

func ownerKey(owner model.OwnerKey) string {
	return fmt.Sprintf("cart:owner:%s:%s", owner.Kind, owner.Key)
}

func productKey(productID string) string { return "product:" + productID }

func validationKey(cartID string) string { return "cart:validation:" + cartID }

// GetByOwner возвращает корзину владельца из кэша через индекс владельца.
func (c *CartCache) GetByOwner(ctx context.Context, owner model.OwnerKey) (*model.Cart, error) {
	cartID, err := c.rdb.Get(ctx, ownerKey(owner)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("get owner index: %w", err)
	}

	raw, err := c.rdb.Get(ctx, cartKey(cartID)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("get cart: %w", err)
	}

	var cart model.Cart
	if err := json.Unmarshal(raw, &cart); err != nil {
		return nil, fmt.Errorf("unmarshal cart: %w", err)
	}

	return &cart, nil
}

// SetCart сохраняет снимок корзины и индекс владельца одним конвейером.
func (c *CartCache) SetCart(ctx context.Context, cart *model.Cart) error {
	raw, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("marshal cart: %w", err)
	}

	pipe := c.rdb.Pipeline()
	pipe.Set(ctx, cartKey(cart.ID), raw, c.ttl)
	if owner := cart.OwnerKey(); owner.Key != "" {
		pipe.Set(ctx, ownerKey(owner), cart.ID, c.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set cart: %w", err)
	}
	return nil
}

// SetMany сохраняет набор корзин одним конвейером. Используется восстановлением.
func (c *CartCache) SetMany(ctx context.Context, carts []model.Cart) error {
	if len(carts) == 0 {
		return nil
	}

	pipe := c.rdb.Pipeline()
	for i := range carts {
		raw, err := json.Marshal(&carts[i])
		if err != nil {
			return fmt.Errorf("marshal cart %s: %w", carts[i].ID, err)
		}
		pipe.Set(ctx, cartKey(carts[i].ID), raw, c.ttl)
		if owner := carts[i].OwnerKey(); owner.Key != "" {
			pipe.Set(ctx, ownerKey(owner), carts[i].ID, c.ttl)
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set many carts: %w", err)
	}
	return nil
}

// SetOwnerIndex привязывает владельца к корзине. Используется при миграции
// ассоциации сессия→корзина после слияния.
func (c *CartCache) SetOwnerIndex(ctx context.Context, owner model.OwnerKey, cartID string) error {
	if err := c.rdb.Set(ctx, ownerKey(owner), cartID, c.ttl).Err(); err != nil {
		return fmt.Errorf("set owner index: %w", err)
	}
	return nil
}

// DeleteCart удаляет записи корзины: снимок, индекс владельца и кэш валидации.
func (c *CartCache) DeleteCart(ctx context.Context, cart *model.Cart) error {
	keys := []string{cartKey(cart.ID), validationKey(cart.ID)}
	if owner := cart.OwnerKey(); owner.Key != "" {
		keys = append(keys, ownerKey(owner))
	}

	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete cart keys: %w", err)
	}
	return nil
}

// DeleteProduct удаляет кэш информации о товаре.
func (c *CartCache) DeleteProduct(ctx context.Context, productID string) error {
	if err := c.rdb.Del(ctx, productKey(productID)).Err(); err != nil {
		return fmt.Errorf("delete product key: %w", err)
	}
	return nil
}

// Probe проверяет бэкенд кэша: ping, полный цикл записи-чтения-удаления на
// одноразовом ключе и небольшой конвейерный пакет.
func (c *CartCache) Probe(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping: %w", err)
	}

	key := "health:probe:" + uuid.NewString()
	if err := c.rdb.Set(ctx, key, "ok", time.Minute).Err(); err != nil {
		return fmt.Errorf("probe set: %w", err)
	}
	val, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("probe get: %w", err)
	}
	if val != "ok" {
		return fmt.Errorf("probe readback mismatch: %q", val)
	}
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("probe del: %w", err)
	}

	pipe := c.rdb.Pipeline()
	for i := 0; i < 3; i++ {
		pipe.Set(ctx, fmt.Sprintf("%s:batch:%d", key, i), i, time.Minute)
	}
	pipe.Del(ctx, key+":batch:0", key+":batch:1", key+":batch:2")
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("probe pipeline: %w", err)
	}

	return nil
}
