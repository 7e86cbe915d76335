// Package merge реализует консолидацию корзин: продвижение гостевой корзины
// при входе пользователя и попарное слияние наборов корзин.
package merge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/gophercart-system/internal/model"
	"github.com/mmeshcher/gophercart-system/internal/repository"
)

// ErrMergeRejected возвращается при нарушении предусловий слияния.
// Отличим от транзиентных отказов хранилища: повторять вызов бессмысленно.
var ErrMergeRejected = errors.New("merge rejected")

// ErrNotOwner возвращается, если корзина не принадлежит указанному пользователю.
var ErrNotOwner = errors.New("cart does not belong to user")

// Durable описывает операции долговременного хранилища, нужные слиянию.
type Durable interface {
	GetActiveCartByOwner(ctx context.Context, owner model.OwnerKey) (*model.Cart, error)
	GetCartByID(ctx context.Context, id string) (*model.Cart, error)
	MergeCarts(ctx context.Context, sourceID, targetID string) (*repository.MergeResult, error)
	PromoteGuestCart(ctx context.Context, cartID, userID string, expiresAt time.Time) (*model.Cart, error)
}

// Store описывает координатор хранилищ, поверх которого работает слияние.
type Store interface {
	GetOrCreate(ctx context.Context, owner model.OwnerKey, currency string, ttl time.Duration) (*model.Cart, error)
	Propagate(cart *model.Cart)
}

// Invalidator рассылает инвалидации кэша по изменившимся корзинам.
type Invalidator interface {
	CartChanged(cart *model.Cart)
}

// OwnerIndex мигрирует ассоциацию владелец→корзина в кэше.
type OwnerIndex interface {
	SetOwnerIndex(ctx context.Context, owner model.OwnerKey, cartID string) error
}

// Tasks описывает очередь фоновых задач.
type Tasks interface {
	Submit(name string, fn func(ctx context.Context) error) bool
}

// Limits задаёт предельные значения объединённой корзины.
type Limits struct {
	MaxItems       int
	MaxAmountCents int64
	UserCartTTL    time.Duration
	Currency       string
}

// Result описывает исход операции слияния.
type Result struct {
	Cart     *model.Cart
	Promoted bool
	Merged   bool
	Dropped  []model.CartItem
}

// Engine — машина состояний слияния поверх CartStore и долговременного хранилища.
type Engine struct {
	durable     Durable
	store       Store
	invalidator Invalidator
	ownerIndex  OwnerIndex
	tasks       Tasks
	limits      Limits
	logger      *zap.Logger
}

// NewEngine создаёт движок слияния.
func NewEngine(durable Durable, store Store, invalidator Invalidator, ownerIndex OwnerIndex, tasks Tasks, limits Limits, logger *zap.Logger) *Engine {
	return &Engine{
		durable:     durable,
		store:       store,
		invalidator: invalidator,
		ownerIndex:  ownerIndex,
		tasks:       tasks,
		limits:      limits,
		logger:      logger,
	}
}

// CanMerge проверяет предусловия попарного слияния: статусы обеих корзин из
// {ACTIVE, SAVED}, объединённое число позиций и объединённая стоимость в
// пределах лимитов. Возвращает ErrMergeRejected с причиной.
func (e *Engine) CanMerge(source, target *model.Cart) error {
	for _, c := range []*model.Cart{source, target} {
		if c.Status != model.CartStatusActive && c.Status != model.CartStatusSaved {
			return fmt.Errorf("%w: cart %s has status %s", ErrMergeRejected, c.ID, c.Status)
		}
	}

	if combined := source.ItemCount + target.ItemCount; combined > e.limits.MaxItems {
		return fmt.Errorf("%w: combined item count %d exceeds %d", ErrMergeRejected, combined, e.limits.MaxItems)
	}

	if combined := source.TotalCents + target.TotalCents; combined > e.limits.MaxAmountCents {
		return fmt.Errorf("%w: combined amount %d exceeds %d", ErrMergeRejected, combined, e.limits.MaxAmountCents)
	}

	return nil
}

// MergeGuestCartToUser консолидирует гостевую корзину сессии в корзину
// пользователя при входе. Без гостевой корзины возвращается (или создаётся)
// корзина пользователя; без корзины пользователя гостевая продвигается на
// месте; иначе выполняется попарное слияние с ретированием гостевой корзины.
func (e *Engine) MergeGuestCartToUser(ctx context.Context, sessionID, userID string) (*Result, error) {
	sessionOwner := model.SessionOwner(sessionID)
	userOwner := model.UserOwner(userID)

	guest, err := e.durable.GetActiveCartByOwner(ctx, sessionOwner)
	if err != nil {
		if !errors.Is(err, repository.ErrCartNotFound) {
			return nil, err
		}

		cart, err := e.store.GetOrCreate(ctx, userOwner, e.limits.Currency, e.limits.UserCartTTL)
		if err != nil {
			return nil, err
		}
		return &Result{Cart: cart}, nil
	}

	target, err := e.durable.GetActiveCartByOwner(ctx, userOwner)
	if errors.Is(err, repository.ErrCartNotFound) {
		promoted, err := e.durable.PromoteGuestCart(ctx, guest.ID, userID, time.Now().Add(e.limits.UserCartTTL))
		if err != nil {
			return nil, err
		}

		e.invalidator.CartChanged(promoted)
		e.migrateSession(sessionOwner, promoted.ID)
		return &Result{Cart: promoted, Promoted: true}, nil
	}
	if err != nil {
		return nil, err
	}

	result, err := e.pairwiseMerge(ctx, guest, target)
	if err != nil {
		return nil, err
	}

	e.migrateSession(sessionOwner, result.Cart.ID)
	return result, nil
}

// MergeUserCarts сливает набор корзин пользователя в целевую: итеративная
// попарная свёртка с перепроверкой предусловий на каждой паре. Уже слитые
// источники остаются слитыми, если очередная пара отклонена.
func (e *Engine) MergeUserCarts(ctx context.Context, userID string, sourceIDs []string, targetID string) (*Result, error) {
	target, err := e.ownedCart(ctx, userID, targetID)
	if err != nil {
		return nil, err
	}

	final := &Result{Cart: target}
	for _, sourceID := range sourceIDs {
		if sourceID == targetID {
			return nil, fmt.Errorf("%w: target %s listed as source", ErrMergeRejected, targetID)
		}

		source, err := e.ownedCart(ctx, userID, sourceID)
		if err != nil {
			return nil, err
		}

		step, err := e.pairwiseMerge(ctx, source, final.Cart)
		if err != nil {
			return nil, err
		}

		final.Cart = step.Cart
		final.Merged = true
		final.Dropped = append(final.Dropped, step.Dropped...)
	}

	return final, nil
}

func (e *Engine) ownedCart(ctx context.Context, userID, cartID string) (*model.Cart, error) {
	cart, err := e.durable.GetCartByID(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if cart.UserID == nil || *cart.UserID != userID {
		return nil, fmt.Errorf("%w: cart %s", ErrNotOwner, cartID)
	}
	return cart, nil
}

// pairwiseMerge выполняет одно попарное слияние: предусловия, транзакция в
// хранилище, рассылка инвалидаций. Строки, отброшенные из-за лимита
// количества, логируются и возвращаются вызывающему.
func (e *Engine) pairwiseMerge(ctx context.Context, source, target *model.Cart) (*Result, error) {
	if err := e.CanMerge(source, target); err != nil {
		return nil, err
	}

	merged, err := e.durable.MergeCarts(ctx, source.ID, target.ID)
	if err != nil {
		if errors.Is(err, repository.ErrCartStateChanged) {
			return nil, fmt.Errorf("%w: %s", ErrMergeRejected, err)
		}
		return nil, err
	}

	for _, line := range merged.Dropped {
		e.logger.Warn("merge line dropped: quantity cap exceeded",
			zap.String("source_cart", source.ID),
			zap.String("target_cart", target.ID),
			zap.String("product_id", line.ProductID),
			zap.Int("quantity", line.Quantity),
		)
	}

	e.invalidator.CartChanged(merged.Source)
	e.invalidator.CartChanged(merged.Target)
	e.store.Propagate(merged.Target)

	return &Result{Cart: merged.Target, Merged: true, Dropped: merged.Dropped}, nil
}

// migrateSession перевешивает индекс сессия→корзина на целевую корзину.
func (e *Engine) migrateSession(owner model.OwnerKey, cartID string) {
	e.tasks.Submit("migrate-session-index", func(ctx context.Context) error {
		return e.ownerIndex.SetOwnerIndex(ctx, owner, cartID)
	})
}
