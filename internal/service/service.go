// Package service реализует бизнес-логику сервиса гоферкарт.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/mmeshcher/gophercart-system/internal/merge"
	"github.com/mmeshcher/gophercart-system/internal/model"
	"github.com/mmeshcher/gophercart-system/internal/pricing"
	"github.com/mmeshcher/gophercart-system/internal/validation"
)

// ErrInvalidQuantity возвращается при недопустимом количестве единиц позиции.
var ErrInvalidQuantity = errors.New("invalid item quantity")

// ErrInvalidCoupon возвращается при недопустимом формате кода купона.
var ErrInvalidCoupon = errors.New("invalid coupon code")

// Durable описывает операции долговременного хранилища, используемые сервисом.
type Durable interface {
	UpsertItem(ctx context.Context, cartID string, item model.CartItem) (*model.Cart, error)
	UpdateItemQuantity(ctx context.Context, cartID, itemID string, quantity int) (*model.Cart, error)
	RemoveItem(ctx context.Context, cartID, itemID string) (*model.Cart, error)
	ClearItems(ctx context.Context, cartID string) (*model.Cart, error)
	SetCoupon(ctx context.Context, cartID string, code *string) (*model.Cart, error)
	UpdatePricing(ctx context.Context, cartID string, discount, tax, shipping int64) (*model.Cart, error)
}

// Store описывает координатор хранилищ корзин.
type Store interface {
	Get(ctx context.Context, owner model.OwnerKey) (*model.Cart, error)
	GetOrCreate(ctx context.Context, owner model.OwnerKey, currency string, ttl time.Duration) (*model.Cart, error)
	Delete(ctx context.Context, cart *model.Cart) error
}

// Merger описывает движок консолидации корзин.
type Merger interface {
	MergeGuestCartToUser(ctx context.Context, sessionID, userID string) (*merge.Result, error)
	MergeUserCarts(ctx context.Context, userID string, sourceIDs []string, targetID string) (*merge.Result, error)
}

// Pricer описывает конвейер расчёта стоимости корзины.
type Pricer interface {
	Price(ctx context.Context, cart *model.Cart) (*pricing.Breakdown, error)
}

// Invalidator рассылает инвалидации кэша по изменившимся корзинам.
type Invalidator interface {
	CartChanged(cart *model.Cart)
}

// TTLs задаёт сроки жизни корзин по типу владельца.
type TTLs struct {
	Guest time.Duration
	User  time.Duration
}

// Service содержит бизнес-логику сервиса гоферкарт.
type Service struct {
	durable     Durable
	store       Store
	merger      Merger
	pricer      Pricer
	invalidator Invalidator
	ttls        TTLs
	currency    string
}

// NewService создаёт новый сервис поверх координатора хранилищ, движка
// слияния и конвейера ценообразования.
func NewService(durable Durable, store Store, merger Merger, pricer Pricer, invalidator Invalidator, ttls TTLs, currency string) *Service {
	return &Service{
		durable:     durable,
		store:       store,
		merger:      merger,
		pricer:      pricer,
		invalidator: invalidator,
		ttls:        ttls,
		currency:    currency,
	}
}

func (s *Service) ttlFor(owner model.OwnerKey) time.Duration {
	if owner.Kind == model.OwnerKindUser {
		return s.ttls.User
	}
	return s.ttls.Guest
}

// GetOrCreateCart возвращает активную корзину владельца, создавая её при
// отсутствии.
func (s *Service) GetOrCreateCart(ctx context.Context, owner model.OwnerKey) (*model.Cart, error) {
	return s.store.GetOrCreate(ctx, owner, s.currency, s.ttlFor(owner))
}

// GetActiveCart возвращает активную корзину владельца.
func (s *Service) GetActiveCart(ctx context.Context, owner model.OwnerKey) (*model.Cart, error) {
	return s.store.Get(ctx, owner)
}

// AddItem добавляет позицию в активную корзину владельца. Совпадающая строка
// суммируется по количеству с насыщением на лимите.
func (s *Service) AddItem(ctx context.Context, owner model.OwnerKey, item model.CartItem) (*model.Cart, error) {
	if !validation.IsValidQuantity(item.Quantity, model.MaxItemQuantity) {
		return nil, ErrInvalidQuantity
	}

	cart, err := s.GetOrCreateCart(ctx, owner)
	if err != nil {
		return nil, err
	}

	updated, err := s.durable.UpsertItem(ctx, cart.ID, item)
	if err != nil {
		return nil, err
	}

	s.invalidator.CartChanged(updated)
	return updated, nil
}

// UpdateItemQuantity устанавливает количество единиц позиции.
func (s *Service) UpdateItemQuantity(ctx context.Context, owner model.OwnerKey, itemID string, quantity int) (*model.Cart, error) {
	if !validation.IsValidQuantity(quantity, model.MaxItemQuantity) {
		return nil, ErrInvalidQuantity
	}

	cart, err := s.store.Get(ctx, owner)
	if err != nil {
		return nil, err
	}

	updated, err := s.durable.UpdateItemQuantity(ctx, cart.ID, itemID, quantity)
	if err != nil {
		return nil, err
	}

	s.invalidator.CartChanged(updated)
	return updated, nil
}

// RemoveItem удаляет позицию из активной корзины владельца.
func (s *Service) RemoveItem(ctx context.Context, owner model.OwnerKey, itemID string) (*model.Cart, error) {
	cart, err := s.store.Get(ctx, owner)
	if err != nil {
		return nil, err
	}

	updated, err := s.durable.RemoveItem(ctx, cart.ID, itemID)
	if err != nil {
		return nil, err
	}

	s.invalidator.CartChanged(updated)
	return updated, nil
}

// ClearCart удаляет все позиции активной корзины владельца. Купон и
// рассчитанные суммы при этом сбрасываются.
func (s *Service) ClearCart(ctx context.Context, owner model.OwnerKey) (*model.Cart, error) {
	cart, err := s.store.Get(ctx, owner)
	if err != nil {
		return nil, err
	}

	updated, err := s.durable.ClearItems(ctx, cart.ID)
	if err != nil {
		return nil, err
	}

	s.invalidator.CartChanged(updated)
	return updated, nil
}

// DeleteCart мягко удаляет активную корзину владельца.
func (s *Service) DeleteCart(ctx context.Context, owner model.OwnerKey) error {
	cart, err := s.store.Get(ctx, owner)
	if err != nil {
		return err
	}
	return s.store.Delete(ctx, cart)
}

// ApplyCoupon прикрепляет код купона к активной корзине владельца после
// проверки формата.
func (s *Service) ApplyCoupon(ctx context.Context, owner model.OwnerKey, code string) (*model.Cart, error) {
	if !validation.IsValidCouponCode(code) {
		return nil, ErrInvalidCoupon
	}

	cart, err := s.store.Get(ctx, owner)
	if err != nil {
		return nil, err
	}

	updated, err := s.durable.SetCoupon(ctx, cart.ID, &code)
	if err != nil {
		return nil, err
	}

	s.invalidator.CartChanged(updated)
	return updated, nil
}

// RemoveCoupon снимает код купона с активной корзины владельца.
func (s *Service) RemoveCoupon(ctx context.Context, owner model.OwnerKey) (*model.Cart, error) {
	cart, err := s.store.Get(ctx, owner)
	if err != nil {
		return nil, err
	}

	updated, err := s.durable.SetCoupon(ctx, cart.ID, nil)
	if err != nil {
		return nil, err
	}

	s.invalidator.CartChanged(updated)
	return updated, nil
}

// MergeGuestCartToUser консолидирует гостевую корзину сессии в корзину
// пользователя при входе.
func (s *Service) MergeGuestCartToUser(ctx context.Context, sessionID, userID string) (*merge.Result, error) {
	return s.merger.MergeGuestCartToUser(ctx, sessionID, userID)
}

// MergeUserCarts сливает набор корзин пользователя в целевую.
func (s *Service) MergeUserCarts(ctx context.Context, userID string, sourceIDs []string, targetID string) (*merge.Result, error) {
	return s.merger.MergeUserCarts(ctx, userID, sourceIDs, targetID)
}

// CalculateCartPricing прогоняет активную корзину владельца через конвейер
// ценообразования, сохраняет рассчитанные суммы и возвращает детализацию
// вместе с обновлённой корзиной.
func (s *Service) CalculateCartPricing(ctx context.Context, owner model.OwnerKey) (*model.Cart, *pricing.Breakdown, error) {
	cart, err := s.store.Get(ctx, owner)
	if err != nil {
		return nil, nil, err
	}

	breakdown, err := s.pricer.Price(ctx, cart)
	if err != nil {
		return nil, nil, err
	}

	updated, err := s.durable.UpdatePricing(ctx, cart.ID, breakdown.DiscountCents, breakdown.TaxCents, breakdown.ShippingCents)
	if err != nil {
		return nil, nil, err
	}

	s.invalidator.CartChanged(updated)
	return updated, breakdown, nil
}
