// Package handler содержит HTTP-обработчики API сервиса гоферкарт.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/gophercart-system/internal/merge"
	"github.com/mmeshcher/gophercart-system/internal/middleware"
	"github.com/mmeshcher/gophercart-system/internal/model"
	"github.com/mmeshcher/gophercart-system/internal/pricing"
	"github.com/mmeshcher/gophercart-system/internal/repository"
	"github.com/mmeshcher/gophercart-system/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	GetOrCreateCart(ctx context.Context, owner model.OwnerKey) (*model.Cart, error)
	AddItem(ctx context.Context, owner model.OwnerKey, item model.CartItem) (*model.Cart, error)
	UpdateItemQuantity(ctx context.Context, owner model.OwnerKey, itemID string, quantity int) (*model.Cart, error)
	RemoveItem(ctx context.Context, owner model.OwnerKey, itemID string) (*model.Cart, error)
	ClearCart(ctx context.Context, owner model.OwnerKey) (*model.Cart, error)
	DeleteCart(ctx context.Context, owner model.OwnerKey) error
	ApplyCoupon(ctx context.Context, owner model.OwnerKey, code string) (*model.Cart, error)
	RemoveCoupon(ctx context.Context, owner model.OwnerKey) (*model.Cart, error)
	MergeGuestCartToUser(ctx context.Context, sessionID, userID string) (*merge.Result, error)
	MergeUserCarts(ctx context.Context, userID string, sourceIDs []string, targetID string) (*merge.Result, error)
	CalculateCartPricing(ctx context.Context, owner model.OwnerKey) (*model.Cart, *pricing.Breakdown, error)
}

// Handler реализует HTTP-обработчики API сервиса гоферкарт.
type Handler struct {
	service  Service
	logger   *zap.Logger
	identity *middleware.IdentityMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, identity *middleware.IdentityMiddleware) *Handler {
	return &Handler{
		service:  s,
		logger:   logger,
		identity: identity,
	}
}

type itemResponse struct {
	ID           string  `json:"id"`
	ProductID    string  `json:"product_id"`
	VariantID    *string `json:"variant_id,omitempty"`
	Quantity     int     `json:"quantity"`
	UnitPrice    int64   `json:"unit_price"`
	StockFlagged bool    `json:"stock_flagged,omitempty"`
	Category     *string `json:"category,omitempty"`
	IsGift       bool    `json:"is_gift,omitempty"`
	GiftMessage  *string `json:"gift_message,omitempty"`
}

type cartResponse struct {
	ID            string         `json:"id"`
	Status        string         `json:"status"`
	CartType      string         `json:"cart_type"`
	Currency      string         `json:"currency"`
	Subtotal      int64          `json:"subtotal"`
	Discount      int64          `json:"discount"`
	Tax           int64          `json:"tax"`
	Shipping      int64          `json:"shipping"`
	Total         int64          `json:"total"`
	ItemCount     int            `json:"item_count"`
	TotalQuantity int            `json:"total_quantity"`
	CouponCode    *string        `json:"coupon_code,omitempty"`
	ExpiresAt     string         `json:"expires_at"`
	Items         []itemResponse `json:"items"`
}

func toCartResponse(cart *model.Cart) cartResponse {
	resp := cartResponse{
		ID:            cart.ID,
		Status:        string(cart.Status),
		CartType:      string(cart.CartType),
		Currency:      cart.Currency,
		Subtotal:      cart.SubtotalCents,
		Discount:      cart.DiscountCents,
		Tax:           cart.TaxCents,
		Shipping:      cart.ShippingCents,
		Total:         cart.TotalCents,
		ItemCount:     cart.ItemCount,
		TotalQuantity: cart.TotalQuantity,
		CouponCode:    cart.CouponCode,
		ExpiresAt:     cart.ExpiresAt.Format(time.RFC3339),
		Items:         make([]itemResponse, 0, len(cart.Items)),
	}
	for _, it := range cart.Items {
		resp.Items = append(resp.Items, itemResponse{
			ID:           it.ID,
			ProductID:    it.ProductID,
			VariantID:    it.VariantID,
			Quantity:     it.Quantity,
			UnitPrice:    it.UnitPriceCents,
			StockFlagged: it.StockFlagged,
			Category:     it.Category,
			IsGift:       it.IsGift,
			GiftMessage:  it.GiftMessage,
		})
	}
	return resp
}

func (h *Handler) writeCart(w http.ResponseWriter, cart *model.Cart) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(toCartResponse(cart)); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, repository.ErrCartNotFound), errors.Is(err, repository.ErrItemNotFound):
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	case errors.Is(err, repository.ErrCartTerminal):
		http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
	case errors.Is(err, service.ErrInvalidQuantity), errors.Is(err, service.ErrInvalidCoupon):
		http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
	case errors.Is(err, merge.ErrMergeRejected):
		http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
	case errors.Is(err, merge.ErrNotOwner):
		http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
	case errors.Is(err, pricing.ErrShippingUnavailable):
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
	default:
		h.logger.Error(op+" error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}

func ownerOrFail(w http.ResponseWriter, r *http.Request) (model.OwnerKey, bool) {
	owner, ok := middleware.GetOwnerFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return model.OwnerKey{}, false
	}
	return owner, true
}

// GetCart возвращает активную корзину владельца, создавая её при отсутствии.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerOrFail(w, r)
	if !ok {
		return
	}

	cart, err := h.service.GetOrCreateCart(r.Context(), owner)
	if err != nil {
		h.writeError(w, "get cart", err)
		return
	}

	h.writeCart(w, cart)
}

// DeleteCart мягко удаляет активную корзину владельца.
func (h *Handler) DeleteCart(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerOrFail(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteCart(r.Context(), owner); err != nil {
		h.writeError(w, "delete cart", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type addItemRequest struct {
	ProductID   string  `json:"product_id"`
	VariantID   *string `json:"variant_id,omitempty"`
	Quantity    int     `json:"quantity"`
	UnitPrice   int64   `json:"unit_price"`
	Category    *string `json:"category,omitempty"`
	IsGift      bool    `json:"is_gift,omitempty"`
	GiftMessage *string `json:"gift_message,omitempty"`
}

// AddItem добавляет позицию в корзину владельца.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerOrFail(w, r)
	if !ok {
		return
	}

	var req addItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.ProductID == "" || req.UnitPrice < 0 {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	cart, err := h.service.AddItem(r.Context(), owner, model.CartItem{
		ProductID:      req.ProductID,
		VariantID:      req.VariantID,
		Quantity:       req.Quantity,
		UnitPriceCents: req.UnitPrice,
		Category:       req.Category,
		IsGift:         req.IsGift,
		GiftMessage:    req.GiftMessage,
	})
	if err != nil {
		h.writeError(w, "add item", err)
		return
	}

	h.writeCart(w, cart)
}

type updateQuantityRequest struct {
	Quantity int `json:"quantity"`
}

// UpdateItemQuantity устанавливает количество единиц позиции корзины.
func (h *Handler) UpdateItemQuantity(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerOrFail(w, r)
	if !ok {
		return
	}

	itemID := chi.URLParam(r, "itemID")

	var req updateQuantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	cart, err := h.service.UpdateItemQuantity(r.Context(), owner, itemID, req.Quantity)
	if err != nil {
		h.writeError(w, "update item quantity", err)
		return
	}

	h.writeCart(w, cart)
}

// RemoveItem удаляет позицию из корзины владельца.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerOrFail(w, r)
	if !ok {
		return
	}

	cart, err := h.service.RemoveItem(r.Context(), owner, chi.URLParam(r, "itemID"))
	if err != nil {
		h.writeError(w, "remove item", err)
		return
	}

	h.writeCart(w, cart)
}

// ClearCart удаляет все позиции корзины владельца.
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerOrFail(w, r)
	if !ok {
		return
	}

	cart, err := h.service.ClearCart(r.Context(), owner)
	if err != nil {
		h.writeError(w, "clear cart", err)
		return
	}

	h.writeCart(w, cart)
}

type couponRequest struct {
	Code string `json:"code"`
}

// ApplyCoupon прикрепляет код купона к корзине владельца.
func (h *Handler) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerOrFail(w, r)
	if !ok {
		return
	}

	var req couponRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	cart, err := h.service.ApplyCoupon(r.Context(), owner, req.Code)
	if err != nil {
		h.writeError(w, "apply coupon", err)
		return
	}

	h.writeCart(w, cart)
}

// RemoveCoupon снимает код купона с корзины владельца.
func (h *Handler) RemoveCoupon(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerOrFail(w, r)
	if !ok {
		return
	}

	cart, err := h.service.RemoveCoupon(r.Context(), owner)
	if err != nil {
		h.writeError(w, "remove coupon", err)
		return
	}

	h.writeCart(w, cart)
}

type mergeRequest struct {
	SourceCartIDs []string `json:"source_cart_ids,omitempty"`
	TargetCartID  string   `json:"target_cart_id,omitempty"`
}

type mergeResponse struct {
	Cart     cartResponse   `json:"cart"`
	Promoted bool           `json:"promoted"`
	Merged   bool           `json:"merged"`
	Dropped  []itemResponse `json:"dropped,omitempty"`
}

// Merge консолидирует корзины пользователя. Без тела запроса гостевая корзина
// текущей сессии вливается в корзину пользователя; с явным списком источников
// выполняется свёртка корзин пользователя в целевую.
func (h *Handler) Merge(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req mergeRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
	}

	var result *merge.Result
	var err error

	if len(req.SourceCartIDs) > 0 {
		if req.TargetCartID == "" {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		result, err = h.service.MergeUserCarts(r.Context(), userID, req.SourceCartIDs, req.TargetCartID)
	} else {
		sessionID, ok := middleware.GetSessionIDFromContext(r.Context())
		if !ok {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		result, err = h.service.MergeGuestCartToUser(r.Context(), sessionID, userID)
	}
	if err != nil {
		h.writeError(w, "merge carts", err)
		return
	}

	resp := mergeResponse{
		Cart:     toCartResponse(result.Cart),
		Promoted: result.Promoted,
		Merged:   result.Merged,
	}
	for _, it := range result.Dropped {
		resp.Dropped = append(resp.Dropped, itemResponse{
			ID:        it.ID,
			ProductID: it.ProductID,
			VariantID: it.VariantID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPriceCents,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}

type discountLineResponse struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail,omitempty"`
	Rate   string `json:"rate,omitempty"`
	Amount int64  `json:"amount"`
}

type taxLineResponse struct {
	Name         string `json:"name"`
	Jurisdiction string `json:"jurisdiction,omitempty"`
	ProductID    string `json:"product_id,omitempty"`
	Rate         string `json:"rate,omitempty"`
	Amount       int64  `json:"amount"`
}

type pricingResponse struct {
	Cart cartResponse `json:"cart"`

	Subtotal  int64                  `json:"subtotal"`
	Discounts []discountLineResponse `json:"discounts"`
	Discount  int64                  `json:"discount"`

	Taxes        []taxLineResponse `json:"taxes"`
	Jurisdiction string            `json:"jurisdiction"`
	TaxExempt    bool              `json:"tax_exempt,omitempty"`
	Tax          int64             `json:"tax"`

	ShippingOption string `json:"shipping_option,omitempty"`
	Shipping       int64  `json:"shipping"`

	Total int64 `json:"total"`

	EffectiveDiscountRate string `json:"effective_discount_rate"`
	EffectiveTaxRate      string `json:"effective_tax_rate"`
}

// CalculatePricing прогоняет корзину владельца через конвейер ценообразования
// и возвращает детализацию.
func (h *Handler) CalculatePricing(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerOrFail(w, r)
	if !ok {
		return
	}

	cart, breakdown, err := h.service.CalculateCartPricing(r.Context(), owner)
	if err != nil {
		h.writeError(w, "calculate pricing", err)
		return
	}

	resp := pricingResponse{
		Cart:                  toCartResponse(cart),
		Subtotal:              breakdown.SubtotalCents,
		Discounts:             make([]discountLineResponse, 0, len(breakdown.Discounts)),
		Discount:              breakdown.DiscountCents,
		Taxes:                 make([]taxLineResponse, 0, len(breakdown.Taxes)),
		Jurisdiction:          breakdown.Jurisdiction,
		TaxExempt:             breakdown.TaxExempt,
		Tax:                   breakdown.TaxCents,
		ShippingOption:        breakdown.ShippingOption,
		Shipping:              breakdown.ShippingCents,
		Total:                 breakdown.TotalCents,
		EffectiveDiscountRate: breakdown.EffectiveDiscountRate.String(),
		EffectiveTaxRate:      breakdown.EffectiveTaxRate.String(),
	}
	for _, d := range breakdown.Discounts {
		line := discountLineResponse{Kind: d.Kind, Detail: d.Detail, Amount: d.Cents}
		if !d.Rate.IsZero() {
			line.Rate = d.Rate.String()
		}
		resp.Discounts = append(resp.Discounts, line)
	}
	for _, t := range breakdown.Taxes {
		line := taxLineResponse{Name: t.Name, Jurisdiction: t.Jurisdiction, ProductID: t.ProductID, Amount: t.Cents}
		if !t.Rate.IsZero() {
			line.Rate = t.Rate.String()
		}
		resp.Taxes = append(resp.Taxes, line)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
}
