// Package model содержит доменные сущности корзины покупок.
package model

import "time"

// CartStatus описывает статус жизненного цикла корзины.
type CartStatus string

const (
	CartStatusActive    CartStatus = "ACTIVE"
	CartStatusAbandoned CartStatus = "ABANDONED"
	CartStatusCheckout  CartStatus = "CHECKOUT"
	CartStatusConverted CartStatus = "CONVERTED"
	CartStatusExpired   CartStatus = "EXPIRED"
	CartStatusSaved     CartStatus = "SAVED"
	CartStatusMerged    CartStatus = "MERGED"
	CartStatusDeleted   CartStatus = "DELETED"
)

// Terminal сообщает, является ли статус терминальным: из него нет переходов.
func (s CartStatus) Terminal() bool {
	switch s {
	case CartStatusMerged, CartStatusDeleted, CartStatusConverted:
		return true
	}
	return false
}

// CartType определяет тип корзины и связанный с ним TTL.
type CartType string

const (
	CartTypeUser  CartType = "USER"
	CartTypeGuest CartType = "GUEST"
)

// OwnerKind различает вид владельца корзины: пользователь или гостевая сессия.
type OwnerKind string

const (
	OwnerKindUser    OwnerKind = "user"
	OwnerKindSession OwnerKind = "session"
)

// OwnerKey идентифицирует держателя корзины: userID либо sessionID.
type OwnerKey struct {
	Kind OwnerKind
	Key  string
}

// UserOwner возвращает ключ владельца для аутентифицированного пользователя.
func UserOwner(userID string) OwnerKey {
	return OwnerKey{Kind: OwnerKindUser, Key: userID}
}

// SessionOwner возвращает ключ владельца для гостевой сессии.
func SessionOwner(sessionID string) OwnerKey {
	return OwnerKey{Kind: OwnerKindSession, Key: sessionID}
}

// Cart описывает корзину покупок вместе с производными агрегатами.
// Денежные поля хранятся в центах; агрегаты всегда пересчитываются из позиций
// и никогда не инкрементируются вручную.
type Cart struct {
	ID        string
	UserID    *string
	SessionID *string
	Status    CartStatus
	CartType  CartType
	Currency  string

	SubtotalCents int64
	DiscountCents int64
	TaxCents      int64
	ShippingCents int64
	TotalCents    int64

	ItemCount     int
	TotalQuantity int

	CouponCode     *string
	MergedToCartID *string

	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastActivityAt time.Time
	ExpiresAt      time.Time
	DeletedAt      *time.Time

	Items []CartItem
}

// OwnerKey возвращает ключ текущего владельца корзины.
func (c *Cart) OwnerKey() OwnerKey {
	if c.UserID != nil {
		return UserOwner(*c.UserID)
	}
	if c.SessionID != nil {
		return SessionOwner(*c.SessionID)
	}
	return OwnerKey{}
}

// CartItem описывает позицию корзины. Цена и остаток — снимки на момент
// добавления, обновляемые только по событиям каталога.
type CartItem struct {
	ID        string
	CartID    string
	ProductID string
	VariantID *string

	Quantity       int
	UnitPriceCents int64
	StockQuantity  int
	StockFlagged   bool
	Category       *string

	SpecialInstructions *string
	IsGift              bool
	GiftMessage         *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// MaxItemQuantity — предельное количество единиц в одной позиции корзины.
const MaxItemQuantity = 99

// Aggregates содержит производные поля корзины, вычисленные по позициям.
type Aggregates struct {
	SubtotalCents int64
	ItemCount     int
	TotalQuantity int
}

// Recalculate пересчитывает агрегаты по набору позиций. Это единственный
// разрешённый способ получения subtotal/itemCount/totalQuantity.
func Recalculate(items []CartItem) Aggregates {
	var agg Aggregates
	for _, it := range items {
		agg.SubtotalCents += it.UnitPriceCents * int64(it.Quantity)
		agg.ItemCount++
		agg.TotalQuantity += it.Quantity
	}
	return agg
}

// SameLine сообщает, считаются ли две позиции одной строкой при слиянии.
// Ключ совпадения — (productID, variantID, unitPrice).
func SameLine(a, b CartItem) bool {
	if a.ProductID != b.ProductID || a.UnitPriceCents != b.UnitPriceCents {
		return false
	}
	if a.VariantID == nil && b.VariantID == nil {
		return true
	}
	if a.VariantID == nil || b.VariantID == nil {
		return false
	}
	return *a.VariantID == *b.VariantID
}
