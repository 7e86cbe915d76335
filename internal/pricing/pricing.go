// Package pricing реализует конвейер расчёта стоимости корзины: промежуточная
// сумма, скидки, налоги, доставка и итог с полной детализацией для аудита.
//
// Конвейер — чистая функция от снимка корзины и внешних справочников; он не
// изменяет сохранённую корзину. Вся денежная арифметика — неизменяемые
// десятичные с округлением half-up до 2 знаков на границе каждого этапа;
// ставки несутся с точностью 4 знака до момента применения.
package pricing

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/gophercart-system/internal/model"
)

// ErrShippingUnavailable возвращается при отказе справочника доставки.
// Оценивать доставку наугад нельзя: вызов завершается повторяемой ошибкой.
var ErrShippingUnavailable = errors.New("shipping lookup unavailable")

// ErrNoAddress возвращается справочником адресов при отсутствии адреса доставки.
var ErrNoAddress = errors.New("no default shipping address")

// Membership описывает данные программы лояльности пользователя.
type Membership struct {
	Level     string
	Points    int
	TaxExempt bool
}

// Promotion описывает активную акцию на товар.
type Promotion struct {
	ID   string
	Name string
}

// ShippingOption описывает вариант доставки с его стоимостью.
type ShippingOption struct {
	Name        string
	CostCents   int64
	Recommended bool
}

// Address — адрес доставки по умолчанию, источник налоговой юрисдикции.
type Address struct {
	Country string
	State   string
}

// LoyaltyLookup возвращает членство пользователя в программе лояльности.
type LoyaltyLookup interface {
	Membership(ctx context.Context, userID string) (*Membership, error)
}

// PromotionLookup возвращает активные акции товара и считает скидку по акции.
type PromotionLookup interface {
	ActivePromotions(ctx context.Context, productID string) ([]Promotion, error)
	CalculateDiscount(ctx context.Context, promotionID string, quantity int, unitPriceCents int64) (int64, error)
}

// ShippingLookup возвращает варианты доставки для корзины.
type ShippingLookup interface {
	Options(ctx context.Context, cart *model.Cart) ([]ShippingOption, error)
}

// AddressLookup возвращает адрес доставки пользователя по умолчанию.
type AddressLookup interface {
	DefaultAddress(ctx context.Context, userID string) (*Address, error)
}

// Ставки скидок за объём: суммарное количество единиц в корзине.
var bulkTiers = []struct {
	MinQuantity int
	Rate        decimal.Decimal
}{
	{20, decimal.RequireFromString("0.1500")},
	{10, decimal.RequireFromString("0.1000")},
	{5, decimal.RequireFromString("0.0500")},
}

// Ставки скидок по уровню лояльности.
var loyaltyLevels = map[string]decimal.Decimal{
	"PLATINUM": decimal.RequireFromString("0.2000"),
	"GOLD":     decimal.RequireFromString("0.1500"),
	"SILVER":   decimal.RequireFromString("0.1000"),
	"BRONZE":   decimal.RequireFromString("0.0500"),
}

// Ставки скидок по накопленным баллам для пользователей без уровня.
var loyaltyPoints = []struct {
	MinPoints int
	Rate      decimal.Decimal
}{
	{1000, decimal.RequireFromString("0.0500")},
	{500, decimal.RequireFromString("0.0300")},
	{100, decimal.RequireFromString("0.0100")},
}

// DefaultJurisdiction — юрисдикция при отсутствии адреса или для гостей.
const DefaultJurisdiction = "DEFAULT"

// TaxRules задаёт налоговые правила: ставки юрисдикций и специальные налоги.
type TaxRules struct {
	// Jurisdictions отображает код "COUNTRY-STATE" в ставку налога.
	Jurisdictions map[string]decimal.Decimal
	// TaxFree перечисляет юрисдикции с нулевой базовой ставкой.
	TaxFree map[string]bool
	// DefaultRate применяется для DefaultJurisdiction.
	DefaultRate decimal.Decimal

	LuxuryThresholdCents int64
	LuxuryRate           decimal.Decimal
	DigitalRate          decimal.Decimal
	EnvironmentalPerUnit int64

	// DigitalCategories и EnvironmentalCategories — метки категорий товаров.
	DigitalCategories       map[string]bool
	EnvironmentalCategories map[string]bool
}

// DefaultTaxRules возвращает правила, используемые при отсутствии настройки.
func DefaultTaxRules() TaxRules {
	return TaxRules{
		Jurisdictions: map[string]decimal.Decimal{},
		TaxFree:       map[string]bool{},
		DefaultRate:   decimal.RequireFromString("0.0800"),

		LuxuryThresholdCents: 100000,
		LuxuryRate:           decimal.RequireFromString("0.0300"),
		DigitalRate:          decimal.RequireFromString("0.0200"),
		EnvironmentalPerUnit: 25,

		DigitalCategories:       map[string]bool{"digital": true},
		EnvironmentalCategories: map[string]bool{"electronics": true, "batteries": true},
	}
}

// DiscountLine — вклад одной скидки в детализацию.
type DiscountLine struct {
	Kind   string
	Detail string
	Rate   decimal.Decimal
	Cents  int64
}

// TaxLine — вклад одного налога в детализацию.
type TaxLine struct {
	Name         string
	Jurisdiction string
	ProductID    string
	Rate         decimal.Decimal
	Cents        int64
}

// Breakdown — итог конвейера с вкладом каждого этапа для аудита и показа.
type Breakdown struct {
	Currency string

	SubtotalCents int64

	Discounts     []DiscountLine
	DiscountCents int64

	Taxes        []TaxLine
	Jurisdiction string
	TaxExempt    bool
	TaxCents     int64

	ShippingOption string
	ShippingCents  int64

	TotalCents int64

	EffectiveDiscountRate decimal.Decimal
	EffectiveTaxRate      decimal.Decimal
}

// Pipeline — конвейер ценообразования с внешними справочниками.
type Pipeline struct {
	loyalty  LoyaltyLookup
	promos   PromotionLookup
	shipping ShippingLookup
	address  AddressLookup
	rules    TaxRules
	logger   *zap.Logger
}

// NewPipeline создаёт конвейер ценообразования.
func NewPipeline(loyalty LoyaltyLookup, promos PromotionLookup, shipping ShippingLookup, address AddressLookup, rules TaxRules, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		loyalty:  loyalty,
		promos:   promos,
		shipping: shipping,
		address:  address,
		rules:    rules,
		logger:   logger,
	}
}

func cents(d decimal.Decimal) int64 {
	// Round — half away from zero: для неотрицательных сумм это half-up.
	return d.Round(2).Shift(2).IntPart()
}

func fromCents(c int64) decimal.Decimal {
	return decimal.New(c, -2)
}

// Price прогоняет корзину через этапы конвейера в фиксированном порядке и
// возвращает детализацию. Отказ справочников лояльности и акций деградирует
// соответствующий этап до нуля; отказ справочника адресов деградирует до
// юрисдикции по умолчанию; отказ справочника доставки фатален для вызова.
func (p *Pipeline) Price(ctx context.Context, cart *model.Cart) (*Breakdown, error) {
	b := &Breakdown{Currency: cart.Currency}

	// Этап 1: промежуточная сумма.
	agg := model.Recalculate(cart.Items)
	b.SubtotalCents = agg.SubtotalCents
	subtotal := fromCents(b.SubtotalCents)

	// Этап 2: скидка за объём.
	if line := p.bulkDiscount(agg.TotalQuantity, subtotal); line != nil {
		b.Discounts = append(b.Discounts, *line)
	}

	// Этап 3: скидка лояльности. Гости и отказ справочника — ставка 0.
	membership := p.resolveMembership(ctx, cart)
	if line := p.loyaltyDiscount(membership, subtotal); line != nil {
		b.Discounts = append(b.Discounts, *line)
	}

	// Этап 4: акционные скидки по позициям. Отказ по одной позиции
	// пропускается с записью в лог и не валит конвейер.
	b.Discounts = append(b.Discounts, p.promotionDiscounts(ctx, cart)...)

	for _, d := range b.Discounts {
		b.DiscountCents += d.Cents
	}

	// Этап 5: налоги.
	p.taxes(ctx, cart, membership, b)

	// Этап 6: доставка.
	option, err := p.cheapestShipping(ctx, cart)
	if err != nil {
		return nil, err
	}
	if option != nil {
		b.ShippingOption = option.Name
		b.ShippingCents = option.CostCents
	}

	// Этап 7: итог. Скидка не может превысить промежуточную сумму.
	applied := b.DiscountCents
	if applied > b.SubtotalCents {
		applied = b.SubtotalCents
	}
	b.TotalCents = b.SubtotalCents - applied + b.TaxCents + b.ShippingCents

	if b.SubtotalCents > 0 {
		b.EffectiveDiscountRate = fromCents(applied).Div(subtotal).Round(4)
		b.EffectiveTaxRate = fromCents(b.TaxCents).Div(subtotal).Round(4)
	}

	return b, nil
}

func (p *Pipeline) bulkDiscount(totalQuantity int, subtotal decimal.Decimal) *DiscountLine {
	for _, tier := range bulkTiers {
		if totalQuantity >= tier.MinQuantity {
			return &DiscountLine{
				Kind:   "bulk",
				Detail: fmt.Sprintf("quantity >= %d", tier.MinQuantity),
				Rate:   tier.Rate,
				Cents:  cents(subtotal.Mul(tier.Rate)),
			}
		}
	}
	return nil
}

// resolveMembership возвращает членство пользователя либо nil: для гостевых
// корзин и при отказе справочника этап лояльности деградирует до нуля,
// расчёт цены не блокируется.
func (p *Pipeline) resolveMembership(ctx context.Context, cart *model.Cart) *Membership {
	if cart.UserID == nil {
		return nil
	}

	m, err := p.loyalty.Membership(ctx, *cart.UserID)
	if err != nil {
		p.logger.Warn("loyalty lookup failed, degrading to zero discount",
			zap.String("user_id", *cart.UserID),
			zap.Error(err),
		)
		return nil
	}
	return m
}

func (p *Pipeline) loyaltyDiscount(m *Membership, subtotal decimal.Decimal) *DiscountLine {
	if m == nil {
		return nil
	}

	if rate, ok := loyaltyLevels[m.Level]; ok {
		return &DiscountLine{
			Kind:   "loyalty",
			Detail: m.Level,
			Rate:   rate,
			Cents:  cents(subtotal.Mul(rate)),
		}
	}

	for _, tier := range loyaltyPoints {
		if m.Points >= tier.MinPoints {
			return &DiscountLine{
				Kind:   "loyalty",
				Detail: fmt.Sprintf("points >= %d", tier.MinPoints),
				Rate:   tier.Rate,
				Cents:  cents(subtotal.Mul(tier.Rate)),
			}
		}
	}
	return nil
}

func (p *Pipeline) promotionDiscounts(ctx context.Context, cart *model.Cart) []DiscountLine {
	var lines []DiscountLine
	for _, item := range cart.Items {
		promos, err := p.promos.ActivePromotions(ctx, item.ProductID)
		if err != nil {
			p.logger.Warn("promotion lookup failed, skipping item",
				zap.String("product_id", item.ProductID),
				zap.Error(err),
			)
			continue
		}

		for _, promo := range promos {
			amount, err := p.promos.CalculateDiscount(ctx, promo.ID, item.Quantity, item.UnitPriceCents)
			if err != nil {
				p.logger.Warn("promotion calculation failed, skipping promotion",
					zap.String("promotion_id", promo.ID),
					zap.String("product_id", item.ProductID),
					zap.Error(err),
				)
				continue
			}
			if amount <= 0 {
				continue
			}
			lines = append(lines, DiscountLine{
				Kind:   "promotion",
				Detail: promo.ID,
				Cents:  amount,
			})
		}
	}
	return lines
}

// resolveJurisdiction выводит налоговую юрисдикцию из адреса доставки по
// умолчанию. Гость, отсутствие адреса и отказ справочника дают юрисдикцию по
// умолчанию: налог никогда молча не обнуляется из-за недоступного справочника.
func (p *Pipeline) resolveJurisdiction(ctx context.Context, cart *model.Cart) string {
	if cart.UserID == nil {
		return DefaultJurisdiction
	}

	addr, err := p.address.DefaultAddress(ctx, *cart.UserID)
	if err != nil {
		if !errors.Is(err, ErrNoAddress) {
			p.logger.Warn("address lookup failed, using default jurisdiction",
				zap.String("user_id", *cart.UserID),
				zap.Error(err),
			)
		}
		return DefaultJurisdiction
	}

	code := addr.Country
	if addr.State != "" {
		code = addr.Country + "-" + addr.State
	}
	if _, ok := p.rules.Jurisdictions[code]; !ok {
		return DefaultJurisdiction
	}
	return code
}

func (p *Pipeline) jurisdictionRate(code string) decimal.Decimal {
	if code == DefaultJurisdiction {
		return p.rules.DefaultRate
	}
	return p.rules.Jurisdictions[code]
}

func (p *Pipeline) taxes(ctx context.Context, cart *model.Cart, m *Membership, b *Breakdown) {
	b.Jurisdiction = p.resolveJurisdiction(ctx, cart)

	// Явное освобождение пользователя обнуляет весь налог.
	if m != nil && m.TaxExempt {
		b.TaxExempt = true
		return
	}

	// Базовый налог: (промежуточная сумма − накопленные скидки) × ставка.
	if !p.rules.TaxFree[b.Jurisdiction] {
		base := b.SubtotalCents - b.DiscountCents
		if base < 0 {
			base = 0
		}
		rate := p.jurisdictionRate(b.Jurisdiction)
		amount := cents(fromCents(base).Mul(rate))
		if amount > 0 {
			b.Taxes = append(b.Taxes, TaxLine{
				Name:         "base",
				Jurisdiction: b.Jurisdiction,
				Rate:         rate,
				Cents:        amount,
			})
		}
	}

	// Специальные налоги считаются по позициям и суммируются.
	for _, item := range cart.Items {
		itemTotal := fromCents(item.UnitPriceCents * int64(item.Quantity))

		if item.UnitPriceCents > p.rules.LuxuryThresholdCents {
			b.Taxes = append(b.Taxes, TaxLine{
				Name:      "luxury",
				ProductID: item.ProductID,
				Rate:      p.rules.LuxuryRate,
				Cents:     cents(itemTotal.Mul(p.rules.LuxuryRate)),
			})
		}

		if item.Category != nil && p.rules.DigitalCategories[*item.Category] {
			b.Taxes = append(b.Taxes, TaxLine{
				Name:      "digital",
				ProductID: item.ProductID,
				Rate:      p.rules.DigitalRate,
				Cents:     cents(itemTotal.Mul(p.rules.DigitalRate)),
			})
		}

		if item.Category != nil && p.rules.EnvironmentalCategories[*item.Category] {
			b.Taxes = append(b.Taxes, TaxLine{
				Name:      "environmental",
				ProductID: item.ProductID,
				Cents:     p.rules.EnvironmentalPerUnit * int64(item.Quantity),
			})
		}
	}

	for _, t := range b.Taxes {
		b.TaxCents += t.Cents
	}
}

// cheapestShipping возвращает рекомендованный вариант доставки, иначе самый
// дешёвый. Пустая корзина доставки не требует.
func (p *Pipeline) cheapestShipping(ctx context.Context, cart *model.Cart) (*ShippingOption, error) {
	if len(cart.Items) == 0 {
		return nil, nil
	}

	options, err := p.shipping.Options(ctx, cart)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrShippingUnavailable, err)
	}
	if len(options) == 0 {
		return nil, fmt.Errorf("%w: no options returned", ErrShippingUnavailable)
	}

	best := options[0]
	for _, opt := range options[1:] {
		if opt.Recommended && !best.Recommended {
			best = opt
			continue
		}
		if opt.Recommended == best.Recommended && opt.CostCents < best.CostCents {
			best = opt
		}
	}

	return &best, nil
}
