// Package validation содержит функции валидации входных данных.
package validation

import "unicode"

const (
	minCouponLength = 4
	maxCouponLength = 32
)

// IsValidCouponCode проверяет формат кода купона: 4–32 символа из заглавных
// латинских букв, цифр и дефиса, без дефиса в начале или в конце.
func IsValidCouponCode(code string) bool {
	if len(code) < minCouponLength || len(code) > maxCouponLength {
		return false
	}
	if code[0] == '-' || code[len(code)-1] == '-' {
		return false
	}

	for _, ch := range code {
		if unicode.IsUpper(ch) || unicode.IsDigit(ch) || ch == '-' {
			continue
		}
		return false
	}

	return true
}

// IsValidQuantity проверяет допустимость количества единиц в позиции корзины.
func IsValidQuantity(quantity, maxQuantity int) bool {
	return quantity >= 1 && quantity <= maxQuantity
}
