package validation

import "testing"

func TestIsValidCouponCode(t *testing.T) {
	tests := []struct {
		name  string
		code  string
		valid bool
	}{
		{
			name:  "simple code",
			code:  "SAVE10",
			valid: true,
		},
		{
			name:  "with dash",
			code:  "SUMMER-2026",
			valid: true,
		},
		{
			name:  "too short",
			code:  "ABC",
			valid: false,
		},
		{
			name:  "too long",
			code:  "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA",
			valid: false,
		},
		{
			name:  "lowercase",
			code:  "save10",
			valid: false,
		},
		{
			name:  "leading dash",
			code:  "-SAVE10",
			valid: false,
		},
		{
			name:  "trailing dash",
			code:  "SAVE10-",
			valid: false,
		},
		{
			name:  "spaces",
			code:  "SAVE 10",
			valid: false,
		},
		{
			name:  "empty string",
			code:  "",
			valid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsValidCouponCode(tt.code)
			if got != tt.valid {
				t.Fatalf("IsValidCouponCode(%q) = %v, want %v", tt.code, got, tt.valid)
			}
		})
	}
}

func TestIsValidQuantity(t *testing.T) {
	tests := []struct {
		quantity int
		valid    bool
	}{
		{0, false},
		{1, true},
		{99, true},
		{100, false},
		{-1, false},
	}

	for _, tt := range tests {
		if got := IsValidQuantity(tt.quantity, 99); got != tt.valid {
			t.Fatalf("IsValidQuantity(%d) = %v, want %v", tt.quantity, got, tt.valid)
		}
	}
}
