package utils

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	emailRegex    = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	currencyRegex = regexp.MustCompile(`^[A-Z]{3}$`)
	controlChars  = regexp.MustCompile(`[\x00-\x1f\x7f]`)
)

// MaxAmount caps a single expense
var MaxAmount = decimal.NewFromInt(1_000_000)

// NormalizeEmail trims and lower-cases an email address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateEmail validates an email address
func ValidateEmail(email string) error {
	if !emailRegex.MatchString(email) {
		return fmt.Errorf("invalid email format: %s", email)
	}
	return nil
}

// NormalizeCurrency upper-cases a currency code, defaulting empty input to fallback
func NormalizeCurrency(code, fallback string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return fallback
	}
	return code
}

// ValidateCurrency accepts three-letter upper-case codes
func ValidateCurrency(code string) error {
	if !currencyRegex.MatchString(code) {
		return fmt.Errorf("invalid currency code: %q", code)
	}
	return nil
}

// ValidateAmount validates an expense amount
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("amount must be positive: %s", amount.String())
	}
	if amount.GreaterThan(MaxAmount) {
		return fmt.Errorf("amount exceeds maximum limit: %s", amount.String())
	}
	if amount.Exponent() < -2 && !amount.Equal(amount.Round(2)) {
		return fmt.Errorf("amount has more than two decimal places: %s", amount.String())
	}
	return nil
}

// SanitizeString removes control characters and surrounding whitespace
func SanitizeString(s string) string {
	return strings.TrimSpace(controlChars.ReplaceAllString(s, ""))
}

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9\-_.]`)

// SanitizeFileName returns a filesystem-safe file name. Path separators, parent
// references and characters outside [A-Za-z0-9-_.] are dropped.
func SanitizeFileName(name string) string {
	name = strings.ReplaceAll(name, "..", "")
	name = strings.ReplaceAll(name, "/", "")
	name = strings.ReplaceAll(name, "\\", "")
	name = unsafeNameChars.ReplaceAllString(name, "")
	name = strings.TrimLeft(name, ".")
	if name == "" {
		return "file"
	}
	return name
}
