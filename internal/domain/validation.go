package domain

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// Validation errors
var (
	ErrMetadataTooLarge      = errors.New("metadata size exceeds limit")
	ErrInvalidIdempotencyKey = errors.New("invalid idempotency key")
	ErrInvalidUserID         = errors.New("invalid user id")
)

// Validation constants
const (
	AmountScale          = 8
	MaxAmount            = "999999999999.99999999"
	MaxMetadataSize      = 10240 // 10KB
	MaxIdempotencyKeyLen = 200
	// DerivedKeySeparator joins a caller's key to the suffix of a key the
	// ledger derives from it. Caller keys may not contain it.
	DerivedKeySeparator = ":"
	MaxDescriptionLength = 255
	DefaultPageSize      = 50
	MaxPageSize          = 100
)

var maxAmount = decimal.RequireFromString(MaxAmount)

// ValidateAmount checks that amount is positive, representable with eight
// fractional digits and within the storable range.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}

	if !amount.Equal(amount.Truncate(AmountScale)) {
		return fmt.Errorf("%w: at most %d fractional digits allowed", ErrInvalidAmount, AmountScale)
	}

	if amount.GreaterThan(maxAmount) {
		return fmt.Errorf("%w: maximum amount is %s", ErrAmountTooLarge, MaxAmount)
	}

	return nil
}

// ValidateMinimum checks amount against a configured minimum. Non-positive
// amounts are below any minimum.
func ValidateMinimum(amount, minimum decimal.Decimal) error {
	if !amount.IsPositive() || amount.LessThan(minimum) {
		return fmt.Errorf("%w: minimum amount is %s", ErrAmountTooSmall, minimum.String())
	}

	return ValidateAmount(amount)
}

// ValidateIdempotencyKey checks an optional caller-supplied key.
func ValidateIdempotencyKey(key string) error {
	if key == "" {
		return nil
	}

	if strings.TrimSpace(key) != key || len(key) > MaxIdempotencyKeyLen {
		return fmt.Errorf("%w: must be at most %d characters without surrounding spaces", ErrInvalidIdempotencyKey, MaxIdempotencyKeyLen)
	}

	if strings.Contains(key, DerivedKeySeparator) {
		return fmt.Errorf("%w: must not contain %q", ErrInvalidIdempotencyKey, DerivedKeySeparator)
	}

	return nil
}

// ValidateUserID checks a user identifier.
func ValidateUserID(id int64) error {
	if id <= 0 {
		return ErrInvalidUserID
	}
	return nil
}

// ValidateMetadata validates metadata size
func ValidateMetadata(metadata map[string]any) error {
	if metadata == nil {
		return nil
	}

	// Estimate size (rough approximation)
	size := 0
	for k, v := range metadata {
		size += len(k)
		size += len(fmt.Sprintf("%v", v))
	}

	if size > MaxMetadataSize {
		return fmt.Errorf("%w: metadata size %d bytes exceeds limit of %d bytes", ErrMetadataTooLarge, size, MaxMetadataSize)
	}

	return nil
}

// TruncateDescription trims a description to MaxDescriptionLength
// characters. Invalid UTF-8 is replaced so the result is always storable.
func TruncateDescription(s string) string {
	return truncateRunes(strings.TrimSpace(strings.ToValidUTF8(s, "\uFFFD")), MaxDescriptionLength)
}

// ComposeDescription joins prefix, description and suffix, shortening only
// the description so the whole fits MaxDescriptionLength characters.
func ComposeDescription(prefix, description, suffix string) string {
	room := MaxDescriptionLength - utf8.RuneCountInString(prefix) - utf8.RuneCountInString(suffix)
	if room < 0 {
		room = 0
	}
	return TruncateDescription(prefix + truncateRunes(TruncateDescription(description), room) + suffix)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// ValidatePagination validates and limits pagination parameters
func ValidatePagination(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultPageSize
	}

	if limit > MaxPageSize {
		limit = MaxPageSize
	}

	if offset < 0 {
		offset = 0
	}

	return limit, offset
}
