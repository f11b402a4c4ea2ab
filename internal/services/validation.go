package services

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	domain "github.com/hanko-field/orderops/internal/domain"
)

// Catalog column names shared by import and export.
const (
	FieldSKU            = "sku"
	FieldName           = "name"
	FieldDescription    = "description"
	FieldPrice          = "price"
	FieldStockQuantity  = "stock_quantity"
	FieldCategory       = "category"
	FieldImageURL       = "image_url"
	FieldActive         = "active"
	FieldTrackInventory = "track_inventory"
	// FieldRow marks a violation against a whole record that could not be split into columns.
	FieldRow = "row"
)

var (
	requiredImportFields = []string{FieldName, FieldPrice, FieldSKU}
	skuPattern           = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	booleanImportFields  = []string{FieldActive, FieldTrackInventory}
)

// OrderUpdateFields holds the enum fields of an order update payload as received.
type OrderUpdateFields struct {
	Status        *string
	PaymentStatus *string
}

// ViolationError carries the violations behind a rejected payload.
type ViolationError struct {
	Err        error
	Violations []Violation
}

func (e *ViolationError) Error() string {
	if e == nil {
		return ""
	}
	if len(e.Violations) == 0 {
		return e.Err.Error()
	}
	first := e.Violations[0]
	return fmt.Sprintf("%v: %s %s", e.Err, first.Field, first.Error)
}

func (e *ViolationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ViolationsFrom extracts violations from an error chain.
func ViolationsFrom(err error) []Violation {
	var vErr *ViolationError
	if errors.As(err, &vErr) {
		return vErr.Violations
	}
	return nil
}

// ValidateOrderUpdate checks enum fields of an order update. Absent fields are ignored.
func ValidateOrderUpdate(fields OrderUpdateFields) []Violation {
	var violations []Violation
	if fields.Status != nil {
		if _, ok := domain.ParseOrderStatus(*fields.Status); !ok {
			violations = append(violations, Violation{
				Field: "status",
				Value: *fields.Status,
				Error: "must be one of " + joinStatuses(domain.OrderStatuses),
			})
		}
	}
	if fields.PaymentStatus != nil {
		if _, ok := domain.ParsePaymentStatus(*fields.PaymentStatus); !ok {
			violations = append(violations, Violation{
				Field: "paymentStatus",
				Value: *fields.PaymentStatus,
				Error: "must be one of " + joinStatuses(domain.PaymentStatuses),
			})
		}
	}
	return violations
}

// ValidateImportRow checks one parsed catalog row.
func ValidateImportRow(row ImportRow) []Violation {
	var violations []Violation
	add := func(field, value, msg string) {
		violations = append(violations, Violation{Row: row.Index, Field: field, Value: value, Error: msg})
	}
	if row.Malformed != "" {
		add(FieldRow, "", row.Malformed)
		return violations
	}

	for _, field := range requiredImportFields {
		if strings.TrimSpace(row.Values[field]) == "" {
			add(field, row.Values[field], "is required")
		}
	}

	if raw := strings.TrimSpace(row.Values[FieldPrice]); raw != "" {
		price, err := strconv.ParseFloat(raw, 64)
		switch {
		case err != nil || math.IsNaN(price) || math.IsInf(price, 0):
			add(FieldPrice, raw, "must be a number")
		case price < 0:
			add(FieldPrice, raw, "must be non-negative")
		}
	}

	if raw := strings.TrimSpace(row.Values[FieldSKU]); raw != "" && !skuPattern.MatchString(raw) {
		add(FieldSKU, raw, "may only contain letters, digits, hyphens and underscores")
	}

	for _, field := range sortedKeys(row.Values) {
		if !strings.Contains(field, "quantity") {
			continue
		}
		raw := strings.TrimSpace(row.Values[field])
		if raw == "" {
			continue
		}
		qty, err := strconv.Atoi(raw)
		switch {
		case err != nil:
			add(field, raw, "must be an integer")
		case qty < 0:
			add(field, raw, "must be non-negative")
		}
	}

	for _, field := range booleanImportFields {
		raw := strings.TrimSpace(row.Values[field])
		if raw == "" {
			continue
		}
		if _, ok := parseFlag(raw); !ok {
			add(field, raw, "must be true or false")
		}
	}
	return violations
}

// ValidateImportRows validates every row and splits them into valid rows and violations.
func ValidateImportRows(rows []ImportRow) ([]ImportRow, []Violation) {
	valid := make([]ImportRow, 0, len(rows))
	var violations []Violation
	for _, row := range rows {
		rowViolations := ValidateImportRow(row)
		if len(rowViolations) > 0 {
			violations = append(violations, rowViolations...)
			continue
		}
		valid = append(valid, row)
	}
	return valid, violations
}

func parseFlag(raw string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y", "on":
		return true, true
	case "0", "false", "no", "n", "off":
		return false, true
	default:
		return false, false
	}
}

func joinStatuses[T ~string](values []T) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = string(v)
	}
	return strings.Join(parts, ", ")
}
