// Package errors provides severity-aware error types.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Severity indicates error impact level.
type Severity int

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityFatal
)

func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// SPCError is a structured error with context.
type SPCError struct {
	Code        string   `json:"code"`
	Message     string   `json:"message"`
	Severity    Severity `json:"severity"`
	Subject     string   `json:"subject,omitempty"`
	Recoverable bool     `json:"recoverable"`
}

func (e *SPCError) Error() string {
	if e.Subject != "" {
		return fmt.Sprintf("[%s] %s: %s (subject: %s)", e.Severity, e.Code, e.Message, e.Subject)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Severity, e.Code, e.Message)
}

// Error codes
const (
	ErrCodeParseFailed       = "PARSE_FAILED"
	ErrCodeMissingColumn     = "MISSING_COLUMN"
	ErrCodeInvalidSigma      = "INVALID_SIGMA"
	ErrCodeInvalidWindow     = "INVALID_WINDOW"
	ErrCodeUnknownProduct    = "UNKNOWN_PRODUCT"
	ErrCodeUnknownItem       = "UNKNOWN_ITEM"
	ErrCodeEmptySelection    = "EMPTY_SELECTION"
	ErrCodeMissingSpecLimits = "MISSING_SPEC_LIMITS"
	ErrCodeDegenerateSeries  = "DEGENERATE_SERIES"
)

// NewMissingColumnError creates an error for a table lacking required columns.
func NewMissingColumnError(product string, columns []string) *SPCError {
	return &SPCError{
		Code:        ErrCodeMissingColumn,
		Message:     fmt.Sprintf("Missing required column(s): %s", strings.Join(columns, ", ")),
		Severity:    SeverityError,
		Subject:     product,
		Recoverable: false,
	}
}

// NewInvalidSigmaError creates an error for a non-positive sigma multiplier.
func NewInvalidSigmaError(sigma float64) *SPCError {
	return &SPCError{
		Code:        ErrCodeInvalidSigma,
		Message:     fmt.Sprintf("Sigma multiplier must be a finite value > 0, got %v", sigma),
		Severity:    SeverityError,
		Recoverable: false,
	}
}

// NewInvalidWindowError creates an error for an unusable selection window.
func NewInvalidWindowError(reason string) *SPCError {
	return &SPCError{
		Code:        ErrCodeInvalidWindow,
		Message:     reason,
		Severity:    SeverityError,
		Recoverable: false,
	}
}

// NewUnknownProductError creates an error for a product with no table.
func NewUnknownProductError(product string) *SPCError {
	return &SPCError{
		Code:        ErrCodeUnknownProduct,
		Message:     fmt.Sprintf("No measurement table for product: %s", product),
		Severity:    SeverityError,
		Subject:     product,
		Recoverable: false,
	}
}

// NewUnknownItemError creates an error for an item absent from the selection.
func NewUnknownItemError(product, item string) *SPCError {
	return &SPCError{
		Code:        ErrCodeUnknownItem,
		Message:     fmt.Sprintf("No measurements for item: %s", item),
		Severity:    SeverityError,
		Subject:     product,
		Recoverable: false,
	}
}

// NewEmptySelectionError creates an error for a window that selects no rows.
func NewEmptySelectionError(product, item string) *SPCError {
	return &SPCError{
		Code:        ErrCodeEmptySelection,
		Message:     fmt.Sprintf("Selected window contains no measurements for item: %s", item),
		Severity:    SeverityWarning,
		Subject:     product,
		Recoverable: true,
	}
}

// NewParseError creates an error for unreadable input.
func NewParseError(subject, reason string) *SPCError {
	return &SPCError{
		Code:        ErrCodeParseFailed,
		Message:     reason,
		Severity:    SeverityError,
		Subject:     subject,
		Recoverable: false,
	}
}

// NewMissingSpecLimitsWarning reports an item whose capability cannot be computed.
func NewMissingSpecLimitsWarning(item string) *SPCError {
	return &SPCError{
		Code:        ErrCodeMissingSpecLimits,
		Message:     "Specification limits not configured; capability and compliance not applicable",
		Severity:    SeverityWarning,
		Subject:     item,
		Recoverable: true,
	}
}

// NewDegenerateSeriesWarning reports an item with no usable dispersion.
func NewDegenerateSeriesWarning(item string, n int) *SPCError {
	return &SPCError{
		Code:        ErrCodeDegenerateSeries,
		Message:     fmt.Sprintf("Series has zero dispersion or too few points (n=%d)", n),
		Severity:    SeverityInfo,
		Subject:     item,
		Recoverable: true,
	}
}

// IsCode reports whether err wraps an SPCError with the given code.
func IsCode(err error, code string) bool {
	var e *SPCError
	if stderrors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf returns the code of the wrapped SPCError, or "" if there is none.
func CodeOf(err error) string {
	var e *SPCError
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ""
}
