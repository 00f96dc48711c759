package pos

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrUsageCeilingReached = errors.New("discount usage ceiling reached")
	ErrCommitInProgress    = errors.New("commit already in progress for this token")
	ErrDuplicateToken      = errors.New("idempotency token already used")
)

// ValidationError is raised before any I/O; cart state is left untouched.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func NewValidationErrorf(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

type InsufficientStockError struct {
	ProductID string
	VariantID string
	Requested int
}

func (e *InsufficientStockError) Error() string {
	if e.VariantID != "" {
		return fmt.Sprintf("insufficient stock for product %s variant %s (requested %d)", e.ProductID, e.VariantID, e.Requested)
	}
	return fmt.Sprintf("insufficient stock for product %s (requested %d)", e.ProductID, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}

// CommitFailure reports a commit that failed after stock was reserved. When
// Partial is set the compensating release could not be completed and the
// listed lines need manual reconciliation.
type CommitFailure struct {
	Phase           string
	OrderID         string
	Token           string
	Reserved        []StockLine
	Partial         bool
	Cause           error
	CompensationErr error
}

func (e *CommitFailure) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "commit failed during %s", e.Phase)
	if e.OrderID != "" {
		fmt.Fprintf(&b, " (order %s)", e.OrderID)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	if e.Partial {
		fmt.Fprintf(&b, "; compensation failed, manual reconciliation required: %v", e.CompensationErr)
	}
	return b.String()
}

func (e *CommitFailure) Unwrap() error {
	return e.Cause
}

// ConnectivityError is reported once the reconnection supervisor has
// exhausted its attempts.
type ConnectivityError struct {
	Attempts int
	Cause    error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("event stream unavailable after %d attempts: %v", e.Attempts, e.Cause)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Cause
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
