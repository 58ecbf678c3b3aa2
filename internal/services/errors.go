package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrTransientIO       = errors.New("transient io error")
	ErrCapacityExhausted = errors.New("capacity exhausted")
	ErrInvalidSource     = errors.New("invalid source")
	ErrLedgerCorruption  = errors.New("ledger corruption")
	ErrConfiguration     = errors.New("configuration error")
	ErrRetryExhausted    = errors.New("retry limit reached")
)

// ErrorKind classifies a per-file failure.
type ErrorKind string

const (
	KindNone              ErrorKind = ""
	KindTransientIO       ErrorKind = "transient_io"
	KindCapacityExhausted ErrorKind = "capacity_exhausted"
	KindInvalidSource     ErrorKind = "invalid_source"
	KindLedgerCorruption  ErrorKind = "ledger_corruption"
	KindConfiguration     ErrorKind = "configuration"
	KindRetryExhausted    ErrorKind = "retry_exhausted"
)

// Retryable reports whether a later retry-queue drain may succeed.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindTransientIO, KindCapacityExhausted:
		return true
	default:
		return false
	}
}

// Wrap builds an error message that includes component context while tagging
// it with the provided marker. The marker should be one of the exported
// sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransientIO
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// KindOf maps an error onto the ErrorKind enum. Unclassified errors are
// treated as transient.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrLedgerCorruption):
		return KindLedgerCorruption
	case errors.Is(err, ErrInvalidSource):
		return KindInvalidSource
	case errors.Is(err, ErrCapacityExhausted):
		return KindCapacityExhausted
	case errors.Is(err, ErrRetryExhausted):
		return KindRetryExhausted
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindTransientIO
	default:
		return KindTransientIO
	}
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "backup failure"
	}
	return strings.Join(parts, ": ")
}
