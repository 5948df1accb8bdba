package domain

import (
	"errors"
	"fmt"
)

// ErrPriceUnavailable indicates no quote could be obtained for a symbol
// within the timeout. Transient: the price source client retries once with
// backoff before surfacing it.
type ErrPriceUnavailable struct {
	Symbol string
	Cause  error
}

func (e ErrPriceUnavailable) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("price unavailable for %s: %v", e.Symbol, e.Cause)
	}
	return fmt.Sprintf("price unavailable for %s", e.Symbol)
}

func (e ErrPriceUnavailable) Unwrap() error {
	return e.Cause
}

// ErrConfiguration indicates a missing or invalid symbol configuration
// (unknown symbol, invalid bounds, no usable risk model). Fatal for the
// affected assessment; never retried.
type ErrConfiguration struct {
	Symbol string
	Detail string
}

func (e ErrConfiguration) Error() string {
	return fmt.Sprintf("configuration error for %s: %s", e.Symbol, e.Detail)
}

// ErrCalibrationMismatch indicates a risk level sequence that violates the
// monotonicity or uniform-step invariant. Recalculation aborts and the
// previously published snapshot stays in effect.
type ErrCalibrationMismatch struct {
	Symbol string
	Detail string
}

func (e ErrCalibrationMismatch) Error() string {
	return fmt.Sprintf("calibration mismatch for %s: %s", e.Symbol, e.Detail)
}

// IsPriceUnavailable reports whether err is (or wraps) an
// ErrPriceUnavailable.
func IsPriceUnavailable(err error) bool {
	var target ErrPriceUnavailable
	return errors.As(err, &target)
}

// IsConfiguration reports whether err is (or wraps) an ErrConfiguration.
func IsConfiguration(err error) bool {
	var target ErrConfiguration
	return errors.As(err, &target)
}

// IsCalibrationMismatch reports whether err is (or wraps) an
// ErrCalibrationMismatch.
func IsCalibrationMismatch(err error) bool {
	var target ErrCalibrationMismatch
	return errors.As(err, &target)
}
