package repository

import "errors"

var (
	// ErrClickNotFound signals that the requested click does not exist.
	ErrClickNotFound = errors.New("click not found")
	// ErrConversionNotFound signals that the requested conversion does not exist.
	ErrConversionNotFound = errors.New("conversion not found")
	// ErrDuplicateOrder signals that a conversion for the order id already exists.
	ErrDuplicateOrder = errors.New("conversion for order already exists")
	// ErrStatusChanged signals that a conversion left the expected statuses
	// before a transition could be written.
	ErrStatusChanged = errors.New("conversion status changed")
	// ErrSessionNotFound signals that no archived session exists for the id.
	ErrSessionNotFound = errors.New("session not found")
	// ErrFraudNotFound signals that the conversion carries no fraud record.
	ErrFraudNotFound = errors.New("fraud record not found")
	// ErrAttributionNotFound signals that no attribution was recorded for the conversion.
	ErrAttributionNotFound = errors.New("attribution not found")
)
