package service

import "errors"

var (
	// ErrInvalidInput marks a request the service refuses to process as given.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidTransition is returned when a conversion cannot move to the requested status.
	ErrInvalidTransition = errors.New("invalid status transition")
)
