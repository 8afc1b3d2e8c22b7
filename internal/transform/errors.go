package transform

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidGateway   = errors.New("invalid gateway")
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrBackendRequest   = errors.New("backend request failed")
	ErrSourceNotFound   = errors.New("source image not found")
)

// ParameterError reports a rejected call argument together with the raw input
// that caused it.
type ParameterError struct {
	Reason string
	Raw    any
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidParameter, e.Reason)
}

func (e *ParameterError) Unwrap() error {
	return ErrInvalidParameter
}

func invalidParameter(reason string, raw any) error {
	return &ParameterError{Reason: reason, Raw: raw}
}
