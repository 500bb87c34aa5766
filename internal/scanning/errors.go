package scanning

import (
	"errors"
	"fmt"
)

// ErrNoTextResponse is returned when the model replied without any text content.
var ErrNoTextResponse = errors.New("no text response from model")

// TransportError reports an extraction request that could not complete.
type TransportError struct {
	Provider string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s request failed: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// UnparseableResponseError carries the raw model text when no JSON object
// could be recovered from it.
type UnparseableResponseError struct {
	Text string
	Err  error
}

func (e *UnparseableResponseError) Error() string {
	return fmt.Sprintf("failed to parse receipt data: %v", e.Err)
}

func (e *UnparseableResponseError) Unwrap() error {
	return e.Err
}

// IsExtractionFailure reports whether err came from the extraction stage
// (transport, empty reply or unparseable reply) rather than local I/O.
func IsExtractionFailure(err error) bool {
	var transportErr *TransportError
	var parseErr *UnparseableResponseError
	return errors.Is(err, ErrNoTextResponse) || errors.As(err, &transportErr) || errors.As(err, &parseErr)
}
