package llm

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a provider failure so the caller can decide whether to
// retry the same candidate, fall back to the next one, or abort.
type ErrorKind string

const (
	// ErrTimeout means the call exceeded its deadline. Worth one retry.
	ErrTimeout ErrorKind = "timeout"
	// ErrUnavailable covers auth failures, rate limits, 5xx and network
	// errors. Retrying the same provider immediately is pointless.
	ErrUnavailable ErrorKind = "unavailable"
	// ErrRefused means the provider declined the prompt on content-policy
	// grounds. Never retried on the same provider.
	ErrRefused ErrorKind = "refused"
)

// ProviderError is the normalized failure shape returned by every Provider.
type ProviderError struct {
	ProviderID string
	ModelID    string
	Kind       ErrorKind
	Err        error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s (%s) %s: %v", e.ProviderID, e.ModelID, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// KindOf extracts the ErrorKind from an error chain. Unrecognized errors are
// treated as unavailable so the fallback loop keeps moving.
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ErrUnavailable
}
