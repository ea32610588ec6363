package provider

import (
	"errors"
	"fmt"

	"artifactd/pkg/types"
)

// resourceExhaustedError signals that a variant cannot be materialized on
// this host right now; the loader reacts by walking the fallback chain.
type resourceExhaustedError struct {
	id      string
	variant types.Variant
	reason  string
}

func (e resourceExhaustedError) Error() string {
	return fmt.Sprintf("resource exhausted materializing %s/%s: %s", e.id, e.variant, e.reason)
}

// ResourceExhausted constructs a resource-exhaustion error.
func ResourceExhausted(id string, v types.Variant, reason string) error {
	return resourceExhaustedError{id: id, variant: v, reason: reason}
}

// IsResourceExhausted reports whether err (possibly wrapped) indicates a
// transient resource-exhaustion failure.
func IsResourceExhausted(err error) bool {
	var re resourceExhaustedError
	return errors.As(err, &re)
}

// notFoundError signals a missing artifact payload (unknown variant path,
// missing file). Non-retryable within a variant.
type notFoundError struct {
	id   string
	what string
}

func (e notFoundError) Error() string {
	return fmt.Sprintf("artifact %s: %s not found", e.id, e.what)
}

// NotFound constructs a not-found error for an artifact payload.
func NotFound(id, what string) error { return notFoundError{id: id, what: what} }

// IsNotFound reports whether err indicates a missing payload.
func IsNotFound(err error) bool {
	var nf notFoundError
	return errors.As(err, &nf)
}
