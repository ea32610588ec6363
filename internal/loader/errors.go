package loader

import (
	"errors"
	"fmt"

	"artifactd/pkg/types"
)

// noViableVariantError is returned when the fallback chain is exhausted
// without a successful materialization.
type noViableVariantError struct {
	id       string
	start    types.Variant
	attempts int
	last     error
}

func (e noViableVariantError) Error() string {
	return fmt.Sprintf("no viable variant for artifact %q (started at %s, %d attempts): %v",
		e.id, e.start, e.attempts, e.last)
}

func (e noViableVariantError) Unwrap() error { return e.last }

// IsNoViableVariant reports whether err means every variant in the
// fallback chain was tried and rejected.
func IsNoViableVariant(err error) bool {
	var e noViableVariantError
	return errors.As(err, &e)
}
