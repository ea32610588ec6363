package lifecycle

// loadTimeoutError signals that a load exceeded its deadline, for 504
// mapping.
type loadTimeoutError struct{ id string }

func (e loadTimeoutError) Error() string { return "load timed out: " + e.id }

// ErrLoadTimeout constructs a loadTimeoutError.
func ErrLoadTimeout(id string) error { return loadTimeoutError{id: id} }

// IsLoadTimeout reports whether err indicates a load deadline was hit.
func IsLoadTimeout(err error) bool {
	_, ok := err.(loadTimeoutError)
	return ok
}

// shuttingDownError signals the manager no longer accepts loads, for 503
// mapping.
type shuttingDownError struct{}

func (shuttingDownError) Error() string { return "manager is shutting down" }

// ErrShuttingDown constructs a shuttingDownError.
func ErrShuttingDown() error { return shuttingDownError{} }

// IsShuttingDown reports whether err indicates the manager is draining.
func IsShuttingDown(err error) bool {
	_, ok := err.(shuttingDownError)
	return ok
}
