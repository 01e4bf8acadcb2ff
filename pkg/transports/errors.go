package transports

// TransportError represents an error from the transport layer.
type TransportError struct {
	// Op is the operation that failed (e.g., "connect", "run", "write").
	Op string

	// Host names the host the operation targeted.
	Host string

	// Err is the underlying error.
	Err error

	// IsTemporary indicates if the error is temporary and can be retried.
	IsTemporary bool

	// IsAuthError indicates if the error is related to authentication.
	IsAuthError bool
}

func (e *TransportError) Error() string {
	if e.Host != "" {
		return e.Op + " " + e.Host + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Temporary reports whether retrying the operation may succeed.
func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}
