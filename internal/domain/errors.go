package domain

import "errors"

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError represents a feed transport failure. The next scheduled tick
// is the retry, so transport errors are retriable by default.
type NetworkError struct {
	Op        string // Operation that failed (e.g., "fetch tracker", "node gas price")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var (
	// ErrUnexpectedStatus is returned when a feed answers with a non-200 status.
	ErrUnexpectedStatus = errors.New("unexpected status code")

	// ErrDecode is returned when a feed body cannot be decoded into its typed payload.
	ErrDecode = errors.New("decode failed")

	// ErrEmptyFeed is returned when a feed answers with no usable entries.
	ErrEmptyFeed = errors.New("empty feed")

	// ErrNoRate is returned when no rate can be derived for a pair.
	ErrNoRate = errors.New("no rate available")

	// ErrNoNode is returned when the gas fallback is needed but no node is configured.
	ErrNoNode = errors.New("no node configured")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)
