package domain

import (
	"errors"
	"fmt"
)

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

// NetworkError represents a connectivity failure on the feed.
// Transient failures are retried with backoff; a handshake rejected by the
// source (unknown exchange/symbol) is fatal.
type NetworkError struct {
	Op        string // Operation that failed (e.g., "dial", "read", "subscribe")
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

// ProtocolError is a malformed feed payload. Logged and skipped.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return "protocol error: " + e.Reason + ": " + e.Err.Error()
	}
	return "protocol error: " + e.Reason
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// NewProtocolError builds a ProtocolError with an optional cause.
func NewProtocolError(reason string, err error) *ProtocolError {
	return &ProtocolError{Reason: reason, Err: err}
}

// ValidationError is a rejected SimulationRequest. No state is mutated.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return "invalid request [" + e.Field + "]: " + e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// InvariantViolation reports an update that would cross the book.
type InvariantViolation struct {
	Sequence int64
	BestBid  float64
	BestAsk  float64
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("crossed book at seq %d: bid %v >= ask %v", e.Sequence, e.BestBid, e.BestAsk)
}

var (
	// ErrConnectionFailed is returned when websocket connection fails. It's usually retriable.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrUnknownExchange is returned when no endpoint is configured for an exchange. Not retriable.
	ErrUnknownExchange = errors.New("unknown exchange")

	// ErrUnknownSymbol is returned when a symbol is not served by the exchange. Not retriable.
	ErrUnknownSymbol = errors.New("unknown symbol")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")

	ErrInvalidQuantity   = errors.New("quantity must be positive")
	ErrInvalidFeeTier    = errors.New("unknown fee tier")
	ErrInvalidSide       = errors.New("unknown side")
	ErrInvalidOrderType  = errors.New("unknown order type")
	ErrInvalidVolatility = errors.New("volatility must be finite and non-negative")

	// ErrNoMarketData is returned when no book has been received yet.
	ErrNoMarketData = errors.New("no market data")

	// ErrNotReady is returned while the simulator is switching symbols.
	ErrNotReady = errors.New("simulator not ready")

	// ErrStaleSequence marks an update whose sequence is not newer than the book.
	ErrStaleSequence = errors.New("stale sequence")

	// ErrAwaitingSnapshot marks a delta received before a full snapshot.
	ErrAwaitingSnapshot = errors.New("awaiting full snapshot")
)

// IsFatal reports whether err must be surfaced to the caller as unrecoverable.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	var ce *ConfigError
	if errors.As(err, &ce) {
		return true
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return !ne.Retriable
	}
	return false
}
