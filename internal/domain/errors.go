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

var (
	// ErrInvalidSizing is returned when a quantity cannot be computed or would be <= 0.
	ErrInvalidSizing = errors.New("invalid sizing")

	// ErrNoTiersConfigured is returned when the risk tier table is empty. Fatal to sizing.
	ErrNoTiersConfigured = errors.New("no risk tiers configured")

	// ErrNoExpirationAvailable is returned when the feed lists no expirations.
	ErrNoExpirationAvailable = errors.New("no expiration available")

	// ErrPositionAlreadyActive rejects a BUY while a position or entry is working.
	ErrPositionAlreadyActive = errors.New("position already active")

	// ErrSubmissionInProgress rejects an action while another one is in flight.
	ErrSubmissionInProgress = errors.New("submission in progress")

	// ErrChaseAborted is reported when a chase timer is cancelled by a connection loss.
	ErrChaseAborted = errors.New("chase aborted")

	// ErrBrokerRejected is returned when the broker refuses an order or cancel. Never retried here.
	ErrBrokerRejected = errors.New("broker rejected")

	// ErrBrokerUnreachable is returned when the gateway has no connection. Retriable.
	ErrBrokerUnreachable = errors.New("broker unreachable")

	// ErrNoActivePosition is returned by a SELL with nothing to sell.
	ErrNoActivePosition = errors.New("no active position")

	// ErrExitInProgress rejects a SELL while an exit order is still working.
	ErrExitInProgress = errors.New("exit already in progress")

	// ErrInvalidOptionRight is returned for anything other than CALL or PUT.
	ErrInvalidOptionRight = errors.New("invalid option right")

	// ErrMarketDataUnavailable is returned when no usable quote exists for the contract.
	ErrMarketDataUnavailable = errors.New("market data unavailable")
)

// IsInformational reports guard rejections that are expected, not faults.
func IsInformational(err error) bool {
	return errors.Is(err, ErrPositionAlreadyActive) ||
		errors.Is(err, ErrSubmissionInProgress) ||
		errors.Is(err, ErrNoActivePosition) ||
		errors.Is(err, ErrExitInProgress)
}

// BrokerError wraps a failure reported by the Broker Gateway.
type BrokerError struct {
	Op      string // "submit" or "cancel"
	OrderID string
	Err     error
}

func (e *BrokerError) Error() string {
	if e.OrderID != "" {
		return e.Op + " " + e.OrderID + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

// IsRetriable is true only for connectivity failures. The engine itself never retries.
func (e *BrokerError) IsRetriable() bool {
	return errors.Is(e.Err, ErrBrokerUnreachable)
}

func (e *BrokerError) Unwrap() error {
	return e.Err
}

// NewRejectedError wraps a broker rejection reason.
func NewRejectedError(op, orderID, reason string) *BrokerError {
	return &BrokerError{Op: op, OrderID: orderID, Err: errors.Join(ErrBrokerRejected, errors.New(reason))}
}

// NewUnreachableError wraps a transport failure.
func NewUnreachableError(op, orderID string, cause error) *BrokerError {
	if cause == nil {
		return &BrokerError{Op: op, OrderID: orderID, Err: ErrBrokerUnreachable}
	}
	return &BrokerError{Op: op, OrderID: orderID, Err: errors.Join(ErrBrokerUnreachable, cause)}
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
