package settlement

import "errors"

var (
	// ErrNilState indicates the engine was used before a state backend was wired.
	ErrNilState = errors.New("settlement: state not configured")
	// ErrNotInitialized indicates no configuration record exists yet.
	ErrNotInitialized = errors.New("settlement: module not initialized")
	// ErrAlreadyInitialized indicates Initialize was called twice.
	ErrAlreadyInitialized = errors.New("settlement: module already initialized")

	// ErrUnauthorizedCollector rejects order submissions from anyone but the
	// configured bridge collector.
	ErrUnauthorizedCollector = errors.New("settlement: caller is not the authorized collector")
	// ErrUnauthorizedAdmin rejects admin operations from anyone but the admin.
	ErrUnauthorizedAdmin = errors.New("settlement: caller is not the admin")

	// ErrDeadlineExceeded rejects orders whose deadline already passed.
	ErrDeadlineExceeded = errors.New("settlement: order deadline exceeded")
	// ErrDuplicateOrder rejects reuse of an order identifier. This is the sole
	// replay guard; consumed identifiers are never released.
	ErrDuplicateOrder = errors.New("settlement: order id already exists")
	// ErrInvalidAmount rejects zero-value bridge deliveries.
	ErrInvalidAmount = errors.New("settlement: amount must be positive")
	// ErrInvalidRecipient rejects orders without a recipient identity.
	ErrInvalidRecipient = errors.New("settlement: recipient required")
	// ErrOrderNotFound is returned by ledger reads for unknown identifiers.
	ErrOrderNotFound = errors.New("settlement: order not found")

	// ErrFeeRateOutOfRange rejects fee rates above the 1000 bps cap.
	ErrFeeRateOutOfRange = errors.New("settlement: fee rate exceeds 1000 bps")
	// ErrFeeOverflow indicates the fee computation produced a value outside the
	// asset's 64-bit range.
	ErrFeeOverflow = errors.New("settlement: fee arithmetic overflow")

	// ErrRouterFailure wraps any failure of the routing sub-call. It is observed
	// as a value inside SettleOrder and diverted into the refund path.
	ErrRouterFailure = errors.New("settlement: router invocation failed")
	// ErrSlippageExceeded indicates the router produced less than the order's
	// minimum output.
	ErrSlippageExceeded = errors.New("settlement: output below minimum")
	// ErrRefundFailed indicates the refund transfer itself failed. This is the
	// one post-custody error that aborts the whole unit; there is no fallback.
	ErrRefundFailed = errors.New("settlement: refund failed")
)
