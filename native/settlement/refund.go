package settlement

import (
	"fmt"
	"math/big"
)

// refund returns amount of the source asset from the holding account to the
// order's recipient and finalizes the order as Refunded. The cause is the
// failure that triggered the refund; it is recorded on the emitted event, not
// returned. The recipient's source-asset balance entry is created when absent.
// A failure here has no further fallback: the whole unit is unwound to the
// supplied snapshot, as if the attempt had never been accepted.
func (e *Engine) refund(unit int, cfg *Config, order *Order, fee, amount uint64, reason RefundReason, cause error) (*Order, error) {
	if err := e.state.Transfer(e.holding, order.Recipient, cfg.SourceAsset, new(big.Int).SetUint64(amount)); err != nil {
		e.state.RevertToSnapshot(unit)
		return nil, fmt.Errorf("%w: %v", ErrRefundFailed, err)
	}
	order.Status = OrderRefunded
	order.FeePaid = fee
	order.RefundAmount = amount
	order.RefundReason = reason
	order.SettledAt = e.now()
	if err := e.ledger.Finalize(order); err != nil {
		e.state.RevertToSnapshot(unit)
		return nil, fmt.Errorf("%w: %v", ErrRefundFailed, err)
	}
	e.emit(NewOrderRefundedEvent(order, cause))
	return order.Clone(), nil
}
