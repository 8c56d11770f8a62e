package settlement

import (
	"strconv"

	"superswap/core/types"
)

const (
	EventTypeOrderCompleted = "settlement.order.completed"
	EventTypeOrderRefunded  = "settlement.order.refunded"
	EventTypeConfigUpdated  = "settlement.config.updated"
	EventTypePaused         = "settlement.paused"
	EventTypeUnpaused       = "settlement.unpaused"
	EventTypeFundsRecovered = "settlement.funds.recovered"
)

// NewOrderCompletedEvent returns the canonical payload for a delivered order.
func NewOrderCompletedEvent(o *Order) *types.Event {
	attrs := orderAttributes(o)
	return &types.Event{Type: EventTypeOrderCompleted, Attributes: attrs}
}

// NewOrderRefundedEvent returns the canonical payload for a refunded order.
// The cause is the underlying failure that diverted the order into the refund
// path; it lands in the event so operators can distinguish a router fault from
// a slippage breach without the error ever leaving the engine.
func NewOrderRefundedEvent(o *Order, cause error) *types.Event {
	attrs := orderAttributes(o)
	if o != nil {
		attrs["reason"] = string(o.RefundReason)
	}
	if cause != nil {
		attrs["cause"] = cause.Error()
	}
	return &types.Event{Type: EventTypeOrderRefunded, Attributes: attrs}
}

// NewConfigUpdatedEvent returns the payload emitted after an admin mutation.
func NewConfigUpdatedEvent(cfg *Config) *types.Event {
	attrs := make(map[string]string)
	if cfg != nil {
		attrs["version"] = strconv.FormatUint(cfg.Version, 10)
		attrs["feeBps"] = strconv.FormatUint(uint64(cfg.FeeBps), 10)
		attrs["collector"] = cfg.Collector.String()
		attrs["routingAuthority"] = cfg.RoutingAuthority.String()
		attrs["feeRecipient"] = cfg.FeeRecipient.String()
	}
	return &types.Event{Type: EventTypeConfigUpdated, Attributes: attrs}
}

// NewPauseEvent returns the payload for a pause flag flip.
func NewPauseEvent(paused bool, version uint64) *types.Event {
	eventType := EventTypeUnpaused
	if paused {
		eventType = EventTypePaused
	}
	return &types.Event{Type: eventType, Attributes: map[string]string{
		"version": strconv.FormatUint(version, 10),
	}}
}

// NewFundsRecoveredEvent returns the payload for an admin sweep out of the
// holding account.
func NewFundsRecoveredEvent(asset, to types.Identity, amount uint64) *types.Event {
	return &types.Event{Type: EventTypeFundsRecovered, Attributes: map[string]string{
		"asset":  asset.String(),
		"to":     to.String(),
		"amount": strconv.FormatUint(amount, 10),
	}}
}

func orderAttributes(o *Order) map[string]string {
	attrs := make(map[string]string)
	if o == nil {
		return attrs
	}
	attrs["orderId"] = strconv.FormatUint(o.OrderID, 10)
	attrs["recipient"] = o.Recipient.String()
	attrs["receivedAmount"] = strconv.FormatUint(o.ReceivedAmount, 10)
	attrs["minOutput"] = strconv.FormatUint(o.MinOutput, 10)
	attrs["destinationAsset"] = o.DestinationAsset.String()
	attrs["status"] = o.Status.String()
	attrs["feePaid"] = strconv.FormatUint(o.FeePaid, 10)
	attrs["outputAmount"] = strconv.FormatUint(o.OutputAmount, 10)
	attrs["refundAmount"] = strconv.FormatUint(o.RefundAmount, 10)
	return attrs
}
