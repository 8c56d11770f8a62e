package settlement

import (
	"fmt"

	"superswap/core/types"
)

// MaxFeeBps caps the configurable protocol fee at 10%.
const MaxFeeBps uint32 = 1000

// feeDenominator converts basis points into a fraction.
const feeDenominator uint64 = 10_000

// ModuleName identifies the settlement module for pause guards.
const ModuleName = "settlement"

// OrderStatus tracks the lifecycle of a settlement attempt.
type OrderStatus uint8

const (
	// OrderPending marks an order whose funds are in custody but whose outcome
	// is undecided. No order is ever left pending across invocations.
	OrderPending OrderStatus = iota
	// OrderCompleted marks an order whose output reached the recipient.
	OrderCompleted
	// OrderRefunded marks an order whose post-fee source amount was returned.
	OrderRefunded
	// OrderFailed marks an attempt that could not reach a refund decision. Such
	// attempts abort the whole unit, so the status never persists in practice;
	// it exists so audit consumers can represent the taxonomy.
	OrderFailed
)

// Valid reports whether the status value is within the supported range.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderCompleted, OrderRefunded, OrderFailed:
		return true
	default:
		return false
	}
}

func (s OrderStatus) String() string {
	switch s {
	case OrderPending:
		return "pending"
	case OrderCompleted:
		return "completed"
	case OrderRefunded:
		return "refunded"
	case OrderFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// RefundReason records why an order ended in the refund path.
type RefundReason string

const (
	// RefundReasonFee marks fee-split arithmetic failures.
	RefundReasonFee RefundReason = "fee"
	// RefundReasonRouter marks failed routing sub-calls, including a target that
	// does not match the configured routing authority.
	RefundReasonRouter RefundReason = "router"
	// RefundReasonSlippage marks outputs below the order's minimum.
	RefundReasonSlippage RefundReason = "slippage"
)

// Order is the per-attempt settlement record. Once the status is terminal the
// record is immutable and kept only for auditing.
type Order struct {
	OrderID          uint64
	Recipient        types.Identity
	ReceivedAmount   uint64
	MinOutput        uint64
	DestinationAsset types.Identity
	Deadline         int64
	Status           OrderStatus
	CreatedAt        int64
	SettledAt        int64
	FeePaid          uint64
	OutputAmount     uint64
	RefundAmount     uint64
	RefundReason     RefundReason
}

// Clone returns a copy of the order.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	clone := *o
	return &clone
}

// OrderMessage is the inbound order-submission payload delivered by the bridge
// collector. RoutingPayload is opaque to the engine and forwarded verbatim.
type OrderMessage struct {
	OrderID          uint64
	Recipient        types.Identity
	SourceAmount     uint64
	MinOutputAmount  uint64
	DestinationAsset types.Identity
	Deadline         int64
	RoutingProgram   types.Identity
	RoutingPayload   []byte
}

// Config is the module's singleton configuration. The engine reads a snapshot
// at invocation start; every mutation goes through the admin operations and
// bumps Version.
type Config struct {
	Admin            types.Identity
	Collector        types.Identity
	RoutingAuthority types.Identity
	SourceAsset      types.Identity
	FeeRecipient     types.Identity
	FeeBps           uint32
	Paused           bool
	Version          uint64
}

// Clone returns a copy of the configuration snapshot.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// IsPaused implements the pause view over a configuration snapshot.
func (c *Config) IsPaused(module string) bool {
	if c == nil || module != ModuleName {
		return false
	}
	return c.Paused
}

// SanitizeConfig validates a configuration record before it is persisted.
func SanitizeConfig(c *Config) (*Config, error) {
	if c == nil {
		return nil, fmt.Errorf("settlement: nil config")
	}
	clone := c.Clone()
	if clone.Admin.IsZero() {
		return nil, fmt.Errorf("settlement: admin identity required")
	}
	if clone.Collector.IsZero() {
		return nil, fmt.Errorf("settlement: collector identity required")
	}
	if clone.RoutingAuthority.IsZero() {
		return nil, fmt.Errorf("settlement: routing authority identity required")
	}
	if clone.SourceAsset.IsZero() {
		return nil, fmt.Errorf("settlement: source asset identity required")
	}
	if clone.FeeRecipient.IsZero() {
		return nil, fmt.Errorf("settlement: fee recipient identity required")
	}
	if clone.FeeBps > MaxFeeBps {
		return nil, ErrFeeRateOutOfRange
	}
	return clone, nil
}

// InitParams carries the bootstrap configuration.
type InitParams struct {
	Collector        types.Identity
	RoutingAuthority types.Identity
	SourceAsset      types.Identity
	FeeRecipient     types.Identity
	FeeBps           uint32
}

// ConfigPatch updates a subset of configuration fields. Nil pointers leave the
// corresponding field unchanged.
type ConfigPatch struct {
	Admin            *types.Identity
	Collector        *types.Identity
	RoutingAuthority *types.Identity
	FeeRecipient     *types.Identity
	FeeBps           *uint32
}

// Apply copies the set fields onto the configuration, enforcing field bounds.
func (p ConfigPatch) Apply(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("settlement: nil config")
	}
	if p.Admin != nil {
		if p.Admin.IsZero() {
			return fmt.Errorf("settlement: admin identity required")
		}
		cfg.Admin = *p.Admin
	}
	if p.Collector != nil {
		if p.Collector.IsZero() {
			return fmt.Errorf("settlement: collector identity required")
		}
		cfg.Collector = *p.Collector
	}
	if p.RoutingAuthority != nil {
		if p.RoutingAuthority.IsZero() {
			return fmt.Errorf("settlement: routing authority identity required")
		}
		cfg.RoutingAuthority = *p.RoutingAuthority
	}
	if p.FeeRecipient != nil {
		if p.FeeRecipient.IsZero() {
			return fmt.Errorf("settlement: fee recipient identity required")
		}
		cfg.FeeRecipient = *p.FeeRecipient
	}
	if p.FeeBps != nil {
		if *p.FeeBps > MaxFeeBps {
			return ErrFeeRateOutOfRange
		}
		cfg.FeeBps = *p.FeeBps
	}
	return nil
}
