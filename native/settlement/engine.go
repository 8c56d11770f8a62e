package settlement

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"superswap/core/events"
	"superswap/core/types"
	nativecommon "superswap/native/common"
	"superswap/router"
)

var errNilInvoker = errors.New("settlement: router invoker not configured")

// engineState is the slice of state manager functionality the engine depends
// on. The embedded ProgramState is what router sub-calls execute against.
type engineState interface {
	router.ProgramState
	Storage
	Snapshot() int
	RevertToSnapshot(int)
}

// routerInvoker issues the sub-call against the configured routing authority.
type routerInvoker interface {
	Invoke(st router.ProgramState, configured, target types.Identity, amount uint64, payload []byte, accounts []router.AccountHandle) error
	Authority() types.Identity
}

type settlementEvent struct {
	evt *types.Event
}

func (e settlementEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e settlementEvent) Event() *types.Event { return e.evt }

// Engine executes settlement orders end-to-end: validation, custody, the fee
// split, the routing sub-call, and delivery or refund. One invocation handles
// exactly one order and always leaves it in a terminal status; there are no
// retries and no background work.
type Engine struct {
	state   engineState
	ledger  *Ledger
	configs *ConfigStore
	invoker routerInvoker
	emitter events.Emitter
	nowFn   func() int64
	holding types.Identity
}

// NewEngine creates a settlement engine with a no-op emitter. Callers wire the
// state backend and router invoker before use.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine and rebinds the
// order ledger and configuration store to it.
func (e *Engine) SetState(state engineState) {
	e.state = state
	e.ledger = NewLedger(state)
	e.configs = NewConfigStore(state)
}

// SetInvoker configures the router invoker. The invoker's derived authority
// identity doubles as the module holding account.
func (e *Engine) SetInvoker(invoker routerInvoker) {
	e.invoker = invoker
	if invoker != nil {
		e.holding = invoker.Authority()
	}
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// Holding returns the module holding account identity.
func (e *Engine) Holding() types.Identity { return e.holding }

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(settlementEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// Config returns the current configuration snapshot.
func (e *Engine) Config() (*Config, bool, error) {
	if e == nil || e.configs == nil {
		return nil, false, ErrNilState
	}
	return e.configs.Load()
}

// Order retrieves a settlement record by identifier.
func (e *Engine) Order(orderID uint64) (*Order, bool, error) {
	if e == nil || e.ledger == nil {
		return nil, false, ErrNilState
	}
	return e.ledger.Get(orderID)
}

// Orders lists settlement records in submission order.
func (e *Engine) Orders(cursor uint64, limit int) ([]*Order, uint64, error) {
	if e == nil || e.ledger == nil {
		return nil, 0, ErrNilState
	}
	return e.ledger.List(cursor, limit)
}

// SettleOrder processes one bridge delivery. Preconditions are checked in a
// fixed order and abort with no side effects. Once custody of the source
// amount is accepted, no failure aborts the unit: the fee split, the routing
// sub-call, and the slippage check all divert into the refund path instead.
// The one exception is a failed refund, which unwinds the whole unit.
func (e *Engine) SettleOrder(caller types.Identity, msg OrderMessage, handles []router.AccountHandle) (*Order, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if e.invoker == nil {
		return nil, errNilInvoker
	}
	cfg, ok, err := e.configs.Load()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotInitialized
	}
	if caller != cfg.Collector {
		return nil, ErrUnauthorizedCollector
	}
	if err := nativecommon.Guard(cfg, ModuleName); err != nil {
		return nil, err
	}
	now := e.now()
	if now > msg.Deadline {
		return nil, ErrDeadlineExceeded
	}
	if msg.SourceAmount == 0 {
		return nil, ErrInvalidAmount
	}
	if msg.Recipient.IsZero() {
		return nil, ErrInvalidRecipient
	}
	exists, err := e.ledger.Exists(msg.OrderID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrDuplicateOrder
	}

	unit := e.state.Snapshot()
	received := new(big.Int).SetUint64(msg.SourceAmount)
	if err := e.state.Transfer(caller, e.holding, cfg.SourceAsset, received); err != nil {
		e.state.RevertToSnapshot(unit)
		return nil, fmt.Errorf("settlement: custody transfer: %w", err)
	}
	order := &Order{
		OrderID:          msg.OrderID,
		Recipient:        msg.Recipient,
		ReceivedAmount:   msg.SourceAmount,
		MinOutput:        msg.MinOutputAmount,
		DestinationAsset: msg.DestinationAsset,
		Deadline:         msg.Deadline,
		Status:           OrderPending,
		CreatedAt:        now,
	}
	if err := e.ledger.Create(order); err != nil {
		e.state.RevertToSnapshot(unit)
		return nil, err
	}

	// Custody is accepted. Every failure from here on is observed as a value
	// and redirected into the refund path; the fee, once collected, stays
	// collected regardless of the swap outcome.
	fee, net, feeErr := ComputeFee(msg.SourceAmount, cfg.FeeBps)
	if feeErr != nil {
		return e.refund(unit, cfg, order, 0, msg.SourceAmount, RefundReasonFee, feeErr)
	}
	if fee > 0 {
		if err := e.state.Transfer(e.holding, cfg.FeeRecipient, cfg.SourceAsset, new(big.Int).SetUint64(fee)); err != nil {
			return e.refund(unit, cfg, order, 0, msg.SourceAmount, RefundReasonFee, err)
		}
	}

	before, err := e.state.BalanceOf(e.holding, msg.DestinationAsset)
	if err != nil {
		return e.refund(unit, cfg, order, fee, net, RefundReasonRouter, fmt.Errorf("%w: %v", ErrRouterFailure, err))
	}
	swap := e.state.Snapshot()
	if err := e.invoker.Invoke(e.state, cfg.RoutingAuthority, msg.RoutingProgram, net, msg.RoutingPayload, handles); err != nil {
		e.state.RevertToSnapshot(swap)
		return e.refund(unit, cfg, order, fee, net, RefundReasonRouter, fmt.Errorf("%w: %v", ErrRouterFailure, err))
	}
	after, err := e.state.BalanceOf(e.holding, msg.DestinationAsset)
	if err != nil {
		e.state.RevertToSnapshot(swap)
		return e.refund(unit, cfg, order, fee, net, RefundReasonRouter, fmt.Errorf("%w: %v", ErrRouterFailure, err))
	}
	output := new(big.Int).Sub(after, before)
	if output.Sign() < 0 || !output.IsUint64() {
		e.state.RevertToSnapshot(swap)
		return e.refund(unit, cfg, order, fee, net, RefundReasonRouter, fmt.Errorf("%w: output delta %s", ErrRouterFailure, output))
	}
	if output.Uint64() < msg.MinOutputAmount {
		e.state.RevertToSnapshot(swap)
		return e.refund(unit, cfg, order, fee, net, RefundReasonSlippage, fmt.Errorf("%w: output %d below minimum %d", ErrSlippageExceeded, output.Uint64(), msg.MinOutputAmount))
	}
	if err := e.state.Transfer(e.holding, msg.Recipient, msg.DestinationAsset, output); err != nil {
		e.state.RevertToSnapshot(swap)
		return e.refund(unit, cfg, order, fee, net, RefundReasonRouter, fmt.Errorf("%w: %v", ErrRouterFailure, err))
	}

	order.Status = OrderCompleted
	order.FeePaid = fee
	order.OutputAmount = output.Uint64()
	order.SettledAt = e.now()
	if err := e.ledger.Finalize(order); err != nil {
		e.state.RevertToSnapshot(unit)
		return nil, err
	}
	e.emit(NewOrderCompletedEvent(order))
	return order.Clone(), nil
}
