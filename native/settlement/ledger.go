package settlement

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/ethereum/go-ethereum/rlp"

	"superswap/core/types"
)

// Storage abstracts the subset of state manager functionality required by the
// order ledger and the configuration store.
type Storage interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out *[][]byte) error
}

var (
	orderRecordPrefix = []byte("settlement/order/")
	orderIndexKey     = []byte("settlement/order/index")
	configRecordKey   = []byte("settlement/config")
)

type storedOrder struct {
	OrderID          uint64
	Recipient        [32]byte
	ReceivedAmount   uint64
	MinOutput        uint64
	DestinationAsset [32]byte
	Deadline         uint64
	Status           uint8
	CreatedAt        uint64
	SettledAt        uint64
	FeePaid          uint64
	OutputAmount     uint64
	RefundAmount     uint64
	RefundReason     string
}

type orderIndexEntry struct {
	OrderID   uint64
	CreatedAt uint64
}

func orderKey(id uint64) []byte {
	key := make([]byte, len(orderRecordPrefix)+8)
	copy(key, orderRecordPrefix)
	binary.BigEndian.PutUint64(key[len(orderRecordPrefix):], id)
	return key
}

func toStoredOrder(order *Order) storedOrder {
	return storedOrder{
		OrderID:          order.OrderID,
		Recipient:        order.Recipient,
		ReceivedAmount:   order.ReceivedAmount,
		MinOutput:        order.MinOutput,
		DestinationAsset: order.DestinationAsset,
		Deadline:         int64ToUint64(order.Deadline),
		Status:           uint8(order.Status),
		CreatedAt:        int64ToUint64(order.CreatedAt),
		SettledAt:        int64ToUint64(order.SettledAt),
		FeePaid:          order.FeePaid,
		OutputAmount:     order.OutputAmount,
		RefundAmount:     order.RefundAmount,
		RefundReason:     string(order.RefundReason),
	}
}

func fromStoredOrder(stored storedOrder) *Order {
	return &Order{
		OrderID:          stored.OrderID,
		Recipient:        types.Identity(stored.Recipient),
		ReceivedAmount:   stored.ReceivedAmount,
		MinOutput:        stored.MinOutput,
		DestinationAsset: types.Identity(stored.DestinationAsset),
		Deadline:         uint64ToInt64(stored.Deadline),
		Status:           OrderStatus(stored.Status),
		CreatedAt:        uint64ToInt64(stored.CreatedAt),
		SettledAt:        uint64ToInt64(stored.SettledAt),
		FeePaid:          stored.FeePaid,
		OutputAmount:     stored.OutputAmount,
		RefundAmount:     stored.RefundAmount,
		RefundReason:     RefundReason(stored.RefundReason),
	}
}

func int64ToUint64(v int64) uint64 {
	if v < 0 {
		return 0
	}
	return uint64(v)
}

func uint64ToInt64(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}

// Ledger persists settlement orders keyed by the caller-supplied identifier.
// Identifiers are consumed permanently: the first write wins and every later
// write with the same identifier is rejected.
type Ledger struct {
	store Storage
	clock func() time.Time
}

// NewLedger constructs a ledger bound to the provided storage backend.
func NewLedger(store Storage) *Ledger {
	return &Ledger{store: store, clock: time.Now}
}

// SetClock overrides the time source (primarily for deterministic testing).
func (l *Ledger) SetClock(clock func() time.Time) {
	if l == nil || clock == nil {
		return
	}
	l.clock = clock
}

// Exists reports whether an order with the supplied identifier has been
// recorded.
func (l *Ledger) Exists(orderID uint64) (bool, error) {
	if l == nil || l.store == nil {
		return false, ErrNilState
	}
	var stored storedOrder
	return l.store.KVGet(orderKey(orderID), &stored)
}

// Create records a new order. The identifier must be unused.
func (l *Ledger) Create(order *Order) error {
	if l == nil || l.store == nil {
		return ErrNilState
	}
	if order == nil {
		return fmt.Errorf("settlement: nil order")
	}
	exists, err := l.Exists(order.OrderID)
	if err != nil {
		return err
	}
	if exists {
		return ErrDuplicateOrder
	}
	if order.CreatedAt == 0 {
		order.CreatedAt = l.clock().UTC().Unix()
	}
	stored := toStoredOrder(order)
	if err := l.store.KVPut(orderKey(order.OrderID), stored); err != nil {
		return err
	}
	entry := orderIndexEntry{OrderID: stored.OrderID, CreatedAt: stored.CreatedAt}
	encoded, err := rlp.EncodeToBytes(entry)
	if err != nil {
		return err
	}
	return l.store.KVAppend(orderIndexKey, encoded)
}

// Get retrieves an order by identifier.
func (l *Ledger) Get(orderID uint64) (*Order, bool, error) {
	if l == nil || l.store == nil {
		return nil, false, ErrNilState
	}
	var stored storedOrder
	ok, err := l.store.KVGet(orderKey(orderID), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	return fromStoredOrder(stored), true, nil
}

// Finalize writes the terminal status for an order. Terminal records are
// immutable; finalizing twice is rejected.
func (l *Ledger) Finalize(order *Order) error {
	if l == nil || l.store == nil {
		return ErrNilState
	}
	if order == nil {
		return fmt.Errorf("settlement: nil order")
	}
	current, ok, err := l.Get(order.OrderID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrOrderNotFound
	}
	if current.Status != OrderPending {
		return fmt.Errorf("settlement: order %d already finalized as %s", order.OrderID, current.Status)
	}
	if order.Status == OrderPending {
		return fmt.Errorf("settlement: finalize requires a terminal status")
	}
	if order.SettledAt == 0 {
		order.SettledAt = l.clock().UTC().Unix()
	}
	return l.store.KVPut(orderKey(order.OrderID), toStoredOrder(order))
}

// List returns up to limit orders recorded at or after the cursor position in
// submission order, together with the next cursor.
func (l *Ledger) List(cursor uint64, limit int) ([]*Order, uint64, error) {
	if l == nil || l.store == nil {
		return nil, 0, ErrNilState
	}
	var raw [][]byte
	if err := l.store.KVGetList(orderIndexKey, &raw); err != nil {
		return nil, 0, err
	}
	if limit <= 0 || limit > len(raw) {
		limit = len(raw)
	}
	// Compare before converting: a cursor past the index (including values
	// that would go negative as int) clamps to the end.
	start := len(raw)
	if cursor < uint64(len(raw)) {
		start = int(cursor)
	}
	orders := make([]*Order, 0, limit)
	pos := start
	for ; pos < len(raw) && len(orders) < limit; pos++ {
		var entry orderIndexEntry
		if err := rlp.DecodeBytes(raw[pos], &entry); err != nil {
			return nil, 0, fmt.Errorf("settlement: decode index entry %d: %w", pos, err)
		}
		order, ok, err := l.Get(entry.OrderID)
		if err != nil {
			return nil, 0, err
		}
		if !ok {
			continue
		}
		orders = append(orders, order)
	}
	return orders, uint64(pos), nil
}
