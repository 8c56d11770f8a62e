package state

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"

	"superswap/core/types"
	"superswap/storage"
)

var (
	// ErrInsufficientBalance is returned when a debit exceeds the available funds.
	ErrInsufficientBalance = errors.New("state: insufficient balance")
	// ErrNegativeAmount is returned when a transfer amount is negative.
	ErrNegativeAmount = errors.New("state: negative amount")
)

var accountPrefix = []byte("account/")

// Manager mediates every read and write against the key-value backend. Writes
// are staged in an in-memory overlay and journaled so a nested sub-call (the
// router invocation) can be unwound with RevertToSnapshot while the enclosing
// settlement continues. Nothing reaches the backend until Commit, which
// flushes the overlay in one atomic batch: a crash mid-unit leaves no partial
// balance moves and no Pending order record behind.
type Manager struct {
	db      storage.Database
	overlay map[string][]byte
	journal []journalEntry
}

type journalEntry struct {
	key     string
	prev    []byte
	existed bool
}

// NewManager constructs a manager bound to the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db, overlay: make(map[string][]byte)}
}

// Snapshot marks the current journal position. The returned handle is only
// valid until the next RevertToSnapshot with an equal or smaller handle.
func (m *Manager) Snapshot() int {
	return len(m.journal)
}

// RevertToSnapshot restores every key written since the snapshot was taken, in
// reverse order. The revert is purely in-memory and cannot fail.
func (m *Manager) RevertToSnapshot(snapshot int) {
	if snapshot < 0 || snapshot > len(m.journal) {
		return
	}
	for i := len(m.journal) - 1; i >= snapshot; i-- {
		entry := m.journal[i]
		if entry.existed {
			m.overlay[entry.key] = entry.prev
		} else {
			delete(m.overlay, entry.key)
		}
	}
	m.journal = m.journal[:snapshot]
}

// Commit flushes every staged write to the backend in one atomic batch and
// resets the overlay and journal. Committing with nothing staged is a no-op.
func (m *Manager) Commit() error {
	if len(m.overlay) == 0 {
		m.journal = m.journal[:0]
		return nil
	}
	ops := make([]storage.BatchOp, 0, len(m.overlay))
	for key, value := range m.overlay {
		ops = append(ops, storage.BatchOp{Key: []byte(key), Value: value})
	}
	if err := m.db.WriteBatch(ops); err != nil {
		return err
	}
	m.overlay = make(map[string][]byte)
	m.journal = m.journal[:0]
	return nil
}

func (m *Manager) readRaw(key []byte) ([]byte, bool, error) {
	if value, ok := m.overlay[string(key)]; ok {
		return value, true, nil
	}
	value, err := m.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (m *Manager) writeRaw(key []byte, value []byte) error {
	// Journal the pre-write overlay view so a revert restores exactly it. A
	// key not yet staged reverts by dropping its overlay entry, which exposes
	// the committed backend value again.
	if prev, staged := m.overlay[string(key)]; staged {
		m.journal = append(m.journal, journalEntry{key: string(key), prev: prev, existed: true})
	} else {
		m.journal = append(m.journal, journalEntry{key: string(key)})
	}
	m.overlay[string(key)] = append([]byte(nil), value...)
	return nil
}

// --- typed key-value helpers ---

// KVGet decodes the RLP value stored under key into out, reporting whether the
// key existed.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	raw, ok, err := m.readRaw(key)
	if err != nil || !ok {
		return false, err
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %q: %w", key, err)
	}
	return true, nil
}

// KVPut stores the RLP encoding of value under key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("state: encode %q: %w", key, err)
	}
	return m.writeRaw(key, encoded)
}

// KVAppend appends a pre-encoded element to the RLP list stored under key,
// creating the list when absent.
func (m *Manager) KVAppend(key []byte, value []byte) error {
	var list [][]byte
	if _, err := m.KVGet(key, &list); err != nil {
		return err
	}
	list = append(list, value)
	return m.KVPut(key, list)
}

// KVGetList decodes the stored list of raw elements into out.
func (m *Manager) KVGetList(key []byte, out *[][]byte) error {
	ok, err := m.KVGet(key, out)
	if err != nil {
		return err
	}
	if !ok {
		*out = nil
	}
	return nil
}

// --- accounts ---

type storedBalance struct {
	Asset  [32]byte
	Amount *big.Int
}

type storedAccount struct {
	Nonce    uint64
	Balances []storedBalance
}

func accountKey(id types.Identity) []byte {
	return append(append([]byte{}, accountPrefix...), id[:]...)
}

// GetAccount loads the account for the supplied identity, returning an empty
// account when none has been persisted yet.
func (m *Manager) GetAccount(id types.Identity) (*types.Account, error) {
	var stored storedAccount
	ok, err := m.KVGet(accountKey(id), &stored)
	if err != nil {
		return nil, err
	}
	account := types.NewAccount()
	if !ok {
		return account, nil
	}
	account.Nonce = stored.Nonce
	for _, bal := range stored.Balances {
		if bal.Amount == nil {
			continue
		}
		account.SetBalance(types.Identity(bal.Asset), bal.Amount)
	}
	return account, nil
}

// PutAccount persists the account under its identity key.
func (m *Manager) PutAccount(id types.Identity, account *types.Account) error {
	if account == nil {
		account = types.NewAccount()
	}
	stored := storedAccount{Nonce: account.Nonce}
	assets := make([]types.Identity, 0, len(account.Balances))
	for asset := range account.Balances {
		assets = append(assets, asset)
	}
	sort.Slice(assets, func(i, j int) bool {
		return string(assets[i][:]) < string(assets[j][:])
	})
	for _, asset := range assets {
		amount := account.Balance(asset)
		if amount.Sign() == 0 {
			continue
		}
		stored.Balances = append(stored.Balances, storedBalance{Asset: asset, Amount: new(big.Int).Set(amount)})
	}
	return m.KVPut(accountKey(id), stored)
}

// BalanceOf returns the balance a holder has in the supplied asset.
func (m *Manager) BalanceOf(holder, asset types.Identity) (*big.Int, error) {
	account, err := m.GetAccount(holder)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(account.Balance(asset)), nil
}

// Credit adds amount of asset to the holder, creating the account if absent.
func (m *Manager) Credit(holder, asset types.Identity, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	account, err := m.GetAccount(holder)
	if err != nil {
		return err
	}
	account.SetBalance(asset, new(big.Int).Add(account.Balance(asset), amount))
	return m.PutAccount(holder, account)
}

// Debit removes amount of asset from the holder, failing when the balance is
// insufficient.
func (m *Manager) Debit(holder, asset types.Identity, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if amount.Sign() < 0 {
		return ErrNegativeAmount
	}
	account, err := m.GetAccount(holder)
	if err != nil {
		return err
	}
	balance := account.Balance(asset)
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	account.SetBalance(asset, new(big.Int).Sub(balance, amount))
	return m.PutAccount(holder, account)
}

// Transfer moves amount of asset between two holders. The debit is applied
// first so a failed transfer leaves both accounts untouched.
func (m *Manager) Transfer(from, to, asset types.Identity, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	if err := m.Debit(from, asset, amount); err != nil {
		return err
	}
	return m.Credit(to, asset, amount)
}
