package types

import "math/big"

// Account stores per-identity asset balances. Balances are keyed by the asset
// mint identity; missing entries are treated as zero. Accounts are created on
// first credit so recipients that never touched an asset can still receive
// refunds.
type Account struct {
	Nonce    uint64
	Balances map[Identity]*big.Int
}

// NewAccount returns an empty account with an initialised balance map.
func NewAccount() *Account {
	return &Account{Balances: make(map[Identity]*big.Int)}
}

// Balance returns the balance held for the supplied asset. The returned value
// is the stored pointer; callers that mutate it must go through SetBalance.
func (a *Account) Balance(asset Identity) *big.Int {
	if a == nil || a.Balances == nil {
		return big.NewInt(0)
	}
	bal, ok := a.Balances[asset]
	if !ok || bal == nil {
		return big.NewInt(0)
	}
	return bal
}

// SetBalance records the balance for the supplied asset, dropping zero entries
// to keep serialised accounts compact.
func (a *Account) SetBalance(asset Identity, amount *big.Int) {
	if a == nil {
		return
	}
	if a.Balances == nil {
		a.Balances = make(map[Identity]*big.Int)
	}
	if amount == nil || amount.Sign() == 0 {
		delete(a.Balances, asset)
		return
	}
	a.Balances[asset] = new(big.Int).Set(amount)
}

// Clone returns a deep copy of the account so callers can safely mutate the
// copy without affecting the stored instance.
func (a *Account) Clone() *Account {
	if a == nil {
		return NewAccount()
	}
	clone := &Account{Nonce: a.Nonce, Balances: make(map[Identity]*big.Int, len(a.Balances))}
	for asset, bal := range a.Balances {
		if bal != nil {
			clone.Balances[asset] = new(big.Int).Set(bal)
		}
	}
	return clone
}
