package router

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"superswap/core/types"
)

var (
	// ErrProgramMismatch is returned when the requested target differs from the
	// authority the invoker was configured with.
	ErrProgramMismatch = errors.New("router: target is not the configured routing authority")
	// ErrProgramUnknown is returned when no program is registered for the target.
	ErrProgramUnknown = errors.New("router: no program registered for target")
	// ErrNilProgram is returned when a nil program is registered.
	ErrNilProgram = errors.New("router: program must not be nil")
)

// AccountHandle is one caller-supplied resource handle forwarded to the routing
// authority. The settlement engine never interprets handles; only the routing
// program is expected to understand them.
type AccountHandle struct {
	ID       types.Identity `json:"id"`
	Signer   bool           `json:"signer"`
	Writable bool           `json:"writable"`
}

// Invocation is the sub-call issued against a routing program. Payload is
// forwarded verbatim; Amount is the swap input the caller expects the program
// to consume. Authority carries the engine's scoped signing identity so the
// program can move assets out of the engine's holding account.
type Invocation struct {
	Program   types.Identity
	Amount    uint64
	Payload   []byte
	Accounts  []AccountHandle
	Authority types.Identity
}

// ProgramState is the slice of state a routing program may operate on during a
// sub-call.
type ProgramState interface {
	BalanceOf(holder, asset types.Identity) (*big.Int, error)
	Transfer(from, to, asset types.Identity, amount *big.Int) error
	Credit(holder, asset types.Identity, amount *big.Int) error
	Debit(holder, asset types.Identity, amount *big.Int) error
}

// Program is an in-unit routing authority. Execute runs synchronously inside
// the caller's unit; an error return must leave no observable state changes
// behind (the caller reverts its snapshot on failure regardless).
type Program interface {
	Execute(st ProgramState, inv Invocation) error
}

// Registry maps routing-authority identities to their programs.
type Registry struct {
	mu       sync.RWMutex
	programs map[types.Identity]Program
}

// NewRegistry constructs an empty program registry.
func NewRegistry() *Registry {
	return &Registry{programs: make(map[types.Identity]Program)}
}

// Register binds a program to its identity. Re-registering an identity
// replaces the previous program.
func (r *Registry) Register(id types.Identity, program Program) error {
	if program == nil {
		return ErrNilProgram
	}
	if id.IsZero() {
		return fmt.Errorf("router: program identity required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.programs[id] = program
	return nil
}

// Lookup resolves the program registered for the identity.
func (r *Registry) Lookup(id types.Identity) (Program, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	program, ok := r.programs[id]
	return program, ok
}

// Invoker issues sub-calls against a single configured routing authority. The
// target check is the sole control preventing an order's payload from
// redirecting execution to an arbitrary program.
type Invoker struct {
	registry  *Registry
	authority types.Identity
}

// NewInvoker constructs an invoker bound to the registry. The signing identity
// is derived from a fixed seed: it belongs to the module itself and no external
// actor holds a key for it.
func NewInvoker(registry *Registry) *Invoker {
	return &Invoker{registry: registry, authority: DeriveAuthority()}
}

// Authority returns the derived signing identity attached to every sub-call.
func (i *Invoker) Authority() types.Identity {
	return i.authority
}

// Invoke validates the target against the configured routing authority and
// dispatches the sub-call. The payload and handles pass through untouched.
func (i *Invoker) Invoke(st ProgramState, configured, target types.Identity, amount uint64, payload []byte, accounts []AccountHandle) error {
	if target != configured || configured.IsZero() {
		return ErrProgramMismatch
	}
	program, ok := i.registry.Lookup(target)
	if !ok {
		return ErrProgramUnknown
	}
	inv := Invocation{
		Program:   target,
		Amount:    amount,
		Payload:   append([]byte(nil), payload...),
		Accounts:  append([]AccountHandle(nil), accounts...),
		Authority: i.authority,
	}
	return program.Execute(st, inv)
}

// authoritySeed anchors the derived signing identity. Changing it would orphan
// any balances held under the previous authority.
const authoritySeed = "superswap/routing-authority/v1"

// DeriveAuthority computes the deterministic, authority-less signing identity
// used for router sub-calls.
func DeriveAuthority() types.Identity {
	return types.Identity(ethcrypto.Keccak256Hash([]byte(authoritySeed)))
}
