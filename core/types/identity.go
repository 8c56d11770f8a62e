package types

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// Identity is the 32-byte public identifier used for every actor known to the
// settlement module: the admin, the bridge collector, the routing authority,
// asset mints, and recipients. The zero value is never a valid identity.
type Identity [32]byte

// IsZero reports whether the identity is unset.
func (id Identity) IsZero() bool {
	return id == Identity{}
}

// String returns the lowercase hex encoding of the identity.
func (id Identity) String() string {
	return hex.EncodeToString(id[:])
}

// ParseIdentity decodes a 64-character hex string into an Identity.
func ParseIdentity(raw string) (Identity, error) {
	trimmed := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "0x"))
	decoded, err := hex.DecodeString(trimmed)
	if err != nil {
		return Identity{}, fmt.Errorf("identity: invalid hex: %w", err)
	}
	if len(decoded) != len(Identity{}) {
		return Identity{}, fmt.Errorf("identity: expected %d bytes, got %d", len(Identity{}), len(decoded))
	}
	var id Identity
	copy(id[:], decoded)
	return id, nil
}

// MustIdentity parses a hex identity and panics on failure. Intended for
// fixtures and compile-time constants in tests.
func MustIdentity(raw string) Identity {
	id, err := ParseIdentity(raw)
	if err != nil {
		panic(err)
	}
	return id
}
