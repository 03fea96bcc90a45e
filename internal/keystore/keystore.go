// Package keystore adapts the operator's key material to the thin
// capability set the core actually needs: generate, insert, get-secret,
// first-local, and list-local, each parameterized by key type. Storage
// backends (filesystem, hardware token, remote signer) are external
// collaborators; this package only defines the capability and ships one
// concrete filesystem-backed implementation so the daemon has something
// to run against out of the box.
package keystore

import (
	"fmt"
)

// KeyType names a supported key algorithm.
type KeyType string

const (
	// KeyTypeECDSA is the secp256k1 key the manager uses for chain
	// transactions and Auth Proxy challenge signatures.
	KeyTypeECDSA KeyType = "ecdsa"
	// KeyTypeBN254 is named by the CLI surface but has no verifier or
	// keypair backend anywhere in the example corpus; Capability
	// implementations reject it explicitly rather than silently treating
	// it as ECDSA.
	KeyTypeBN254 KeyType = "bn254"
)

// ErrUnsupportedKeyType is returned by any Capability method for a
// KeyType it cannot back.
var ErrUnsupportedKeyType = fmt.Errorf("keystore: unsupported key type")

// Capability is the adapter surface the core depends on. It mirrors the
// manager's keystore capability set: generate<K>, insert<K>,
// get_secret<K>, first_local<K>, list_local<K>.
type Capability interface {
	// Generate creates a new key of the given type under name and
	// returns its public key.
	Generate(keyType KeyType, name string) ([]byte, error)
	// Insert imports an externally generated secret under name.
	Insert(keyType KeyType, name string, secret []byte) error
	// GetSecret returns the raw secret material for name. Callers are
	// expected to hold it for the shortest possible time.
	GetSecret(keyType KeyType, name string) ([]byte, error)
	// FirstLocal returns the name and public key of an arbitrary local
	// key of the given type, for callers (like the Registration
	// co-routine) that just need "the operator's key" without caring
	// which name it was stored under.
	FirstLocal(keyType KeyType) (name string, pubKey []byte, err error)
	// ListLocal enumerates the names of all locally stored keys of the
	// given type.
	ListLocal(keyType KeyType) ([]string, error)
}
