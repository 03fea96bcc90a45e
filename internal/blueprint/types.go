// Package blueprint holds the manager's core data model: chain-derived
// blueprint descriptors and the in-memory Active Set of running children.
package blueprint

import (
	"fmt"
	"sync/atomic"
	"time"
)

// ID is a chain-assigned blueprint template identifier.
type ID uint64

// ServiceID identifies a concrete service instance of a blueprint.
type ServiceID uint64

// OperatorID is this operator's stable 32-byte account identifier on chain,
// derived as keccak256 of the operator's 20-byte EVM address.
type OperatorID [32]byte

func (o OperatorID) String() string { return fmt.Sprintf("%x", [32]byte(o)) }

// SourceKind enumerates the ways a blueprint's artifact may be distributed.
type SourceKind string

const (
	SourceNative    SourceKind = "native"
	SourceContainer SourceKind = "container"
	SourceWasm      SourceKind = "wasm"
)

// FetcherKind enumerates how a Native or Wasm artifact is retrieved.
type FetcherKind string

const (
	FetcherGithub FetcherKind = "github"
	FetcherIPFS   FetcherKind = "ipfs"
)

// BinaryAsset names one release asset for a specific (os, arch) pair.
type BinaryAsset struct {
	OS     string
	Arch   string
	Name   string
	SHA256 string
}

// Fetcher describes where to retrieve a Native or Wasm artifact from.
type Fetcher struct {
	Kind FetcherKind

	// Github fields.
	Owner    string
	Repo     string
	Tag      string
	Binaries []BinaryAsset

	// IPFS field.
	CID string
}

// Source describes a blueprint's distribution mechanism.
type Source struct {
	Kind SourceKind

	// Native / Wasm.
	Fetcher Fetcher
	Runtime string // Wasm only: the runtime identifier (e.g. "wasmtime").

	// Container.
	Registry string
	Image    string
	Tag      string
}

// Descriptor is the chain-sourced, read-only definition of a blueprint.
// Descriptors are never mutated in place: a change on chain produces a new
// Descriptor value under the same BlueprintID.
type Descriptor struct {
	BlueprintID ID
	Source      Source
	Services    []ServiceID
}

// HasService reports whether sid is among d's ordered service list.
func (d Descriptor) HasService(sid ServiceID) bool {
	for _, s := range d.Services {
		if s == sid {
			return true
		}
	}
	return false
}

// Substrate identifies which executor substrate is running an ActiveChild.
type Substrate string

const (
	SubstrateNative  Substrate = "native"
	SubstrateMicroVM Substrate = "microvm"
	SubstrateRemote  Substrate = "remote"
)

// ActiveChild is the manager's in-memory record of one running service
// instance. It is created by the Reconciler via a Spawner and torn down
// by the Reconciler once the Supervisor observes its death.
type ActiveChild struct {
	BlueprintID ID
	ServiceID   ServiceID
	Substrate   Substrate
	Endpoint    string
	StartedAt   time.Time

	alive atomic.Bool
	abort chan struct{}
}

// NewActiveChild constructs a live ActiveChild with a fresh abort channel.
func NewActiveChild(bid ID, sid ServiceID, substrate Substrate, endpoint string) *ActiveChild {
	c := &ActiveChild{
		BlueprintID: bid,
		ServiceID:   sid,
		Substrate:   substrate,
		Endpoint:    endpoint,
		StartedAt:   time.Now(),
		abort:       make(chan struct{}),
	}
	c.alive.Store(true)
	return c
}

// Alive reports whether the Supervisor still considers this child running.
func (c *ActiveChild) Alive() bool { return c.alive.Load() }

// MarkDead flips the liveness flag. Called exclusively by the Supervisor.
func (c *ActiveChild) MarkDead() { c.alive.Store(false) }

// Abort signals cooperative shutdown. The channel is closed at most once;
// a second call is a no-op rather than a panic, matching the Reconciler's "if the
// signal channel is already closed, log and continue" policy.
func (c *ActiveChild) Abort() (alreadyClosed bool) {
	select {
	case <-c.abort:
		return true
	default:
		close(c.abort)
		return false
	}
}

// Done returns the channel that closes when Abort is called.
func (c *ActiveChild) Done() <-chan struct{} { return c.abort }
