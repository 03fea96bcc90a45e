package chain

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/tangle-network/blueprint-manager/internal/blueprint"
)

// EventKind enumerates the registry log topics the manager decodes.
type EventKind string

const (
	EventRegistered         EventKind = "Registered"
	EventUnregistered       EventKind = "Unregistered"
	EventServiceInitiated   EventKind = "ServiceInitiated"
	EventJobCalled          EventKind = "JobCalled"
	EventJobResultSubmitted EventKind = "JobResultSubmitted"
)

// RawEvent is a single decoded registry log.
type RawEvent struct {
	Kind        EventKind
	Operator    common.Address
	BlueprintID blueprint.ID
	ServiceID   blueprint.ServiceID
	Job         uint8
}

// TangleEvent is the manager's lazy, single-consumer stream element. Per the
// Event Stream contract, CurrentBlueprints is always the FULL set of
// blueprints this operator is bound to as of Number, never a delta — this
// keeps the Reconciler stateless in chain history.
type TangleEvent struct {
	Number            uint64
	Events            []RawEvent
	CurrentBlueprints []BlueprintSnapshot
}

// BlueprintSnapshot is one operator-bound blueprint as read from the
// registry's view functions at Number.
type BlueprintSnapshot struct {
	Descriptor blueprint.Descriptor
	Services   []blueprint.ServiceID
}
