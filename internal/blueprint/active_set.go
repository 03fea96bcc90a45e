package blueprint

import "sync"

// Key identifies one entry in the Active Set.
type Key struct {
	BlueprintID ID
	ServiceID   ServiceID
}

// ActiveSet is the authoritative BlueprintID -> (ServiceID -> ActiveChild)
// map. All mutations are serialized by the reconcile loop (single writer);
// the mutex exists to let Supervisor and Auth Proxy goroutines read
// concurrently without tearing a map iteration.
type ActiveSet struct {
	mu       sync.RWMutex
	children map[ID]map[ServiceID]*ActiveChild
}

// NewActiveSet returns an empty Active Set.
func NewActiveSet() *ActiveSet {
	return &ActiveSet{children: make(map[ID]map[ServiceID]*ActiveChild)}
}

// Insert adds or replaces the child at (bid, sid). Enforces I1: at most one
// ActiveChild per (blueprint_id, service_id).
func (s *ActiveSet) Insert(child *ActiveChild) {
	s.mu.Lock()
	defer s.mu.Unlock()
	svcs, ok := s.children[child.BlueprintID]
	if !ok {
		svcs = make(map[ServiceID]*ActiveChild)
		s.children[child.BlueprintID] = svcs
	}
	svcs[child.ServiceID] = child
}

// Get returns the child at (bid, sid), if any.
func (s *ActiveSet) Get(bid ID, sid ServiceID) (*ActiveChild, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	svcs, ok := s.children[bid]
	if !ok {
		return nil, false
	}
	c, ok := svcs[sid]
	return c, ok
}

// Remove deletes the child at (bid, sid). Removing the last service of a
// blueprint removes the blueprint entry entirely.
func (s *ActiveSet) Remove(bid ID, sid ServiceID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	svcs, ok := s.children[bid]
	if !ok {
		return
	}
	delete(svcs, sid)
	if len(svcs) == 0 {
		delete(s.children, bid)
	}
}

// RemoveBlueprint deletes every child of bid.
func (s *ActiveSet) RemoveBlueprint(bid ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.children, bid)
}

// MarkDead flips the liveness flag for (bid, sid), if present.
func (s *ActiveSet) MarkDead(bid ID, sid ServiceID) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if svcs, ok := s.children[bid]; ok {
		if c, ok := svcs[sid]; ok {
			c.MarkDead()
		}
	}
}

// Snapshot returns a flat, point-in-time copy of every active child. Callers
// (Auth Proxy, tests) may read it freely without holding the ActiveSet lock;
// it reflects the map exactly as of the call, never a partial mutation.
func (s *ActiveSet) Snapshot() []*ActiveChild {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ActiveChild, 0)
	for _, svcs := range s.children {
		for _, c := range svcs {
			out = append(out, c)
		}
	}
	return out
}

// Len returns the total number of active children across all blueprints.
func (s *ActiveSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, svcs := range s.children {
		n += len(svcs)
	}
	return n
}

// Endpoint returns the forwarding address registered for (bid, sid), used by
// the Auth Proxy. Returns ("", false) if no live endpoint is registered.
func (s *ActiveSet) Endpoint(bid ID, sid ServiceID) (string, bool) {
	c, ok := s.Get(bid, sid)
	if !ok || !c.Alive() {
		return "", false
	}
	return c.Endpoint, true
}

// EndpointByService resolves a forwarding address from a service_id alone.
// Service ids are unique across the whole registry (a service_id names one
// instantiation of one blueprint), so credentials that carry only a
// service_id — as every Auth Proxy token shape does — can still resolve a
// child without knowing its blueprint_id.
func (s *ActiveSet) EndpointByService(sid ServiceID) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, svcs := range s.children {
		if c, ok := svcs[sid]; ok {
			if !c.Alive() {
				return "", false
			}
			return c.Endpoint, true
		}
	}
	return "", false
}
