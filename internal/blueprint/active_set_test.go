package blueprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActiveSet_InsertGetRemove(t *testing.T) {
	s := NewActiveSet()
	child := NewActiveChild(7, 42, SubstrateNative, "127.0.0.1:9001")

	s.Insert(child)
	got, ok := s.Get(7, 42)
	require.True(t, ok)
	assert.Same(t, child, got)
	assert.Equal(t, 1, s.Len())

	s.Remove(7, 42)
	_, ok = s.Get(7, 42)
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
}

func TestActiveSet_RemovingLastServiceRemovesBlueprint(t *testing.T) {
	s := NewActiveSet()
	s.Insert(NewActiveChild(7, 42, SubstrateNative, "a"))
	s.Insert(NewActiveChild(7, 43, SubstrateNative, "b"))

	s.Remove(7, 42)
	assert.Equal(t, 1, s.Len())

	s.Remove(7, 43)
	assert.Equal(t, 0, s.Len())

	snap := s.Snapshot()
	assert.Empty(t, snap)
}

func TestActiveSet_MarkDeadAndEndpoint(t *testing.T) {
	s := NewActiveSet()
	child := NewActiveChild(7, 42, SubstrateNative, "127.0.0.1:9001")
	s.Insert(child)

	ep, ok := s.Endpoint(7, 42)
	require.True(t, ok)
	assert.Equal(t, "127.0.0.1:9001", ep)

	s.MarkDead(7, 42)
	_, ok = s.Endpoint(7, 42)
	assert.False(t, ok, "a dead child must not resolve to a forwarding endpoint")
}

func TestActiveSet_EndpointByService(t *testing.T) {
	s := NewActiveSet()
	s.Insert(NewActiveChild(7, 42, SubstrateNative, "127.0.0.1:9001"))

	ep, ok := s.EndpointByService(42)
	require.True(t, ok)
	assert.Equal(t, "127.0.0.1:9001", ep)

	_, ok = s.EndpointByService(999)
	assert.False(t, ok, "unknown service ids must not resolve")
}

func TestActiveSet_EndpointByServiceExcludesDead(t *testing.T) {
	s := NewActiveSet()
	s.Insert(NewActiveChild(7, 42, SubstrateNative, "127.0.0.1:9001"))
	s.MarkDead(7, 42)

	_, ok := s.EndpointByService(42)
	assert.False(t, ok, "a dead child must not resolve to a forwarding endpoint")
}

func TestActiveChild_AbortIsIdempotent(t *testing.T) {
	c := NewActiveChild(1, 1, SubstrateNative, "x")
	alreadyClosed := c.Abort()
	assert.False(t, alreadyClosed)

	alreadyClosed = c.Abort()
	assert.True(t, alreadyClosed)

	select {
	case <-c.Done():
	default:
		t.Fatal("Done channel should be closed after Abort")
	}
}
