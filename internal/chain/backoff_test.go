package chain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_DoublesAndCaps(t *testing.T) {
	b := NewBackoff(time.Second, 32*time.Second)

	got := []time.Duration{b.Next(), b.Next(), b.Next(), b.Next(), b.Next(), b.Next(), b.Next()}
	want := []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		16 * time.Second, 32 * time.Second, 32 * time.Second,
	}
	assert.Equal(t, want, got)
}

func TestBackoff_ResetReturnsToBase(t *testing.T) {
	b := NewBackoff(time.Second, 32*time.Second)
	b.Next()
	b.Next()
	b.Reset()
	assert.Equal(t, time.Second, b.Next())
}
