package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tangle-network/blueprint-manager/internal/blueprint"
	"github.com/tangle-network/blueprint-manager/internal/reconcile"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSupervisor_MarksDeadWhenWatchReturns(t *testing.T) {
	active := blueprint.NewActiveSet()
	child := blueprint.NewActiveChild(1, 1, blueprint.SubstrateNative, "127.0.0.1:1")
	active.Insert(child)

	s := New(active, discardLogger())
	result := &reconcile.SpawnResult{
		Watch:    func(ctx context.Context) error { return errors.New("process exited") },
		TearDown: func(ctx context.Context) error { return nil },
	}

	s.Watch(context.Background(), child, result)
	s.Wait()

	assert.False(t, child.Alive())
}

func TestSupervisor_TearsDownOnAbort(t *testing.T) {
	active := blueprint.NewActiveSet()
	child := blueprint.NewActiveChild(1, 1, blueprint.SubstrateNative, "127.0.0.1:1")
	active.Insert(child)

	torn := make(chan struct{})
	result := &reconcile.SpawnResult{
		Watch: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
		TearDown: func(ctx context.Context) error {
			close(torn)
			return nil
		},
	}

	s := New(active, discardLogger())
	s.Watch(context.Background(), child, result)

	child.Abort()

	select {
	case <-torn:
	case <-time.After(2 * time.Second):
		t.Fatal("teardown was not invoked after abort")
	}

	s.Wait()
	assert.False(t, child.Alive())
}

func TestSupervisor_DoesNotDoubleWatchSameChild(t *testing.T) {
	active := blueprint.NewActiveSet()
	child := blueprint.NewActiveChild(1, 1, blueprint.SubstrateNative, "127.0.0.1:1")
	active.Insert(child)

	calls := 0
	result := &reconcile.SpawnResult{
		Watch: func(ctx context.Context) error {
			calls++
			<-ctx.Done()
			return ctx.Err()
		},
		TearDown: func(ctx context.Context) error { return nil },
	}

	s := New(active, discardLogger())
	s.Watch(context.Background(), child, result)
	s.Watch(context.Background(), child, result)

	child.Abort()
	s.Wait()

	require.Equal(t, 1, calls)
}
