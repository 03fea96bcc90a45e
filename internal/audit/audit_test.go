package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/tangle-network/blueprint-manager/internal/blueprint"
)

// MockRepository is a mock implementation of Repository for testing
// consumers (e.g. the reconcile loop's Audit hook) without a live
// Postgres connection.
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Record(ctx context.Context, action string, bid blueprint.ID, sid blueprint.ServiceID, detail string) error {
	args := m.Called(ctx, action, bid, sid, detail)
	return args.Error(0)
}

func (m *MockRepository) List(ctx context.Context, q Query) ([]Entry, error) {
	args := m.Called(ctx, q)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]Entry), args.Error(1)
}

func TestMockRepository_RecordCalledWithExpectedArgs(t *testing.T) {
	repo := new(MockRepository)
	repo.On("Record", mock.Anything, "kill", blueprint.ID(7), blueprint.ServiceID(42), "expired").Return(nil)

	err := repo.Record(context.Background(), "kill", 7, 42, "expired")
	assert.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestMockRepository_ListReturnsEntries(t *testing.T) {
	repo := new(MockRepository)
	now := time.Now()
	want := []Entry{{ID: 1, OccurredAt: now, Action: "spawn", BlueprintID: 1, ServiceID: 1}}

	repo.On("List", mock.Anything, mock.AnythingOfType("Query")).Return(want, nil)

	got, err := repo.List(context.Background(), Query{Limit: 10})
	assert.NoError(t, err)
	assert.Equal(t, want, got)
}

var _ Repository = (*MockRepository)(nil)
