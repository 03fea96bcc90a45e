package remote

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tangle-network/blueprint-manager/internal/blueprint"
	apierrors "github.com/tangle-network/blueprint-manager/internal/pkg/errors"
)

// DeploymentRecord is the durable state the manager keeps for a remote
// instance so it can reconcile after a restart without re-provisioning.
type DeploymentRecord struct {
	BlueprintID blueprint.ID        `json:"blueprint_id"`
	ServiceID   blueprint.ServiceID `json:"service_id"`
	Provider    string              `json:"provider"`
	InstanceID  string              `json:"instance_id"`
	Endpoint    string              `json:"endpoint"`
	CreatedAt   time.Time           `json:"created_at"`
	ExpiresAt   time.Time           `json:"expires_at"`
}

// Expired reports whether the record has outlived its TTL as of now.
func (r DeploymentRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

func recordKey(bid blueprint.ID, sid blueprint.ServiceID) string {
	return fmt.Sprintf("%d-%d", bid, sid)
}

// RecordStore persists DeploymentRecords to a JSON file on disk, one file
// per manager instance. It is not a database: record counts are expected
// to stay in the hundreds, so the whole table is rewritten on every
// mutation.
type RecordStore struct {
	mu   sync.Mutex
	path string
	data map[string]DeploymentRecord
}

// OpenRecordStore loads path if it exists, or starts empty.
func OpenRecordStore(path string) (*RecordStore, error) {
	s := &RecordStore{path: path, data: make(map[string]DeploymentRecord)}

	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, apierrors.New(apierrors.ProvisionFailed, "read deployment record store").WithCause(err)
	}
	if len(b) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(b, &s.data); err != nil {
		return nil, apierrors.New(apierrors.ProvisionFailed, "decode deployment record store").WithCause(err)
	}
	return s, nil
}

// Put inserts or replaces a record and flushes to disk.
func (s *RecordStore) Put(rec DeploymentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[recordKey(rec.BlueprintID, rec.ServiceID)] = rec
	return s.flushLocked()
}

// Get returns the record for (bid, sid), if present.
func (s *RecordStore) Get(bid blueprint.ID, sid blueprint.ServiceID) (DeploymentRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.data[recordKey(bid, sid)]
	return r, ok
}

// Delete removes the record for (bid, sid), if present, and flushes.
func (s *RecordStore) Delete(bid blueprint.ID, sid blueprint.ServiceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, recordKey(bid, sid))
	return s.flushLocked()
}

// Expired returns every record whose TTL has passed as of now.
func (s *RecordStore) Expired(now time.Time) []DeploymentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []DeploymentRecord
	for _, r := range s.data {
		if r.Expired(now) {
			out = append(out, r)
		}
	}
	return out
}

// All returns every tracked record.
func (s *RecordStore) All() []DeploymentRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DeploymentRecord, 0, len(s.data))
	for _, r := range s.data {
		out = append(out, r)
	}
	return out
}

func (s *RecordStore) flushLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return apierrors.New(apierrors.ProvisionFailed, "create record store dir").WithCause(err)
	}
	b, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return apierrors.New(apierrors.ProvisionFailed, "encode deployment record store").WithCause(err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return apierrors.New(apierrors.ProvisionFailed, "write deployment record store").WithCause(err)
	}
	return os.Rename(tmp, s.path)
}
