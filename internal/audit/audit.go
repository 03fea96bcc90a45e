// Package audit records every Kill/Spawn reconcile decision to a durable
// trail, for operators who need to answer "why did this service
// restart" after the fact.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tangle-network/blueprint-manager/internal/blueprint"
)

// Entry is one recorded reconcile decision.
type Entry struct {
	ID          int64
	OccurredAt  time.Time
	Action      string
	BlueprintID blueprint.ID
	ServiceID   blueprint.ServiceID
	Detail      string
}

// Query filters a List call. Zero-valued fields are unfiltered.
type Query struct {
	BlueprintID *blueprint.ID
	ServiceID   *blueprint.ServiceID
	Action      *string
	Since       *time.Time
	Limit       int
}

// Repository is the interface the reconcile loop's Audit hook and any
// reporting surface depend on.
type Repository interface {
	Record(ctx context.Context, action string, bid blueprint.ID, sid blueprint.ServiceID, detail string) error
	List(ctx context.Context, q Query) ([]Entry, error)
}

type repo struct {
	pool *pgxpool.Pool
}

// NewRepository wraps pool as a Repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repo{pool: pool}
}

// Record inserts one audit_log row.
func (r *repo) Record(ctx context.Context, action string, bid blueprint.ID, sid blueprint.ServiceID, detail string) error {
	const query = `
		INSERT INTO audit_log (action, blueprint_id, service_id, detail)
		VALUES ($1, $2, $3, $4)`
	_, err := r.pool.Exec(ctx, query, action, uint64(bid), uint64(sid), detail)
	return err
}

// List retrieves audit entries matching q, most recent first.
func (r *repo) List(ctx context.Context, q Query) ([]Entry, error) {
	query := `
		SELECT id, occurred_at, action, blueprint_id, service_id, detail
		FROM audit_log WHERE 1=1`

	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.BlueprintID != nil {
		query += ` AND blueprint_id = ` + arg(uint64(*q.BlueprintID))
	}
	if q.ServiceID != nil {
		query += ` AND service_id = ` + arg(uint64(*q.ServiceID))
	}
	if q.Action != nil {
		query += ` AND action = ` + arg(*q.Action)
	}
	if q.Since != nil {
		query += ` AND occurred_at >= ` + arg(*q.Since)
	}

	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query += ` ORDER BY occurred_at DESC LIMIT ` + arg(limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e           Entry
			blueprintID uint64
			serviceID   uint64
		)
		if err := rows.Scan(&e.ID, &e.OccurredAt, &e.Action, &blueprintID, &serviceID, &e.Detail); err != nil {
			return nil, err
		}
		e.BlueprintID = blueprint.ID(blueprintID)
		e.ServiceID = blueprint.ServiceID(serviceID)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
