package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository persists the audit trail to PostgreSQL. The
// audit_entries table carries triggers rejecting UPDATE and DELETE.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a PostgresRepository backed by the given pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Insert implements Repository.
func (r *PostgresRepository) Insert(ctx context.Context, e *Entry) error {
	details := []byte("{}")
	if len(e.Details) > 0 {
		details = e.Details
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO audit_entries (id, actor_id, action, resource_type, resource_id, details, ts, origin_address)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.ActorID, e.Action, e.ResourceType,
		nullable(e.ResourceID), details, e.Timestamp, nullable(e.OriginAddress),
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// Query implements Repository. Empty filter fields match everything; the
// WHERE clause collapses them with OR short-circuits so a single statement
// serves every filter combination.
func (r *PostgresRepository) Query(ctx context.Context, f Filter) ([]*Entry, int64, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	where := `
		WHERE ($1 = '' OR actor_id = $1)
		  AND ($2 = '' OR action = $2)
		  AND ($3 = '' OR resource_type = $3)
		  AND ($4::timestamptz IS NULL OR ts >= $4)
		  AND ($5::timestamptz IS NULL OR ts < $5)`
	args := []any{f.ActorID, f.Action, f.ResourceType, nullableTime(f.From), nullableTime(f.To)}

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM audit_entries`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count audit entries: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, actor_id, action, resource_type, resource_id, details, ts, origin_address
		 FROM audit_entries`+where+`
		 ORDER BY ts DESC LIMIT $6 OFFSET $7`,
		append(args, limit, f.Offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var (
			e        Entry
			resource *string
			origin   *string
		)
		if err := rows.Scan(
			&e.ID, &e.ActorID, &e.Action, &e.ResourceType,
			&resource, &e.Details, &e.Timestamp, &origin,
		); err != nil {
			return nil, 0, fmt.Errorf("scan audit entry: %w", err)
		}
		if resource != nil {
			e.ResourceID = *resource
		}
		if origin != nil {
			e.OriginAddress = *origin
		}
		e.Timestamp = e.Timestamp.UTC()
		entries = append(entries, &e)
	}
	return entries, total, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
