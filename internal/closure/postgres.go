package closure

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const bulletinColumns = `id, period_start, period_end, closure_type,
	gross_total::text, tax_total::text, refund_total::text,
	entry_count, first_seq, last_seq, digest, sealed, created_at, sealed_at`

// PostgresRepository persists closure bulletins to PostgreSQL. Sealed rows are
// additionally protected by a trigger rejecting UPDATE and DELETE, a second
// enforcement layer below this API.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a PostgresRepository backed by the given pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Create implements Repository.
func (r *PostgresRepository) Create(ctx context.Context, b *Bulletin) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO closure_bulletins (
			id, period_start, period_end, closure_type,
			gross_total, tax_total, refund_total,
			entry_count, first_seq, last_seq, digest, sealed, created_at
		) VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric, $8, $9, $10, $11, $12, $13)`,
		b.ID, b.PeriodStart, b.PeriodEnd, b.Type,
		b.Aggregates.GrossTotal.StringFixed(2),
		b.Aggregates.TaxTotal.StringFixed(2),
		b.Aggregates.RefundTotal.StringFixed(2),
		b.Aggregates.EntryCount, b.Aggregates.FirstSequence, b.Aggregates.LastSequence,
		b.Digest, b.Sealed, b.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert bulletin: %w", err)
	}
	return nil
}

// Get implements Repository.
func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (*Bulletin, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+bulletinColumns+` FROM closure_bulletins WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("get bulletin: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("get bulletin: %w", err)
		}
		return nil, ErrNotFound
	}
	return scanBulletin(rows)
}

// UpdateAggregates implements Repository. The WHERE clause refuses to touch
// sealed rows, so recomputation after sealing is rejected atomically.
func (r *PostgresRepository) UpdateAggregates(ctx context.Context, id uuid.UUID, agg Aggregates) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE closure_bulletins SET
			gross_total = $2::numeric, tax_total = $3::numeric, refund_total = $4::numeric,
			entry_count = $5, first_seq = $6, last_seq = $7
		 WHERE id = $1 AND NOT sealed`,
		id,
		agg.GrossTotal.StringFixed(2), agg.TaxTotal.StringFixed(2), agg.RefundTotal.StringFixed(2),
		agg.EntryCount, agg.FirstSequence, agg.LastSequence,
	)
	if err != nil {
		return fmt.Errorf("update aggregates: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish missing from sealed.
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
		return ErrAlreadySealed
	}
	return nil
}

// Seal implements Repository.
func (r *PostgresRepository) Seal(ctx context.Context, id uuid.UUID, digest string, sealedAt time.Time) (*Bulletin, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE closure_bulletins SET sealed = true, digest = $2, sealed_at = $3
		 WHERE id = $1 AND NOT sealed`,
		id, digest, sealedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("seal bulletin: %w", err)
	}
	if tag.RowsAffected() == 0 {
		b, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if b.Sealed {
			return nil, ErrAlreadySealed
		}
		return nil, fmt.Errorf("seal bulletin %s: no row updated", id)
	}
	return r.Get(ctx, id)
}

// ListSealedCovering implements Repository.
func (r *PostgresRepository) ListSealedCovering(ctx context.Context, ts time.Time) ([]*Bulletin, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+bulletinColumns+` FROM closure_bulletins
		 WHERE sealed AND period_start <= $1 AND $1 < period_end`, ts)
	if err != nil {
		return nil, fmt.Errorf("list sealed bulletins: %w", err)
	}
	defer rows.Close()

	var out []*Bulletin
	for rows.Next() {
		b, err := scanBulletin(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBulletin(rows pgx.Rows) (*Bulletin, error) {
	var (
		b      Bulletin
		gross  string
		tax    string
		refund string
		digest *string
	)
	if err := rows.Scan(
		&b.ID, &b.PeriodStart, &b.PeriodEnd, &b.Type,
		&gross, &tax, &refund,
		&b.Aggregates.EntryCount, &b.Aggregates.FirstSequence, &b.Aggregates.LastSequence,
		&digest, &b.Sealed, &b.CreatedAt, &b.SealedAt,
	); err != nil {
		return nil, fmt.Errorf("scan bulletin: %w", err)
	}
	if digest != nil {
		b.Digest = *digest
	}

	var err error
	if b.Aggregates.GrossTotal, err = decimal.NewFromString(gross); err != nil {
		return nil, fmt.Errorf("parse gross total: %w", err)
	}
	if b.Aggregates.TaxTotal, err = decimal.NewFromString(tax); err != nil {
		return nil, fmt.Errorf("parse tax total: %w", err)
	}
	if b.Aggregates.RefundTotal, err = decimal.NewFromString(refund); err != nil {
		return nil, fmt.Errorf("parse refund total: %w", err)
	}
	b.PeriodStart = b.PeriodStart.UTC()
	b.PeriodEnd = b.PeriodEnd.UTC()
	b.CreatedAt = b.CreatedAt.UTC()
	if b.SealedAt != nil {
		t := b.SealedAt.UTC()
		b.SealedAt = &t
	}
	return &b, nil
}
