package journal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// appendLockKey is a stable PostgreSQL advisory lock key used to serialise
// concurrent Append calls. The value is arbitrary but must be consistent
// across all processes writing to the same journal.
const appendLockKey = int64(7_415_926_535)

// entryColumns is the scan order shared by every journal query.
const entryColumns = `seq, entry_type, reference_id, amount::text, tax_amount::text, payload, ts, actor_id, prev_digest, digest`

// PostgresStore persists the fiscal journal to PostgreSQL. It implements the
// Store interface. The journal_entries table additionally carries triggers
// rejecting UPDATE and DELETE as a second enforcement layer below this API.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	now    func() time.Time
}

// NewPostgresStore creates a PostgresStore backed by the given connection pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{
		pool:   pool,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Append implements Store.
// It acquires a transaction-scoped advisory lock, checks the entry timestamp
// against sealed closure bulletins, reads the chain tail, computes the new
// digest and inserts the row, all within a single transaction, so a bulletin
// sealing concurrently with an in-flight append cannot race the gate.
func (s *PostgresStore) Append(ctx context.Context, draft Draft) (*Entry, error) {
	if err := draft.Validate(); err != nil {
		return nil, err
	}
	draft = draft.normalize(s.now)

	payload, err := CanonicalJSON(draft.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDraft, err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, &StorageError{Op: "begin append tx", Err: err}
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	// Serialise concurrent appends with a transaction-scoped advisory lock.
	// The lock is released automatically when the transaction ends.
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", appendLockKey); err != nil {
		return nil, &StorageError{Op: "acquire append lock", Err: err}
	}

	// Sealed-period gate, inside the critical section.
	var sealed bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS(
			SELECT 1 FROM closure_bulletins
			WHERE sealed AND period_start <= $1 AND $1 < period_end
		)`, draft.Timestamp,
	).Scan(&sealed); err != nil {
		return nil, &StorageError{Op: "sealed-period check", Err: err}
	}
	if sealed {
		return nil, ErrPeriodSealed
	}

	// Read the current tail of the chain. An empty journal anchors at the
	// genesis digest with sequence 0.
	var prevSeq int64
	prevDigest := GenesisDigest
	err = tx.QueryRow(ctx,
		"SELECT seq, digest FROM journal_entries ORDER BY seq DESC LIMIT 1",
	).Scan(&prevSeq, &prevDigest)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, &StorageError{Op: "read chain tail", Err: err}
	}

	entry := &Entry{
		Sequence:    prevSeq + 1,
		Type:        draft.Type,
		ReferenceID: draft.ReferenceID,
		Amount:      draft.Amount,
		TaxAmount:   draft.TaxAmount,
		Payload:     payload,
		Timestamp:   draft.Timestamp,
		ActorID:     draft.ActorID,
		PrevDigest:  prevDigest,
	}
	entry.Digest = entryDigest(entry, prevDigest)

	if _, err := tx.Exec(ctx,
		`INSERT INTO journal_entries (seq, entry_type, reference_id, amount, tax_amount, payload, ts, actor_id, prev_digest, digest)
		 VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7, $8, $9, $10)`,
		entry.Sequence, entry.Type, nullable(entry.ReferenceID),
		entry.Amount.StringFixed(2), entry.TaxAmount.StringFixed(2),
		string(entry.Payload), entry.Timestamp, entry.ActorID,
		entry.PrevDigest, entry.Digest,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// Primary-key collision on seq: another writer bypassed the
			// advisory lock. Surface as a retryable conflict.
			return nil, ErrConflict
		}
		return nil, &StorageError{Op: "insert entry", Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, &StorageError{Op: "commit append tx", Err: err}
	}

	s.logger.Debug("journal entry appended",
		zap.Int64("seq", entry.Sequence),
		zap.String("type", string(entry.Type)),
		zap.String("digest", entry.Digest),
	)
	return entry, nil
}

// GetBySequence implements Store.
func (s *PostgresStore) GetBySequence(ctx context.Context, seq int64) (*Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM journal_entries WHERE seq = $1`, seq)
	if err != nil {
		return nil, &StorageError{Op: "get entry", Err: err}
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, &StorageError{Op: "get entry", Err: err}
		}
		return nil, ErrNotFound
	}
	return scanEntry(rows)
}

// GetRange implements Store.
func (s *PostgresStore) GetRange(ctx context.Context, from, to int64) ([]*Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM journal_entries
		 WHERE seq >= $1 AND seq <= $2 ORDER BY seq ASC`, from, to)
	if err != nil {
		return nil, &StorageError{Op: "query range", Err: err}
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &StorageError{Op: "query range", Err: err}
	}
	return entries, nil
}

// GetLast implements Store.
func (s *PostgresStore) GetLast(ctx context.Context) (*Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM journal_entries ORDER BY seq DESC LIMIT 1`)
	if err != nil {
		return nil, &StorageError{Op: "get tail", Err: err}
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, &StorageError{Op: "get tail", Err: err}
		}
		return nil, ErrNotFound
	}
	return scanEntry(rows)
}

// scanEntry reads one journal row. Amounts travel as text and are parsed into
// decimals; the payload column is text so the canonical bytes survive intact.
func scanEntry(rows pgx.Rows) (*Entry, error) {
	var (
		e         Entry
		reference *string
		amount    string
		tax       string
		payload   string
	)
	if err := rows.Scan(
		&e.Sequence, &e.Type, &reference, &amount, &tax,
		&payload, &e.Timestamp, &e.ActorID, &e.PrevDigest, &e.Digest,
	); err != nil {
		return nil, &StorageError{Op: "scan entry", Err: err}
	}
	if reference != nil {
		e.ReferenceID = *reference
	}

	var err error
	if e.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse amount for seq %d: %w", e.Sequence, err)
	}
	if e.TaxAmount, err = decimal.NewFromString(tax); err != nil {
		return nil, fmt.Errorf("parse tax amount for seq %d: %w", e.Sequence, err)
	}
	e.Payload = []byte(payload)
	e.Timestamp = e.Timestamp.UTC()
	return &e, nil
}

// nullable maps the empty string to SQL NULL.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
