package audit

import "context"

// Repository is the persistence boundary for the audit trail. Insert-only:
// no update or delete operation exists for recorded entries.
type Repository interface {
	// Insert persists a fully populated entry.
	Insert(ctx context.Context, e *Entry) error

	// Query returns the entries matching the filter, newest first, plus the
	// total match count ignoring pagination.
	Query(ctx context.Context, f Filter) ([]*Entry, int64, error)
}
