package audit

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no audit entry matches a lookup.
var ErrNotFound = errors.New("audit: entry not found")

// Entry is one immutable record of a privileged action. Entries are
// append-only and timestamped but, unlike journal entries, not hash-chained.
type Entry struct {
	ID            uuid.UUID       `json:"id"`
	ActorID       string          `json:"actor_id"`
	Action        string          `json:"action"`
	ResourceType  string          `json:"resource_type"`
	ResourceID    string          `json:"resource_id,omitempty"`
	Details       json.RawMessage `json:"details,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	OriginAddress string          `json:"origin_address,omitempty"`
}

// Draft is the caller-supplied half of an Entry. ID and Timestamp are
// server-assigned at record time.
type Draft struct {
	ActorID       string
	Action        string
	ResourceType  string
	ResourceID    string
	Details       any
	OriginAddress string
}

// Filter narrows an audit query. Zero values match everything.
type Filter struct {
	ActorID      string
	Action       string
	ResourceType string
	From         time.Time
	To           time.Time
	Limit        int
	Offset       int
}

// Page is one page of audit query results plus the total match count.
type Page struct {
	Entries []*Entry `json:"entries"`
	Total   int64    `json:"total"`
	Limit   int      `json:"limit"`
	Offset  int      `json:"offset"`
}
