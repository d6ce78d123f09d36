package store

import (
	"context"
	"encoding/json"
	"time"

	"clinicq/waitqueue-service/internal/models"
)

// QueueStore is the durable per-tenant collection of wait-queue
// entries. Every query and mutation is scoped by tenantID; the store
// never returns cross-tenant data.
type QueueStore interface {
	// CountCreatedSince counts entries created for the tenant at or
	// after the given instant, regardless of status.
	CountCreatedSince(ctx context.Context, tenantID string, since time.Time) (int, error)
	// FindByStatus returns the tenant's entries in any of the given
	// statuses, ordered by ascending rank.
	FindByStatus(ctx context.Context, tenantID string, statuses []string) ([]models.WaitQueueEntry, error)
	// FindOne fetches a single entry by id. When statuses is non-empty
	// the entry must currently hold one of them.
	FindOne(ctx context.Context, tenantID, entryID string, statuses []string) (models.WaitQueueEntry, bool, error)
	// FindActiveByPatient returns the patient's entry in an active
	// status, if any.
	FindActiveByPatient(ctx context.Context, tenantID, patientID string) (models.WaitQueueEntry, bool, error)
	// MaxRank returns the highest rank ever assigned for the tenant,
	// across all statuses, or 0 when the tenant has no entries. Ranks
	// are never reused, so closed entries count.
	MaxRank(ctx context.Context, tenantID string) (int64, error)
	Insert(ctx context.Context, entry models.WaitQueueEntry) (models.WaitQueueEntry, error)
	Save(ctx context.Context, entry models.WaitQueueEntry) (models.WaitQueueEntry, error)
	ListEntryEvents(ctx context.Context, tenantID, entryID string) ([]EntryEvent, error)
}

// SessionStore resolves management sessions created by the external
// auth service. This service only reads sessions, it never issues them.
type SessionStore interface {
	GetSession(ctx context.Context, sessionID string) (Session, error)
}

type Session struct {
	SessionID string
	UserID    string
	TenantID  string
	Role      string
	ExpiresAt time.Time
}

// EntryEvent is one audit record of an entry's status history. Entries
// are never deleted, so the event list is the full lifecycle.
type EntryEvent struct {
	EventID   string          `json:"event_id"`
	EntryID   string          `json:"entry_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}
