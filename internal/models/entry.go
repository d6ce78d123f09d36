package models

import "time"

// WaitQueueEntry is one visitor's claim on a tenant's walk-in queue.
// Rank orders waiting entries; TicketNumber is the label shown to the
// visitor and resets per tenant each day.
type WaitQueueEntry struct {
	EntryID        string     `json:"entry_id"`
	TenantID       string     `json:"tenant_id,omitempty"`
	PatientID      *string    `json:"patient_id,omitempty"`
	PractitionerID *string    `json:"practitioner_id,omitempty"`
	Priority       string     `json:"priority"`
	Reason         string     `json:"reason"`
	Rank           int64      `json:"rank"`
	TicketNumber   string     `json:"ticket_number"`
	Status         string     `json:"status"`
	CreatedAt      time.Time  `json:"created_at"`
	CalledAt       *time.Time `json:"called_at,omitempty"`
	ServedAt       *time.Time `json:"served_at,omitempty"`
}

const (
	StatusWaiting   = "waiting"
	StatusCalled    = "called"
	StatusServing   = "serving"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// Priority is advisory only: call order is FIFO by rank regardless of
// the value stored here.
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

const DefaultReason = "Consultation"

// ActiveStatuses are the non-terminal states an entry occupies while it
// is still part of the visible queue.
var ActiveStatuses = []string{StatusWaiting, StatusCalled, StatusServing}

func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusCancelled
}

func ValidPriority(priority string) bool {
	switch priority {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	default:
		return false
	}
}
