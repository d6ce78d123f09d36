package hub

import (
	"context"
	"encoding/json"
	"expvar"
	"log"
	"time"

	"clinicq/waitqueue-service/internal/models"
	"clinicq/waitqueue-service/internal/queue"
)

var broadcastErrors = expvar.NewInt("broadcast_errors_total")

// QueueReader is the slice of the engine the broadcaster needs.
type QueueReader interface {
	GetQueue(ctx context.Context, tenantID string) ([]models.WaitQueueEntry, error)
}

// Broadcaster consumes engine events and fans the refreshed queue out
// to the tenant's room. It only ever reads queue state; a failed
// re-read or push is logged and dropped, never surfaced to the
// mutation that triggered it.
type Broadcaster struct {
	hub     *Hub
	reader  QueueReader
	events  <-chan queue.Event
	timeout time.Duration
	now     func() time.Time
}

type envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

type queueUpdatedPayload struct {
	TenantID string                  `json:"tenant_id"`
	Entries  []models.WaitQueueEntry `json:"entries"`
}

type ticketCalledPayload struct {
	TenantID     string `json:"tenant_id"`
	EntryID      string `json:"entry_id"`
	TicketNumber string `json:"ticket_number"`
	Status       string `json:"status"`
}

func NewBroadcaster(h *Hub, reader QueueReader, events <-chan queue.Event) *Broadcaster {
	return &Broadcaster{
		hub:     h,
		reader:  reader,
		events:  events,
		timeout: 5 * time.Second,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Run blocks until the context is cancelled or the event channel
// closes.
func (b *Broadcaster) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-b.events:
			if !ok {
				return
			}
			b.handle(event)
		}
	}
}

func (b *Broadcaster) handle(event queue.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	entries, err := b.reader.GetQueue(ctx, event.TenantID)
	if err != nil {
		broadcastErrors.Add(1)
		log.Printf("broadcast snapshot error tenant=%s: %v", event.TenantID, err)
		return
	}
	if entries == nil {
		entries = []models.WaitQueueEntry{}
	}

	b.push(event.TenantID, "queue-updated", queueUpdatedPayload{
		TenantID: event.TenantID,
		Entries:  entries,
	})

	// Derived convenience message for display boards; the snapshot
	// above remains the authoritative state.
	for _, entry := range entries {
		if entry.Status != models.StatusCalled && entry.Status != models.StatusServing {
			continue
		}
		b.push(event.TenantID, "ticket-called", ticketCalledPayload{
			TenantID:     entry.TenantID,
			EntryID:      entry.EntryID,
			TicketNumber: entry.TicketNumber,
			Status:       entry.Status,
		})
		break
	}
}

func (b *Broadcaster) push(tenantID, eventType string, payload interface{}) {
	raw, err := json.Marshal(payload)
	if err != nil {
		broadcastErrors.Add(1)
		log.Printf("broadcast marshal error tenant=%s type=%s: %v", tenantID, eventType, err)
		return
	}
	message, err := json.Marshal(envelope{Type: eventType, Payload: raw, CreatedAt: b.now()})
	if err != nil {
		broadcastErrors.Add(1)
		log.Printf("broadcast marshal error tenant=%s type=%s: %v", tenantID, eventType, err)
		return
	}
	b.hub.Broadcast(tenantID, message)
}
