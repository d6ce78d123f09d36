package queue

import (
	"context"
	"expvar"
	"log"
	"sort"
	"sync"
	"time"

	"clinicq/waitqueue-service/internal/models"
	"clinicq/waitqueue-service/internal/store"

	"github.com/google/uuid"
)

var eventsDropped = expvar.NewInt("events_dropped_total")

const EventQueueChanged = "queue.changed"

// Event is published after every successful mutation. Consumers read
// the refreshed queue themselves; the entry here is only the one the
// triggering operation touched.
type Event struct {
	TenantID   string
	Type       string
	Entry      models.WaitQueueEntry
	OccurredAt time.Time
}

// Engine owns the wait-queue entry lifecycle for all tenants. Every
// read-modify-write operation runs under a per-tenant mutex, so rank
// assignment and the single-active-ticket rule cannot race within the
// process; the store's unique indexes cover writers outside it.
type Engine struct {
	store     store.QueueStore
	sequencer *TicketSequencer
	events    chan Event
	locks     sync.Map
	now       func() time.Time
}

type Options struct {
	EventBuffer int
	Now         func() time.Time
}

func NewEngine(st store.QueueStore, sequencer *TicketSequencer, options Options) *Engine {
	buffer := options.EventBuffer
	if buffer <= 0 {
		buffer = 64
	}
	now := options.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{
		store:     st,
		sequencer: sequencer,
		events:    make(chan Event, buffer),
		now:       now,
	}
}

// Events is the engine's notification channel. Emission never blocks a
// mutation; when no consumer keeps up, events are dropped and counted.
func (e *Engine) Events() <-chan Event {
	return e.events
}

type EnqueueInput struct {
	TenantID       string
	PatientID      string
	PractitionerID string
	Priority       string
	Reason         string
}

type UpdatePatch struct {
	PatientID      *string
	PractitionerID *string
	Priority       *string
	Reason         *string
}

func (e *Engine) Enqueue(ctx context.Context, input EnqueueInput) (models.WaitQueueEntry, error) {
	if input.TenantID == "" {
		return models.WaitQueueEntry{}, ErrTenantRequired
	}
	priority := input.Priority
	if priority == "" {
		priority = models.PriorityNormal
	}
	if !models.ValidPriority(priority) {
		return models.WaitQueueEntry{}, ErrInvalidPriority
	}
	reason := input.Reason
	if reason == "" {
		reason = models.DefaultReason
	}

	unlock := e.lockTenant(input.TenantID)
	defer unlock()

	if input.PatientID != "" {
		_, found, err := e.store.FindActiveByPatient(ctx, input.TenantID, input.PatientID)
		if err != nil {
			return models.WaitQueueEntry{}, err
		}
		if found {
			return models.WaitQueueEntry{}, store.ErrPatientActive
		}
	}

	// Ranks count over all of the tenant's entries, not just waiting
	// ones, so they keep increasing and are never reused.
	maxRank, err := e.store.MaxRank(ctx, input.TenantID)
	if err != nil {
		return models.WaitQueueEntry{}, err
	}
	rank := maxRank + 1

	now := e.now()
	ticketNumber, err := e.sequencer.Next(ctx, input.TenantID, now)
	if err != nil {
		return models.WaitQueueEntry{}, err
	}

	entry := models.WaitQueueEntry{
		EntryID:        uuid.NewString(),
		TenantID:       input.TenantID,
		PatientID:      optional(input.PatientID),
		PractitionerID: optional(input.PractitionerID),
		Priority:       priority,
		Reason:         reason,
		Rank:           rank,
		TicketNumber:   ticketNumber,
		Status:         models.StatusWaiting,
		CreatedAt:      now,
	}
	saved, err := e.store.Insert(ctx, entry)
	if err != nil {
		return models.WaitQueueEntry{}, err
	}

	e.emit(saved)
	return saved, nil
}

// CallNext force-completes whichever entry currently holds the called
// or serving slot, then promotes the lowest-rank waiting entry to
// called. An empty queue returns ok=false. Priority is never
// consulted: call order is strictly FIFO by rank.
func (e *Engine) CallNext(ctx context.Context, tenantID string) (models.WaitQueueEntry, bool, error) {
	if tenantID == "" {
		return models.WaitQueueEntry{}, false, ErrTenantRequired
	}
	unlock := e.lockTenant(tenantID)
	defer unlock()

	now := e.now()
	active, err := e.store.FindByStatus(ctx, tenantID, []string{models.StatusCalled, models.StatusServing})
	if err != nil {
		return models.WaitQueueEntry{}, false, err
	}
	var closed *models.WaitQueueEntry
	for i := range active {
		active[i].Status = models.StatusCompleted
		active[i].ServedAt = &now
		saved, err := e.store.Save(ctx, active[i])
		if err != nil {
			return models.WaitQueueEntry{}, false, err
		}
		closed = &saved
	}

	waiting, err := e.store.FindByStatus(ctx, tenantID, []string{models.StatusWaiting})
	if err != nil {
		return models.WaitQueueEntry{}, false, err
	}
	if len(waiting) == 0 {
		if closed != nil {
			e.emit(*closed)
		}
		return models.WaitQueueEntry{}, false, nil
	}

	next := waiting[0]
	for _, entry := range waiting[1:] {
		if entry.Rank < next.Rank {
			next = entry
		}
	}
	next.Status = models.StatusCalled
	next.CalledAt = &now
	saved, err := e.store.Save(ctx, next)
	if err != nil {
		return models.WaitQueueEntry{}, false, err
	}

	e.emit(saved)
	return saved, true, nil
}

func (e *Engine) MarkServing(ctx context.Context, tenantID, entryID string) (models.WaitQueueEntry, error) {
	if tenantID == "" {
		return models.WaitQueueEntry{}, ErrTenantRequired
	}
	unlock := e.lockTenant(tenantID)
	defer unlock()

	entry, found, err := e.store.FindOne(ctx, tenantID, entryID, nil)
	if err != nil {
		return models.WaitQueueEntry{}, err
	}
	if !found || !ValidTransition("serve", entry.Status) {
		return models.WaitQueueEntry{}, store.ErrEntryNotFound
	}

	entry.Status = models.StatusServing
	saved, err := e.store.Save(ctx, entry)
	if err != nil {
		return models.WaitQueueEntry{}, err
	}

	e.emit(saved)
	return saved, nil
}

// Complete is idempotent: re-completing an entry refreshes servedAt
// and succeeds. A cancelled entry stays cancelled.
func (e *Engine) Complete(ctx context.Context, tenantID, entryID string) error {
	if tenantID == "" {
		return ErrTenantRequired
	}
	unlock := e.lockTenant(tenantID)
	defer unlock()

	entry, found, err := e.store.FindOne(ctx, tenantID, entryID, nil)
	if err != nil {
		return err
	}
	if !found || entry.Status == models.StatusCancelled {
		return store.ErrEntryNotFound
	}

	now := e.now()
	entry.Status = models.StatusCompleted
	entry.ServedAt = &now
	saved, err := e.store.Save(ctx, entry)
	if err != nil {
		return err
	}

	e.emit(saved)
	return nil
}

func (e *Engine) UpdateEntry(ctx context.Context, tenantID, entryID string, patch UpdatePatch) (models.WaitQueueEntry, error) {
	if tenantID == "" {
		return models.WaitQueueEntry{}, ErrTenantRequired
	}
	unlock := e.lockTenant(tenantID)
	defer unlock()

	entry, found, err := e.store.FindOne(ctx, tenantID, entryID, nil)
	if err != nil {
		return models.WaitQueueEntry{}, err
	}
	if !found || !ValidTransition("update", entry.Status) {
		return models.WaitQueueEntry{}, store.ErrEntryNotFound
	}

	if patch.PatientID != nil {
		patientID := *patch.PatientID
		if patientID != "" && (entry.PatientID == nil || *entry.PatientID != patientID) {
			existing, active, err := e.store.FindActiveByPatient(ctx, tenantID, patientID)
			if err != nil {
				return models.WaitQueueEntry{}, err
			}
			if active && existing.EntryID != entry.EntryID {
				return models.WaitQueueEntry{}, store.ErrPatientActive
			}
		}
		entry.PatientID = optional(patientID)
	}
	if patch.PractitionerID != nil {
		entry.PractitionerID = optional(*patch.PractitionerID)
	}
	if patch.Priority != nil {
		if !models.ValidPriority(*patch.Priority) {
			return models.WaitQueueEntry{}, ErrInvalidPriority
		}
		entry.Priority = *patch.Priority
	}
	if patch.Reason != nil {
		reason := *patch.Reason
		if reason == "" {
			reason = models.DefaultReason
		}
		entry.Reason = reason
	}

	saved, err := e.store.Save(ctx, entry)
	if err != nil {
		return models.WaitQueueEntry{}, err
	}

	e.emit(saved)
	return saved, nil
}

// RemoveEntry soft-deletes: the entry stays in the store as cancelled
// and keeps its audit history. A completed entry stays completed.
func (e *Engine) RemoveEntry(ctx context.Context, tenantID, entryID string) error {
	if tenantID == "" {
		return ErrTenantRequired
	}
	unlock := e.lockTenant(tenantID)
	defer unlock()

	entry, found, err := e.store.FindOne(ctx, tenantID, entryID, nil)
	if err != nil {
		return err
	}
	if !found || entry.Status == models.StatusCompleted {
		return store.ErrEntryNotFound
	}

	now := e.now()
	entry.Status = models.StatusCancelled
	entry.ServedAt = &now
	saved, err := e.store.Save(ctx, entry)
	if err != nil {
		return err
	}

	e.emit(saved)
	return nil
}

func (e *Engine) GetQueue(ctx context.Context, tenantID string) ([]models.WaitQueueEntry, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}
	entries, err := e.store.FindByStatus(ctx, tenantID, models.ActiveStatuses)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Rank < entries[j].Rank })
	return entries, nil
}

func (e *Engine) GetCurrentlyServing(ctx context.Context, tenantID string) (models.WaitQueueEntry, bool, error) {
	if tenantID == "" {
		return models.WaitQueueEntry{}, false, ErrTenantRequired
	}
	active, err := e.store.FindByStatus(ctx, tenantID, []string{models.StatusCalled, models.StatusServing})
	if err != nil {
		return models.WaitQueueEntry{}, false, err
	}
	if len(active) == 0 {
		return models.WaitQueueEntry{}, false, nil
	}
	current := active[0]
	for _, entry := range active[1:] {
		if entry.CalledAt != nil && (current.CalledAt == nil || entry.CalledAt.After(*current.CalledAt)) {
			current = entry
		}
	}
	return current, true, nil
}

func (e *Engine) GetEntry(ctx context.Context, tenantID, entryID string) (models.WaitQueueEntry, bool, error) {
	if tenantID == "" {
		return models.WaitQueueEntry{}, false, ErrTenantRequired
	}
	return e.store.FindOne(ctx, tenantID, entryID, nil)
}

func (e *Engine) lockTenant(tenantID string) func() {
	value, _ := e.locks.LoadOrStore(tenantID, &sync.Mutex{})
	mu := value.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

func (e *Engine) emit(entry models.WaitQueueEntry) {
	event := Event{
		TenantID:   entry.TenantID,
		Type:       EventQueueChanged,
		Entry:      entry,
		OccurredAt: e.now(),
	}
	select {
	case e.events <- event:
	default:
		eventsDropped.Add(1)
		log.Printf("drop queue event tenant=%s entry=%s", event.TenantID, event.Entry.EntryID)
	}
}

func optional(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
