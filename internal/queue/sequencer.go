package queue

import (
	"context"
	"fmt"
	"time"
)

// CreatedCounter is the slice of the queue store the sequencer needs.
type CreatedCounter interface {
	CountCreatedSince(ctx context.Context, tenantID string, since time.Time) (int, error)
}

// TicketSequencer produces the human-readable ticket label for the
// next entry of a tenant. The label is a pure function of the number
// of entries the tenant created since local midnight; the counter
// resets when the day rolls over.
type TicketSequencer struct {
	counter  CreatedCounter
	location *time.Location
}

func NewTicketSequencer(counter CreatedCounter, location *time.Location) *TicketSequencer {
	if location == nil {
		location = time.Local
	}
	return &TicketSequencer{counter: counter, location: location}
}

func (s *TicketSequencer) Next(ctx context.Context, tenantID string, now time.Time) (string, error) {
	count, err := s.counter.CountCreatedSince(ctx, tenantID, s.midnight(now))
	if err != nil {
		return "", err
	}
	return FormatTicketNumber(count), nil
}

func (s *TicketSequencer) midnight(now time.Time) time.Time {
	local := now.In(s.location)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.location)
}

// FormatTicketNumber maps the day's running entry count to a label:
// the first 999 tickets are A001..A999, the next 999 B001..B999, and
// so on.
func FormatTicketNumber(count int) string {
	letter := rune('A' + count/999)
	number := count%999 + 1
	return fmt.Sprintf("%c%03d", letter, number)
}
