package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"clinicq/waitqueue-service/internal/models"
	"clinicq/waitqueue-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// Store implements store.QueueStore and store.SessionStore on
// Postgres. The schema carries a partial unique index on
// (tenant_id, patient_id) over active statuses and a full unique
// index on (tenant_id, queue_rank), so the engine's invariants hold
// even against concurrent writers outside this process.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const entryColumns = `entry_id, tenant_id, patient_id, practitioner_id, priority, reason, queue_rank, ticket_number, status, created_at, called_at, served_at`

func (s *Store) CountCreatedSince(ctx context.Context, tenantID string, since time.Time) (int, error) {
	var count int
	row := s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM wait_queue_entries
		WHERE tenant_id = $1 AND created_at >= $2
	`, tenantID, since)
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) FindByStatus(ctx context.Context, tenantID string, statuses []string) ([]models.WaitQueueEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+entryColumns+`
		FROM wait_queue_entries
		WHERE tenant_id = $1 AND status = ANY($2)
		ORDER BY queue_rank ASC
	`, tenantID, statuses)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.WaitQueueEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) FindOne(ctx context.Context, tenantID, entryID string, statuses []string) (models.WaitQueueEntry, bool, error) {
	query := `
		SELECT ` + entryColumns + `
		FROM wait_queue_entries
		WHERE tenant_id = $1 AND entry_id = $2
	`
	args := []interface{}{tenantID, entryID}
	if len(statuses) > 0 {
		query += " AND status = ANY($3)"
		args = append(args, statuses)
	}
	entry, err := scanEntry(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.WaitQueueEntry{}, false, nil
		}
		return models.WaitQueueEntry{}, false, err
	}
	return entry, true, nil
}

func (s *Store) FindActiveByPatient(ctx context.Context, tenantID, patientID string) (models.WaitQueueEntry, bool, error) {
	entry, err := scanEntry(s.pool.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM wait_queue_entries
		WHERE tenant_id = $1 AND patient_id = $2 AND status = ANY($3)
		LIMIT 1
	`, tenantID, patientID, models.ActiveStatuses))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.WaitQueueEntry{}, false, nil
		}
		return models.WaitQueueEntry{}, false, err
	}
	return entry, true, nil
}

func (s *Store) MaxRank(ctx context.Context, tenantID string) (int64, error) {
	var max int64
	row := s.pool.QueryRow(ctx, `
		SELECT COALESCE(MAX(queue_rank), 0)
		FROM wait_queue_entries
		WHERE tenant_id = $1
	`, tenantID)
	if err := row.Scan(&max); err != nil {
		return 0, err
	}
	return max, nil
}

func (s *Store) Insert(ctx context.Context, entry models.WaitQueueEntry) (models.WaitQueueEntry, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.WaitQueueEntry{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	saved, err := scanEntry(tx.QueryRow(ctx, `
		INSERT INTO wait_queue_entries (
			entry_id, tenant_id, patient_id, practitioner_id, priority, reason,
			queue_rank, ticket_number, status, created_at, called_at, served_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		RETURNING `+entryColumns+`
	`, entry.EntryID, entry.TenantID, entry.PatientID, entry.PractitionerID, entry.Priority, entry.Reason,
		entry.Rank, entry.TicketNumber, entry.Status, entry.CreatedAt, entry.CalledAt, entry.ServedAt))
	if err != nil {
		if isUniqueViolation(err, "wait_queue_entries_active_patient_idx") {
			return models.WaitQueueEntry{}, store.ErrPatientActive
		}
		return models.WaitQueueEntry{}, err
	}

	if err = insertEntryEvent(ctx, tx, saved, "entry.created"); err != nil {
		return models.WaitQueueEntry{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.WaitQueueEntry{}, err
	}
	return saved, nil
}

func (s *Store) Save(ctx context.Context, entry models.WaitQueueEntry) (models.WaitQueueEntry, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.WaitQueueEntry{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	saved, err := scanEntry(tx.QueryRow(ctx, `
		UPDATE wait_queue_entries
		SET patient_id = $3,
			practitioner_id = $4,
			priority = $5,
			reason = $6,
			status = $7,
			called_at = $8,
			served_at = $9
		WHERE tenant_id = $1 AND entry_id = $2
		RETURNING `+entryColumns+`
	`, entry.TenantID, entry.EntryID, entry.PatientID, entry.PractitionerID, entry.Priority,
		entry.Reason, entry.Status, entry.CalledAt, entry.ServedAt))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.WaitQueueEntry{}, store.ErrEntryNotFound
		}
		if isUniqueViolation(err, "wait_queue_entries_active_patient_idx") {
			return models.WaitQueueEntry{}, store.ErrPatientActive
		}
		return models.WaitQueueEntry{}, err
	}

	if err = insertEntryEvent(ctx, tx, saved, "entry."+saved.Status); err != nil {
		return models.WaitQueueEntry{}, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.WaitQueueEntry{}, err
	}
	return saved, nil
}

func (s *Store) ListEntryEvents(ctx context.Context, tenantID, entryID string) ([]store.EntryEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT e.event_id, e.entry_id, e.type, e.payload_json, e.created_at
		FROM entry_events e
		JOIN wait_queue_entries w ON w.entry_id = e.entry_id
		WHERE w.tenant_id = $1 AND e.entry_id = $2
		ORDER BY e.created_at ASC
	`, tenantID, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.EntryEvent
	for rows.Next() {
		var event store.EntryEvent
		if err := rows.Scan(&event.EventID, &event.EntryID, &event.Type, &event.Payload, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (store.Session, error) {
	var session store.Session
	row := s.pool.QueryRow(ctx, `
		SELECT session_id, user_id, tenant_id, role, expires_at
		FROM sessions
		WHERE session_id = $1
	`, sessionID)
	if err := row.Scan(&session.SessionID, &session.UserID, &session.TenantID, &session.Role, &session.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Session{}, store.ErrSessionNotFound
		}
		return store.Session{}, err
	}
	if time.Now().UTC().After(session.ExpiresAt) {
		return store.Session{}, store.ErrSessionExpired
	}
	return session, nil
}

func insertEntryEvent(ctx context.Context, tx pgx.Tx, entry models.WaitQueueEntry, eventType string) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO entry_events (event_id, entry_id, type, payload_json, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.NewString(), entry.EntryID, eventType, payload, time.Now().UTC())
	return err
}

func scanEntry(row pgx.Row) (models.WaitQueueEntry, error) {
	var entry models.WaitQueueEntry
	var patientIDNull sql.NullString
	var practitionerIDNull sql.NullString
	var calledAtNull sql.NullTime
	var servedAtNull sql.NullTime
	if err := row.Scan(&entry.EntryID, &entry.TenantID, &patientIDNull, &practitionerIDNull,
		&entry.Priority, &entry.Reason, &entry.Rank, &entry.TicketNumber, &entry.Status,
		&entry.CreatedAt, &calledAtNull, &servedAtNull); err != nil {
		return models.WaitQueueEntry{}, err
	}
	entry.PatientID = nullStringPtr(patientIDNull)
	entry.PractitionerID = nullStringPtr(practitionerIDNull)
	entry.CalledAt = nullTimePtr(calledAtNull)
	entry.ServedAt = nullTimePtr(servedAtNull)
	return entry, nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == uniqueViolation && pgErr.ConstraintName == constraint
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	v := value.String
	return &v
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	v := value.Time
	return &v
}
