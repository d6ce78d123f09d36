package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"clinicq/waitqueue-service/internal/models"
	"clinicq/waitqueue-service/internal/queue"
	"clinicq/waitqueue-service/internal/store"

	"github.com/google/uuid"
)

// Engine is the wait-queue core the facade translates requests into.
type Engine interface {
	Enqueue(ctx context.Context, input queue.EnqueueInput) (models.WaitQueueEntry, error)
	CallNext(ctx context.Context, tenantID string) (models.WaitQueueEntry, bool, error)
	MarkServing(ctx context.Context, tenantID, entryID string) (models.WaitQueueEntry, error)
	Complete(ctx context.Context, tenantID, entryID string) error
	UpdateEntry(ctx context.Context, tenantID, entryID string, patch queue.UpdatePatch) (models.WaitQueueEntry, error)
	RemoveEntry(ctx context.Context, tenantID, entryID string) error
	GetQueue(ctx context.Context, tenantID string) ([]models.WaitQueueEntry, error)
	GetCurrentlyServing(ctx context.Context, tenantID string) (models.WaitQueueEntry, bool, error)
	GetEntry(ctx context.Context, tenantID, entryID string) (models.WaitQueueEntry, bool, error)
}

// EventLister exposes the audit trail of an entry.
type EventLister interface {
	ListEntryEvents(ctx context.Context, tenantID, entryID string) ([]store.EntryEvent, error)
}

type Handler struct {
	engine          Engine
	events          EventLister
	defaultTenantID string
}

type Options struct {
	// DefaultTenantID backs public take-a-number requests that carry
	// no tenant of their own. Empty means no fallback: such requests
	// fail with tenant_unresolved.
	DefaultTenantID string
}

func NewHandler(engine Engine, events EventLister, options Options) *Handler {
	return &Handler{
		engine:          engine,
		events:          events,
		defaultTenantID: options.DefaultTenantID,
	}
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/public/tickets", h.handlePublicTicket)
	mux.HandleFunc("/api/public/queue", h.handlePublicQueue)
	mux.HandleFunc("/api/queue", h.handleQueue)
	mux.HandleFunc("/api/queue/current", h.handleCurrent)
	mux.HandleFunc("/api/queue/actions/call-next", h.handleCallNext)
	mux.HandleFunc("/api/queue/entries", h.handleCreateEntry)
	mux.HandleFunc("/api/queue/entries/", h.handleEntrySubtree)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type publicTicketRequest struct {
	TenantID string `json:"tenant_id"`
	Reason   string `json:"reason"`
	Priority string `json:"priority"`
}

func (h *Handler) handlePublicTicket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	// Kiosks may POST with no body at all; every field is optional.
	var req publicTicketRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	tenantID := strings.TrimSpace(req.TenantID)
	if tenantID == "" {
		tenantID = h.defaultTenantID
	}
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_unresolved", "no tenant could be resolved for this request")
		return
	}
	if !isValidUUID(tenantID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "tenant_id must be a UUID")
		return
	}

	entry, err := h.engine.Enqueue(r.Context(), queue.EnqueueInput{
		TenantID: tenantID,
		Priority: strings.TrimSpace(req.Priority),
		Reason:   strings.TrimSpace(req.Reason),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}

	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) handlePublicQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	tenantID := strings.TrimSpace(r.URL.Query().Get("tenant_id"))
	if tenantID == "" {
		tenantID = h.defaultTenantID
	}
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_unresolved", "no tenant could be resolved for this request")
		return
	}
	if !isValidUUID(tenantID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "tenant_id must be a UUID")
		return
	}

	entries, err := h.engine.GetQueue(r.Context(), tenantID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if entries == nil {
		entries = []models.WaitQueueEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	tenantID, ok := tenantFromRequest(w, r)
	if !ok {
		return
	}

	entries, err := h.engine.GetQueue(r.Context(), tenantID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if entries == nil {
		entries = []models.WaitQueueEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) handleCurrent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	tenantID, ok := tenantFromRequest(w, r)
	if !ok {
		return
	}

	entry, found, err := h.engine.GetCurrentlyServing(r.Context(), tenantID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if !found {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) handleCallNext(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	tenantID, ok := tenantFromRequest(w, r)
	if !ok {
		return
	}

	entry, found, err := h.engine.CallNext(r.Context(), tenantID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if !found {
		writeError(w, http.StatusConflict, "queue_empty", "no waiting entries")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

type createEntryRequest struct {
	PatientID      string `json:"patient_id"`
	PractitionerID string `json:"practitioner_id"`
	Priority       string `json:"priority"`
	Reason         string `json:"reason"`
}

func (h *Handler) handleCreateEntry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	tenantID, ok := tenantFromRequest(w, r)
	if !ok {
		return
	}

	var req createEntryRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	req.PatientID = strings.TrimSpace(req.PatientID)
	req.PractitionerID = strings.TrimSpace(req.PractitionerID)
	if req.PatientID != "" && !isValidUUID(req.PatientID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "patient_id must be a UUID when provided")
		return
	}
	if req.PractitionerID != "" && !isValidUUID(req.PractitionerID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "practitioner_id must be a UUID when provided")
		return
	}

	entry, err := h.engine.Enqueue(r.Context(), queue.EnqueueInput{
		TenantID:       tenantID,
		PatientID:      req.PatientID,
		PractitionerID: req.PractitionerID,
		Priority:       strings.TrimSpace(req.Priority),
		Reason:         strings.TrimSpace(req.Reason),
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) handleEntrySubtree(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantFromRequest(w, r)
	if !ok {
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/queue/entries/")
	parts := strings.Split(strings.Trim(path, "/"), "/")
	entryID := parts[0]
	if !isValidUUID(entryID) {
		writeError(w, http.StatusBadRequest, "invalid_request", "entry_id must be a UUID")
		return
	}

	switch {
	case len(parts) == 1 && r.Method == http.MethodGet:
		h.handleGetEntry(w, r, tenantID, entryID)
	case len(parts) == 1 && r.Method == http.MethodPut:
		h.handleUpdateEntry(w, r, tenantID, entryID)
	case len(parts) == 2 && parts[1] == "events" && r.Method == http.MethodGet:
		h.handleEntryEvents(w, r, tenantID, entryID)
	case len(parts) == 3 && parts[1] == "actions" && r.Method == http.MethodPost:
		h.handleEntryAction(w, r, tenantID, entryID, parts[2])
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleGetEntry(w http.ResponseWriter, r *http.Request, tenantID, entryID string) {
	entry, found, err := h.engine.GetEntry(r.Context(), tenantID, entryID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "entry_not_found", "entry not found")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

type updateEntryRequest struct {
	PatientID      *string `json:"patient_id"`
	PractitionerID *string `json:"practitioner_id"`
	Priority       *string `json:"priority"`
	Reason         *string `json:"reason"`
}

func (h *Handler) handleUpdateEntry(w http.ResponseWriter, r *http.Request, tenantID, entryID string) {
	var req updateEntryRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	if req.PatientID != nil {
		trimmed := strings.TrimSpace(*req.PatientID)
		if trimmed != "" && !isValidUUID(trimmed) {
			writeError(w, http.StatusBadRequest, "invalid_request", "patient_id must be a UUID when provided")
			return
		}
		req.PatientID = &trimmed
	}
	if req.PractitionerID != nil {
		trimmed := strings.TrimSpace(*req.PractitionerID)
		if trimmed != "" && !isValidUUID(trimmed) {
			writeError(w, http.StatusBadRequest, "invalid_request", "practitioner_id must be a UUID when provided")
			return
		}
		req.PractitionerID = &trimmed
	}

	entry, err := h.engine.UpdateEntry(r.Context(), tenantID, entryID, queue.UpdatePatch{
		PatientID:      req.PatientID,
		PractitionerID: req.PractitionerID,
		Priority:       req.Priority,
		Reason:         req.Reason,
	})
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *Handler) handleEntryEvents(w http.ResponseWriter, r *http.Request, tenantID, entryID string) {
	events, err := h.events.ListEntryEvents(r.Context(), tenantID, entryID)
	if err != nil {
		status, code, msg := mapError(err)
		writeError(w, status, code, msg)
		return
	}
	if events == nil {
		events = []store.EntryEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) handleEntryAction(w http.ResponseWriter, r *http.Request, tenantID, entryID, action string) {
	switch action {
	case "serve":
		entry, err := h.engine.MarkServing(r.Context(), tenantID, entryID)
		if err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		writeJSON(w, http.StatusOK, entry)
	case "complete":
		if err := h.engine.Complete(r.Context(), tenantID, entryID); err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case "cancel":
		if err := h.engine.RemoveEntry(r.Context(), tenantID, entryID); err != nil {
			status, code, msg := mapError(err)
			writeError(w, status, code, msg)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

// tenantFromRequest resolves the tenant placed in the context by the
// auth middleware. Management routes never take a tenant from the
// request itself.
func tenantFromRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	session, ok := sessionFromContext(r.Context())
	if !ok || session.TenantID == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing session")
		return "", false
	}
	return session.TenantID, true
}

func isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrEntryNotFound):
		return http.StatusNotFound, "entry_not_found", "entry not found or not in a state this action allows"
	case errors.Is(err, store.ErrPatientActive):
		return http.StatusConflict, "patient_already_queued", "patient already has an active entry"
	case errors.Is(err, queue.ErrInvalidPriority):
		return http.StatusBadRequest, "invalid_priority", "priority must be one of low, normal, high, urgent"
	case errors.Is(err, queue.ErrTenantRequired):
		return http.StatusBadRequest, "tenant_unresolved", "no tenant could be resolved for this request"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

type errorResponse struct {
	Error responseError `json:"error"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		Error: responseError{Code: code, Message: message},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
