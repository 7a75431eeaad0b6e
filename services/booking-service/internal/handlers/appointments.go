package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/fieldbook/libs/auth"
	"github.com/md-rashed-zaman/fieldbook/libs/httpx"
	otelx "github.com/md-rashed-zaman/fieldbook/libs/otel"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/conflict"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/effects"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/lifecycle"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/storage"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/validation"
)

type AppointmentService interface {
	Create(ctx context.Context, req lifecycle.CreateRequest) (lifecycle.Result, error)
	Update(ctx context.Context, id string, changes lifecycle.Changes) (lifecycle.Result, error)
	Delete(ctx context.Context, id string) (lifecycle.Result, error)
	Get(ctx context.Context, id string) (model.Appointment, error)
	ListByProvider(ctx context.Context, providerRef string, from, to time.Time) ([]model.Appointment, error)
	FreeSlots(ctx context.Context, providerRef string, from, to time.Time, d, step time.Duration) ([]time.Time, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, cmds []effects.Command) int
}

type IdempotencyStore interface {
	Claim(ctx context.Context, scope, key string) (storage.IdempotencyRecord, bool, error)
	Finalize(ctx context.Context, scope, key, appointmentID string, statusCode int, response []byte) error
	Release(ctx context.Context, scope, key string) error
}

type AppointmentHandler struct {
	svc         AppointmentService
	dispatcher  Dispatcher
	idempotency IdempotencyStore
	logger      *slog.Logger
}

func NewAppointmentHandler(svc AppointmentService, dispatcher Dispatcher, idempotency IdempotencyStore, logger *slog.Logger) *AppointmentHandler {
	return &AppointmentHandler{
		svc:         svc,
		dispatcher:  dispatcher,
		idempotency: idempotency,
		logger:      logger,
	}
}

// Register mounts the appointment routes on mux.
func (h *AppointmentHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/appointments", h.Create)
	mux.HandleFunc("GET /api/v1/appointments/{id}", h.Get)
	mux.HandleFunc("PATCH /api/v1/appointments/{id}", h.Update)
	mux.HandleFunc("DELETE /api/v1/appointments/{id}", h.Delete)
	mux.HandleFunc("GET /api/v1/providers/{provider_id}/appointments", h.List)
	mux.HandleFunc("GET /api/v1/providers/{provider_id}/slots", h.Slots)
}

func (h *AppointmentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body createAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req, err := body.toLifecycle()
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	claims, _ := auth.ClaimsFromContext(r.Context())
	if claims != nil && claims.Role == auth.RoleClient {
		if req.Category != "" && req.Category != model.CategoryServiceBooking ||
			req.Status != "" && req.Status != model.StatusUnconfirmed {
			httpx.WriteError(w, http.StatusForbidden, "forbidden")
			return
		}
		req.Category = model.CategoryServiceBooking
		req.UserRef = claims.Subject
	}
	if !mayAccessProvider(claims, req.ProviderRef) {
		httpx.WriteError(w, http.StatusForbidden, "forbidden")
		return
	}

	ctx := r.Context()
	scope := req.ProviderRef
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if key != "" && h.idempotency != nil {
		rec, existed, err := h.idempotency.Claim(ctx, scope, key)
		if err != nil {
			h.logger.Error("idempotency claim failed", "err", err)
			httpx.WriteError(w, http.StatusInternalServerError, "failed to lock idempotency key")
			return
		}
		if existed {
			if rec.Pending() {
				httpx.WriteError(w, http.StatusConflict, "a request with this Idempotency-Key is in progress")
				return
			}
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Idempotent-Replayed", "true")
			w.WriteHeader(rec.StatusCode)
			_, _ = w.Write(rec.ResponsePayload)
			return
		}
	}

	res, err := h.svc.Create(ctx, req)
	if err != nil {
		status, resp := h.errorResponse(err)
		if key != "" && h.idempotency != nil {
			h.settleIdempotency(ctx, scope, key, status, resp)
		}
		httpx.WriteJSON(w, status, resp)
		return
	}
	h.dispatch(ctx, res)

	respBody, err := json.Marshal(toResponse(res.Appointment))
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "failed to build response")
		return
	}
	if key != "" && h.idempotency != nil {
		if err := h.idempotency.Finalize(ctx, scope, key, res.Appointment.ID, http.StatusCreated, respBody); err != nil {
			h.logger.Error("idempotency finalize failed", "err", err, "appointment_id", res.Appointment.ID)
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(respBody)
}

func (h *AppointmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	a, ok := h.load(w, r)
	if !ok {
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(a))
}

func (h *AppointmentHandler) Update(w http.ResponseWriter, r *http.Request) {
	current, ok := h.load(w, r)
	if !ok {
		return
	}
	var body updateAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	changes, err := body.toChanges()
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if claims, _ := auth.ClaimsFromContext(r.Context()); claims != nil && claims.Role == auth.RoleClient {
		if changes.UserRef != nil || changes.PaymentStatus != nil || changes.Category != nil ||
			changes.Status != nil && !clientStatuses[*changes.Status] {
			httpx.WriteError(w, http.StatusForbidden, "forbidden")
			return
		}
	}

	res, err := h.svc.Update(r.Context(), current.ID, changes)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.dispatch(r.Context(), res)
	httpx.WriteJSON(w, http.StatusOK, toResponse(res.Appointment))
}

func (h *AppointmentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	current, ok := h.load(w, r)
	if !ok {
		return
	}
	if claims, _ := auth.ClaimsFromContext(r.Context()); claims != nil && claims.Role == auth.RoleClient {
		httpx.WriteError(w, http.StatusForbidden, "forbidden")
		return
	}
	res, err := h.svc.Delete(r.Context(), current.ID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	h.dispatch(r.Context(), res)
	w.WriteHeader(http.StatusNoContent)
}

func (h *AppointmentHandler) List(w http.ResponseWriter, r *http.Request) {
	providerID := r.PathValue("provider_id")
	claims, _ := auth.ClaimsFromContext(r.Context())
	if !mayAccessProvider(claims, providerID) || (claims != nil && claims.Role == auth.RoleClient) {
		httpx.WriteError(w, http.StatusForbidden, "forbidden")
		return
	}
	from, to, err := parseRange(r)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	appts, err := h.svc.ListByProvider(r.Context(), providerID, from, to)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	items := make([]appointmentResponse, 0, len(appts))
	for _, a := range appts {
		items = append(items, toResponse(a))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"appointments": items})
}

func (h *AppointmentHandler) Slots(w http.ResponseWriter, r *http.Request) {
	providerID := r.PathValue("provider_id")
	from, to, err := parseRange(r)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	q := r.URL.Query()
	d, err := parseDuration("duration", q.Get("duration"), time.Hour)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	step, err := parseDuration("step", q.Get("step"), 15*time.Minute)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	starts, err := h.svc.FreeSlots(r.Context(), providerID, from, to, d, step)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	items := make([]slotItem, 0, len(starts))
	for _, s := range starts {
		items = append(items, slotItem{StartTime: formatTime(s), EndTime: formatTime(s.Add(d))})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"provider_id": providerID,
		"slots":       items,
	})
}

// load fetches the {id} appointment and checks the caller may see it.
func (h *AppointmentHandler) load(w http.ResponseWriter, r *http.Request) (model.Appointment, bool) {
	id := strings.TrimSpace(r.PathValue("id"))
	a, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return model.Appointment{}, false
	}
	claims, _ := auth.ClaimsFromContext(r.Context())
	if !mayAccess(claims, a) {
		// Appointments outside the caller's reach read as missing.
		httpx.WriteError(w, http.StatusNotFound, "appointment not found")
		return model.Appointment{}, false
	}
	return a, true
}

func (h *AppointmentHandler) dispatch(ctx context.Context, res lifecycle.Result) {
	if h.dispatcher == nil || len(res.Effects) == 0 {
		return
	}
	if failed := h.dispatcher.Dispatch(otelx.Detach(ctx), res.Effects); failed > 0 {
		h.logger.Warn("side effects failed", "appointment_id", res.Appointment.ID, "failed", failed, "total", len(res.Effects))
	}
}

// settleIdempotency stores deterministic rejections so a replay sees the same answer and
// releases the key otherwise.
func (h *AppointmentHandler) settleIdempotency(ctx context.Context, scope, key string, status int, resp errorResponse) {
	if status >= http.StatusInternalServerError {
		if err := h.idempotency.Release(ctx, scope, key); err != nil {
			h.logger.Error("idempotency release failed", "err", err)
		}
		return
	}
	body, err := json.Marshal(resp)
	if err != nil {
		return
	}
	if err := h.idempotency.Finalize(ctx, scope, key, "", status, body); err != nil {
		h.logger.Error("idempotency finalize failed", "err", err)
	}
}

func (h *AppointmentHandler) writeServiceError(w http.ResponseWriter, err error) {
	status, resp := h.errorResponse(err)
	httpx.WriteJSON(w, status, resp)
}

func (h *AppointmentHandler) errorResponse(err error) (int, errorResponse) {
	var vErr *validation.Error
	var cErr *conflict.Error
	var iErr *lifecycle.ImmutableError
	switch {
	case errors.As(err, &vErr):
		return http.StatusUnprocessableEntity, errorResponse{Error: vErr.Error(), Field: vErr.Field}
	case errors.As(err, &cErr):
		return http.StatusConflict, errorResponse{Error: cErr.Message, ConflictingIDs: cErr.ConflictingIDs}
	case errors.As(err, &iErr):
		return http.StatusForbidden, errorResponse{Error: iErr.Error()}
	case errors.Is(err, lifecycle.ErrNotFound):
		return http.StatusNotFound, errorResponse{Error: "appointment not found"}
	case errors.Is(err, lifecycle.ErrStale):
		return http.StatusConflict, errorResponse{Error: "appointment was modified concurrently, retry the request"}
	}
	h.logger.Error("appointment request failed", "err", err)
	return http.StatusInternalServerError, errorResponse{Error: "internal error"}
}

// clientStatuses are the only statuses a client may move their own booking to. Confirming,
// completing and no-show marking belong to the provider.
var clientStatuses = map[model.Status]bool{
	model.StatusCancelled:   true,
	model.StatusRescheduled: true,
}

func mayAccessProvider(claims *auth.Claims, providerID string) bool {
	if claims == nil || claims.Role != auth.RoleProvider {
		return true
	}
	return claims.ProviderID != "" && claims.ProviderID == providerID
}

func mayAccess(claims *auth.Claims, a model.Appointment) bool {
	if claims == nil {
		return true
	}
	switch claims.Role {
	case auth.RoleAdmin:
		return true
	case auth.RoleProvider:
		return mayAccessProvider(claims, a.ProviderRef)
	case auth.RoleClient:
		return a.UserRef != "" && a.UserRef == claims.Subject
	}
	return false
}

func parseRange(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()
	from, err := parseOptionalTime("from", q.Get("from"))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := parseOptionalTime("to", q.Get("to"))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if from.IsZero() {
		return time.Time{}, time.Time{}, validation.Invalid("from", "", "is required")
	}
	if to.IsZero() {
		to = from.Add(24 * time.Hour)
	}
	return from, to, nil
}

func parseDuration(field, raw string, fallback time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, validation.Invalid(field, raw, "must be a positive duration")
	}
	return d, nil
}
