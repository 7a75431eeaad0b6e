package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/md-rashed-zaman/fieldbook/libs/httpx"
	"github.com/md-rashed-zaman/fieldbook/services/notification-service/internal/storage"
)

type DeliveryLog interface {
	ListByAppointment(ctx context.Context, appointmentID string, limit int) ([]storage.Notification, error)
}

type Handler struct {
	log    DeliveryLog
	logger *slog.Logger
}

func New(log DeliveryLog, logger *slog.Logger) *Handler {
	return &Handler{log: log, logger: logger}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/appointments/{id}/notifications", h.list)
}

type notificationItem struct {
	EventID     string `json:"event_id"`
	Variant     string `json:"variant"`
	RecipientID string `json:"recipient_id"`
	Recipient   int    `json:"recipient_index"`
	Channel     string `json:"channel"`
	Address     string `json:"address,omitempty"`
	Subject     string `json:"subject,omitempty"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
	CreatedAt   string `json:"created_at"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	appointmentID := r.PathValue("id")
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httpx.WriteError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	rows, err := h.log.ListByAppointment(r.Context(), appointmentID, limit)
	if err != nil {
		h.logger.Error("list notifications failed", "err", err, "appointment_id", appointmentID)
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
		return
	}
	items := make([]notificationItem, 0, len(rows))
	for _, n := range rows {
		items = append(items, notificationItem{
			EventID:     n.EventID,
			Variant:     n.Variant,
			RecipientID: n.RecipientID,
			Recipient:   n.RecipientIdx,
			Channel:     n.Channel,
			Address:     n.Address,
			Subject:     n.Subject,
			Status:      n.Status,
			Error:       n.ErrorReason,
			CreatedAt:   n.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"appointment_id": appointmentID,
		"items":          items,
	})
}
