package delivery

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/segmentio/kafka-go"

	"github.com/md-rashed-zaman/fieldbook/libs/kafkax"
	"github.com/md-rashed-zaman/fieldbook/services/notification-service/internal/sms"
	"github.com/md-rashed-zaman/fieldbook/services/notification-service/internal/storage"
	"github.com/md-rashed-zaman/fieldbook/services/notification-service/internal/templates"
)

// Sender delivers a rendered notification on one channel.
type Sender interface {
	Send(ctx context.Context, to string, m templates.Message) error
	ProviderID() string
}

type Store interface {
	Insert(ctx context.Context, n storage.Notification) error
}

// Handler renders a requested notification and delivers it on every channel the
// recipient can be reached on.
type Handler struct {
	email  Sender
	sms    Sender
	store  Store
	logger *slog.Logger
}

func NewHandler(emailSender, smsSender Sender, store Store, logger *slog.Logger) *Handler {
	return &Handler{
		email:  emailSender,
		sms:    smsSender,
		store:  store,
		logger: logger,
	}
}

// Handle returns an error only when the outcome could not be recorded.
func (h *Handler) Handle(ctx context.Context, msg kafka.Message) error {
	var req templates.Request
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		h.logger.Error("invalid notification payload", "err", err)
		return nil
	}
	if req.Appointment.ID == "" || req.Recipient.ID == "" {
		h.logger.Error("missing notification fields", "appointment_id", req.Appointment.ID, "recipient_id", req.Recipient.ID)
		return nil
	}
	rendered, err := templates.Render(req)
	if err != nil {
		h.logger.Error("render failed", "err", err, "variant", req.Variant)
		return nil
	}

	base := storage.Notification{
		EventID:       kafkax.ExtractEventMeta(msg).EventID,
		AppointmentID: req.Appointment.ID,
		Variant:       req.Variant,
		RecipientID:   req.Recipient.ID,
		RecipientIdx:  req.Index,
	}

	emailAddr := strings.TrimSpace(req.Recipient.Email)
	phone := strings.TrimSpace(req.Recipient.Phone)
	if emailAddr == "" && phone == "" {
		n := base
		n.Channel = "none"
		n.Status = "skipped"
		n.ErrorReason = "recipient has no email or phone"
		h.logger.Warn("notification skipped", "appointment_id", req.Appointment.ID, "recipient_id", req.Recipient.ID)
		return h.store.Insert(ctx, n)
	}

	if emailAddr != "" {
		n := base
		n.Channel = "email"
		n.Address = emailAddr
		n.Subject = rendered.Subject
		n.Body = rendered.Body
		h.settle(&n, h.email.Send(ctx, emailAddr, rendered), h.email.ProviderID())
		if err := h.store.Insert(ctx, n); err != nil {
			return err
		}
	}
	if phone != "" {
		n := base
		n.Channel = "sms"
		n.Address = phone
		n.Body = sms.Text(rendered)
		h.settle(&n, h.sms.Send(ctx, phone, rendered), h.sms.ProviderID())
		if err := h.store.Insert(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) settle(n *storage.Notification, sendErr error, providerID string) {
	if sendErr != nil {
		n.Status = "failed"
		n.ErrorReason = sendErr.Error()
		h.logger.Error("notification send failed", "err", sendErr, "channel", n.Channel, "appointment_id", n.AppointmentID)
		return
	}
	n.Status = "sent"
	n.ProviderID = providerID
	h.logger.Info("notification sent", "channel", n.Channel, "variant", n.Variant, "appointment_id", n.AppointmentID, "recipient_idx", n.RecipientIdx)
}
