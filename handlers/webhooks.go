package handlers

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"savegame-system/models"
	"savegame-system/services"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// PayloadArchiver keeps a copy of raw provider payloads.
type PayloadArchiver interface {
	Archive(ctx context.Context, key string, body []byte) error
}

// WebhookHandler serves provider callbacks. These routes sit outside the
// gateway: the providers call them directly and always get a 200.
type WebhookHandler struct {
	Payments      *services.PaymentService
	Notifications *services.NotificationService
	Archive       PayloadArchiver
	CallbackToken string
}

func SetupWebhookRoutes(app *fiber.App, h *WebhookHandler) {
	hooks := app.Group("/webhooks")
	hooks.Post("/mpesa", h.MpesaCallback)
	hooks.Post("/mpesa/timeout", h.MpesaTimeout)
	hooks.Post("/sms/delivery", h.SMSDelivery)
}

func mpesaAck(c *fiber.Ctx, desc string) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"ResultCode": 0,
		"ResultDesc": desc,
	})
}

// MpesaCallback records a confirmed STK payment. Internal failures are
// logged for follow-up and never surfaced to Safaricom, so it does not retry.
func (h *WebhookHandler) MpesaCallback(c *fiber.Ctx) error {
	if h.CallbackToken != "" && subtle.ConstantTimeCompare([]byte(c.Query("token")), []byte(h.CallbackToken)) != 1 {
		slog.Warn("🚫 M-Pesa callback with invalid token ignored", "ip", c.IP())
		return mpesaAck(c, "Callback received")
	}

	body := append([]byte(nil), c.Body()...)
	ctx := c.UserContext()

	conf, err := services.ParseSTKCallback(body)
	if err != nil {
		h.archive(ctx, "mpesa/callbacks", "", body)
		slog.Error("❌ unreadable M-Pesa callback", "error", err)
		return mpesaAck(c, "Callback received")
	}
	h.archive(ctx, "mpesa/callbacks", conf.CheckoutRequestID, body)

	outcome, txn, err := h.Payments.ApplyConfirmation(ctx, conf, body)
	if err != nil {
		slog.Error("❌ M-Pesa callback processing failed",
			"receipt", conf.ReceiptNumber,
			"checkout_request_id", conf.CheckoutRequestID,
			"outcome", outcome,
			"error", err)
		return mpesaAck(c, "Callback received")
	}

	attrs := []any{"receipt", conf.ReceiptNumber, "outcome", outcome}
	if txn != nil {
		attrs = append(attrs, "transaction_id", txn.ID)
	}
	slog.Info("📥 M-Pesa callback handled", attrs...)
	return mpesaAck(c, "Callback received")
}

func (h *WebhookHandler) MpesaTimeout(c *fiber.Ctx) error {
	body := append([]byte(nil), c.Body()...)
	h.archive(c.UserContext(), "mpesa/timeouts", "", body)
	slog.Warn("⏱️ M-Pesa queue timeout received", "bytes", len(body))
	return mpesaAck(c, "Timeout received")
}

// SMSDelivery applies an Africa's Talking delivery report (form-encoded id and status).
func (h *WebhookHandler) SMSDelivery(c *fiber.Ctx) error {
	id := c.FormValue("id")
	status := c.FormValue("status")
	if h.Notifications != nil && id != "" {
		if err := h.Notifications.MarkDelivered(c.UserContext(), id, status); err != nil {
			if errors.Is(err, models.ErrNotFound) {
				slog.Debug("delivery report for unknown message", "provider_id", id)
			} else {
				slog.Warn("failed to apply delivery report", "provider_id", id, "error", err)
			}
		}
	}
	return c.JSON(fiber.Map{"success": true})
}

// archive stores a raw payload under prefix/yyyy/mm/dd/<id>.json. Callbacks
// are keyed by CheckoutRequestID so redeliveries overwrite one object; an
// empty id gets a random name.
func (h *WebhookHandler) archive(ctx context.Context, prefix, id string, body []byte) {
	if h.Archive == nil || len(body) == 0 {
		return
	}
	if id == "" {
		id = uuid.NewString()
	}
	key := fmt.Sprintf("%s/%s/%s.json", prefix, time.Now().UTC().Format("2006/01/02"), url.PathEscape(id))
	if err := h.Archive.Archive(ctx, key, body); err != nil {
		slog.Warn("failed to archive webhook payload", "key", key, "error", err)
	}
}
