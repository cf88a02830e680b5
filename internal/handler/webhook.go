package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/smartsavvy/internal/email"
	"github.com/dukerupert/smartsavvy/internal/metrics"
	"github.com/dukerupert/smartsavvy/internal/model"
	"github.com/dukerupert/smartsavvy/internal/subscription"
	"github.com/dukerupert/smartsavvy/internal/webhook"
)

const (
	maxWebhookBody = 1 << 20
	mailTimeout    = 10 * time.Second
)

// Mailer sends subscription confirmations. *email.Client satisfies it.
type Mailer interface {
	Configured() bool
	SendSubscriptionUpdate(ctx context.Context, toEmail, kind, entitlement string) error
}

// AppLogWriter persists failures for manual follow-up. *store.AppLogStore
// satisfies it.
type AppLogWriter interface {
	Insert(entry model.AppLog) (int64, error)
}

type WebhookConfig struct {
	CopeCartSecret string
	Digistore      webhook.DigistoreConfig
}

type WebhookHandler struct {
	subs    *subscription.Service
	catalog *subscription.Catalog
	mailer  Mailer
	appLogs AppLogWriter
	cfg     WebhookConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
	newID   func() string
}

func NewWebhookHandler(
	subs *subscription.Service,
	catalog *subscription.Catalog,
	mailer Mailer,
	appLogs AppLogWriter,
	cfg WebhookConfig,
	m *metrics.Metrics,
	logger *slog.Logger,
) *WebhookHandler {
	return &WebhookHandler{
		subs:    subs,
		catalog: catalog,
		mailer:  mailer,
		appLogs: appLogs,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
		newID:   uuid.NewString,
	}
}

func (h *WebhookHandler) HandleCopeCart(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, webhook.VendorCopeCart, func(body []byte) (webhook.Event, error) {
		return webhook.ParseCopeCart(body, r.Header.Get(webhook.CopeCartSignatureHeader), h.cfg.CopeCartSecret)
	})
}

func (h *WebhookHandler) HandleDigistore(w http.ResponseWriter, r *http.Request) {
	h.handle(w, r, webhook.VendorDigistore, func(body []byte) (webhook.Event, error) {
		return webhook.ParseDigistore(body, r.UserAgent(), h.cfg.Digistore)
	})
}

func (h *WebhookHandler) handle(w http.ResponseWriter, r *http.Request, vendor webhook.Vendor, parse func([]byte) (webhook.Event, error)) {
	deliveryID := h.newID()
	log := h.logger.With("vendor", vendor, "delivery_id", deliveryID)

	var body []byte
	defer func() {
		if p := recover(); p != nil {
			h.fail(w, log, vendor, deliveryID, body, fmt.Errorf("panic: %v", p))
		}
	}()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.metrics.Webhook(string(vendor), "invalid")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "could not read body"})
		return
	}

	ev, err := parse(body)
	switch {
	case errors.Is(err, webhook.ErrInvalidSignature):
		log.Warn("webhook rejected", "remote", r.RemoteAddr)
		h.metrics.Webhook(string(vendor), "unauthorized")
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	case errors.Is(err, webhook.ErrInvalidPayload):
		log.Warn("webhook payload invalid", "error", err)
		h.metrics.Webhook(string(vendor), "invalid")
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	case err != nil:
		h.fail(w, log, vendor, deliveryID, body, err)
		return
	}
	ev.DeliveryID = deliveryID
	log = log.With("event", ev.Type, "transaction_id", ev.TransactionID)

	switch ev.Action {
	case subscription.ActionActivate, subscription.ActionCancel:
		h.apply(w, r, log, ev, body)
	case subscription.ActionIgnore:
		log.Info("webhook ignored")
		h.ignored(w, ev, "event not actionable")
	default:
		log.Warn("unmapped webhook event")
		h.ignored(w, ev, "unknown event")
	}
}

func (h *WebhookHandler) apply(w http.ResponseWriter, r *http.Request, log *slog.Logger, ev webhook.Event, body []byte) {
	var ent subscription.Entitlement
	if ev.Action == subscription.ActionActivate {
		var ok bool
		for _, key := range ev.ProductKeys() {
			if ent, ok = h.catalog.Lookup(key); ok {
				break
			}
		}
		if !ok {
			log.Warn("activation for unmapped product", "product_id", ev.ProductID, "email", ev.Email)
			h.ignored(w, ev, "unknown product")
			return
		}
	}

	res, err := h.subs.Apply(subscription.Change{
		Email:       ev.Email,
		Action:      ev.Action,
		Entitlement: ent,
		Tag:         ev.Tag(),
	})
	if err != nil {
		h.fail(w, log, ev.Vendor, ev.DeliveryID, body, err)
		return
	}
	if res.Subscriber == nil {
		h.ignored(w, ev, "unknown subscriber")
		return
	}

	kind := email.UpdateActivated
	message := "subscription activated"
	if ev.Action == subscription.ActionCancel {
		kind = email.UpdateCancelled
		message = "subscription cancelled"
	}
	h.notify(r.Context(), log, res.Subscriber.Email, kind, ent)

	h.metrics.Webhook(string(ev.Vendor), "applied")
	writeJSON(w, http.StatusOK, map[string]any{
		"message": message,
		"data": map[string]any{
			"delivery_id": ev.DeliveryID,
			"event":       ev.Type,
			"previous":    res.Previous,
			"subscriber":  res.Subscriber,
		},
	})
}

// notify sends the confirmation email. Failures are logged only.
func (h *WebhookHandler) notify(ctx context.Context, log *slog.Logger, to, kind string, ent subscription.Entitlement) {
	if h.mailer == nil || !h.mailer.Configured() {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mailTimeout)
	defer cancel()
	if err := h.mailer.SendSubscriptionUpdate(ctx, to, kind, ent.String()); err != nil {
		log.Warn("confirmation email failed", "to", to, "error", err)
	}
}

func (h *WebhookHandler) ignored(w http.ResponseWriter, ev webhook.Event, reason string) {
	h.metrics.Webhook(string(ev.Vendor), "ignored")
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "ignored",
		"data": map[string]string{
			"delivery_id": ev.DeliveryID,
			"event":       ev.Type,
			"reason":      reason,
		},
	})
}

// fail answers 500 and writes an app_logs row so the delivery can be
// replayed by hand.
func (h *WebhookHandler) fail(w http.ResponseWriter, log *slog.Logger, vendor webhook.Vendor, deliveryID string, body []byte, cause error) {
	log.Error("webhook processing failed", "error", cause)
	h.metrics.Webhook(string(vendor), "error")

	if h.appLogs != nil {
		_, err := h.appLogs.Insert(model.AppLog{
			DeliveryID: deliveryID,
			Source:     "webhook." + string(vendor),
			Level:      "error",
			Message:    cause.Error(),
			Payload:    string(body),
		})
		if err != nil {
			log.Error("persist app log", "error", err)
		}
	}

	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}
