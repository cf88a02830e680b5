package webhook

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/dukerupert/smartsavvy/internal/subscription"
)

// DefaultDigistoreUserAgent is the substring Digistore24 puts in the
// User-Agent of IPN calls.
const DefaultDigistoreUserAgent = "Digistore"

// DigistoreEvent is the closed set of Digistore24 IPN event names we handle.
type DigistoreEvent string

const (
	DigistorePayment        DigistoreEvent = "on_payment"
	DigistoreRebillResumed  DigistoreEvent = "on_rebill_resumed"
	DigistorePaymentMissed  DigistoreEvent = "on_payment_missed"
	DigistoreRefund         DigistoreEvent = "on_refund"
	DigistoreChargeback     DigistoreEvent = "on_chargeback"
	DigistoreRebillCanceled DigistoreEvent = "on_rebill_cancelled"
	DigistoreAffiliation    DigistoreEvent = "on_affiliation"
	DigistoreConnectionTest DigistoreEvent = "connection_test"
)

// Action maps the event to its state change; see CopeCartEvent.Action.
func (e DigistoreEvent) Action() subscription.Action {
	switch e {
	case DigistorePayment, DigistoreRebillResumed:
		return subscription.ActionActivate
	case DigistorePaymentMissed, DigistoreRefund, DigistoreChargeback, DigistoreRebillCanceled:
		return subscription.ActionCancel
	case DigistoreAffiliation, DigistoreConnectionTest:
		return subscription.ActionIgnore
	default:
		return subscription.ActionUnknown
	}
}

// DigistoreConfig controls how IPN calls are trusted. UserAgent is always
// checked; Passphrase, when set, additionally requires a valid sha_sign.
type DigistoreConfig struct {
	UserAgent  string
	Passphrase string
}

type digistorePayload struct {
	Event     string `validate:"required"`
	Email     string `validate:"required,email"`
	ProductID string
	OrderID   string
}

// ParseDigistore checks the trust markers and decodes a form-encoded IPN
// body.
func ParseDigistore(body []byte, userAgent string, cfg DigistoreConfig) (Event, error) {
	if !TrustedUserAgent(userAgent, cfg.UserAgent) {
		return Event{}, ErrInvalidSignature
	}

	form, err := url.ParseQuery(string(body))
	if err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	if cfg.Passphrase != "" {
		got := strings.ToUpper(strings.TrimSpace(form.Get("sha_sign")))
		if got == "" || got != DigistoreShaSign(form, cfg.Passphrase) {
			return Event{}, ErrInvalidSignature
		}
	}

	email := form.Get("email")
	if email == "" {
		email = form.Get("address_email")
	}
	p := digistorePayload{
		Event:     strings.TrimSpace(form.Get("event")),
		Email:     strings.ToLower(strings.TrimSpace(email)),
		ProductID: strings.TrimSpace(form.Get("product_id")),
		OrderID:   strings.TrimSpace(form.Get("order_id")),
	}
	if p.Event == "" {
		return Event{}, fmt.Errorf("%w: missing event", ErrInvalidPayload)
	}

	action := DigistoreEvent(p.Event).Action()
	if err := validateFor(action, p); err != nil {
		return Event{}, err
	}

	meta := map[string]string{}
	for _, k := range []string{"order_id", "product_name", "billing_type", "pay_sequence_no", "transaction_type"} {
		if v := form.Get(k); v != "" {
			meta[k] = v
		}
	}

	return Event{
		Vendor:        VendorDigistore,
		Type:          p.Event,
		Action:        action,
		Email:         p.Email,
		ProductID:     p.ProductID,
		TransactionID: form.Get("transaction_id"),
		Metadata:      meta,
	}, nil
}
