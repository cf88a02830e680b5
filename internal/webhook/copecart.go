package webhook

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/dukerupert/smartsavvy/internal/subscription"
)

// CopeCartSignatureHeader carries base64(HMAC-SHA256(secret, body)).
const CopeCartSignatureHeader = "X-Copecart-Signature"

// CopeCartEvent is the closed set of CopeCart event_type tags we handle.
type CopeCartEvent string

const (
	CopeCartPaymentMade        CopeCartEvent = "payment.made"
	CopeCartPaymentTrial       CopeCartEvent = "payment.trial"
	CopeCartPaymentPending     CopeCartEvent = "payment.pending"
	CopeCartPaymentFailed      CopeCartEvent = "payment.failed"
	CopeCartPaymentRefunded    CopeCartEvent = "payment.refunded"
	CopeCartPaymentChargedBack CopeCartEvent = "payment.charged_back"
	CopeCartRecurringCancelled CopeCartEvent = "payment.recurring.cancelled"
)

// Action maps the tag to its state change. New tags land in the default
// branch and are reported as unknown until they are listed here.
func (e CopeCartEvent) Action() subscription.Action {
	switch e {
	case CopeCartPaymentMade, CopeCartPaymentTrial:
		return subscription.ActionActivate
	case CopeCartPaymentFailed, CopeCartPaymentRefunded, CopeCartPaymentChargedBack, CopeCartRecurringCancelled:
		return subscription.ActionCancel
	case CopeCartPaymentPending:
		return subscription.ActionIgnore
	default:
		return subscription.ActionUnknown
	}
}

type copeCartPayload struct {
	EventType           string     `json:"event_type" validate:"required"`
	BuyerEmail          string     `json:"buyer_email" validate:"required,email"`
	ProductID           flexString `json:"product_id"`
	ProductInternalName string     `json:"product_internal_name"`
	TransactionID       flexString `json:"transaction_id"`
	OrderID             flexString `json:"order_id"`
	PaymentPlan         string     `json:"payment_plan"`
	TransactionType     string     `json:"transaction_type"`
}

// ParseCopeCart verifies the signature over the raw body and decodes it.
func ParseCopeCart(body []byte, signature, secret string) (Event, error) {
	if !VerifySignature(body, signature, secret) {
		return Event{}, ErrInvalidSignature
	}

	var p copeCartPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	p.EventType = strings.TrimSpace(p.EventType)
	if p.EventType == "" {
		return Event{}, fmt.Errorf("%w: missing event_type", ErrInvalidPayload)
	}

	action := CopeCartEvent(p.EventType).Action()
	if err := validateFor(action, p); err != nil {
		return Event{}, err
	}

	product, alt := p.ProductInternalName, string(p.ProductID)
	if product == "" {
		product, alt = alt, ""
	}

	meta := map[string]string{}
	for k, v := range map[string]string{
		"product_id":       string(p.ProductID),
		"order_id":         string(p.OrderID),
		"payment_plan":     p.PaymentPlan,
		"transaction_type": p.TransactionType,
	} {
		if v != "" {
			meta[k] = v
		}
	}

	return Event{
		Vendor:        VendorCopeCart,
		Type:          p.EventType,
		Action:        action,
		Email:         strings.ToLower(strings.TrimSpace(p.BuyerEmail)),
		ProductID:     product,
		AltProductID:  alt,
		TransactionID: string(p.TransactionID),
		Metadata:      meta,
	}, nil
}

// flexString decodes a JSON string or number into a string. CopeCart sends
// ids as either depending on the product type.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}
