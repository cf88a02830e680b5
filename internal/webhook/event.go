// Package webhook verifies and decodes payment-vendor callbacks into
// vendor-neutral events.
package webhook

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/dukerupert/smartsavvy/internal/subscription"
)

// Vendor identifies the payment provider that sent a callback.
type Vendor string

const (
	VendorCopeCart  Vendor = "copecart"
	VendorDigistore Vendor = "digistore"
)

var (
	// ErrInvalidSignature covers every authenticity failure: bad or missing
	// HMAC, wrong user agent, bad sha_sign.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	// ErrInvalidPayload means the body could not be decoded or failed
	// validation.
	ErrInvalidPayload = errors.New("invalid webhook payload")
)

// Event is a verified, decoded vendor callback.
type Event struct {
	DeliveryID    string
	Vendor        Vendor
	Type          string
	Action        subscription.Action
	Email         string
	ProductID     string
	TransactionID string
	Metadata      map[string]string

	// AltProductID is a second product key to try when ProductID is not
	// in the catalog, e.g. CopeCart's numeric id behind an internal name.
	AltProductID string
}

// ProductKeys returns the product keys to look up, most specific first.
func (e Event) ProductKeys() []string {
	keys := make([]string, 0, 2)
	if e.ProductID != "" {
		keys = append(keys, e.ProductID)
	}
	if e.AltProductID != "" && e.AltProductID != e.ProductID {
		keys = append(keys, e.AltProductID)
	}
	return keys
}

// Tag is the "vendor:type" label recorded on the subscriber.
func (e Event) Tag() string {
	return fmt.Sprintf("%s:%s", e.Vendor, e.Type)
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// validateFor checks payload fields that only matter when the event mutates
// state. Unknown and ignored events only need a type tag.
func validateFor(action subscription.Action, v any) error {
	if !action.Mutates() {
		return nil
	}
	if err := validatorInstance().Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}
