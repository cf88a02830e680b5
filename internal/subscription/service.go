package subscription

import (
	"fmt"
	"log/slog"

	"github.com/dukerupert/smartsavvy/internal/model"
)

// Repository is the persistence the service needs. *store.SubscriberStore
// satisfies it.
type Repository interface {
	GetOrCreate(email string) (*model.Subscriber, error)
	GetByEmail(email string) (*model.Subscriber, error)
	Save(sub *model.Subscriber) error
}

// Change is one state transition requested by a verified webhook.
type Change struct {
	Email       string
	Action      Action
	Entitlement Entitlement
	// Tag identifies the vendor event, e.g. "copecart:payment.made".
	Tag string
}

// Result describes the outcome of Apply.
type Result struct {
	// Subscriber is nil when a cancel arrived for an unknown email.
	Subscriber *model.Subscriber
	Previous   model.Status
}

type Service struct {
	repo   Repository
	logger *slog.Logger
}

func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Apply loads the subscriber, runs Transition and saves the result.
// Activation creates the subscriber if needed; cancellation never does.
func (s *Service) Apply(c Change) (Result, error) {
	if !c.Action.Mutates() {
		return Result{}, fmt.Errorf("apply %s: action %s does not change state", c.Tag, c.Action)
	}

	var sub *model.Subscriber
	var err error
	if c.Action == ActionActivate {
		sub, err = s.repo.GetOrCreate(c.Email)
	} else {
		sub, err = s.repo.GetByEmail(c.Email)
	}
	if err != nil {
		return Result{}, fmt.Errorf("load subscriber: %w", err)
	}
	if sub == nil {
		s.logger.Info("cancel for unknown subscriber", "email", c.Email, "event", c.Tag)
		return Result{}, nil
	}

	prev := sub.Status
	next := Transition(*sub, c.Action, c.Entitlement)
	next.LastEvent = c.Tag
	if err := s.repo.Save(&next); err != nil {
		return Result{}, fmt.Errorf("save subscriber: %w", err)
	}

	s.logger.Info("subscription transition",
		"email", next.Email,
		"event", c.Tag,
		"from", prev,
		"to", next.Status,
		"entitlement", c.Entitlement.String(),
	)
	return Result{Subscriber: &next, Previous: prev}, nil
}
